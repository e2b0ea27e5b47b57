// Package smime implements C6, the public façade: the operations the
// surrounding MIME layer calls (Sign, EncapsulatedSign, Encrypt, Decrypt,
// Compress/Decompress, Verify, Import of a PKCS#7 blob, Export) plus protocol
// advertisement, so a caller can dispatch by protocol string without
// reaching past the façade into cms directly. Grounded on the teacher's
// module.Module/module.Table registration shape, simplified: a CMS core
// has exactly one implementation per protocol, so Context is a plain
// struct rather than a registry. Importing a single certificate, a CRL or
// a PKCS#12 bundle is not offered here; those are store.Backend methods.
package smime

import (
	"bytes"
	"crypto/x509"
	"io"
	"strings"

	"github.com/emersion/go-message"

	"github.com/foxcpp/gosmime/cms"
	"github.com/foxcpp/gosmime/errs"
	"github.com/foxcpp/gosmime/internal/log"
	"github.com/foxcpp/gosmime/mailbox"
	"github.com/foxcpp/gosmime/model"
	"github.com/foxcpp/gosmime/store"
)

// Protocol strings advertised over Supports (spec.md §4.6).
const (
	SignatureProtocol   = "application/pkcs7-signature"
	EncryptionProtocol  = "application/pkcs7-mime"
	KeyExchangeProtocol = "application/pkcs7-keys"
)

var supportedProtocols = map[string]bool{
	SignatureProtocol:   true,
	EncryptionProtocol:  true,
	KeyExchangeProtocol: true,
}

// Supports reports whether protocol (optionally carrying an "x-" vendor
// prefix after the slash, e.g. "application/x-pkcs7-signature") is one of
// the three this façade implements, matched case-insensitively (spec.md
// §4.6).
func Supports(protocol string) bool {
	protocol = strings.ToLower(protocol)
	slash := strings.IndexByte(protocol, '/')
	if slash < 0 {
		return supportedProtocols[protocol]
	}
	subtype := protocol[slash+1:]
	subtype = strings.TrimPrefix(subtype, "x-")
	return supportedProtocols[protocol[:slash+1]+subtype]
}

// EntityLoader parses decrypted octets into a MIME entity. Defaults to
// message.Read, the external "load(stream) -> Entity" collaborator
// spec.md §1 places out of scope, given a concrete, minimal shape (spec.md
// is silent on which MIME library fills that role).
type EntityLoader func(io.Reader) (*message.Entity, error)

func defaultEntityLoader(r io.Reader) (*message.Entity, error) {
	return message.Read(r)
}

// Context binds C4's Engine to a caller-supplied logger and entity loader;
// it holds no state of its own beyond that, since every store-backed
// concern already lives in store.Backend (spec.md §5 "single-threaded
// cooperative per operation; no internal parallelism" — Context does not
// add any).
type Context struct {
	engine *cms.Engine
	loader EntityLoader
}

// NewContext builds a Context over backend, the store.Backend every
// operation ultimately reads certificates and keys from.
func NewContext(backend store.Backend, logger log.Logger) *Context {
	return &Context{
		engine: cms.NewEngine(backend, logger),
		loader: defaultEntityLoader,
	}
}

// SetEntityLoader overrides the default MIME entity loader Decrypt uses to
// turn decrypted octets into an entity.
func (c *Context) SetEntityLoader(loader EntityLoader) {
	if loader == nil {
		loader = defaultEntityLoader
	}
	c.loader = loader
}

func (c *Context) Sign(signer model.CmsSigner, content io.Reader, detached bool) ([]byte, model.SMIMEType, error) {
	return c.engine.Sign(signer, content, detached)
}

func (c *Context) EncapsulatedSign(signer model.CmsSigner, content io.Reader) ([]byte, model.SMIMEType, error) {
	return c.engine.EncapsulatedSign(signer, content)
}

func (c *Context) Verify(content []byte, sigDER []byte) (model.DigitalSignatureCollection, error) {
	return c.engine.Verify(content, sigDER)
}

func (c *Context) Encrypt(recipients []model.Recipient, content io.Reader) ([]byte, model.SMIMEType, error) {
	for _, r := range recipients {
		if r.Certificate == nil {
			return nil, model.Data, &errs.ArgumentError{Param: "recipients", Msg: "certificate is required"}
		}
		if !keyEnciphermentCapable(r.Certificate) {
			return nil, model.Data, &errs.ArgumentError{Param: "recipients", Msg: "certificate public key is not key-encipherment-capable"}
		}
	}
	return c.engine.Encrypt(recipients, content)
}

// Decrypt returns the decrypted MIME entity, loaded through the Context's
// EntityLoader (spec.md §4.4 "Decrypt... a MIME entity (via the external
// loader)").
func (c *Context) Decrypt(envelopedDER []byte) (*message.Entity, error) {
	plain, err := c.engine.Decrypt(envelopedDER)
	if err != nil {
		return nil, err
	}
	entity, err := c.loader(bytes.NewReader(plain))
	if err != nil {
		return nil, &errs.CmsError{Op: "decrypt: load entity", Err: err}
	}
	return entity, nil
}

func (c *Context) Compress(content io.Reader) ([]byte, model.SMIMEType, error) {
	return c.engine.Compress(content)
}

func (c *Context) Decompress(der []byte) ([]byte, error) {
	return c.engine.Decompress(der)
}

func (c *Context) Export(mboxes []mailbox.Mailbox) ([]byte, model.SMIMEType, error) {
	return c.engine.Export(mboxes)
}

// Import hands der to C4's Import, which parses it as PKCS#7 and imports
// every certificate and CRL it carries. The content type is not checked;
// input that fails to parse yields a CmsError.
func (c *Context) Import(der []byte) error {
	return c.engine.Import(der)
}

// keyEnciphermentCapable reports whether cert's KeyUsage extension (when
// present) admits key encipherment; a certificate with no KeyUsage
// extension at all is permissive, matching crypto/x509's own treatment of
// an absent extension (spec.md §3 Invariant: "Certificates passed to
// Encrypt must have a key-encipherment-capable public key").
func keyEnciphermentCapable(cert *x509.Certificate) bool {
	if cert.KeyUsage == 0 {
		return true
	}
	return cert.KeyUsage&x509.KeyUsageKeyEncipherment != 0
}
