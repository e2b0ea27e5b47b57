// Package s3store implements a store.Backend over an S3-compatible object
// store, for centrally-hosted address books shared by several machines
// instead of FileBackend's local four-bundle directory (spec.md §4.2,
// §9 "Configuration for the file backend"). Bundle naming matches
// FileBackend's, and so does the content FileBackend writes (concatenated
// DER certificates/CRLs, a PKCS#12 personal identity). Bundles are read as
// concatenated DER only: PEM bundles, which FileBackend also reads, are not
// parsed here.
//
// Grounded on the teacher's storage/ package for the "small KV-ish blob
// store behind an interface, reloaded into memory on demand" shape, backed
// here by github.com/minio/minio-go/v7 instead of the teacher's choice of
// backend, per spec.md's heterogeneous-backends note.
package s3store

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"io"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/crypto/pkcs12"
	"golang.org/x/sync/singleflight"

	"github.com/foxcpp/gosmime/digest"
	"github.com/foxcpp/gosmime/errs"
	"github.com/foxcpp/gosmime/internal/log"
	"github.com/foxcpp/gosmime/mailbox"
	"github.com/foxcpp/gosmime/model"
	"github.com/foxcpp/gosmime/selector"
	"github.com/foxcpp/gosmime/store"
)

// Config names the bucket and object keys holding the four bundles.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool

	AddressbookKey string
	RootKey        string
	RevokedKey     string
	UserKey        string
	Password       string
}

func (c Config) resolve() Config {
	if c.AddressbookKey == "" {
		c.AddressbookKey = "addressbook.crt"
	}
	if c.RootKey == "" {
		c.RootKey = "root.crt"
	}
	if c.RevokedKey == "" {
		c.RevokedKey = "revoked.crl"
	}
	if c.UserKey == "" {
		c.UserKey = "user.p12"
	}
	return c
}

// Backend implements store.Backend by fetching the four bundle objects on
// first use and caching them in memory until Reset is called; writes go
// straight to the bucket object (overwrite, not append — object storage
// has no efficient partial-append primitive, unlike FileBackend's local
// rewrite-and-rename).
type Backend struct {
	cfg    Config
	log    log.Logger
	client *minio.Client

	mu           sync.RWMutex
	loaded       bool
	addressbook  []*x509.Certificate
	anchors      []*x509.Certificate
	crls         []*x509.RevocationList
	userCerts    []*x509.Certificate
	userKey      crypto.Signer
	loadedUserOK bool

	group singleflight.Group
}

func NewBackend(cfg Config, logger log.Logger) (*Backend, error) {
	cfg = cfg.resolve()
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, &errs.IOError{Op: "s3 client init", Err: err}
	}
	return &Backend{cfg: cfg, log: logger, client: client}, nil
}

// Reset drops the in-memory cache so the next operation re-fetches every
// bundle from the bucket.
func (b *Backend) Reset() {
	b.mu.Lock()
	b.loaded = false
	b.mu.Unlock()
}

func (b *Backend) ensureLoaded() error {
	_, err, _ := b.group.Do("load", func() (interface{}, error) {
		b.mu.RLock()
		loaded := b.loaded
		b.mu.RUnlock()
		if loaded {
			return nil, nil
		}
		return nil, b.reload()
	})
	return err
}

func (b *Backend) getObject(key string) ([]byte, error) {
	obj, err := b.client.GetObject(context.Background(), b.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (b *Backend) reload() error {
	addressbook, err := b.loadCertBundle(b.cfg.AddressbookKey)
	if err != nil {
		return err
	}
	anchors, err := b.loadCertBundle(b.cfg.RootKey)
	if err != nil {
		return err
	}
	crls, err := b.loadCRLBundle(b.cfg.RevokedKey)
	if err != nil {
		return err
	}

	var userCerts []*x509.Certificate
	var userKey crypto.Signer
	loadedUserOK := false
	if data, err := b.getObject(b.cfg.UserKey); err != nil {
		return &errs.IOError{Op: "get " + b.cfg.UserKey, Err: err}
	} else if data != nil {
		key, cert, caCerts, err := pkcs12.DecodeChain(data, b.cfg.Password)
		if err != nil {
			return &errs.IOError{Op: "decode " + b.cfg.UserKey, Err: err}
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return &errs.IOError{Op: "decode " + b.cfg.UserKey, Err: fmt.Errorf("private key does not implement crypto.Signer")}
		}
		userKey = signer
		userCerts = append([]*x509.Certificate{cert}, caCerts...)
		loadedUserOK = true
	}

	b.mu.Lock()
	b.addressbook = addressbook
	b.anchors = anchors
	b.crls = crls
	b.userCerts = userCerts
	b.userKey = userKey
	b.loadedUserOK = loadedUserOK
	b.loaded = true
	b.mu.Unlock()

	b.log.Debugf("loaded s3 store: %d addressbook, %d anchors, %d crls, user=%v",
		len(addressbook), len(anchors), len(crls), loadedUserOK)
	return nil
}

func (b *Backend) loadCertBundle(key string) ([]*x509.Certificate, error) {
	data, err := b.getObject(key)
	if err != nil {
		return nil, &errs.IOError{Op: "get " + key, Err: err}
	}
	ders, err := splitDER(data)
	if err != nil {
		return nil, &errs.IOError{Op: "parse " + key, Err: err}
	}
	certs := make([]*x509.Certificate, 0, len(ders))
	for _, der := range ders {
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, &errs.IOError{Op: "parse " + key, Err: err}
		}
		certs = append(certs, c)
	}
	return certs, nil
}

func (b *Backend) loadCRLBundle(key string) ([]*x509.RevocationList, error) {
	data, err := b.getObject(key)
	if err != nil {
		return nil, &errs.IOError{Op: "get " + key, Err: err}
	}
	ders, err := splitDER(data)
	if err != nil {
		return nil, &errs.IOError{Op: "parse " + key, Err: err}
	}
	crls := make([]*x509.RevocationList, 0, len(ders))
	for _, der := range ders {
		c, err := x509.ParseRevocationList(der)
		if err != nil {
			return nil, &errs.IOError{Op: "parse " + key, Err: err}
		}
		crls = append(crls, c)
	}
	return crls, nil
}

func (b *Backend) GetCertificate(sel selector.Selector) (*x509.Certificate, error) {
	if err := b.ensureLoaded(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, pool := range [][]*x509.Certificate{b.userCerts, b.addressbook, b.anchors} {
		for _, c := range pool {
			if sel.Matches(c) {
				return c, nil
			}
		}
	}
	return nil, nil
}

func (b *Backend) GetPrivateKey(sel selector.Selector) (crypto.Signer, error) {
	if err := b.ensureLoaded(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.userCerts {
		if sel.Matches(c) {
			return b.userKey, nil
		}
	}
	return nil, nil
}

func (b *Backend) GetTrustedAnchors() (store.AnchorSet, error) {
	if err := b.ensureLoaded(); err != nil {
		return store.AnchorSet{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	anchors := make([]model.TrustAnchor, 0, len(b.anchors))
	for _, c := range b.anchors {
		anchors = append(anchors, model.TrustAnchor{Certificate: c})
	}
	return store.NewAnchorSet(anchors...), nil
}

func (b *Backend) GetIntermediates() (store.CertPool, error) {
	if err := b.ensureLoaded(); err != nil {
		return store.CertPool{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	var intermediates []*x509.Certificate
	for _, c := range b.addressbook {
		if c.IsCA {
			intermediates = append(intermediates, c)
		}
	}
	return store.NewCertPool(intermediates...), nil
}

func (b *Backend) GetCRLs() (store.CRLPool, error) {
	if err := b.ensureLoaded(); err != nil {
		return store.CRLPool{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return store.NewCRLPool(b.crls...), nil
}

func (b *Backend) GetCMSRecipient(mbox mailbox.Mailbox) (model.Recipient, error) {
	if err := b.ensureLoaded(); err != nil {
		return model.Recipient{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, pool := range [][]*x509.Certificate{b.userCerts, b.addressbook} {
		for _, c := range pool {
			if selector.Email(mbox.AddrSpec).Matches(c) {
				return model.NewRecipient(c), nil
			}
		}
	}
	return model.Recipient{}, store.NotFound(mbox, "no certificate in addressbook or user.p12 matches")
}

func (b *Backend) GetCMSSigner(mbox mailbox.Mailbox, pref digest.Algorithm) (model.CmsSigner, error) {
	if err := b.ensureLoaded(); err != nil {
		return model.CmsSigner{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.userCerts {
		if selector.Email(mbox.AddrSpec).Matches(c) {
			return model.CmsSigner{Certificate: c, PrivateKey: b.userKey, Digest: pref}, nil
		}
	}
	return model.CmsSigner{}, store.NotFound(mbox, "no certificate in user.p12 matches")
}

func (b *Backend) ImportCertificate(cert *x509.Certificate) error {
	if err := b.ensureLoaded(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.addressbook {
		if bytes.Equal(c.Raw, cert.Raw) {
			return nil
		}
	}
	newBundle := append(append([]byte{}, bundleBytes(b.addressbook)...), cert.Raw...)
	if err := b.putObject(b.cfg.AddressbookKey, newBundle); err != nil {
		return err
	}
	b.addressbook = append(b.addressbook, cert)
	return nil
}

func (b *Backend) ImportCRL(crl *x509.RevocationList) error {
	if err := b.ensureLoaded(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.crls {
		if bytes.Equal(c.Raw, crl.Raw) {
			return nil
		}
	}
	newBundle := append(append([]byte{}, crlBundleBytes(b.crls)...), crl.Raw...)
	if err := b.putObject(b.cfg.RevokedKey, newBundle); err != nil {
		return err
	}
	b.crls = append(b.crls, crl)
	return nil
}

func (b *Backend) ImportPKCS12(data []byte, password string) error {
	key, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return &errs.IOError{Op: "import user.p12", Err: err}
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return &errs.IOError{Op: "import user.p12", Err: fmt.Errorf("private key does not implement crypto.Signer")}
	}
	if err := b.putObject(b.cfg.UserKey, data); err != nil {
		return err
	}
	b.mu.Lock()
	b.userKey = signer
	b.userCerts = append([]*x509.Certificate{cert}, caCerts...)
	b.loadedUserOK = true
	b.mu.Unlock()
	return nil
}

func (b *Backend) putObject(key string, data []byte) error {
	_, err := b.client.PutObject(context.Background(), b.cfg.Bucket, key,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return &errs.IOError{Op: "put " + key, Err: err}
	}
	return nil
}

func bundleBytes(certs []*x509.Certificate) []byte {
	var buf bytes.Buffer
	for _, c := range certs {
		buf.Write(c.Raw)
	}
	return buf.Bytes()
}

func crlBundleBytes(crls []*x509.RevocationList) []byte {
	var buf bytes.Buffer
	for _, c := range crls {
		buf.Write(c.Raw)
	}
	return buf.Bytes()
}

// splitDER splits a byte slice of concatenated DER records, the framing
// FileBackend writes; unlike FileBackend's reader it does not accept PEM.
func splitDER(data []byte) ([][]byte, error) {
	return store.SplitDERSequences(data)
}
