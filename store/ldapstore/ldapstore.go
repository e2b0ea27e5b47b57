// Package ldapstore implements a store.Backend over a corporate LDAP
// directory, resolving the userCertificate;binary attribute the way
// directory-integrated S/MIME clients have always done (spec.md §4.2,
// "heterogeneous backends" design note). Grounded on the teacher's
// internal/tls.FileLoader for the reload/caching shape and on go-ldap's own
// search-and-bind idiom (_examples' go-ldap usage in the teacher's auth/
// tree follows the same Dial→Bind→Search sequence).
//
// Unlike FileBackend, an LDAP directory is not writable by this backend:
// ImportCertificate and ImportCRL fail with errs.ArgumentError, since
// certificate provisioning in a corporate directory is the directory
// administrator's job, not this client's. ImportPKCS12 fails with
// errs.NotSupportedError, as the backend holds no private keys.
package ldapstore

import (
	"crypto"
	"crypto/x509"
	"fmt"

	"github.com/go-ldap/ldap/v3"

	"github.com/foxcpp/gosmime/digest"
	"github.com/foxcpp/gosmime/errs"
	"github.com/foxcpp/gosmime/internal/log"
	"github.com/foxcpp/gosmime/mailbox"
	"github.com/foxcpp/gosmime/model"
	"github.com/foxcpp/gosmime/selector"
	"github.com/foxcpp/gosmime/store"
)

// Config describes how to reach and search the directory.
type Config struct {
	URL      string // e.g. ldaps://dir.example.com:636
	BindDN   string
	Password string

	// BaseDN is the search root, e.g. "ou=people,dc=example,dc=com".
	BaseDN string

	// EmailAttr names the attribute holding the RFC 822 address used to
	// find a user's entry (commonly "mail").
	EmailAttr string

	// CertAttr names the attribute holding the DER certificate, commonly
	// "userCertificate;binary".
	CertAttr string
}

func (c Config) resolve() Config {
	if c.EmailAttr == "" {
		c.EmailAttr = "mail"
	}
	if c.CertAttr == "" {
		c.CertAttr = "userCertificate;binary"
	}
	return c
}

// Backend implements store.Backend by querying an LDAP directory on every
// call; it keeps no local anchors or CRLs of its own and so always reports
// an empty AnchorSet/CRLPool — a deployment pairs it with FileBackend's
// root.crt/revoked.crl for the trust side and uses ldapstore purely for
// recipient/signer certificate lookup.
type Backend struct {
	cfg Config
	log log.Logger
}

func NewBackend(cfg Config, logger log.Logger) *Backend {
	return &Backend{cfg: cfg.resolve(), log: logger}
}

func (b *Backend) dial() (*ldap.Conn, error) {
	conn, err := ldap.DialURL(b.cfg.URL)
	if err != nil {
		return nil, &errs.IOError{Op: "ldap dial " + b.cfg.URL, Err: err}
	}
	if b.cfg.BindDN != "" {
		if err := conn.Bind(b.cfg.BindDN, b.cfg.Password); err != nil {
			conn.Close()
			return nil, &errs.IOError{Op: "ldap bind", Err: err}
		}
	}
	return conn, nil
}

func (b *Backend) searchByEmail(addr string) (*x509.Certificate, error) {
	conn, err := b.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req := ldap.NewSearchRequest(
		b.cfg.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, 0, false,
		fmt.Sprintf("(%s=%s)", b.cfg.EmailAttr, ldap.EscapeFilter(addr)),
		[]string{b.cfg.CertAttr},
		nil,
	)
	result, err := conn.Search(req)
	if err != nil {
		return nil, &errs.IOError{Op: "ldap search", Err: err}
	}
	if len(result.Entries) == 0 {
		return nil, nil
	}
	der := result.Entries[0].GetRawAttributeValue(b.cfg.CertAttr)
	if len(der) == 0 {
		return nil, nil
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, &errs.IOError{Op: "parse " + b.cfg.CertAttr, Err: err}
	}
	return cert, nil
}

func (b *Backend) GetCertificate(sel selector.Selector) (*x509.Certificate, error) {
	email, ok := sel.EmailAddress()
	if !ok {
		// the directory is only indexed by email; any other selector kind
		// (subject DN, issuer+serial, SKI) cannot be resolved here.
		return nil, nil
	}
	return b.searchByEmail(email)
}

func (b *Backend) GetPrivateKey(selector.Selector) (crypto.Signer, error) {
	// a directory never holds private keys.
	return nil, nil
}

func (b *Backend) GetTrustedAnchors() (store.AnchorSet, error) { return store.NewAnchorSet(), nil }
func (b *Backend) GetIntermediates() (store.CertPool, error)   { return store.NewCertPool(), nil }
func (b *Backend) GetCRLs() (store.CRLPool, error)             { return store.NewCRLPool(), nil }

func (b *Backend) GetCMSRecipient(mbox mailbox.Mailbox) (model.Recipient, error) {
	cert, err := b.searchByEmail(mbox.AddrSpec)
	if err != nil {
		return model.Recipient{}, err
	}
	if cert == nil {
		return model.Recipient{}, store.NotFound(mbox, "no directory entry with a "+b.cfg.CertAttr+" attribute")
	}
	return model.NewRecipient(cert), nil
}

func (b *Backend) GetCMSSigner(mbox mailbox.Mailbox, _ digest.Algorithm) (model.CmsSigner, error) {
	return model.CmsSigner{}, store.NotFound(mbox, "ldapstore never holds private keys; pair it with a signing-capable backend")
}

func (b *Backend) ImportCertificate(*x509.Certificate) error {
	return &errs.ArgumentError{Param: "backend", Msg: "ldapstore is read-only; provision certificates through the directory"}
}

func (b *Backend) ImportCRL(*x509.RevocationList) error {
	return &errs.ArgumentError{Param: "backend", Msg: "ldapstore is read-only; provision certificates through the directory"}
}

func (b *Backend) ImportPKCS12([]byte, string) error {
	return &errs.NotSupportedError{Msg: "ldapstore holds no private keys; PKCS#12 import is not available"}
}
