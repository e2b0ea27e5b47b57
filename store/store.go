// Package store implements C2: the certificate store abstraction. It is a
// capability set — locate, enumerate, import — consumed by cms and
// sigverify, dispatched by one level of interface satisfaction rather than
// a deep inheritance hierarchy (Design Notes §9). FileBackend and
// OsBackend are the two backends spec.md names; sqlcache, ldapstore and
// s3store are additional backends the same interface admits.
package store

import (
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"

	"github.com/foxcpp/gosmime/digest"
	"github.com/foxcpp/gosmime/errs"
	"github.com/foxcpp/gosmime/mailbox"
	"github.com/foxcpp/gosmime/model"
	"github.com/foxcpp/gosmime/selector"
)

// Backend is the polymorphic surface every certificate store implements
// (spec.md §4.2).
type Backend interface {
	GetCertificate(sel selector.Selector) (*x509.Certificate, error)
	GetPrivateKey(sel selector.Selector) (crypto.Signer, error)
	GetTrustedAnchors() (AnchorSet, error)
	GetIntermediates() (CertPool, error)
	GetCRLs() (CRLPool, error)
	GetCMSRecipient(mbox mailbox.Mailbox) (model.Recipient, error)
	GetCMSSigner(mbox mailbox.Mailbox, pref digest.Algorithm) (model.CmsSigner, error)

	ImportCertificate(cert *x509.Certificate) error
	ImportCRL(crl *x509.RevocationList) error
	ImportPKCS12(data []byte, password string) error
}

// AnchorSet is a set of trust anchors, equality by certificate fingerprint,
// never mutated mid-verify — callers are expected to snapshot it at the
// start of a Verify call (Design Notes §9).
type AnchorSet struct {
	byFingerprint map[[32]byte]model.TrustAnchor
}

func NewAnchorSet(anchors ...model.TrustAnchor) AnchorSet {
	s := AnchorSet{byFingerprint: make(map[[32]byte]model.TrustAnchor, len(anchors))}
	for _, a := range anchors {
		s.byFingerprint[a.Fingerprint()] = a
	}
	return s
}

func (s AnchorSet) Add(a model.TrustAnchor) AnchorSet {
	s.byFingerprint[a.Fingerprint()] = a
	return s
}

func (s AnchorSet) Len() int { return len(s.byFingerprint) }

// ByIssuer returns every anchor whose Subject matches the given Issuer DN,
// the lookup pkix path building needs when checking whether a candidate
// chain terminates at a trusted root.
func (s AnchorSet) ByIssuer(issuer pkix.Name) []model.TrustAnchor {
	var out []model.TrustAnchor
	for _, a := range s.byFingerprint {
		if a.Certificate.Subject.String() == issuer.String() {
			out = append(out, a)
		}
	}
	return out
}

func (s AnchorSet) All() []model.TrustAnchor {
	out := make([]model.TrustAnchor, 0, len(s.byFingerprint))
	for _, a := range s.byFingerprint {
		out = append(out, a)
	}
	return out
}

// CertPool is a searchable collection of intermediate certificates
// (spec.md §4.2: get_intermediates() returns "a searchable cert store").
type CertPool struct {
	certs []*x509.Certificate
}

func NewCertPool(certs ...*x509.Certificate) CertPool {
	return CertPool{certs: certs}
}

func (p CertPool) All() []*x509.Certificate { return p.certs }

// ByIssuer returns every certificate in the pool whose Subject matches
// issuer — candidates for the next link up a chain being built.
func (p CertPool) ByIssuer(issuer pkix.Name) []*x509.Certificate {
	var out []*x509.Certificate
	for _, c := range p.certs {
		if c.Subject.String() == issuer.String() {
			out = append(out, c)
		}
	}
	return out
}

// Merge returns the union of p and other, the way pkix.Build assembles
// the local intermediate pool with the certificates embedded in a CMS blob
// (spec.md §4.3 step 1).
func (p CertPool) Merge(other CertPool) CertPool {
	out := make([]*x509.Certificate, 0, len(p.certs)+len(other.certs))
	out = append(out, p.certs...)
	out = append(out, other.certs...)
	return CertPool{certs: out}
}

// CRLPool is a searchable collection of CRLs (spec.md §4.2).
type CRLPool struct {
	crls []*x509.RevocationList
}

func NewCRLPool(crls ...*x509.RevocationList) CRLPool {
	return CRLPool{crls: crls}
}

func (p CRLPool) All() []*x509.RevocationList { return p.crls }

func (p CRLPool) Empty() bool { return len(p.crls) == 0 }

// ByIssuer returns CRLs issued by issuer.
func (p CRLPool) ByIssuer(issuer pkix.Name) []*x509.RevocationList {
	var out []*x509.RevocationList
	for _, c := range p.crls {
		if c.Issuer.String() == issuer.String() {
			out = append(out, c)
		}
	}
	return out
}

func (p CRLPool) Merge(other CRLPool) CRLPool {
	out := make([]*x509.RevocationList, 0, len(p.crls)+len(other.crls))
	out = append(out, p.crls...)
	out = append(out, other.crls...)
	return CRLPool{crls: out}
}

// NotFound builds the CertificateNotFound error GetCMSRecipient/
// GetCMSSigner return on a lookup miss.
func NotFound(mbox mailbox.Mailbox, reason string) error {
	return &errs.CertificateNotFound{Mailbox: mbox.AddrSpec, Reason: reason}
}
