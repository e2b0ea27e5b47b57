// OsBackend is the host-keystore-facade variant spec.md §4.2's Polymorphic
// backends note names alongside FileBackend: trusted anchors come from the
// operating system's root store, everything else (address book,
// revocations, personal identity) is delegated to a wrapped backend except
// ImportCRL, which is a no-op, so a
// deployment only has to provision a user.p12/addressbook.crt pair and
// gets the host's root program for free.
package store

import (
	"crypto"
	"crypto/x509"
	"sync"

	"github.com/foxcpp/gosmime/digest"
	"github.com/foxcpp/gosmime/mailbox"
	"github.com/foxcpp/gosmime/model"
	"github.com/foxcpp/gosmime/selector"
)

// OsBackend wraps another Backend and overrides GetTrustedAnchors with the
// host's system root certificates, loaded once and cached (the system
// trust store does not change mid-process, unlike FileBackend's disk
// bundles, so there is no reload path here).
type OsBackend struct {
	inner Backend

	once    sync.Once
	anchors AnchorSet
	loadErr error
}

func NewOsBackend(inner Backend) *OsBackend {
	return &OsBackend{inner: inner}
}

func (b *OsBackend) load() {
	b.once.Do(func() {
		certs, err := systemRootCertificates()
		if err != nil {
			b.loadErr = err
			return
		}
		anchors := make([]model.TrustAnchor, 0, len(certs))
		for _, c := range certs {
			anchors = append(anchors, model.TrustAnchor{Certificate: c})
		}
		b.anchors = NewAnchorSet(anchors...)
	})
}

func (b *OsBackend) GetTrustedAnchors() (AnchorSet, error) {
	b.load()
	return b.anchors, b.loadErr
}

func (b *OsBackend) GetCertificate(sel selector.Selector) (*x509.Certificate, error) {
	return b.inner.GetCertificate(sel)
}

func (b *OsBackend) GetPrivateKey(sel selector.Selector) (crypto.Signer, error) {
	return b.inner.GetPrivateKey(sel)
}

func (b *OsBackend) GetIntermediates() (CertPool, error) { return b.inner.GetIntermediates() }
func (b *OsBackend) GetCRLs() (CRLPool, error)           { return b.inner.GetCRLs() }

func (b *OsBackend) GetCMSRecipient(mbox mailbox.Mailbox) (model.Recipient, error) {
	return b.inner.GetCMSRecipient(mbox)
}

func (b *OsBackend) GetCMSSigner(mbox mailbox.Mailbox, pref digest.Algorithm) (model.CmsSigner, error) {
	return b.inner.GetCMSSigner(mbox, pref)
}

func (b *OsBackend) ImportCertificate(cert *x509.Certificate) error {
	return b.inner.ImportCertificate(cert)
}

// ImportCRL is a no-op: OsBackend's anchors come from the host trust
// store, which this process cannot revoke into, so there is nowhere
// meaningful for an imported CRL to live (spec.md §4.2, §9 open issue #1
// "OS-backend CRL import is a documented no-op"). It must not fall
// through to inner, or wrapping a FileBackend would silently start
// persisting CRLs a caller believes are being rejected.
func (b *OsBackend) ImportCRL(*x509.RevocationList) error {
	return nil
}

func (b *OsBackend) ImportPKCS12(data []byte, password string) error {
	return b.inner.ImportPKCS12(data, password)
}
