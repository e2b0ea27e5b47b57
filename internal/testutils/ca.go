// Package testutils provides an in-memory certificate authority fixture
// shared by pkix and cms tests, grounded on the teacher's
// internal/tls.SelfSignedLoader (self-signed certificate generation for
// tests without touching disk or a real CA).
package testutils

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/foxcpp/gosmime/model"
)

// CA is a self-signed or intermediate certificate authority fixture, able
// to issue further CAs and leaf certificates for a test.
type CA struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

// NewRootCA issues a self-signed CA certificate valid from notBefore to
// notAfter, for tests that need an expired-but-once-valid root (the chain
// validity model's archived-signature case).
func NewRootCA(t *testing.T, cn string, notBefore, notAfter time.Time) CA {
	t.Helper()
	return issue(t, cn, notBefore, notAfter, nil)
}

// NewIntermediateCA issues a CA certificate signed by parent.
func (ca CA) NewIntermediateCA(t *testing.T, cn string) CA {
	t.Helper()
	return issue(t, cn, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), &ca)
}

// NewLeaf issues an end-entity signing/encipherment certificate under ca,
// carrying email as an rfc822Name SAN so selector.Email lookups match it.
func (ca CA) NewLeaf(t *testing.T, cn, email string) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	mustNoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: randSerial(t),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}
	if email != "" {
		tmpl.EmailAddresses = []string{email}
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.Cert, &key.PublicKey, ca.Key)
	mustNoError(t, err)
	cert, err := x509.ParseCertificate(der)
	mustNoError(t, err)
	return cert, key
}

// Anchor wraps ca.Cert as a model.TrustAnchor for a store.AnchorSet.
func (ca CA) Anchor() model.TrustAnchor {
	return model.TrustAnchor{Certificate: ca.Cert}
}

func issue(t *testing.T, cn string, notBefore, notAfter time.Time, parent *CA) CA {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	mustNoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          randSerial(t),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	parentCert, signer := tmpl, key
	if parent != nil {
		parentCert, signer = parent.Cert, parent.Key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parentCert, &key.PublicKey, signer)
	mustNoError(t, err)
	cert, err := x509.ParseCertificate(der)
	mustNoError(t, err)
	return CA{Cert: cert, Key: key}
}

func randSerial(t *testing.T) *big.Int {
	t.Helper()
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	n, err := rand.Int(rand.Reader, limit)
	mustNoError(t, err)
	return n
}

func mustNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
