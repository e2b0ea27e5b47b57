package s3store

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/stretchr/testify/require"

	"github.com/foxcpp/gosmime/internal/log"
	"github.com/foxcpp/gosmime/selector"
)

const testBucket = "gosmime-test"

func newTestBackend(t *testing.T) (*Backend, func()) {
	t.Helper()
	backend := s3mem.New()
	faker := gofakes3.New(backend)
	ts := httptest.NewServer(faker.Server())

	require.NoError(t, backend.CreateBucket(testBucket))

	b, err := NewBackend(Config{
		Endpoint:  ts.Listener.Addr().String(),
		Bucket:    testBucket,
		AccessKey: "access-key",
		SecretKey: "secret-key",
		UseSSL:    false,
	}, log.Nop)
	require.NoError(t, err)

	return b, ts.Close
}

func selfSigned(t *testing.T, cn, email string) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:   big.NewInt(1),
		Subject:        pkix.Name{CommonName: cn},
		NotBefore:      time.Now().Add(-time.Hour),
		NotAfter:       time.Now().Add(time.Hour),
		EmailAddresses: []string{email},
		KeyUsage:       x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestBackendMissingObjectsLoadEmptyNotError(t *testing.T) {
	b, closeServer := newTestBackend(t)
	defer closeServer()

	anchors, err := b.GetTrustedAnchors()
	require.NoError(t, err)
	require.Equal(t, 0, anchors.Len())

	crls, err := b.GetCRLs()
	require.NoError(t, err)
	require.True(t, crls.Empty())
}

func TestBackendImportCertificateAndLookup(t *testing.T) {
	b, closeServer := newTestBackend(t)
	defer closeServer()

	cert := selfSigned(t, "Alice", "alice@example.com")
	require.NoError(t, b.ImportCertificate(cert))
	// idempotent re-import
	require.NoError(t, b.ImportCertificate(cert))

	got, err := b.GetCertificate(selector.Email("alice@example.com"))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, cert.Raw, got.Raw)

	// a fresh Backend against the same bucket sees the persisted object.
	b2, err := NewBackend(Config{
		Endpoint:  b.cfg.Endpoint,
		Bucket:    testBucket,
		AccessKey: b.cfg.AccessKey,
		SecretKey: b.cfg.SecretKey,
	}, log.Nop)
	require.NoError(t, err)
	got2, err := b2.GetCertificate(selector.Email("alice@example.com"))
	require.NoError(t, err)
	require.NotNil(t, got2)
	require.Equal(t, cert.Raw, got2.Raw)
}

func TestBackendResetForcesReload(t *testing.T) {
	b, closeServer := newTestBackend(t)
	defer closeServer()

	require.NoError(t, b.ImportCertificate(selfSigned(t, "Bob", "bob@example.com")))
	b.Reset()

	got, err := b.GetCertificate(selector.Email("bob@example.com"))
	require.NoError(t, err)
	require.NotNil(t, got)
}
