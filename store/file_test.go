package store

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foxcpp/gosmime/internal/log"
	"github.com/foxcpp/gosmime/mailbox"
	"github.com/foxcpp/gosmime/selector"
)

func selfSigned(t *testing.T, cn string, email string) (*x509.Certificate, *ecdsa.PrivateKey) {
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
	return cert, key
}

func TestFileBackendAddressbookImportAndLookup(t *testing.T) {
	dir := t.TempDir()
	b := NewFileBackend(FileConfig{Root: dir}, log.Nop)

	cert, _ := selfSigned(t, "Alice", "alice@example.com")
	require.NoError(t, b.ImportCertificate(cert))
	// idempotent re-import
	require.NoError(t, b.ImportCertificate(cert))

	got, err := b.GetCertificate(selector.Email("alice@example.com"))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, cert.Raw, got.Raw)

	pool, err := b.GetIntermediates()
	require.NoError(t, err)
	require.Empty(t, pool.All()) // leaf cert is not a CA

	// a fresh backend pointed at the same root sees the persisted import
	b2 := NewFileBackend(FileConfig{Root: dir}, log.Nop)
	got2, err := b2.GetCertificate(selector.Email("alice@example.com"))
	require.NoError(t, err)
	require.NotNil(t, got2)
}

func TestFileBackendMissingBundlesAreEmptyNotError(t *testing.T) {
	dir := t.TempDir()
	b := NewFileBackend(FileConfig{Root: filepath.Join(dir, "nested")}, log.Nop)

	anchors, err := b.GetTrustedAnchors()
	require.NoError(t, err)
	require.Equal(t, 0, anchors.Len())

	crls, err := b.GetCRLs()
	require.NoError(t, err)
	require.True(t, crls.Empty())
}

func TestFileBackendRecipientNotFound(t *testing.T) {
	dir := t.TempDir()
	b := NewFileBackend(FileConfig{Root: dir}, log.Nop)

	mbox, err := mailbox.Parse("nobody@example.com")
	require.NoError(t, err)
	_, err = b.GetCMSRecipient(mbox)
	require.Error(t, err)
}
