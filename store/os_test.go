package store

import (
	"crypto/rand"
	"crypto/x509"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foxcpp/gosmime/internal/log"
	"github.com/foxcpp/gosmime/selector"
)

func TestOsBackendDelegatesEverythingButAnchors(t *testing.T) {
	dir := t.TempDir()
	inner := NewFileBackend(FileConfig{Root: dir}, log.Nop)
	cert, _ := selfSigned(t, "Alice", "alice@example.com")
	require.NoError(t, inner.ImportCertificate(cert))

	osBackend := NewOsBackend(inner)

	got, err := osBackend.GetCertificate(selector.Email("alice@example.com"))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, cert.Raw, got.Raw)

	// anchors never come from inner, even when inner has none configured;
	// a missing/unreadable system bundle must not surface as an error.
	_, err = osBackend.GetTrustedAnchors()
	require.NoError(t, err)
}

func TestOsBackendImportCRLIsNoOp(t *testing.T) {
	dir := t.TempDir()
	inner := NewFileBackend(FileConfig{Root: dir}, log.Nop)
	root, key := selfSigned(t, "Root", "root@example.com")

	crlTmpl := &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: time.Now(),
		NextUpdate: time.Now().Add(time.Hour),
	}
	crlDER, err := x509.CreateRevocationList(rand.Reader, crlTmpl, root, key)
	require.NoError(t, err)
	crl, err := x509.ParseRevocationList(crlDER)
	require.NoError(t, err)

	osBackend := NewOsBackend(inner)
	require.NoError(t, osBackend.ImportCRL(crl))

	crls, err := inner.GetCRLs()
	require.NoError(t, err)
	require.True(t, crls.Empty(), "OsBackend.ImportCRL must not persist into the wrapped backend")
}
