package sigverify_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foxcpp/gosmime/model"
	"github.com/foxcpp/gosmime/sigverify"
	"github.com/foxcpp/gosmime/store"
)

func selfSignedCA(t *testing.T, cn string) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

// TestProcessPreservesOrderUnderConcurrency builds many candidates, half
// trusted and half not, and checks that Process's output slice lines up
// index-for-index with the input despite running each through errgroup
// concurrently.
func TestProcessPreservesOrderUnderConcurrency(t *testing.T) {
	const n = 40
	anchors := store.NewAnchorSet()
	certs := make([]*x509.Certificate, n)
	for i := 0; i < n; i++ {
		cert := selfSignedCA(t, fmt.Sprintf("Anchor %d", i))
		certs[i] = cert
		if i%2 == 0 {
			anchors = anchors.Add(model.TrustAnchor{Certificate: cert})
		}
	}

	candidates := make([]sigverify.SignerCandidate, n)
	for i, c := range certs {
		candidates[i] = sigverify.SignerCandidate{
			SignerCert:     c,
			CryptoVerified: true,
		}
	}

	result := sigverify.Process(sigverify.Context{Anchors: anchors}, candidates)
	require.Len(t, result, n)
	for i, sig := range result {
		require.Same(t, certs[i], sig.SignerCertificate)
		if i%2 == 0 {
			require.Nil(t, sig.ChainException)
			require.Len(t, sig.Chain, 1)
		} else {
			require.NotNil(t, sig.ChainException)
		}
	}
}

func TestProcessReportsCryptoFailureWithoutBuildingChain(t *testing.T) {
	cert := selfSignedCA(t, "Anchor")
	anchors := store.NewAnchorSet().Add(model.TrustAnchor{Certificate: cert})
	boom := fmt.Errorf("signature mismatch")

	result := sigverify.Process(sigverify.Context{Anchors: anchors}, []sigverify.SignerCandidate{
		{SignerCert: cert, CryptoVerified: false, CryptoErr: boom},
	})
	require.Len(t, result, 1)
	require.Error(t, result[0].ChainException)
	require.Nil(t, result[0].Chain)
}

func TestProcessReportsMissingSignerCertificate(t *testing.T) {
	result := sigverify.Process(sigverify.Context{}, []sigverify.SignerCandidate{
		{SignerCert: nil, CryptoVerified: true},
	})
	require.Len(t, result, 1)
	require.Error(t, result[0].ChainException)
}
