package pkix_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foxcpp/gosmime/internal/testutils"
	gosmimepkix "github.com/foxcpp/gosmime/pkix"
	"github.com/foxcpp/gosmime/store"
)

func TestBuildDirectlyUnderAnchor(t *testing.T) {
	root := testutils.NewRootCA(t, "Root", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	leaf, _ := root.NewLeaf(t, "Alice", "")

	anchors := store.NewAnchorSet().Add(root.Anchor())

	chain, err := gosmimepkix.Build(gosmimepkix.Input{
		Anchors: anchors,
		Leaf:    leaf,
	})
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.Equal(t, leaf.Raw, chain[0].Raw)
}

func TestBuildChainThroughIntermediate(t *testing.T) {
	root := testutils.NewRootCA(t, "Root", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	intermediate := root.NewIntermediateCA(t, "Intermediate")
	leaf, _ := intermediate.NewLeaf(t, "Alice", "")

	anchors := store.NewAnchorSet().Add(root.Anchor())
	intermediates := store.NewCertPool(intermediate.Cert)

	chain, err := gosmimepkix.Build(gosmimepkix.Input{
		Anchors:       anchors,
		Intermediates: intermediates,
		Leaf:          leaf,
	})
	require.NoError(t, err)
	require.Len(t, chain, 3)
}

func TestBuildUntrustedRootFails(t *testing.T) {
	root := testutils.NewRootCA(t, "Root", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	leaf, _ := root.NewLeaf(t, "Alice", "")

	_, err := gosmimepkix.Build(gosmimepkix.Input{
		Anchors: store.NewAnchorSet(),
		Leaf:    leaf,
	})
	require.Error(t, err)
}

func TestBuildArchivedSignatureWithExpiredRoot(t *testing.T) {
	longAgo := time.Now().Add(-10 * 365 * 24 * time.Hour)
	root := testutils.NewRootCA(t, "Root", longAgo, longAgo.Add(365*24*time.Hour))

	// leaf issued while root was still valid, but root has since expired
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "Alice"},
		NotBefore:    longAgo.Add(time.Hour),
		NotAfter:     longAgo.Add(2 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, root.Cert, &key.PublicKey, root.Key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	anchors := store.NewAnchorSet().Add(root.Anchor())
	signingTime := longAgo.Add(90 * time.Minute)

	chain, err := gosmimepkix.Build(gosmimepkix.Input{
		Anchors:     anchors,
		Leaf:        leaf,
		SigningTime: &signingTime,
	})
	require.NoError(t, err)
	require.Len(t, chain, 2)
}

func TestBuildExpiredRootFailsAtCurrentTimeWithoutSigningTime(t *testing.T) {
	longAgo := time.Now().Add(-10 * 365 * 24 * time.Hour)
	root := testutils.NewRootCA(t, "Root", longAgo, longAgo.Add(365*24*time.Hour))
	leaf, _ := root.NewLeaf(t, "Alice", "")

	anchors := store.NewAnchorSet().Add(root.Anchor())
	_, err := gosmimepkix.Build(gosmimepkix.Input{
		Anchors: anchors,
		Leaf:    leaf,
	})
	require.Error(t, err)
}

func TestBuildRevokedLeafFailsWhenLocalCRLPoolNonEmpty(t *testing.T) {
	root := testutils.NewRootCA(t, "Root", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	leaf, _ := root.NewLeaf(t, "Alice", "")

	crlTmpl := &x509.RevocationList{
		Number: big.NewInt(1),
		RevokedCertificateEntries: []x509.RevocationListEntry{
			{SerialNumber: leaf.SerialNumber, RevocationTime: time.Now()},
		},
		ThisUpdate: time.Now(),
		NextUpdate: time.Now().Add(time.Hour),
	}
	crlDER, err := x509.CreateRevocationList(rand.Reader, crlTmpl, root.Cert, root.Key)
	require.NoError(t, err)
	crl, err := x509.ParseRevocationList(crlDER)
	require.NoError(t, err)

	anchors := store.NewAnchorSet().Add(root.Anchor())
	_, err = gosmimepkix.Build(gosmimepkix.Input{
		Anchors: anchors,
		Leaf:    leaf,
		CRLs:    store.NewCRLPool(crl),
	})
	require.Error(t, err)
}

func TestBuildEmbeddedCRLAloneDoesNotEnableRevocationChecking(t *testing.T) {
	root := testutils.NewRootCA(t, "Root", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	leaf, _ := root.NewLeaf(t, "Alice", "")

	crlTmpl := &x509.RevocationList{
		Number: big.NewInt(1),
		RevokedCertificateEntries: []x509.RevocationListEntry{
			{SerialNumber: leaf.SerialNumber, RevocationTime: time.Now()},
		},
		ThisUpdate: time.Now(),
		NextUpdate: time.Now().Add(time.Hour),
	}
	crlDER, err := x509.CreateRevocationList(rand.Reader, crlTmpl, root.Cert, root.Key)
	require.NoError(t, err)
	crl, err := x509.ParseRevocationList(crlDER)
	require.NoError(t, err)

	anchors := store.NewAnchorSet().Add(root.Anchor())
	// CRL is only embedded, the local pool stays empty: must NOT enable
	// revocation checking (spec.md §4.3 step 3).
	chain, err := gosmimepkix.Build(gosmimepkix.Input{
		Anchors:      anchors,
		Leaf:         leaf,
		EmbeddedCRLs: []*x509.RevocationList{crl},
	})
	require.NoError(t, err)
	require.Len(t, chain, 2)
}
