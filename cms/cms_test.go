package cms_test

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foxcpp/gosmime/cms"
	"github.com/foxcpp/gosmime/digest"
	"github.com/foxcpp/gosmime/internal/log"
	"github.com/foxcpp/gosmime/internal/testutils"
	"github.com/foxcpp/gosmime/mailbox"
	"github.com/foxcpp/gosmime/model"
	"github.com/foxcpp/gosmime/selector"
	"github.com/foxcpp/gosmime/store"
)

// memBackend is a minimal in-memory store.Backend for exercising cms.Engine
// without touching disk, mirroring the shape of store.FileBackend's public
// surface.
type memBackend struct {
	anchors       store.AnchorSet
	intermediates store.CertPool
	crls          store.CRLPool
	certs         []*x509.Certificate
	keys          map[string]crypto.Signer // keyed by cert.Subject.String()
}

func newMemBackend() *memBackend {
	return &memBackend{keys: make(map[string]crypto.Signer)}
}

func (b *memBackend) addIdentity(cert *x509.Certificate, key crypto.Signer) {
	b.certs = append(b.certs, cert)
	b.keys[cert.Subject.String()] = key
}

func (b *memBackend) GetCertificate(sel selector.Selector) (*x509.Certificate, error) {
	for _, c := range b.certs {
		if sel.Matches(c) {
			return c, nil
		}
	}
	return nil, nil
}

func (b *memBackend) GetPrivateKey(sel selector.Selector) (crypto.Signer, error) {
	for _, c := range b.certs {
		if sel.Matches(c) {
			return b.keys[c.Subject.String()], nil
		}
	}
	return nil, nil
}

func (b *memBackend) GetTrustedAnchors() (store.AnchorSet, error) { return b.anchors, nil }
func (b *memBackend) GetIntermediates() (store.CertPool, error)   { return b.intermediates, nil }
func (b *memBackend) GetCRLs() (store.CRLPool, error)             { return b.crls, nil }

func (b *memBackend) GetCMSRecipient(mbox mailbox.Mailbox) (model.Recipient, error) {
	for _, c := range b.certs {
		if selector.Email(mbox.AddrSpec).Matches(c) {
			return model.NewRecipient(c), nil
		}
	}
	return model.Recipient{}, store.NotFound(mbox, "no matching certificate")
}

func (b *memBackend) GetCMSSigner(mbox mailbox.Mailbox, pref digest.Algorithm) (model.CmsSigner, error) {
	for _, c := range b.certs {
		if selector.Email(mbox.AddrSpec).Matches(c) {
			return model.CmsSigner{Certificate: c, PrivateKey: b.keys[c.Subject.String()], Digest: pref}, nil
		}
	}
	return model.CmsSigner{}, store.NotFound(mbox, "no matching certificate")
}

func (b *memBackend) ImportCertificate(cert *x509.Certificate) error {
	for _, c := range b.certs {
		if bytes.Equal(c.Raw, cert.Raw) {
			return nil
		}
	}
	b.certs = append(b.certs, cert)
	return nil
}

func (b *memBackend) ImportCRL(crl *x509.RevocationList) error {
	b.crls = b.crls.Merge(store.NewCRLPool(crl))
	return nil
}

func (b *memBackend) ImportPKCS12(data []byte, password string) error {
	return nil
}

func rootedLeaf(t *testing.T, cn, email string) (*testutils.CA, *x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	root := testutils.NewRootCA(t, cn+" Root", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	leaf, key := root.NewLeaf(t, cn, email)
	return &root, leaf, key
}

func TestSignVerifyDetachedRoundTrip(t *testing.T) {
	root, cert, key := rootedLeaf(t, "Alice", "alice@example.com")
	backend := newMemBackend()
	backend.addIdentity(cert, key)
	backend.anchors = store.NewAnchorSet().Add(root.Anchor())

	engine := cms.NewEngine(backend, log.Logger{})
	content := []byte("hello world")

	sigDER, smimeType, err := engine.Sign(model.CmsSigner{
		Certificate: cert,
		PrivateKey:  key,
		Digest:      digest.SHA256,
	}, bytes.NewReader(content), true)
	require.NoError(t, err)
	require.Equal(t, model.SignedData, smimeType)

	result, err := engine.Verify(content, sigDER)
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.Nil(t, result[0].ChainException)
	require.NotNil(t, result[0].SignerCertificate)
	require.Len(t, result[0].Chain, 2)
}

func TestSignRejectsIncompleteSigner(t *testing.T) {
	backend := newMemBackend()
	engine := cms.NewEngine(backend, log.Logger{})
	_, _, err := engine.Sign(model.CmsSigner{Digest: digest.SHA256}, bytes.NewReader([]byte("x")), true)
	require.Error(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	// KeyTrans RecipientInfos carry an RSA-encrypted content key, so Bob's
	// certificate is issued for an RSA key rather than testutils' ECDSA one.
	root := testutils.NewRootCA(t, "Bob Root", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:   big.NewInt(2),
		Subject:        pkix.Name{CommonName: "Bob"},
		NotBefore:      time.Now().Add(-time.Hour),
		NotAfter:       time.Now().Add(time.Hour),
		EmailAddresses: []string{"bob@example.com"},
		KeyUsage:       x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, root.Cert, &key.PublicKey, root.Key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	backend := newMemBackend()
	backend.addIdentity(cert, key)

	engine := cms.NewEngine(backend, log.Logger{})
	content := []byte("top secret")

	envDER, smimeType, err := engine.Encrypt([]model.Recipient{model.NewRecipient(cert)}, bytes.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, model.EnvelopedData, smimeType)

	plain, err := engine.Decrypt(envDER)
	require.NoError(t, err)
	require.Equal(t, content, plain)
}

func TestEncryptRejectsNoRecipients(t *testing.T) {
	engine := cms.NewEngine(newMemBackend(), log.Logger{})
	_, _, err := engine.Encrypt(nil, bytes.NewReader([]byte("x")))
	require.Error(t, err)
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	engine := cms.NewEngine(newMemBackend(), log.Logger{})
	content := []byte("some plaintext to compress, repeated repeated repeated")

	compressed, smimeType, err := engine.Compress(bytes.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, model.CompressedData, smimeType)

	out, err := engine.Decompress(compressed)
	require.NoError(t, err)
	require.Equal(t, content, out)
}

func TestCompressDecompressRoundTripOneMebibyteRandom(t *testing.T) {
	engine := cms.NewEngine(newMemBackend(), log.Logger{})
	content := make([]byte, 1<<20)
	_, err := rand.Read(content)
	require.NoError(t, err)

	compressed, smimeType, err := engine.Compress(bytes.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, model.CompressedData, smimeType)

	out, err := engine.Decompress(compressed)
	require.NoError(t, err)
	require.True(t, bytes.Equal(content, out))
}

func TestExportImportRoundTrip(t *testing.T) {
	_, cert, key := rootedLeaf(t, "Carol", "carol@example.com")
	backend := newMemBackend()
	backend.addIdentity(cert, key)

	engine := cms.NewEngine(backend, log.Logger{})
	mbox, err := mailbox.Parse("carol@example.com")
	require.NoError(t, err)

	der, smimeType, err := engine.Export([]mailbox.Mailbox{mbox})
	require.NoError(t, err)
	require.Equal(t, model.CertsOnly, smimeType)

	importer := cms.NewEngine(newMemBackend(), log.Logger{})
	require.NoError(t, importer.Import(der))
}

func TestExportRejectsUnknownMailbox(t *testing.T) {
	engine := cms.NewEngine(newMemBackend(), log.Logger{})
	mbox, err := mailbox.Parse("nobody@example.com")
	require.NoError(t, err)
	_, _, err = engine.Export([]mailbox.Mailbox{mbox})
	require.Error(t, err)
}
