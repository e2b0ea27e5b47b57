// Package cms implements C4, the CMS pipeline: Sign/Verify,
// Encrypt/Decrypt, Compress/Decompress, Export/Import. SignedData and
// EnvelopedData are built on github.com/digitorus/pkcs7 (grounded on the
// vendored copy of that library found alongside other container-signing
// code in the retrieval pack, and on reference S/MIME signer/verifier
// code built on its sibling go.mozilla.org/pkcs7, same API shape).
// CompressedData has no such library anywhere in the pack or the wider
// ecosystem and is implemented directly against compress/zlib in
// compress.go.
package cms

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"io"
	"strconv"
	"strings"

	digitoruspkcs7 "github.com/digitorus/pkcs7"

	"github.com/foxcpp/gosmime/digest"
	"github.com/foxcpp/gosmime/errs"
	"github.com/foxcpp/gosmime/internal/log"
	"github.com/foxcpp/gosmime/internal/metrics"
	"github.com/foxcpp/gosmime/mailbox"
	"github.com/foxcpp/gosmime/model"
	"github.com/foxcpp/gosmime/selector"
	"github.com/foxcpp/gosmime/sigverify"
	"github.com/foxcpp/gosmime/store"
)

// Engine binds the CMS pipeline to a certificate store, the only
// collaborator C4 needs from C2 (spec.md §4.2 "Selector semantics").
type Engine struct {
	Store store.Backend
	Log   log.Logger
}

func NewEngine(backend store.Backend, logger log.Logger) *Engine {
	return &Engine{Store: backend, Log: logger}
}

// Sign produces CMS SignedData octets over content, detached or
// encapsulated (spec.md §4.4 "Sign / EncapsulatedSign").
func (e *Engine) Sign(signer model.CmsSigner, content io.Reader, detached bool) ([]byte, model.SMIMEType, error) {
	if signer.Certificate == nil || signer.PrivateKey == nil {
		return nil, model.Data, &errs.ArgumentError{Param: "signer", Msg: "certificate and private key are required"}
	}
	if signer.IdentifierType == model.SubjectKeyIdentifier {
		return nil, model.Data, &errs.NotSupportedError{Msg: "subject key identifier RecipientInfo/SignerInfo is not supported by the underlying CMS engine"}
	}
	oid, err := digest.DigestOID(signer.Digest)
	if err != nil {
		return nil, model.Data, err
	}

	raw, err := io.ReadAll(content)
	if err != nil {
		return nil, model.Data, &errs.CmsError{Op: "sign: read content", Err: err}
	}

	sd, err := digitoruspkcs7.NewSignedData(raw)
	if err != nil {
		return nil, model.Data, &errs.CmsError{Op: "sign: init", Err: err}
	}
	sd.SetDigestAlgorithm(mustParseOID(oid))

	cfg := digitoruspkcs7.SignerInfoConfig{ExtraSignedAttributes: toLibAttrs(signer.SignedAttrs), ExtraUnsignedAttributes: toLibAttrs(signer.UnsignedAttrs)}
	if err := sd.AddSigner(signer.Certificate, signer.PrivateKey, cfg); err != nil {
		return nil, model.Data, &errs.CmsError{Op: "sign: add signer", Err: err}
	}
	if detached {
		sd.Detach()
	}

	out, err := sd.Finish()
	if err != nil {
		return nil, model.Data, &errs.CmsError{Op: "sign: finish", Err: err}
	}
	return out, model.SignedData, nil
}

// EncapsulatedSign is Sign with the content embedded in eContent.
func (e *Engine) EncapsulatedSign(signer model.CmsSigner, content io.Reader) ([]byte, model.SMIMEType, error) {
	return e.Sign(signer, content, false)
}

// Verify processes a SignedData blob, either detached (content supplied
// separately) or encapsulated, producing a DigitalSignatureCollection that
// is returned whole even when individual signers fail (spec.md §4.4, §4.5).
func (e *Engine) Verify(content []byte, sigDER []byte) (model.DigitalSignatureCollection, error) {
	p7, err := digitoruspkcs7.Parse(sigDER)
	if err != nil {
		return nil, &errs.CmsError{Op: "verify: parse", Err: err}
	}
	if content != nil {
		p7.Content = content
	}

	// p7.Verify() with a nil truststore performs cryptographic signature
	// verification only (digest + signature math), deliberately not
	// touching any certificate chain — chain trust is C3's job, never
	// the underlying CMS library's.
	cryptoErr := p7.Verify()

	for _, cert := range p7.Certificates {
		if err := e.Store.ImportCertificate(cert); err != nil {
			e.Log.Error("verify: mirror embedded certificate into store", err)
		}
	}
	embeddedCRLs := extractCRLs(sigDER)
	for _, crl := range embeddedCRLs {
		if err := e.Store.ImportCRL(crl); err != nil {
			e.Log.Error("verify: mirror embedded crl into store", err)
		}
	}

	metas, err := parseSignerInfos(sigDER)
	if err != nil {
		return nil, &errs.CmsError{Op: "verify: parse signer infos", Err: err}
	}

	anchors, err := e.Store.GetTrustedAnchors()
	if err != nil {
		return nil, err
	}
	localIntermediates, err := e.Store.GetIntermediates()
	if err != nil {
		return nil, err
	}
	localCRLs, err := e.Store.GetCRLs()
	if err != nil {
		return nil, err
	}

	candidates := make([]sigverify.SignerCandidate, len(metas))
	for i, m := range metas {
		signerCert := findEmbeddedSigner(p7.Certificates, m)
		if signerCert == nil {
			if sel, ok := m.selector(); ok {
				if c, lookupErr := e.Store.GetCertificate(sel); lookupErr == nil {
					signerCert = c
				}
			}
		}
		candidates[i] = sigverify.SignerCandidate{
			RawSignedData:  sigDER,
			SigningTime:    m.signingTime,
			SignerCert:     signerCert,
			CryptoVerified: cryptoErr == nil,
			CryptoErr:      cryptoErr,
		}
	}

	return sigverify.Process(sigverify.Context{
		Anchors:       anchors,
		Intermediates: localIntermediates,
		CRLs:          localCRLs,
		EmbeddedCerts: p7.Certificates,
		EmbeddedCRLs:  embeddedCRLs,
	}, candidates), nil
}

func (m signerMeta) selector() (selector.Selector, bool) {
	if m.serial == nil || len(m.issuerRaw) == 0 {
		return selector.Selector{}, false
	}
	var name x509NameHolder
	if _, err := name.unmarshal(m.issuerRaw); err != nil {
		return selector.Selector{}, false
	}
	return selector.IssuerSerial(name.name, m.serial), true
}

func findEmbeddedSigner(certs []*x509.Certificate, m signerMeta) *x509.Certificate {
	for _, c := range certs {
		if bytes.Equal(c.RawIssuer, m.issuerRaw) && m.serial != nil && c.SerialNumber.Cmp(m.serial) == 0 {
			return c
		}
	}
	return nil
}

// extractCRLs pulls any CRLs carried alongside the SignedData (spec.md
// §4.3 embedded_crls). digitorus/pkcs7 does not surface these publicly so
// they are read off the same raw structure parseSignerInfos uses.
func extractCRLs(der []byte) []*x509.RevocationList {
	sd, err := rawSignedData(der)
	if err != nil {
		return nil
	}
	out := make([]*x509.RevocationList, 0, len(sd.CRLs))
	for _, raw := range sd.CRLs {
		crl, err := x509.ParseRevocationList(raw.FullBytes)
		if err != nil {
			continue
		}
		out = append(out, crl)
	}
	return out
}

// Encrypt produces CMS EnvelopedData with single-key DES-CBC content
// encryption (digitorus/pkcs7's EncryptionAlgorithmDESCBC); DES-EDE3-CBC
// (3DES) is not used, and the algorithm is never negotiated from recipient
// S/MIME capabilities.
func (e *Engine) Encrypt(recipients []model.Recipient, content io.Reader) ([]byte, model.SMIMEType, error) {
	if len(recipients) == 0 {
		return nil, model.Data, &errs.ArgumentError{Param: "recipients", Msg: "at least one recipient is required"}
	}
	certs := make([]*x509.Certificate, 0, len(recipients))
	for _, r := range recipients {
		if r.Identifier == model.SubjectKeyIdentifier {
			return nil, model.Data, &errs.NotSupportedError{Msg: "subject key identifier RecipientInfo is not supported by the underlying CMS engine"}
		}
		certs = append(certs, r.Certificate)
	}
	raw, err := io.ReadAll(content)
	if err != nil {
		return nil, model.Data, &errs.CmsError{Op: "encrypt: read content", Err: err}
	}

	digitoruspkcs7.ContentEncryptionAlgorithm = digitoruspkcs7.EncryptionAlgorithmDESCBC
	out, err := digitoruspkcs7.Encrypt(raw, certs)
	if err != nil {
		metrics.EnvelopeOpsTotal.WithLabelValues("encrypt", "error").Inc()
		return nil, model.Data, &errs.CmsError{Op: "encrypt", Err: err}
	}
	metrics.EnvelopeOpsTotal.WithLabelValues("encrypt", "ok").Inc()
	return out, model.EnvelopedData, nil
}

// EntityLoader parses decrypted octets into a MIME entity, kept as a
// caller-provided function so cms stays independent of any one MIME
// parsing library (spec.md §4.4 "Decrypt": "a MIME entity (via the
// external loader)").
type EntityLoader func(io.Reader) (interface{}, error)

// Decrypt returns the plaintext octets of an EnvelopedData; the caller
// (smime.Context) is responsible for feeding them to an EntityLoader.
func (e *Engine) Decrypt(envelopedDER []byte) ([]byte, error) {
	p7, err := digitoruspkcs7.Parse(envelopedDER)
	if err != nil {
		return nil, &errs.CmsError{Op: "decrypt: parse", Err: err}
	}

	recipientSelectors, err := recipientSelectorsOf(envelopedDER)
	if err != nil {
		return nil, &errs.CmsError{Op: "decrypt: parse recipient infos", Err: err}
	}
	for _, sel := range recipientSelectors {
		cert, err := e.Store.GetCertificate(sel)
		if err != nil || cert == nil {
			continue
		}
		key, err := e.Store.GetPrivateKey(sel)
		if err != nil || key == nil {
			continue
		}
		plain, err := p7.Decrypt(cert, key)
		if err == nil {
			metrics.EnvelopeOpsTotal.WithLabelValues("decrypt", "ok").Inc()
			return plain, nil
		}
	}
	metrics.EnvelopeOpsTotal.WithLabelValues("decrypt", "error").Inc()
	return nil, &errs.CmsError{Op: "decrypt", Err: errNoSuitableKey}
}

var errNoSuitableKey = cmsStringError("suitable private key not found")

type cmsStringError string

func (e cmsStringError) Error() string { return string(e) }

// Compress produces CMS CompressedData (spec.md §4.4 "Compress").
func (e *Engine) Compress(content io.Reader) ([]byte, model.SMIMEType, error) {
	out, err := compress(content)
	if err != nil {
		return nil, model.Data, err
	}
	return out, model.CompressedData, nil
}

// Decompress reverses Compress.
func (e *Engine) Decompress(der []byte) ([]byte, error) {
	return decompress(der)
}

// Export emits a certs-only SignedData carrying the certificates of the
// given mailboxes (spec.md §4.4 "Export (certs-only)").
func (e *Engine) Export(mboxes []mailbox.Mailbox) ([]byte, model.SMIMEType, error) {
	if len(mboxes) == 0 {
		return nil, model.Data, &errs.ArgumentError{Param: "mboxes", Msg: "at least one mailbox is required"}
	}
	var buf bytes.Buffer
	found := 0
	for _, mbox := range mboxes {
		cert, err := e.Store.GetCertificate(selector.Email(mbox.AddrSpec))
		if err != nil {
			return nil, model.Data, err
		}
		if cert == nil {
			continue
		}
		buf.Write(cert.Raw)
		found++
	}
	if found == 0 {
		return nil, model.Data, store.NotFound(mboxes[0], "no certificate found for any requested mailbox")
	}
	out, err := digitoruspkcs7.DegenerateCertificate(buf.Bytes())
	if err != nil {
		return nil, model.Data, &errs.CmsError{Op: "export", Err: err}
	}
	return out, model.CertsOnly, nil
}

// Import parses a certs-only SignedData and delegates each certificate and
// CRL to the store (spec.md §4.4 "Import(stream)").
func (e *Engine) Import(der []byte) error {
	p7, err := digitoruspkcs7.Parse(der)
	if err != nil {
		return &errs.CmsError{Op: "import: parse", Err: err}
	}
	for _, cert := range p7.Certificates {
		if err := e.Store.ImportCertificate(cert); err != nil {
			return err
		}
	}
	for _, crl := range extractCRLs(der) {
		if err := e.Store.ImportCRL(crl); err != nil {
			return err
		}
	}
	return nil
}

// mustParseOID turns a dotted-decimal OID string (as produced by
// digest.DigestOID) into an asn1.ObjectIdentifier; the digest package is
// the only source of these strings and guarantees well-formed input.
func mustParseOID(dotted string) asn1.ObjectIdentifier {
	parts := strings.Split(dotted, ".")
	oid := make(asn1.ObjectIdentifier, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			panic("gosmime: malformed digest OID " + dotted)
		}
		oid[i] = n
	}
	return oid
}

func toLibAttrs(attrs []model.Attribute) []digitoruspkcs7.Attribute {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]digitoruspkcs7.Attribute, len(attrs))
	for i, a := range attrs {
		out[i] = digitoruspkcs7.Attribute{Type: a.Type, Value: a.Value}
	}
	return out
}

// x509NameHolder decodes a raw DER-encoded Name (the bytes stored in a
// SignerInfo's issuerAndSerialNumber) into a pkix.Name for selector lookups.
type x509NameHolder struct {
	name pkix.Name
}

func (h *x509NameHolder) unmarshal(der []byte) ([]byte, error) {
	var rdn pkix.RDNSequence
	rest, err := asn1.Unmarshal(der, &rdn)
	if err != nil {
		return nil, err
	}
	h.name.FillFromRDNSequence(&rdn)
	return rest, nil
}

// rawSignedData unmarshals the ContentInfo/SignedData envelope, reusing
// the struct definitions parseSignerInfos relies on.
func rawSignedData(der []byte) (*signedDataASN1, error) {
	var outer contentInfo
	if _, err := asn1.Unmarshal(der, &outer); err != nil {
		return nil, err
	}
	var inner asn1.RawValue
	if _, err := asn1.Unmarshal(outer.Content.Bytes, &inner); err != nil {
		return nil, err
	}
	var sd signedDataASN1
	if _, err := asn1.Unmarshal(inner.FullBytes, &sd); err != nil {
		return nil, err
	}
	return &sd, nil
}

// recipientSelectorsOf extracts each RecipientInfo's issuer+serial from an
// EnvelopedData blob, so Decrypt can ask the store for the matching
// private key without digitorus/pkcs7 exposing RecipientInfo publicly.
func recipientSelectorsOf(der []byte) ([]selector.Selector, error) {
	var outer contentInfo
	if _, err := asn1.Unmarshal(der, &outer); err != nil {
		return nil, err
	}
	var inner asn1.RawValue
	if _, err := asn1.Unmarshal(outer.Content.Bytes, &inner); err != nil {
		return nil, err
	}
	var ed envelopedDataASN1
	if _, err := asn1.Unmarshal(inner.FullBytes, &ed); err != nil {
		return nil, err
	}
	out := make([]selector.Selector, 0, len(ed.RecipientInfos))
	for _, ri := range ed.RecipientInfos {
		var holder x509NameHolder
		if _, err := holder.unmarshal(ri.IssuerAndSerialNumber.IssuerName.FullBytes); err != nil {
			continue
		}
		out = append(out, selector.IssuerSerial(holder.name, ri.IssuerAndSerialNumber.SerialNumber))
	}
	return out, nil
}
