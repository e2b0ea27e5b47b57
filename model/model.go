// Package model holds the shared data-model types from spec.md §3 that
// cross package boundaries: store.Backend produces Recipient/CmsSigner/
// TrustAnchor values, cms consumes them to emit CMS structures, and
// sigverify produces DigitalSignature values that cms.Verify returns to
// callers. Keeping them in one leaf package avoids store/cms/sigverify
// forming an import cycle over what are, after all, plain data records.
package model

import (
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"time"

	"github.com/foxcpp/gosmime/digest"
)

// SubjectIdentifierType selects which CMS RecipientIdentifier/SignerIdentifier
// variant to emit (spec.md §3). cms.Engine emits only IssuerAndSerialNumber;
// Sign and Encrypt fail with NotSupportedError for SubjectKeyIdentifier.
type SubjectIdentifierType int

const (
	IssuerAndSerialNumber SubjectIdentifierType = iota
	SubjectKeyIdentifier
)

// Attribute is a single CMS signed or unsigned attribute: an OID plus a
// DER-encodable value. Sign sorts these by OID before emission (spec.md
// §4.4) because CMS requires the SET OF signed attributes encoded in their
// DER (sorted) order for the signature to verify.
type Attribute struct {
	Type  asn1.ObjectIdentifier
	Value interface{}
}

// Recipient pairs a certificate with the RecipientIdentifier variant to use
// when addressing it in an EnvelopedData. Constructed per recipient per
// Encrypt call; never persisted (spec.md §3).
type Recipient struct {
	Certificate *x509.Certificate
	Identifier  SubjectIdentifierType
}

// NewRecipient builds a Recipient defaulting IdentifierType to
// IssuerAndSerialNumber, as spec.md §3 requires.
func NewRecipient(cert *x509.Certificate) Recipient {
	return Recipient{Certificate: cert, Identifier: IssuerAndSerialNumber}
}

// CmsSigner is assembled from a mailbox + preferred digest at Sign time.
// Certificate and PrivateKey are both required; cms.Sign rejects a
// zero-value CmsSigner with ArgumentError before streaming (spec.md §3
// Invariants).
type CmsSigner struct {
	Certificate      *x509.Certificate
	PrivateKey       crypto.Signer
	Digest           digest.Algorithm
	SignedAttrs      []Attribute
	UnsignedAttrs    []Attribute
	IdentifierType   SubjectIdentifierType
}

// TrustAnchor is a certificate accepted as a root of trust, plus optional
// name constraints (spec.md §3). Trust anchor sets are compared by
// certificate fingerprint, never mutated mid-verify (Design Notes §9).
type TrustAnchor struct {
	Certificate     *x509.Certificate
	PermittedDNS    []string
	ExcludedDNS     []string
}

// Fingerprint is the SHA-256 digest of the anchor's raw DER, used as its
// set-membership key.
func (t TrustAnchor) Fingerprint() [32]byte {
	return sha256.Sum256(t.Certificate.Raw)
}

// SMIMEType tags the output of a CMS pipeline operation so the external
// MIME layer can set the smime-type parameter correctly (spec.md §3).
type SMIMEType int

const (
	Data SMIMEType = iota
	SignedData
	EnvelopedData
	CompressedData
	CertsOnly
)

func (t SMIMEType) String() string {
	switch t {
	case Data:
		return "Data"
	case SignedData:
		return "SignedData"
	case EnvelopedData:
		return "EnvelopedData"
	case CompressedData:
		return "CompressedData"
	case CertsOnly:
		return "CertsOnly"
	default:
		return "Unknown"
	}
}

// DigitalSignature records the outcome of processing a single SignerInfo
// during Verify. Exactly one of Chain or ChainException is populated once
// processing completes (spec.md §3 Invariants, §4.5).
type DigitalSignature struct {
	SignerInfoRaw     []byte
	CreationDate      *time.Time
	SignerCertificate *x509.Certificate
	Chain             []*x509.Certificate
	ChainException    error
}

// DigitalSignatureCollection is the whole, never-partial result of a
// Verify call (spec.md §4.5).
type DigitalSignatureCollection []DigitalSignature
