package cms

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"time"
)

// ASN.1 record shapes for introspecting a parsed SignedData's SignerInfos.
// github.com/digitorus/pkcs7 (like its go.mozilla.org/pkcs7 sibling) keeps
// its signerInfo type unexported and only surfaces a single whole-structure
// Verify(), so per-signer signing time and identifier extraction is done
// here directly against the wire format, mirroring the same field layout
// digitorus/pkcs7 itself uses internally (RFC 5652 §5.3).
var (
	oidContentType   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	oidMessageDigest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	oidSigningTime   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}

	oidData          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	oidSignedData    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	oidEnvelopedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 3}

	// id-ct-compressedData (RFC 3274)
	oidCompressedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 9}
	// id-alg-zlibCompress (RFC 3274)
	oidZlibCompress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 3, 8}
)

type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

type issuerAndSerial struct {
	IssuerName   asn1.RawValue
	SerialNumber *big.Int
}

type attribute struct {
	Type  asn1.ObjectIdentifier
	Value asn1.RawValue `asn1:"set"`
}

type signerInfoASN1 struct {
	Version                   int `asn1:"default:1"`
	IssuerAndSerialNumber     issuerAndSerial
	DigestAlgorithm           pkix.AlgorithmIdentifier
	AuthenticatedAttributes   []attribute `asn1:"optional,omitempty,tag:0"`
	DigestEncryptionAlgorithm pkix.AlgorithmIdentifier
	EncryptedDigest           []byte
	UnauthenticatedAttributes []attribute `asn1:"optional,omitempty,tag:1"`
}

type rawCertificates struct {
	Raw asn1.RawContent
}

type signedDataASN1 struct {
	Version                    int                        `asn1:"default:1"`
	DigestAlgorithmIdentifiers []pkix.AlgorithmIdentifier `asn1:"set"`
	ContentInfo                contentInfo
	Certificates               rawCertificates         `asn1:"optional,tag:0"`
	CRLs                       []asn1.RawValue         `asn1:"optional,tag:1"`
	SignerInfos                []signerInfoASN1        `asn1:"set"`
}

// parseSignerInfos extracts each SignerInfo's issuer+serial and, if
// present, its signingTime signed attribute, from the raw ContentInfo
// wrapping a SignedData (the outer SEQUENCE/OID/[0] EXPLICIT envelope that
// digitorus/pkcs7.Parse also expects).
func parseSignerInfos(der []byte) ([]signerMeta, error) {
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

	out := make([]signerMeta, 0, len(sd.SignerInfos))
	for _, si := range sd.SignerInfos {
		m := signerMeta{
			issuerRaw: si.IssuerAndSerialNumber.IssuerName.FullBytes,
			serial:    si.IssuerAndSerialNumber.SerialNumber,
		}
		for _, attr := range si.AuthenticatedAttributes {
			if attr.Type.Equal(oidSigningTime) {
				var t time.Time
				if _, err := asn1.Unmarshal(attr.Value.Bytes, &t); err == nil {
					m.signingTime = &t
				}
			}
		}
		out = append(out, m)
	}
	return out, nil
}

type signerMeta struct {
	issuerRaw   []byte
	serial      *big.Int
	signingTime *time.Time
}

// envelopedDataASN1/recipientInfoASN1 mirror enough of RFC 5652 §6.1 to let
// Decrypt match a RecipientInfo to a local private key; digitorus/pkcs7
// resolves the matching RecipientInfo internally given a certificate, but
// does not expose the list for the store to be consulted up front.
type envelopedDataASN1 struct {
	Version        int
	RecipientInfos []recipientInfoASN1 `asn1:"set"`
}

type recipientInfoASN1 struct {
	Version                int
	IssuerAndSerialNumber  issuerAndSerial
	KeyEncryptionAlgorithm pkix.AlgorithmIdentifier
	EncryptedKey           []byte
}
