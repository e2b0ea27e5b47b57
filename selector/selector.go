// Package selector implements the certificate selector sum type from
// spec.md's Design Notes §9: a closed set of ways to name a certificate,
// rather than a free-form predicate interface, so store backends can index
// by the concrete field instead of scanning with a callback.
package selector

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"strings"

	"github.com/foxcpp/gosmime/mailbox"
)

// Kind tags which field of a Selector is meaningful.
type Kind int

const (
	BySubject Kind = iota
	ByIssuerSerial
	BySKI
	ByEmail
)

// Selector names a certificate by exactly one of its identifying fields.
// Construct with the matching constructor function rather than a literal,
// so Kind and the populated field never disagree.
type Selector struct {
	kind Kind

	subject      pkix.Name
	issuer       pkix.Name
	serialNumber *big.Int
	ski          []byte
	email        string
}

func (s Selector) Kind() Kind { return s.kind }

// EmailAddress returns the address an ByEmail selector matches against,
// for backends (e.g. a directory search) that can only look up by email
// and need the raw value rather than a Matches callback.
func (s Selector) EmailAddress() (string, bool) {
	if s.kind != ByEmail {
		return "", false
	}
	return s.email, true
}

// Subject builds a Selector matching a certificate's Subject DN.
func Subject(dn pkix.Name) Selector {
	return Selector{kind: BySubject, subject: dn}
}

// IssuerSerial builds a Selector matching a certificate's Issuer DN and
// serial number — the CMS IssuerAndSerialNumber RecipientIdentifier shape.
func IssuerSerial(issuer pkix.Name, serial *big.Int) Selector {
	return Selector{kind: ByIssuerSerial, issuer: issuer, serialNumber: serial}
}

// SKI builds a Selector matching a certificate's Subject Key Identifier —
// the CMS SubjectKeyIdentifier RecipientIdentifier shape.
func SKI(ski []byte) Selector {
	return Selector{kind: BySKI, ski: ski}
}

// Email builds a Selector matching a certificate's rfc822Name SAN or
// fallback email attribute, case-insensitively per spec.md §3.
func Email(addr string) Selector {
	return Selector{kind: ByEmail, email: addr}
}

// Matches reports whether cert is named by s.
func (s Selector) Matches(cert *x509.Certificate) bool {
	switch s.kind {
	case BySubject:
		return namesEqual(cert.Subject, s.subject)
	case ByIssuerSerial:
		return namesEqual(cert.Issuer, s.issuer) && cert.SerialNumber != nil &&
			s.serialNumber != nil && cert.SerialNumber.Cmp(s.serialNumber) == 0
	case BySKI:
		return len(s.ski) != 0 && bytes.Equal(cert.SubjectKeyId, s.ski)
	case ByEmail:
		return matchesEmail(cert, s.email)
	default:
		return false
	}
}

func namesEqual(a, b pkix.Name) bool {
	return a.String() == b.String()
}

func matchesEmail(cert *x509.Certificate, addr string) bool {
	for _, san := range cert.EmailAddresses {
		if mailbox.EqualAddrSpec(san, addr) {
			return true
		}
	}
	// Fallback email attribute (legacy PKCS#9 emailAddress in the
	// subject DN), for certificates that predate SAN rfc822Name.
	for _, rdn := range cert.Subject.Names {
		if oidEqual(rdn.Type, oidEmailAddress) {
			if s, ok := rdn.Value.(string); ok && mailbox.EqualAddrSpec(s, addr) {
				return true
			}
		}
	}
	return false
}

var oidEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

func oidEqual(a, b asn1.ObjectIdentifier) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// String is a debugging aid; it is not used for matching.
func (s Selector) String() string {
	switch s.kind {
	case BySubject:
		return "subject=" + s.subject.String()
	case ByIssuerSerial:
		return "issuer=" + s.issuer.String() + ",serial=" + s.serialNumber.String()
	case BySKI:
		return "ski=" + strings.ToUpper(hexEncode(s.ski))
	case ByEmail:
		return "email=" + s.email
	default:
		return "unknown"
	}
}

func hexEncode(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0xf]
	}
	return string(out)
}
