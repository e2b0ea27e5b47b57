// Package mailbox implements spec.md §3's Mailbox Address type: a typed
// envelope of a display name plus an RFC 5322 address-spec, matched
// case-insensitively to certificate SANs. Domain-part normalization is
// grounded on the teacher's framework/address package (ForLookup/Equal),
// generalized from SMTP delivery addresses to S/MIME certificate lookups.
package mailbox

import (
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"
	"golang.org/x/text/unicode/norm"
)

// Mailbox is a display name plus an address-spec. Only AddrSpec is
// cryptographically meaningful.
type Mailbox struct {
	DisplayName string
	AddrSpec    string
}

// Parse extracts a single Mailbox from an RFC 5322 address string such as
// `"Alice Example" <alice@example.com>`.
func Parse(s string) (Mailbox, error) {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return Mailbox{}, fmt.Errorf("mailbox: %w", err)
	}
	return Mailbox{DisplayName: addr.Name, AddrSpec: addr.Address}, nil
}

func (m Mailbox) String() string {
	if m.DisplayName == "" {
		return m.AddrSpec
	}
	return fmt.Sprintf("%q <%s>", m.DisplayName, m.AddrSpec)
}

// ForLookup folds an address-spec into a canonical form suitable for map
// keys and certificate matching: the local-part is PRECIS case-mapped, the
// domain is converted to its IDNA U-label form and NFC-normalized, both
// lower-cased. Malformed input is returned lower-cased with the error, the
// same degraded-but-usable contract as the teacher's address.ForLookup.
func ForLookup(addrSpec string) (string, error) {
	local, domain, err := split(addrSpec)
	if err != nil {
		return strings.ToLower(addrSpec), err
	}

	if domain != "" {
		uDomain, err := idna.ToUnicode(domain)
		if err != nil {
			return strings.ToLower(addrSpec), err
		}
		domain = strings.ToLower(norm.NFC.String(uDomain))
	}

	folded, err := precis.UsernameCaseMapped.CompareKey(local)
	if err != nil {
		// Not every local-part is PRECIS-valid (S/MIME certificates are
		// issued to all sorts of legacy mailboxes); fall back to plain
		// case-folding rather than rejecting the match outright.
		folded = strings.ToLower(norm.NFC.String(local))
	}

	if domain == "" {
		return folded, nil
	}
	return folded + "@" + domain, nil
}

// EqualAddrSpec reports whether two address-specs name the same mailbox
// under case-insensitive, Unicode-aware comparison (spec.md §3).
func EqualAddrSpec(a, b string) bool {
	if strings.EqualFold(a, b) {
		return true
	}
	fa, errA := ForLookup(a)
	fb, errB := ForLookup(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(a, b)
	}
	return fa == fb
}

func split(addrSpec string) (local, domain string, err error) {
	at := strings.LastIndexByte(addrSpec, '@')
	if at < 0 {
		return "", "", fmt.Errorf("mailbox: %q has no @", addrSpec)
	}
	return addrSpec[:at], addrSpec[at+1:], nil
}
