// Package digest implements C1: the digest algorithm registry. It maps
// symbolic digest names to OIDs and to RFC 3851 micalg tokens. It is a pure
// function library, stateless, grounded on the teacher's modify/dkim key
// algorithm switches (crypto.Hash <-> name <-> OID dispatch) generalized to
// the larger S/MIME digest set spec.md §3 requires.
package digest

import (
	"crypto"
	"strings"

	"github.com/foxcpp/gosmime/errs"
)

// Algorithm enumerates every digest spec.md §3 names. Four
// (RipeMD160, DoubleSha, Tiger192, Haval5160) are representable but
// UNSUPPORTED for signing.
type Algorithm int

const (
	None Algorithm = iota
	MD5
	MD2
	MD4
	SHA1
	SHA224
	SHA256
	SHA384
	SHA512
	RipeMD160
	Tiger192
	Haval5160
	DoubleSha
)

func (a Algorithm) String() string {
	if s, ok := names[a]; ok {
		return s
	}
	return "unknown"
}

var names = map[Algorithm]string{
	None:      "none",
	MD5:       "md5",
	MD2:       "md2",
	MD4:       "md4",
	SHA1:      "sha1",
	SHA224:    "sha224",
	SHA256:    "sha256",
	SHA384:    "sha384",
	SHA512:    "sha512",
	RipeMD160: "ripemd160",
	Tiger192:  "tiger192",
	Haval5160: "haval-5-160",
	DoubleSha: "double-sha",
}

// unsupportedForSigning is exactly the set digest_oid must reject with
// NotSupportedError (Invariant 7 / Testable Properties §8).
var unsupportedForSigning = map[Algorithm]bool{
	RipeMD160: true,
	Tiger192:  true,
	Haval5160: true,
	DoubleSha: true,
}

// MicalgName emits the canonical RFC 3851 micalg token. Fails OutOfRange
// for the sentinel None; every other Algorithm (including the
// signing-unsupported ones) has a defined token, since micalg naming and
// signing support are independent concerns (SPEC_FULL.md §3).
func MicalgName(a Algorithm) (string, error) {
	if a == None {
		return "", &errs.OutOfRangeError{Msg: "digest.None has no micalg token"}
	}
	s, ok := names[a]
	if !ok {
		return "", &errs.OutOfRangeError{Msg: "unknown digest algorithm"}
	}
	return s, nil
}

// DigestFromMicalg is the case-insensitive reverse of MicalgName. Unknown
// tokens return None, non-fatally (spec.md §4.1).
func DigestFromMicalg(token string) Algorithm {
	token = strings.ToLower(strings.TrimSpace(token))
	for a, s := range names {
		if s == token {
			return a
		}
	}
	return None
}

// oids are the digest algorithm identifiers (not signature-with-digest
// identifiers) used for CMS digestAlgorithm emission.
var oids = map[Algorithm]string{
	MD5:    "1.2.840.113549.2.5",
	MD2:    "1.2.840.113549.2.2",
	MD4:    "1.2.840.113549.2.4",
	SHA1:   "1.3.14.3.2.26",
	SHA224: "2.16.840.1.101.3.4.2.4",
	SHA256: "2.16.840.1.101.3.4.2.1",
	SHA384: "2.16.840.1.101.3.4.2.2",
	SHA512: "2.16.840.1.101.3.4.2.3",
}

// DigestOID returns the OID string to embed in a CMS digestAlgorithm field.
// Fails NotSupported for {RipeMD160, DoubleSha, Tiger192, Haval5160} and
// OutOfRange for None (spec.md §4.1, Testable Property 7).
func DigestOID(a Algorithm) (string, error) {
	if a == None {
		return "", &errs.OutOfRangeError{Msg: "digest.None has no OID"}
	}
	if unsupportedForSigning[a] {
		return "", &errs.NotSupportedError{Msg: a.String() + " is not supported for CMS signing"}
	}
	oid, ok := oids[a]
	if !ok {
		return "", &errs.OutOfRangeError{Msg: "unknown digest algorithm"}
	}
	return oid, nil
}

// CryptoHash maps a signing-supported Algorithm onto the standard library's
// crypto.Hash, for actually computing the digest. Mirrors DigestOID's
// support set by construction: every key here also has an oids entry.
var cryptoHashes = map[Algorithm]crypto.Hash{
	MD5:    crypto.MD5,
	MD4:    crypto.MD4,
	SHA1:   crypto.SHA1,
	SHA224: crypto.SHA224,
	SHA256: crypto.SHA256,
	SHA384: crypto.SHA384,
	SHA512: crypto.SHA512,
}

// CryptoHash returns the standard crypto.Hash for a to let callers actually
// compute the digest; MD2 has no crypto.Hash implementation in the
// standard library and is therefore returned only for OID/micalg purposes,
// never for hashing (NotSupportedError here, distinct from DigestOID's
// rejection set).
func CryptoHash(a Algorithm) (crypto.Hash, error) {
	h, ok := cryptoHashes[a]
	if !ok {
		return 0, &errs.NotSupportedError{Msg: a.String() + " has no crypto.Hash implementation"}
	}
	return h, nil
}
