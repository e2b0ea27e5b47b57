package store

import "encoding/asn1"

// SplitDERSequences splits a byte slice containing zero or more
// concatenated DER-encoded records (no framing between them) into the
// individual records, by repeatedly unmarshalling the next ASN.1 value and
// continuing with whatever bytes the unmarshal left unconsumed.
// crypto/x509 only decodes one certificate/CRL at a time and PEM bundles
// are handled separately, so this covers the raw-DER-concatenation case.
// Exported so out-of-package backends (s3store) sharing the same bundle
// framing don't need their own copy.
func SplitDERSequences(data []byte) ([][]byte, error) {
	var out [][]byte
	rest := data
	for len(rest) > 0 {
		var raw asn1.RawValue
		tail, err := asn1.Unmarshal(rest, &raw)
		if err != nil {
			return nil, err
		}
		out = append(out, raw.FullBytes)
		rest = tail
	}
	return out, nil
}
