package digest

import (
	"testing"

	"github.com/foxcpp/gosmime/errs"
	"github.com/stretchr/testify/require"
)

func TestMicalgRoundTrip(t *testing.T) {
	for a := range names {
		if a == None {
			continue
		}
		token, err := MicalgName(a)
		require.NoError(t, err)
		require.Equal(t, a, DigestFromMicalg(token))
	}
}

func TestMicalgNameRejectsNone(t *testing.T) {
	_, err := MicalgName(None)
	require.Error(t, err)
	require.IsType(t, &errs.OutOfRangeError{}, err)
}

func TestDigestFromMicalgUnknownIsNone(t *testing.T) {
	require.Equal(t, None, DigestFromMicalg("not-a-real-digest"))
}

func TestDigestFromMicalgCaseInsensitive(t *testing.T) {
	require.Equal(t, SHA256, DigestFromMicalg("SHA256"))
	require.Equal(t, SHA256, DigestFromMicalg(" sha256 "))
}

func TestDigestOIDUnsupportedSet(t *testing.T) {
	unsupported := []Algorithm{RipeMD160, DoubleSha, Tiger192, Haval5160}
	for _, a := range unsupported {
		_, err := DigestOID(a)
		require.Error(t, err)
		require.IsType(t, &errs.NotSupportedError{}, err)
	}
}

func TestDigestOIDSupported(t *testing.T) {
	supported := []Algorithm{MD5, MD2, MD4, SHA1, SHA224, SHA256, SHA384, SHA512}
	for _, a := range supported {
		oid, err := DigestOID(a)
		require.NoError(t, err)
		require.NotEmpty(t, oid)
	}
}

func TestDigestOIDRejectsNone(t *testing.T) {
	_, err := DigestOID(None)
	require.Error(t, err)
	require.IsType(t, &errs.OutOfRangeError{}, err)
}
