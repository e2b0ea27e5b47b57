package smime_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/foxcpp/gosmime/smime"
)

func TestSupportsRecognisesKnownProtocols(t *testing.T) {
	require.True(t, smime.Supports("application/pkcs7-signature"))
	require.True(t, smime.Supports("application/PKCS7-Signature"))
	require.True(t, smime.Supports("application/x-pkcs7-signature"))
	require.True(t, smime.Supports("application/pkcs7-mime"))
	require.True(t, smime.Supports("application/pkcs7-keys"))
}

func TestSupportsRejectsUnknownProtocols(t *testing.T) {
	require.False(t, smime.Supports("application/pkcs10"))
	require.False(t, smime.Supports("text/plain"))
	require.False(t, smime.Supports(""))
}
