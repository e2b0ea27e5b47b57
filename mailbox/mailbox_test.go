package mailbox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	m, err := Parse(`"Alice Example" <alice@example.com>`)
	require.NoError(t, err)
	require.Equal(t, "Alice Example", m.DisplayName)
	require.Equal(t, "alice@example.com", m.AddrSpec)
}

func TestEqualAddrSpecCaseInsensitive(t *testing.T) {
	require.True(t, EqualAddrSpec("Alice@Example.com", "alice@example.com"))
	require.False(t, EqualAddrSpec("alice@example.com", "bob@example.com"))
}

func TestForLookupUnicodeDomain(t *testing.T) {
	ascii, err := ForLookup("alice@xn--caf-dma.example")
	require.NoError(t, err)
	require.Contains(t, ascii, "alice@")
}
