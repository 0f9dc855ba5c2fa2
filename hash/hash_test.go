package hash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSumIsDomainSeparated(t *testing.T) {
	data := []byte("payload")
	require.NotEqual(t, Sum(DomainModule, data), Sum(DomainTransaction, data))
	require.Equal(t, Sum(DomainModule, data), Sum(DomainModule, data))
	require.False(t, Sum(DomainModule, data).IsZero())
}

func TestDeriveSeparatesParts(t *testing.T) {
	a := Derive(DomainJoin, []byte("ab"), []byte("c"))
	b := Derive(DomainJoin, []byte("a"), []byte("bc"))
	require.NotEqual(t, a, b)
}

func TestHexRoundTrip(t *testing.T) {
	h := Sum(DomainPlain, []byte("x"))
	got, err := ParseHex(h.String())
	require.NoError(t, err)
	require.Equal(t, h, got)
	require.Len(t, h.Short(), 8)

	_, err = ParseHex("abcd")
	require.Error(t, err)
	_, err = ParseHex("zz")
	require.Error(t, err)
}

func TestSystemModulesDistinct(t *testing.T) {
	require.NotEqual(t, SystemModule, IntModule)
}
