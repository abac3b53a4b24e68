package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	m, ok := Lookup(" gemini-2.5-flash ")
	require.True(t, ok)
	require.Equal(t, ProviderGemini, m.Provider)

	_, ok = Lookup("gpt-2")
	require.False(t, ok)
}

func TestTierModelsAreListed(t *testing.T) {
	for _, id := range []string{TopTier, Fallback, Default} {
		_, ok := Lookup(id)
		require.Truef(t, ok, "catalog misses %s", id)
	}
	require.NotEqual(t, TopTier, Fallback)
	require.True(t, IsTopTier(TopTier))
	require.False(t, IsTopTier(Fallback))
}

func TestAllReturnsCopy(t *testing.T) {
	list := All()
	list[0].Name = "mutated"
	require.NotEqual(t, "mutated", All()[0].Name)
}
