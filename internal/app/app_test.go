package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jobmarket-tools/harvester/internal/config"
)

func TestNewAdapter_UsesConfigKeyAsName(t *testing.T) {
	t.Parallel()

	// The config map key is the registration name; the adapter must report
	// it so Register, Start and the intervals map all agree.
	adapter, err := newAdapter("justjoin-pl", config.SourceConfig{
		Kind:   "justjoin",
		Params: map[string]string{"salaryCurrencies": "PLN"},
	})
	require.NoError(t, err)
	require.Equal(t, "justjoin-pl", adapter.Name())
}

func TestNewAdapter_UnknownKindFails(t *testing.T) {
	t.Parallel()

	_, err := newAdapter("mystery", config.SourceConfig{Kind: "telepathy"})
	require.Error(t, err)
	require.Contains(t, err.Error(), `"telepathy"`)
}
