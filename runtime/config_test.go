package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-interp/errors"
)

func TestDecodeConfig(t *testing.T) {
	cfg, err := DecodeConfig(nil)
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)

	cfg, err = DecodeConfig(map[string]any{
		"max_call_depth":   float64(128),
		"max_memory_pages": 16,
		"max_table_size":   "1024",
		"trace":            true,
	})
	require.NoError(t, err)
	require.Equal(t, Config{MaxCallDepth: 128, MaxMemoryPages: 16, MaxTableSize: 1024, Trace: true}, cfg)
}

func TestDecodeConfigErrors(t *testing.T) {
	tests := map[string]map[string]any{
		"unknown key":      {"fuel": 10},
		"zero call depth":  {"max_call_depth": 0},
		"too many pages":   {"max_memory_pages": 70000},
		"zero table size":  {"max_table_size": 0},
		"malformed number": {"max_call_depth": "lots"},
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeConfig(input)
			var werr *errors.Error
			require.ErrorAs(t, err, &werr)
			require.Equal(t, errors.PhaseConfig, werr.Phase)
		})
	}
}
