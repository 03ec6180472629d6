package runtime

import (
	"github.com/go-viper/mapstructure/v2"

	"github.com/wippyai/wasm-interp/errors"
	"github.com/wippyai/wasm-interp/wasm"
)

// Config tunes a Runtime.
type Config struct {
	// MaxCallDepth bounds nested calls. Exceeding it traps with
	// "call stack exhausted".
	MaxCallDepth int `mapstructure:"max_call_depth"`

	// MaxMemoryPages caps every memory, defined or imported, at
	// instantiation and on memory.grow.
	MaxMemoryPages uint32 `mapstructure:"max_memory_pages"`

	// MaxTableSize caps the element count of every table at instantiation
	// and on table.grow.
	MaxTableSize uint32 `mapstructure:"max_table_size"`

	// Trace logs each executed instruction at debug level.
	Trace bool `mapstructure:"trace"`
}

// DefaultMaxTableSize is the table size cap used by DefaultConfig.
const DefaultMaxTableSize = 10_000_000

func DefaultConfig() Config {
	return Config{
		MaxCallDepth:   4096,
		MaxMemoryPages: wasm.MaxPages,
		MaxTableSize:   DefaultMaxTableSize,
	}
}

// Validate validates the configuration
func (c Config) Validate() error {
	if c.MaxCallDepth <= 0 {
		return errors.InvalidInput(errors.PhaseConfig, "max_call_depth must be positive")
	}
	if c.MaxMemoryPages > wasm.MaxPages {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("max_memory_pages").
			Value(c.MaxMemoryPages).
			Detail("must not exceed %d", wasm.MaxPages).
			Build()
	}
	if c.MaxTableSize == 0 {
		return errors.InvalidInput(errors.PhaseConfig, "max_table_size must be positive")
	}
	return nil
}

// DecodeConfig decodes a generic map, e.g. parsed JSON, over DefaultConfig.
// Unknown keys are rejected.
func DecodeConfig(input map[string]any) (Config, error) {
	cfg := DefaultConfig()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "create config decoder")
	}
	if err := dec.Decode(input); err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
