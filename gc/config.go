// ABOUTME: Collector configuration: debug checks, instrumentation and marking workers
// ABOUTME: Loadable from YAML, with defaults for everything left out

package gc

import (
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"gopkg.in/yaml.v2"
)

// Config controls the scanner and the marking driver.
type Config struct {
	// Debug checks that every scanned object is marked and that the
	// caller holds the heap guards.
	Debug bool `yaml:"debug"`

	// CountScannedTypes enables the class/array/other scan counters.
	CountScannedTypes bool `yaml:"count_scanned_types"`

	// Workers is the number of marking goroutines.
	Workers int `yaml:"workers"`

	// MarkStackChunk is how many objects a worker takes or hands off at once.
	MarkStackChunk int `yaml:"mark_stack_chunk"`

	// ClearSoftReferences clears soft references like weak ones instead
	// of preserving their referents.
	ClearSoftReferences bool `yaml:"clear_soft_references"`

	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns a non-debug configuration with one worker per CPU.
func DefaultConfig() Config {
	return Config{
		Workers:        runtime.GOMAXPROCS(0),
		MarkStackChunk: 128,
	}
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c Config) normalize() Config {
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.MarkStackChunk < 1 {
		c.MarkStackChunk = DefaultConfig().MarkStackChunk
	}
	return c
}

// LoadConfig reads YAML over the defaults.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	data, err := io.ReadAll(r)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode gc config: %w", err)
	}
	if cfg.Workers < 0 {
		return cfg, fmt.Errorf("workers must not be negative, got %d", cfg.Workers)
	}
	return cfg.normalize(), nil
}
