// ABOUTME: Heap configuration with human-readable byte sizes
// ABOUTME: Loadable from YAML; sizes such as "64MB" are parsed with go-bytesize

package heap

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/inhies/go-bytesize"
	"gopkg.in/yaml.v2"
)

// ErrInvalidConfig is returned for unusable heap configurations
var ErrInvalidConfig = errors.New("invalid heap config")

// Size is a byte count written as "64MB", "512KB" or a plain number.
type Size uint64

// UnmarshalYAML accepts both numbers and bytesize strings.
func (s *Size) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var n uint64
	if err := unmarshal(&n); err == nil {
		*s = Size(n)
		return nil
	}
	var str string
	if err := unmarshal(&str); err != nil {
		return err
	}
	b, err := bytesize.Parse(str)
	if err != nil {
		return fmt.Errorf("size %q: %w", str, err)
	}
	*s = Size(b)
	return nil
}

// MarshalYAML writes the size in bytesize notation.
func (s Size) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

func (s Size) String() string {
	return bytesize.New(float64(s)).String()
}

// Config sizes the heap's spaces.
type Config struct {
	AllocSpaceSize       Size `yaml:"alloc_space_size"`
	LargeObjectSpaceSize Size `yaml:"large_object_space_size"`
	// Objects at least this big go to the large object space.
	LargeObjectThreshold Size `yaml:"large_object_threshold"`
}

// DefaultConfig returns a 64MB alloc space and a 64MB large object space.
func DefaultConfig() Config {
	return Config{
		AllocSpaceSize:       64 << 20,
		LargeObjectSpaceSize: 64 << 20,
		LargeObjectThreshold: Size(3 * os.Getpagesize()),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.AllocSpaceSize == 0 {
		return fmt.Errorf("%w: alloc_space_size must be positive", ErrInvalidConfig)
	}
	if c.LargeObjectSpaceSize == 0 {
		return fmt.Errorf("%w: large_object_space_size must be positive", ErrInvalidConfig)
	}
	if c.LargeObjectThreshold == 0 {
		return fmt.Errorf("%w: large_object_threshold must be positive", ErrInvalidConfig)
	}
	return nil
}

// LoadConfig reads YAML over the defaults.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	data, err := io.ReadAll(r)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode heap config: %w", err)
	}
	return cfg, cfg.Validate()
}
