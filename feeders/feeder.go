package feeders

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Feeder populates a configuration structure from one source.
type Feeder interface {
	Feed(structure any) error
}

// ForFile returns the file feeder matching the extension of path.
func ForFile(path string) (Feeder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return NewYamlFeeder(path), nil
	case ".toml":
		return NewTomlFeeder(path), nil
	case ".json":
		return NewJSONFeeder(path), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedExtension, path)
	}
}

// LoadFile reads the suite configuration at path, applies the extra feeders
// in order (typically environment overrides), fills `default` tags and
// validates the result.
func LoadFile(path string, extra ...Feeder) (*SuiteConfig, error) {
	file, err := ForFile(path)
	if err != nil {
		return nil, err
	}
	return Load(append([]Feeder{file}, extra...)...)
}

// Load builds a suite configuration from feeders applied in order.
func Load(feeders ...Feeder) (*SuiteConfig, error) {
	cfg := &SuiteConfig{}
	for _, f := range feeders {
		if err := f.Feed(cfg); err != nil {
			return nil, err
		}
		cfg.normalize()
	}
	cfg.normalize()
	if err := ApplyDefaults(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
