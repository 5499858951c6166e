package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/governor/internal/storage"
)

// EnvPrefix namespaces environment overrides, e.g. GOVERNOR_HOOKS_ENFORCE.
const EnvPrefix = "GOVERNOR"

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file means defaults; a malformed one is an
// error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyEnv(cfg *Config) error {
	sections := []struct {
		name string
		spec any
	}{
		{"PATHS", &cfg.Paths},
		{"ENFORCEMENT", &cfg.Enforcement},
		{"MONITOR", &cfg.Monitor},
		{"HOOKS", &cfg.Hooks},
		{"COLLECTOR", &cfg.Collector},
		{"AGGREGATOR", &cfg.Aggregator},
		{"PREDICT", &cfg.Predict},
		{"OBSERVER", &cfg.Observer},
	}
	for _, s := range sections {
		if err := envconfig.Process(EnvPrefix+"_"+s.name, s.spec); err != nil {
			return fmt.Errorf("environment overrides for %s: %w", s.name, err)
		}
	}
	return nil
}

// Save writes cfg as YAML, used by `gov init`.
func Save(path string, cfg *Config) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return storage.WriteFileAtomic(path, buf.Bytes(), 0644)
}
