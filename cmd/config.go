package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/evsim/evsim/sim"
	"github.com/evsim/evsim/sim/fixedio"
)

// FileConfig is the top-level layout of a run configuration file.
// All sections must be listed here to satisfy KnownFields(true) strict parsing.
type FileConfig struct {
	Sim sim.Config     `yaml:"sim"`
	IO  fixedio.Config `yaml:"io"`
}

// DefaultFileConfig returns the configuration used when no file is given.
func DefaultFileConfig() FileConfig {
	return FileConfig{Sim: sim.DefaultConfig(), IO: fixedio.DefaultConfig()}
}

// Validate checks both sections.
func (fc FileConfig) Validate() error {
	if err := fc.Sim.Validate(); err != nil {
		return err
	}
	return fc.IO.Validate()
}

// loadFileConfig reads path over the defaults. Unknown keys are errors so
// that a typo never silently falls back to a default. An empty path returns
// the defaults.
func loadFileConfig(path string) (FileConfig, error) {
	cfg := DefaultFileConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := decodeStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeStrict(data []byte, cfg *FileConfig) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyOverrides sets "section.key=value" pairs on cfg. Values are parsed as
// YAML scalars and the result is decoded strictly, so an unknown key or a
// value of the wrong type is an error.
func applyOverrides(cfg *FileConfig, overrides []string) error {
	if len(overrides) == 0 {
		return nil
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	tree := map[string]map[string]any{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	for _, kv := range overrides {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("override %q is not of the form section.key=value", kv)
		}
		section, field, ok := strings.Cut(strings.TrimSpace(key), ".")
		if !ok {
			return fmt.Errorf("override key %q has no section", key)
		}
		fields, found := tree[section]
		if !found {
			return fmt.Errorf("override %q: unknown section %q", kv, section)
		}
		if _, found := fields[field]; !found {
			return fmt.Errorf("override %q: unknown key %q in section %q", kv, field, section)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			return fmt.Errorf("override %q: %w", kv, err)
		}
		fields[field] = value
		logrus.Debugf("config override %s.%s = %v", section, field, value)
	}

	data, err = yaml.Marshal(tree)
	if err != nil {
		return fmt.Errorf("encoding overrides: %w", err)
	}
	updated := DefaultFileConfig()
	if err := decodeStrict(data, &updated); err != nil {
		return fmt.Errorf("applying overrides: %w", err)
	}
	*cfg = updated
	return nil
}
