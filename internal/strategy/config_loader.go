package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents a strategy configuration entry in YAML.
type Config struct {
	ID         string         `yaml:"id"`
	Name       string         `yaml:"name"`
	Type       string         `yaml:"type"`
	Symbols    []string       `yaml:"symbols"`
	Timeframe  string         `yaml:"timeframe"`
	Parameters map[string]any `yaml:"parameters"`
	// Active marks strategies that should be started after seeding.
	Active bool `yaml:"active"`
}

// ConfigFile represents the top-level YAML structure.
type ConfigFile struct {
	Strategies []Config `yaml:"strategies"`
}

// LoadConfig reads strategies from a YAML file.
func LoadConfig(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates a YAML strategy document.
func ParseConfig(data []byte) ([]Config, error) {
	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode strategies yaml: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Strategies))
	for i, cfg := range file.Strategies {
		def, err := cfg.Definition()
		if err != nil {
			return nil, fmt.Errorf("strategies[%d]: %w", i, err)
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("strategies[%d]: %w", i, err)
		}
		if _, dup := seen[def.ID]; dup {
			return nil, fmt.Errorf("strategies[%d]: duplicate id %s", i, def.ID)
		}
		seen[def.ID] = struct{}{}
	}
	return file.Strategies, nil
}

// Definition converts a YAML entry into a strategy definition.
func (c Config) Definition() (Definition, error) {
	t, err := ParseType(c.Type)
	if err != nil {
		return Definition{}, err
	}
	name := c.Name
	if name == "" {
		name = c.ID
	}
	return Definition{
		ID:        c.ID,
		Name:      name,
		Type:      t,
		Symbols:   c.Symbols,
		Timeframe: c.Timeframe,
		Params:    Params(c.Parameters),
	}, nil
}
