package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadAccessFile reads an access configuration YAML file. Fields absent
// from the file keep the values of the base configuration.
func LoadAccessFile(path string, base AccessConfig) (AccessConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read access config file: %w", err)
	}

	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("failed to parse access config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return base, err
	}

	return cfg, nil
}
