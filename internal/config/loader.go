package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Loader handles loading and parsing the settings document.
type Loader struct {
	configPath string
}

// NewLoader creates a configuration loader for the given path.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load reads the YAML settings file, applies defaults and validates the
// result. A missing file yields defaults only.
func (l *Loader) Load() (*Settings, error) {
	settings := &Settings{}

	if l.configPath != "" {
		if err := l.loadFromFile(settings); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	settings.SetDefaults()

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return settings, nil
}

func (l *Loader) loadFromFile(settings *Settings) error {
	if _, err := os.Stat(l.configPath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", l.configPath, err)
	}

	if err := yaml.Unmarshal(data, settings); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// Save writes the settings document back to disk.
func (l *Loader) Save(settings *Settings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("cannot save invalid configuration: %w", err)
	}

	dir := filepath.Dir(l.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(l.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
