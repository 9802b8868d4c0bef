package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the worker client configuration
type Config struct {
	Page struct {
		URL string `yaml:"url"` // HIT page URL carrying assignmentId, hitId, workerId, turkSubmitTo
	} `yaml:"page"`

	Database struct {
		Path string `yaml:"path"` // SQLite session-history path (default: ./data/sessions.db)
	} `yaml:"database"`

	Dashboard struct {
		Enabled bool   `yaml:"enabled"` // Whether to enable the dashboard (default: false)
		Address string `yaml:"address"` // Dashboard server address (default: :8090)
	} `yaml:"dashboard"`

	Log struct {
		Level string `yaml:"level"` // zerolog level (default: info)
	} `yaml:"log"`
}

// Load reads the configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	// Validate required fields
	if cfg.Page.URL == "" {
		return nil, fmt.Errorf("page.url is required")
	}
	if cfg.Database.Path == "" {
		return nil, fmt.Errorf("database.path is required")
	}

	return &cfg, nil
}
