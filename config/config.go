// Package config reads the optional YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/lorentz83/fusion2ha/fusionlib"
	"gopkg.in/yaml.v3"
)

// Defaults for the settings missing from the file.
const (
	// DefaultBaseURL is the FusionSolar region used when base_url is unset.
	DefaultBaseURL = fusionlib.DefaultBaseURL
	// DefaultTimeout is the per-request timeout used when timeout is unset.
	DefaultTimeout = fusionlib.DefaultTimeout
	// DefaultLogLevel is the zap level of the diagnostic logs.
	DefaultLogLevel = "warn"
)

// Config is the content of the configuration file.
type Config struct {
	FusionSolar   FusionSolar   `yaml:"fusionsolar"`
	HomeAssistant HomeAssistant `yaml:"home_assistant"`
	LogLevel      string        `yaml:"log_level"`
}

// FusionSolar configures the OpenAPI account.
type FusionSolar struct {
	BaseURL   string        `yaml:"base_url"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	PlantName string        `yaml:"plant_name"`
	Timeout   time.Duration `yaml:"timeout"`
}

// HomeAssistant configures where KPIs are uploaded.
type HomeAssistant struct {
	Server string `yaml:"server"`
	Token  string `yaml:"token"`
	Sensor string `yaml:"sensor"`
	Secure bool   `yaml:"secure"`
}

// Default returns a configuration with only the defaults set.
func Default() Config {
	var c Config
	ApplyDefaults(&c)
	return c
}

// Load reads and parses a YAML config file.
//
// An empty path returns Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("cannot parse config %s: %w", path, err)
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// ApplyDefaults sets the unset fields.
func ApplyDefaults(c *Config) {
	if c.FusionSolar.BaseURL == "" {
		c.FusionSolar.BaseURL = DefaultBaseURL
	}
	if c.FusionSolar.Timeout <= 0 {
		c.FusionSolar.Timeout = DefaultTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}
