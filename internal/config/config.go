// Package config loads the omnidex server configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the omnidex API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Store     StoreConfig     `yaml:"store"`
	Search    SearchConfig    `yaml:"search"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// StoreConfig holds key-value store settings.
type StoreConfig struct {
	Driver   string   `yaml:"driver"` // badger, redis (default: badger)
	Path     string   `yaml:"path"`   // badger data directory
	Addrs    []string `yaml:"addrs"`  // redis addresses
	Password string   `yaml:"password"`
}

// SearchConfig holds search pipeline limits.
type SearchConfig struct {
	MaxPerPage          int `yaml:"max_per_page"`
	DefaultSearchCutoff int `yaml:"default_search_cutoff_ms"`
	MaxGroupLimit       int `yaml:"max_group_limit"`
}

// AnalyticsConfig holds query analytics settings.
type AnalyticsConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FlushIntervalSec int    `yaml:"flush_interval_sec"`
	MinuteRateLimit  int    `yaml:"minute_rate_limit"`
	LeaderURL        string `yaml:"leader_url"` // empty means this node is the leader
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig holds a single embedding provider's settings.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the running environment from OMNIDEX_ENV (default "local").
func GetEnv() string {
	if env := os.Getenv("OMNIDEX_ENV"); env != "" {
		return env
	}
	return "local"
}

func findConfigPath(env string) string {
	if p := os.Getenv("OMNIDEX_CONFIG"); p != "" {
		return p
	}
	candidates := []string{
		fmt.Sprintf("configs/%s.yaml", env),
		fmt.Sprintf("/etc/omnidex/%s.yaml", env),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return candidates[0]
}

var envVarRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(m []byte) []byte {
		name := strings.TrimSuffix(strings.TrimPrefix(string(m), "${"), "}")
		return []byte(os.Getenv(name))
	})
}

// ApplyDefaults fills in default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8108
	}
	if c.HTTP.ReadTimeoutSec == 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec == 0 {
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec == 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "badger"
	}
	if c.Store.Path == "" {
		c.Store.Path = "data"
	}
	if c.Search.MaxPerPage == 0 {
		c.Search.MaxPerPage = 250
	}
	if c.Search.MaxGroupLimit == 0 {
		c.Search.MaxGroupLimit = 1000
	}
	if c.Analytics.FlushIntervalSec == 0 {
		c.Analytics.FlushIntervalSec = 3600
	}
	if c.Analytics.MinuteRateLimit == 0 {
		c.Analytics.MinuteRateLimit = 5
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "badger":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the badger driver")
		}
	case "redis":
		if len(c.Store.Addrs) == 0 {
			return fmt.Errorf("store.addrs is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Search.MaxPerPage < 1 {
		return fmt.Errorf("search.max_per_page must be positive")
	}
	if c.Analytics.FlushIntervalSec < 60 {
		return fmt.Errorf("analytics.flush_interval_sec must be at least 60")
	}
	return nil
}
