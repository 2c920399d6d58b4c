// Package config loads the library configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shouqitao/scada-sub001/comm"
	"github.com/shouqitao/scada-sub001/logging"
)

// CacheSettings bounds the object cache and its freshness checks.
type CacheSettings struct {
	Capacity  int           `yaml:"capacity"`
	Retention time.Duration `yaml:"retention"`
	// Validity is the window during which a cached object is reused
	// without probing the server for its modification time.
	Validity time.Duration `yaml:"validity"`
}

// Config is the complete configuration of the data-access core.
type Config struct {
	Server  comm.Settings  `yaml:"server"`
	Cache   CacheSettings  `yaml:"cache"`
	Logging logging.Config `yaml:"logging"`
}

// Load reads, defaults and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// SetDefaults fills unset fields with working values.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = 100
	}
	if c.Cache.Retention == 0 {
		c.Cache.Retention = time.Hour
	}
	if c.Cache.Validity == 0 {
		c.Cache.Validity = time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.Username == "" {
		return fmt.Errorf("server.username is required")
	}
	if c.Cache.Capacity < 1 {
		return fmt.Errorf("cache.capacity must be positive")
	}
	return nil
}
