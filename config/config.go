// Package config loads server configuration from a YAML file, with
// sensible defaults so the server runs with no config file at all.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Invoices InvoicesConfig `yaml:"invoices"`
	Sweep    SweepConfig    `yaml:"sweep"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type InvoicesConfig struct {
	Dir string `yaml:"dir"`
}

type SweepConfig struct {
	Enabled  *bool    `yaml:"enabled"`
	Interval Duration `yaml:"interval"`
}

// Duration supports Go duration strings ("30m", "1h") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Path == "" {
		c.Database.Path = "./engagements.db"
	}
	if c.Invoices.Dir == "" {
		c.Invoices.Dir = "./invoices"
	}
	if c.Sweep.Enabled == nil {
		enabled := true
		c.Sweep.Enabled = &enabled
	}
	if c.Sweep.Interval == 0 {
		c.Sweep.Interval = Duration(1 * time.Hour)
	}
}

// SweepEnabled reports whether the background sweep scheduler should run.
func (c *Config) SweepEnabled() bool {
	return c.Sweep.Enabled == nil || *c.Sweep.Enabled
}
