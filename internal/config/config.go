// Package config loads relay's server configuration from a YAML file,
// the same struct-of-structs-with-yaml-tags layout the original CLI used.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backing BackingConfig `yaml:"backing"`
	Reaper  ReaperConfig  `yaml:"reaper"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// BackingConfig selects and configures the durable tier.
type BackingConfig struct {
	// Kind is one of "noop", "sqlite", "filelog".
	Kind string `yaml:"kind"`
	DSN  string `yaml:"dsn"`
}

// ReaperConfig controls the periodic timeout scan.
type ReaperConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the configuration used when no file is supplied,
// mirroring the defaults the source CLI's Opts carried (8080 HTTP, 5s
// reap interval, metrics on a separate port).
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            "0.0.0.0:8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			RateLimitPerSec: 100,
			RateLimitBurst:  200,
		},
		Backing: BackingConfig{Kind: "noop"},
		Reaper:  ReaperConfig{Interval: 5 * time.Second},
		Metrics: MetricsConfig{Enabled: true, Addr: "0.0.0.0:5001"},
	}
}

// Load reads and parses a YAML config file, filling unset fields from
// Default.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// EnvOverride applies environment variables over cfg, matching the
// env-fallback fields the original relay CLI exposed (HTTP_PORT,
// METRICS_PORT, REAP_INTERVAL, DATABASE_URL).
func EnvOverride(cfg Config) Config {
	if v := os.Getenv("HTTP_PORT"); v != "" {
		cfg.Server.Addr = "0.0.0.0:" + v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		cfg.Metrics.Addr = "0.0.0.0:" + v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Backing.DSN = v
	}
	if v := os.Getenv("REAP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			cfg.Reaper.Interval = d
		}
	}
	return cfg
}
