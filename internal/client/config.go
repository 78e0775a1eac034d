package client

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// WorkerConfig is the demo worker's local configuration, kept separate
// from the server's YAML config since a worker is typically deployed
// independently of the broker.
type WorkerConfig struct {
	BaseURL      string  `toml:"base_url"`
	Queue        string  `toml:"queue"`
	PollInterval string  `toml:"poll_interval"`
	FailureRate  float64 `toml:"failure_rate"`
	MaxDelay     string  `toml:"max_delay"`
}

// DefaultWorkerConfig matches the teacher demo's simulated-failure worker:
// a 10% failure rate and up to 500ms of processing delay.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BaseURL:      "http://localhost:8080",
		Queue:        "default",
		PollInterval: "200ms",
		FailureRate:  0.1,
		MaxDelay:     "500ms",
	}
}

// LoadWorkerConfig reads a TOML worker config file.
func LoadWorkerConfig(path string) (WorkerConfig, error) {
	cfg := DefaultWorkerConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return WorkerConfig{}, fmt.Errorf("read worker config: %w", err)
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return WorkerConfig{}, fmt.Errorf("parse worker config: %w", err)
	}
	return cfg, nil
}

// pollInterval parses the configured poll interval.
func (c WorkerConfig) pollInterval() (time.Duration, error) {
	return time.ParseDuration(c.PollInterval)
}

// maxDelay parses the configured simulated max delay.
func (c WorkerConfig) maxDelay() (time.Duration, error) {
	return time.ParseDuration(c.MaxDelay)
}

// NewPoller builds a Poller with a SimulatedExecutor from cfg.
func NewPoller(cfg WorkerConfig) (*Poller, error) {
	interval, err := cfg.pollInterval()
	if err != nil {
		return nil, fmt.Errorf("poll_interval: %w", err)
	}
	maxDelay, err := cfg.maxDelay()
	if err != nil {
		return nil, fmt.Errorf("max_delay: %w", err)
	}

	return &Poller{
		BaseURL:      cfg.BaseURL,
		Queue:        cfg.Queue,
		PollInterval: interval,
		Execute:      SimulatedExecutor(cfg.FailureRate, maxDelay),
	}, nil
}
