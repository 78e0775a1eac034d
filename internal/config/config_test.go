package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFillsDefaultsForOmittedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	if err := os.WriteFile(path, []byte("server:\n  addr: \"127.0.0.1:9090\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9090" {
		t.Fatalf("Addr = %q, want 127.0.0.1:9090", cfg.Server.Addr)
	}
	if cfg.Reaper.Interval != 5*time.Second {
		t.Fatalf("Reaper.Interval = %v, want default 5s", cfg.Reaper.Interval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/relay.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("REAP_INTERVAL", "7")

	cfg := EnvOverride(Default())
	if cfg.Server.Addr != "0.0.0.0:9999" {
		t.Fatalf("Addr = %q, want 0.0.0.0:9999", cfg.Server.Addr)
	}
	if cfg.Reaper.Interval != 7*time.Second {
		t.Fatalf("Reaper.Interval = %v, want 7s", cfg.Reaper.Interval)
	}
}
