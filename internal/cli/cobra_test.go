package cli

import (
	"testing"
)

func TestBuildRootRegistersSubcommands(t *testing.T) {
	root := BuildRoot()

	want := []string{"serve", "enqueue", "status", "work"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil {
			t.Fatalf("Find(%q): %v", name, err)
		}
		if cmd.Name() != name {
			t.Fatalf("Find(%q) returned %q", name, cmd.Name())
		}
	}
}

func TestLoadConfigWithoutPathReturnsDefaults(t *testing.T) {
	configPath = ""
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.Addr == "" {
		t.Fatal("expected a default server address")
	}
}
