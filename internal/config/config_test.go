package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesOverridesOverDefaults(t *testing.T) {
	raw := `
[server]
name = "Thornvale Test"

[world]
tick_interval = "250ms"
zones = ["meadow", "crypt"]

[world.layer_intervals]
atmosphere = "5s"
ground = "0s"

[database]
enabled = true
max_open_conns = 7

[logging]
level = "debug"
`
	path := filepath.Join(t.TempDir(), "server.toml")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Name != "Thornvale Test" {
		t.Fatalf("server name = %q, want %q", cfg.Server.Name, "Thornvale Test")
	}
	if cfg.World.TickInterval != 250*time.Millisecond {
		t.Fatalf("tick interval = %v, want 250ms", cfg.World.TickInterval)
	}
	if len(cfg.World.Zones) != 2 || cfg.World.Zones[0] != "meadow" {
		t.Fatalf("zones = %v", cfg.World.Zones)
	}
	if d := cfg.World.LayerIntervals["atmosphere"]; d != 5*time.Second {
		t.Fatalf("atmosphere interval = %v, want 5s", d)
	}
	if d, ok := cfg.World.LayerIntervals["ground"]; !ok || d != 0 {
		t.Fatalf("ground interval = %v (present %v), want explicit 0", d, ok)
	}
	if !cfg.Database.Enabled || cfg.Database.MaxOpenConns != 7 {
		t.Fatalf("database overrides not applied: %+v", cfg.Database)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("log level = %q, want debug", cfg.Logging.Level)
	}

	// Everything the file does not mention keeps its default.
	if cfg.Database.ConnMaxLifetime != 30*time.Minute {
		t.Fatalf("conn_max_lifetime default = %v", cfg.Database.ConnMaxLifetime)
	}
	if cfg.World.AutosaveInterval != 5*time.Minute {
		t.Fatalf("autosave default = %v", cfg.World.AutosaveInterval)
	}
	if !cfg.Gateway.Enabled || cfg.Gateway.BindAddress != "0.0.0.0:8322" {
		t.Fatalf("gateway defaults not kept: %+v", cfg.Gateway)
	}
	if cfg.Server.StartTime == 0 {
		t.Fatal("start time not stamped")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
