package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ListenAddr != ":8090" {
		t.Errorf("listen addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Registry.DefaultTimelock != 604800*time.Second {
		t.Errorf("default timelock = %v", cfg.Registry.DefaultTimelock)
	}
	if cfg.Registry.ReconcileSchedule != "@every 5m" {
		t.Errorf("reconcile schedule = %q", cfg.Registry.ReconcileSchedule)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neoguard.yaml")
	payload := `
server:
  listen_addr: ":9000"
registry:
  admin: NAdminAddr
  default_timelock: 48h
auth:
  allowed_relayers:
    - relayer-eu-1
    - relayer-us-1
`
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("listen addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Registry.Admin != "NAdminAddr" {
		t.Errorf("admin = %q", cfg.Registry.Admin)
	}
	if cfg.Registry.DefaultTimelock != 48*time.Hour {
		t.Errorf("timelock = %v", cfg.Registry.DefaultTimelock)
	}
	if len(cfg.Auth.AllowedRelayers) != 2 {
		t.Errorf("allowed relayers = %v", cfg.Auth.AllowedRelayers)
	}
	// Untouched sections keep their defaults.
	if cfg.Auth.RateLimitPerSecond != 20 {
		t.Errorf("rate limit = %d", cfg.Auth.RateLimitPerSecond)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "neoguard.yaml")
	if err := os.WriteFile(path, []byte("server:\n  listen_addr: \":9000\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("NEOGUARD_LISTEN_ADDR", ":9100")
	t.Setenv("NEOGUARD_DEFAULT_TIMELOCK", "72h")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.ListenAddr != ":9100" {
		t.Errorf("listen addr = %q, want env value", cfg.Server.ListenAddr)
	}
	if cfg.Registry.DefaultTimelock != 72*time.Hour {
		t.Errorf("timelock = %v, want env value", cfg.Registry.DefaultTimelock)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if cfg.Server.ListenAddr != ":8090" {
		t.Errorf("listen addr = %q", cfg.Server.ListenAddr)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen addr", func(c *Config) { c.Server.ListenAddr = "" }},
		{"zero rate limit", func(c *Config) { c.Auth.RateLimitPerSecond = 0 }},
		{"zero burst", func(c *Config) { c.Auth.RateLimitBurst = 0 }},
		{"zero timelock", func(c *Config) { c.Registry.DefaultTimelock = 0 }},
		{"archive without dsn", func(c *Config) { c.Events.Archive = true; c.Database.DSN = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
