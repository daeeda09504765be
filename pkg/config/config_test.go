package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Addr != "127.0.0.1:8710" {
		t.Errorf("Addr = %q, want 127.0.0.1:8710", cfg.Server.Addr)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("Backend = %q, want file", cfg.Storage.Backend)
	}
	if cfg.Storage.Capacity != 50 {
		t.Errorf("Capacity = %d, want 50", cfg.Storage.Capacity)
	}
	if cfg.Vitals.Budgets.LCPMs != 2500 {
		t.Errorf("LCP budget = %v, want 2500", cfg.Vitals.Budgets.LCPMs)
	}
	if got := cfg.Vitals.BudgetCheckDelay(); got != 3*time.Second {
		t.Errorf("BudgetCheckDelay() = %v, want 3s", got)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate, got %v", err)
	}
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil {
		t.Fatal("explicit missing path should error")
	}
	_ = cfg
}

func TestLoad_TOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collector.toml")
	content := `
dev_mode = true

[server]
addr = "0.0.0.0:9000"
rate_limit_per_sec = 10.0

[storage]
backend = "sqlite"
path = "/tmp/reports.db"
capacity = 200
retention_days = 7

[vitals]
budget_check_delay_sec = 5

[vitals.budgets]
lcp_ms = 2000.0
cls = 0.25

[logging]
level = "debug"
format = "json"
`
	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("Addr = %q, want 0.0.0.0:9000", cfg.Server.Addr)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.Capacity != 200 {
		t.Errorf("Storage = %+v, want sqlite/200", cfg.Storage)
	}
	if cfg.Vitals.Budgets.LCPMs != 2000 {
		t.Errorf("LCP budget = %v, want 2000", cfg.Vitals.Budgets.LCPMs)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Vitals.Budgets.FCPMs != 1500 {
		t.Errorf("FCP budget = %v, want default 1500", cfg.Vitals.Budgets.FCPMs)
	}
	if !cfg.DevMode {
		t.Error("DevMode should be set from the file")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PAGEPULSE_ADDR", "127.0.0.1:7777")
	t.Setenv("PAGEPULSE_STORAGE_BACKEND", "sqlite")
	t.Setenv("PAGEPULSE_STORAGE_PATH", "/tmp/env.db")
	t.Setenv("PAGEPULSE_STORAGE_CAPACITY", "75")
	t.Setenv("PAGEPULSE_RATE_LIMIT", "2.5")
	t.Setenv("PAGEPULSE_DEV_MODE", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:7777" {
		t.Errorf("Addr = %q, want env override", cfg.Server.Addr)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.Path != "/tmp/env.db" {
		t.Errorf("Storage = %+v, want env overrides", cfg.Storage)
	}
	if cfg.Storage.Capacity != 75 {
		t.Errorf("Capacity = %d, want 75", cfg.Storage.Capacity)
	}
	if cfg.Server.RateLimitPerSec != 2.5 {
		t.Errorf("RateLimitPerSec = %v, want 2.5", cfg.Server.RateLimitPerSec)
	}
	if !cfg.DevMode {
		t.Error("DevMode should be set from env")
	}
}

func TestLoad_EnvIgnoresUnparseable(t *testing.T) {
	t.Setenv("PAGEPULSE_STORAGE_CAPACITY", "lots")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.Capacity != 50 {
		t.Errorf("Capacity = %d, want default 50 when override is garbage", cfg.Storage.Capacity)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		wantOK bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, false},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "redis" }, false},
		{"empty path", func(c *Config) { c.Storage.Path = "" }, false},
		{"negative capacity", func(c *Config) { c.Storage.Capacity = -1 }, false},
		{"zero rate limit", func(c *Config) { c.Server.RateLimitPerSec = 0 }, false},
		{"sqlite backend", func(c *Config) { c.Storage.Backend = "sqlite" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantOK && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.wantOK {
				if err == nil {
					t.Fatal("Validate() = nil, want error")
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
				}
			}
		})
	}
}
