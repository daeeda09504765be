package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ConfigPaths returns the default config file search locations, in
// precedence order.
func ConfigPaths() []string {
	paths := []string{"/etc/pagepulse/collector.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "pagepulse", "collector.toml"))
	}
	paths = append(paths, "collector.toml")
	return paths
}

// Load loads configuration from a file path. An empty path searches the
// default locations; a missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		for _, p := range ConfigPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PAGEPULSE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("PAGEPULSE_RATE_LIMIT"); v != "" {
		if f, ok := parseFloat(v); ok {
			cfg.Server.RateLimitPerSec = f
		}
	}
	if v := os.Getenv("PAGEPULSE_RATE_BURST"); v != "" {
		if n, ok := parseInt(v); ok {
			cfg.Server.RateBurst = n
		}
	}
	if v := os.Getenv("PAGEPULSE_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("PAGEPULSE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("PAGEPULSE_STORAGE_CAPACITY"); v != "" {
		if n, ok := parseInt(v); ok {
			cfg.Storage.Capacity = n
		}
	}
	if v := os.Getenv("PAGEPULSE_RETENTION_DAYS"); v != "" {
		if n, ok := parseInt(v); ok {
			cfg.Storage.RetentionDays = n
		}
	}
	if v := os.Getenv("PAGEPULSE_CLEANUP_SCHEDULE"); v != "" {
		cfg.Storage.CleanupSchedule = v
	}
	if v := os.Getenv("PAGEPULSE_BUDGET_CHECK_DELAY"); v != "" {
		if n, ok := parseInt(v); ok {
			cfg.Vitals.BudgetCheckDelaySec = n
		}
	}
	if v := os.Getenv("PAGEPULSE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PAGEPULSE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("PAGEPULSE_LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}
	if v := os.Getenv("PAGEPULSE_DEV_MODE"); v != "" {
		cfg.DevMode = parseBool(v)
	}
}
