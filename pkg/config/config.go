// Package config provides configuration management for the PagePulse
// collector. Supports TOML configuration files with environment
// variable overrides.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pagepulse/collector/pkg/vitals"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all collector configuration
type Config struct {
	// Server configuration
	Server ServerConfig `toml:"server"`

	// Storage configuration
	Storage StorageConfig `toml:"storage"`

	// Vitals configuration
	Vitals VitalsConfig `toml:"vitals"`

	// Logging configuration
	Logging LoggingConfig `toml:"logging"`

	// DevMode enables process-wide panic capture and verbose console
	// output. Production deployments leave this off.
	DevMode bool `toml:"dev_mode" env:"PAGEPULSE_DEV_MODE"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	// Addr is the listen address for the ingestion API
	Addr string `toml:"addr" env:"PAGEPULSE_ADDR"`

	// RateLimitPerSec caps beacons accepted per second per remote
	RateLimitPerSec float64 `toml:"rate_limit_per_sec" env:"PAGEPULSE_RATE_LIMIT"`

	// RateBurst is the token-bucket burst size
	RateBurst int `toml:"rate_burst" env:"PAGEPULSE_RATE_BURST"`
}

// StorageConfig selects and configures the report repository backend
type StorageConfig struct {
	// Backend is "file" (JSON blob) or "sqlite" (indexed store)
	Backend string `toml:"backend" env:"PAGEPULSE_STORAGE_BACKEND"`

	// Path is the state file or database path
	Path string `toml:"path" env:"PAGEPULSE_STORAGE_PATH"`

	// Capacity is the max retained reports (0 = default 50)
	Capacity int `toml:"capacity" env:"PAGEPULSE_STORAGE_CAPACITY"`

	// RetentionDays prunes older reports on the cleanup schedule
	// (sqlite backend only; 0 disables age-based pruning)
	RetentionDays int `toml:"retention_days" env:"PAGEPULSE_RETENTION_DAYS"`

	// CleanupSchedule is a cron expression for the retention job
	CleanupSchedule string `toml:"cleanup_schedule" env:"PAGEPULSE_CLEANUP_SCHEDULE"`
}

// VitalsConfig holds performance monitoring configuration
type VitalsConfig struct {
	// Budgets are the static metric thresholds
	Budgets vitals.Budgets `toml:"budgets"`

	// BudgetCheckDelaySec is how long after monitor start the one-shot
	// budget evaluation runs
	BudgetCheckDelaySec int `toml:"budget_check_delay_sec" env:"PAGEPULSE_BUDGET_CHECK_DELAY"`
}

// BudgetCheckDelay returns the evaluation delay as a duration.
func (v VitalsConfig) BudgetCheckDelay() time.Duration {
	return time.Duration(v.BudgetCheckDelaySec) * time.Second
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level" env:"PAGEPULSE_LOG_LEVEL"`
	Format string `toml:"format" env:"PAGEPULSE_LOG_FORMAT"`
	Output string `toml:"output" env:"PAGEPULSE_LOG_OUTPUT"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            "127.0.0.1:8710",
			RateLimitPerSec: 25,
			RateBurst:       50,
		},
		Storage: StorageConfig{
			Backend:         "file",
			Path:            "/var/lib/pagepulse/reports.json",
			Capacity:        50,
			RetentionDays:   30,
			CleanupSchedule: "0 3 * * *",
		},
		Vitals: VitalsConfig{
			Budgets:             vitals.DefaultBudgets(),
			BudgetCheckDelaySec: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr is required", ErrInvalidConfig)
	}
	switch c.Storage.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("%w: storage.backend must be \"file\" or \"sqlite\", got %q",
			ErrInvalidConfig, c.Storage.Backend)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("%w: storage.path is required", ErrInvalidConfig)
	}
	if c.Storage.Capacity < 0 {
		return fmt.Errorf("%w: storage.capacity must not be negative", ErrInvalidConfig)
	}
	if c.Server.RateLimitPerSec <= 0 {
		return fmt.Errorf("%w: server.rate_limit_per_sec must be positive", ErrInvalidConfig)
	}
	return nil
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func parseInt(v string) (int, bool) {
	n, err := strconv.Atoi(v)
	return n, err == nil
}

func parseFloat(v string) (float64, bool) {
	f, err := strconv.ParseFloat(v, 64)
	return f, err == nil
}
