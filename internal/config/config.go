// Package config loads the liftgate configuration file.
//
// Configuration is optional: every knob has a shipped default, a missing
// file is not an error, and a partial file only overrides what it names.
// Unknown fields are rejected so typos fail loudly instead of silently
// running with defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ryatkins/liftgate/internal/sched"
)

// DefaultFileName is the config file looked up next to the database when
// no explicit --config flag is given.
const DefaultFileName = "liftgate.yaml"

// StoreConfig selects the persisted store backing.
type StoreConfig struct {
	// Path is the SQLite database location. The literal ":memory:" selects
	// the transient in-memory store used by tests and the simulator.
	Path string `yaml:"path"`
}

// SchedulerConfig tunes the operation scheduler. Durations are integer
// milliseconds, matching how the mobile clients spell these knobs.
type SchedulerConfig struct {
	LockTimeoutMS    int `yaml:"lock_timeout_ms"`
	PollIntervalMS   int `yaml:"poll_interval_ms"`
	BaseRetryDelayMS int `yaml:"base_retry_delay_ms"`
	MaxHistory       int `yaml:"max_history"`
}

// TransactionsConfig tunes the transaction manager.
type TransactionsConfig struct {
	MaxAuditEntries int `yaml:"max_audit_entries"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Config models liftgate.yaml.
type Config struct {
	Version      int                `yaml:"version"`
	Store        StoreConfig        `yaml:"store"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Transactions TransactionsConfig `yaml:"transactions"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// Default returns the configuration liftgate ships with.
func Default() Config {
	return Config{
		Version: 1,
		Store:   StoreConfig{Path: "liftgate.db"},
		Scheduler: SchedulerConfig{
			LockTimeoutMS:    30_000,
			PollIntervalMS:   50,
			BaseRetryDelayMS: 1_000,
			MaxHistory:       50,
		},
		Transactions: TransactionsConfig{MaxAuditEntries: 100},
		Logging:      LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads and parses the config file at path. A missing file yields
// Default() without error; any other read or parse failure is reported.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML with strict field validation (catches typos like
// "scheduller:"), fills defaults for anything unset, and validates.
func Parse(data []byte) (Config, error) {
	cfg := Config{}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Version == 0 {
		c.Version = d.Version
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = d.Store.Path
	}
	if c.Scheduler.LockTimeoutMS == 0 {
		c.Scheduler.LockTimeoutMS = d.Scheduler.LockTimeoutMS
	}
	if c.Scheduler.PollIntervalMS == 0 {
		c.Scheduler.PollIntervalMS = d.Scheduler.PollIntervalMS
	}
	if c.Scheduler.BaseRetryDelayMS == 0 {
		c.Scheduler.BaseRetryDelayMS = d.Scheduler.BaseRetryDelayMS
	}
	if c.Scheduler.MaxHistory == 0 {
		c.Scheduler.MaxHistory = d.Scheduler.MaxHistory
	}
	if c.Transactions.MaxAuditEntries == 0 {
		c.Transactions.MaxAuditEntries = d.Transactions.MaxAuditEntries
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = d.Logging.Level
	}
	if strings.TrimSpace(c.Logging.Format) == "" {
		c.Logging.Format = d.Logging.Format
	}
}

func (c Config) validate() error {
	if c.Version < 1 {
		return fmt.Errorf("version must be >= 1")
	}
	if c.Scheduler.LockTimeoutMS < 0 {
		return fmt.Errorf("scheduler.lock_timeout_ms must not be negative")
	}
	if c.Scheduler.PollIntervalMS < 0 {
		return fmt.Errorf("scheduler.poll_interval_ms must not be negative")
	}
	if c.Scheduler.BaseRetryDelayMS < 0 {
		return fmt.Errorf("scheduler.base_retry_delay_ms must not be negative")
	}
	if c.Scheduler.MaxHistory < 0 {
		return fmt.Errorf("scheduler.max_history must not be negative")
	}
	if c.Transactions.MaxAuditEntries < 0 {
		return fmt.Errorf("transactions.max_audit_entries must not be negative")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// SchedulerConfig converts the millisecond knobs into the scheduler's
// duration-based config.
func (c Config) SchedulerConfig() sched.Config {
	return sched.Config{
		LockTimeout:    time.Duration(c.Scheduler.LockTimeoutMS) * time.Millisecond,
		PollInterval:   time.Duration(c.Scheduler.PollIntervalMS) * time.Millisecond,
		BaseRetryDelay: time.Duration(c.Scheduler.BaseRetryDelayMS) * time.Millisecond,
		MaxHistory:     c.Scheduler.MaxHistory,
	}
}

// LogLevel maps the configured level to slog.
func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
