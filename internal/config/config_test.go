package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.validate())
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "liftgate.db", cfg.Store.Path)
	assert.Equal(t, 30_000, cfg.Scheduler.LockTimeoutMS)
}

func TestParse_PartialFileKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
scheduler:
  lock_timeout_ms: 5000
logging:
  level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Scheduler.LockTimeoutMS)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Everything unnamed stays at the shipped default.
	assert.Equal(t, 50, cfg.Scheduler.PollIntervalMS)
	assert.Equal(t, 1000, cfg.Scheduler.BaseRetryDelayMS)
	assert.Equal(t, 100, cfg.Transactions.MaxAuditEntries)
	assert.Equal(t, "liftgate.db", cfg.Store.Path)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(`
scheduller:
  lock_timeout_ms: 5000
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduller")
}

func TestParse_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"negative timeout", "scheduler:\n  lock_timeout_ms: -1\n", "lock_timeout_ms"},
		{"negative history", "scheduler:\n  max_history: -5\n", "max_history"},
		{"bad level", "logging:\n  level: loud\n", "logging.level"},
		{"bad format", "logging:\n  format: xml\n", "logging.format"},
		{"bad version", "version: -3\n", "version"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_MissingFileYieldsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "liftgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: 1
store:
  path: ":memory:"
transactions:
  max_audit_entries: 7
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":memory:", cfg.Store.Path)
	assert.Equal(t, 7, cfg.Transactions.MaxAuditEntries)
}

func TestLoad_ReportsParseErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "liftgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}

func TestSchedulerConfig_Conversion(t *testing.T) {
	cfg := Default()
	cfg.Scheduler = SchedulerConfig{
		LockTimeoutMS:    30_000,
		PollIntervalMS:   50,
		BaseRetryDelayMS: 1_000,
		MaxHistory:       25,
	}

	sc := cfg.SchedulerConfig()
	assert.Equal(t, 30*time.Second, sc.LockTimeout)
	assert.Equal(t, 50*time.Millisecond, sc.PollInterval)
	assert.Equal(t, time.Second, sc.BaseRetryDelay)
	assert.Equal(t, 25, sc.MaxHistory)
}

func TestLogLevel_Mapping(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for name, want := range cases {
		cfg := Default()
		cfg.Logging.Level = name
		assert.Equal(t, want, cfg.LogLevel(), name)
	}
}
