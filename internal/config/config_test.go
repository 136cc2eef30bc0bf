package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/observability"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, EngineSync, cfg.Engine)
	assert.Equal(t, 30*time.Minute, cfg.AssignmentTimeout)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "rolloutd.toml", `
database_path = "/var/lib/rolloutd/state.db"
engine = "goworkflows"
reconcile_interval = "15s"
workers = 8
assignment_timeout = "0s"
log_format = "json"
log_level = "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/rolloutd/state.db", cfg.DatabasePath)
	assert.Equal(t, EngineGoWorkflows, cfg.Engine)
	assert.Equal(t, 15*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, 8, cfg.Workers)
	assert.Zero(t, cfg.AssignmentTimeout)
	assert.Equal(t, observability.LogFormatJSON, cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3, cfg.MaxConflictRetries, "unset fields keep defaults")
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "rolloutd.yaml", `
engine: dbos
dbos_database_url: postgres://rolloutd@localhost:5432/rolloutd
max_conflict_retries: 5
workflow_timeout: 1m
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, EngineDBOS, cfg.Engine)
	assert.Equal(t, "postgres://rolloutd@localhost:5432/rolloutd", cfg.DBOSDatabaseURL)
	assert.Equal(t, 5, cfg.MaxConflictRetries)
	assert.Equal(t, time.Minute, cfg.WorkflowTimeout)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "rolloutd.toml", `
database_path = "from-file.db"
log_level = "info"
`)
	t.Setenv(EnvDatabasePath, "from-env.db")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvMetricsAddr, "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.DatabasePath)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Empty(t, cfg.MetricsAddr, "an empty metrics address disables the endpoint")
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
		want string
	}{
		{"unknown extension", "rolloutd.ini", "engine = sync", "unsupported extension"},
		{"malformed toml", "rolloutd.toml", "engine = ", "config parse failed"},
		{"bad duration", "rolloutd.toml", `reconcile_interval = "soon"`, "reconcile_interval"},
		{"unknown engine", "rolloutd.yaml", "engine: temporal", "unknown engine"},
		{"dbos without url", "rolloutd.yaml", "engine: dbos", "requires dbos_database_url"},
		{"negative workers", "rolloutd.yaml", "workers: -1", "workers must be at least 1"},
		{"bad log level", "rolloutd.yaml", "log_level: loud", "parse log level"},
		{"bad log format", "rolloutd.yaml", "log_format: xml", "unknown log_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
