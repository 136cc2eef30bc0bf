// Package config loads rolloutd configuration from a TOML or YAML file,
// applies defaults and environment overrides, and validates the result.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/signalbeam-io/signalbeam-edge-sub003/internal/observability"
)

const (
	EnvLogLevel        = "ROLLOUTD_LOG_LEVEL"
	EnvDatabasePath    = "ROLLOUTD_DB_PATH"
	EnvDBOSDatabaseURL = "ROLLOUTD_DBOS_DATABASE_URL"
	EnvMetricsAddr     = "ROLLOUTD_METRICS_ADDR"
)

// Engine names the workflow engine that runs reconcile passes.
type Engine string

const (
	EngineSync        Engine = "sync"
	EngineGoWorkflows Engine = "goworkflows"
	EngineDBOS        Engine = "dbos"
)

// Config is the resolved rolloutd configuration.
type Config struct {
	DatabasePath string
	Engine       Engine

	// DBOSDatabaseURL is the Postgres URL used by the dbos engine.
	DBOSDatabaseURL string
	// WorkflowTimeout bounds how long the goworkflows engine waits for a
	// reconcile pass.
	WorkflowTimeout time.Duration

	ReconcileInterval  time.Duration
	Workers            int
	MaxConflictRetries int
	// AssignmentTimeout turns devices that have not reported within this
	// window into failures. Zero disables it.
	AssignmentTimeout time.Duration

	LogLevel    string
	LogFormat   observability.LogFormat
	MetricsAddr string
}

// fileConfig is the on-disk shape. Durations are strings such as "30s".
type fileConfig struct {
	DatabasePath       string `toml:"database_path" yaml:"database_path"`
	Engine             string `toml:"engine" yaml:"engine"`
	DBOSDatabaseURL    string `toml:"dbos_database_url" yaml:"dbos_database_url"`
	WorkflowTimeout    string `toml:"workflow_timeout" yaml:"workflow_timeout"`
	ReconcileInterval  string `toml:"reconcile_interval" yaml:"reconcile_interval"`
	Workers            int    `toml:"workers" yaml:"workers"`
	MaxConflictRetries int    `toml:"max_conflict_retries" yaml:"max_conflict_retries"`
	AssignmentTimeout  string `toml:"assignment_timeout" yaml:"assignment_timeout"`
	LogLevel           string `toml:"log_level" yaml:"log_level"`
	LogFormat          string `toml:"log_format" yaml:"log_format"`
	MetricsAddr        string `toml:"metrics_addr" yaml:"metrics_addr"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DatabasePath:       "rolloutd.db",
		Engine:             EngineSync,
		WorkflowTimeout:    30 * time.Second,
		ReconcileInterval:  30 * time.Second,
		Workers:            4,
		MaxConflictRetries: 3,
		AssignmentTimeout:  30 * time.Minute,
		LogLevel:           "info",
		LogFormat:          observability.LogFormatConsole,
		MetricsAddr:        ":9090",
	}
}

// Load reads path, fills unset fields from [Default], applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := merge(&cfg, raw); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readFile(path string) (fileConfig, error) {
	var raw fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return raw, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &raw)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		return raw, fmt.Errorf("config load failed (%s): unsupported extension %q", path, filepath.Ext(path))
	}
	if err != nil {
		return raw, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return raw, nil
}

func merge(cfg *Config, raw fileConfig) error {
	if v := strings.TrimSpace(raw.DatabasePath); v != "" {
		cfg.DatabasePath = v
	}
	if v := strings.TrimSpace(raw.Engine); v != "" {
		cfg.Engine = Engine(strings.ToLower(v))
	}
	if v := strings.TrimSpace(raw.DBOSDatabaseURL); v != "" {
		cfg.DBOSDatabaseURL = v
	}
	if raw.Workers != 0 {
		cfg.Workers = raw.Workers
	}
	if raw.MaxConflictRetries != 0 {
		cfg.MaxConflictRetries = raw.MaxConflictRetries
	}
	if v := strings.TrimSpace(raw.LogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(raw.LogFormat); v != "" {
		cfg.LogFormat = observability.LogFormat(strings.ToLower(v))
	}
	if v := strings.TrimSpace(raw.MetricsAddr); v != "" {
		cfg.MetricsAddr = v
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"workflow_timeout", raw.WorkflowTimeout, &cfg.WorkflowTimeout},
		{"reconcile_interval", raw.ReconcileInterval, &cfg.ReconcileInterval},
		{"assignment_timeout", raw.AssignmentTimeout, &cfg.AssignmentTimeout},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = parsed
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDatabasePath)); v != "" {
		cfg.DatabasePath = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDBOSDatabaseURL)); v != "" {
		cfg.DBOSDatabaseURL = v
	}
	if v, ok := os.LookupEnv(EnvMetricsAddr); ok {
		cfg.MetricsAddr = strings.TrimSpace(v)
	}
}

// Validate reports the first problem with cfg.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		return fmt.Errorf("config missing database_path")
	}
	switch cfg.Engine {
	case EngineSync, EngineGoWorkflows:
	case EngineDBOS:
		if strings.TrimSpace(cfg.DBOSDatabaseURL) == "" {
			return fmt.Errorf("engine %q requires dbos_database_url", cfg.Engine)
		}
	default:
		return fmt.Errorf("unknown engine %q", cfg.Engine)
	}
	if cfg.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile_interval must be positive, got %v", cfg.ReconcileInterval)
	}
	if cfg.WorkflowTimeout <= 0 {
		return fmt.Errorf("workflow_timeout must be positive, got %v", cfg.WorkflowTimeout)
	}
	if cfg.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", cfg.Workers)
	}
	if cfg.MaxConflictRetries < 0 {
		return fmt.Errorf("max_conflict_retries must not be negative, got %d", cfg.MaxConflictRetries)
	}
	if cfg.AssignmentTimeout < 0 {
		return fmt.Errorf("assignment_timeout must not be negative, got %v", cfg.AssignmentTimeout)
	}
	if _, err := observability.ParseLevel(cfg.LogLevel); err != nil {
		return err
	}
	switch cfg.LogFormat {
	case observability.LogFormatConsole, observability.LogFormatJSON:
	default:
		return fmt.Errorf("unknown log_format %q", cfg.LogFormat)
	}
	return nil
}
