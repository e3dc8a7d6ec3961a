// Package config handles loading and validating Fundi configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Fundi.
type Config struct {
	Workspace     string               `json:"workspace,omitempty" yaml:"workspace,omitempty"` // Scratch root for run workspaces. Default: os temp dir. Override: FUNDI_WORKSPACE env var.
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`   // Persistent data directory. Default: ~/.fundi/data. Override: FUNDI_DATA_DIR env var.
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`     // nil = SQLite default (derived from data dir)
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Tester        TesterConfig         `json:"tester" yaml:"tester"`
	Engine        EngineConfig         `json:"engine" yaml:"engine"`
	Report        ReportConfig         `json:"report" yaml:"report"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data dir.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN string `json:"dsn" yaml:"dsn"` // Override: FUNDI_DB_DSN env var.
}

// SandboxConfig configures isolation backend selection and resource limits.
type SandboxConfig struct {
	Backend             string  `json:"backend" yaml:"backend"`         // "auto" (default), "docker", or "process".
	Image               string  `json:"image" yaml:"image"`             // Default container image when a language names none.
	MaxExecutionSeconds int     `json:"max_execution_seconds" yaml:"max_execution_seconds"` // Default: 30.
	MaxCPUSeconds       int     `json:"max_cpu_seconds" yaml:"max_cpu_seconds"`             // Default: 10.
	MaxMemoryMB         int     `json:"max_memory_mb" yaml:"max_memory_mb"`                 // Default: 500.
	MaxOpenFiles        int     `json:"max_open_files" yaml:"max_open_files"`               // Default: 64.
	MaxOutputBytes      int     `json:"max_output_bytes" yaml:"max_output_bytes"`           // Default: 1 MiB.
	CPUCores            float64 `json:"cpu_cores" yaml:"cpu_cores"`                         // Docker --cpus. Default: 1.0.
	PIDsLimit           int     `json:"pids_limit" yaml:"pids_limit"`                       // Docker --pids-limit. Default: 128.
	NetworkEnabled      bool    `json:"network_enabled" yaml:"network_enabled"`             // Default: false.
}

// ExecutionTimeout returns the wall-clock budget per execution step with a
// default of 30s.
func (s SandboxConfig) ExecutionTimeout() time.Duration {
	if s.MaxExecutionSeconds > 0 {
		return time.Duration(s.MaxExecutionSeconds) * time.Second
	}
	return 30 * time.Second
}

// TesterConfig configures discipline thresholds.
type TesterConfig struct {
	MaxDurationMS  float64 `json:"max_duration_ms" yaml:"max_duration_ms"`   // Performance ceiling. 0 = unchecked.
	MaxMemoryKB    int64   `json:"max_memory_kb" yaml:"max_memory_kb"`       // Peak memory ceiling. 0 = unchecked.
	CoverageMinPct float64 `json:"coverage_min_pct" yaml:"coverage_min_pct"` // Default: 70.
	SeverityFloor  string  `json:"severity_floor" yaml:"severity_floor"`     // "low", "medium" (default), or "high".
}

// EngineConfig configures the run loop.
type EngineConfig struct {
	MaxConcurrentSubtasks int  `json:"max_concurrent_subtasks" yaml:"max_concurrent_subtasks"` // Default: 4.
	MaxRetries            *int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`     // Revisions per subtask. nil = default 2; 0 = single attempt.
}

// Concurrency returns the worker count with a default of 4.
func (e EngineConfig) Concurrency() int {
	if e.MaxConcurrentSubtasks > 0 {
		return e.MaxConcurrentSubtasks
	}
	return 4
}

// Retries returns the configured revision bound, or -1 when the field is
// absent so callers can apply their own default. An explicit 0 means a
// single attempt with no revisions.
func (e EngineConfig) Retries() int {
	if e.MaxRetries == nil {
		return -1
	}
	return *e.MaxRetries
}

// ReportConfig configures report output.
type ReportConfig struct {
	OutputPath string `json:"output_path,omitempty" yaml:"output_path,omitempty"` // JSON report file. Empty = stdout summary only.
}

// ObservabilityConfig configures metrics and tracing.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"` // Listen address for the metrics endpoint. Default: ":9464".
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "fundi"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// DefaultConfigPath returns the conventional config location.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/fundi.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".fundi", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns a validated zero-file configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if envWS := os.Getenv("FUNDI_WORKSPACE"); envWS != "" {
		c.Workspace = envWS
	}
	if envDD := os.Getenv("FUNDI_DATA_DIR"); envDD != "" {
		c.DataDir = envDD
	}
	if envDSN := os.Getenv("FUNDI_DB_DSN"); envDSN != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = envDSN
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".fundi", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the default SQLite database path under the data directory.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "fundi.db")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

func (c *Config) validate() error {
	switch c.Sandbox.Backend {
	case "", "auto", "docker", "process":
		// valid
	default:
		return fmt.Errorf("sandbox.backend %q is not supported (use auto, docker, or process)", c.Sandbox.Backend)
	}
	if c.Sandbox.MaxMemoryMB < 0 {
		return fmt.Errorf("sandbox.max_memory_mb must not be negative")
	}
	if c.Sandbox.MaxExecutionSeconds < 0 {
		return fmt.Errorf("sandbox.max_execution_seconds must not be negative")
	}
	if c.Tester.CoverageMinPct < 0 || c.Tester.CoverageMinPct > 100 {
		return fmt.Errorf("tester.coverage_min_pct must be between 0 and 100")
	}
	switch strings.ToLower(c.Tester.SeverityFloor) {
	case "", "low", "medium", "high":
		// valid
	default:
		return fmt.Errorf("tester.severity_floor %q is not supported (use low, medium, or high)", c.Tester.SeverityFloor)
	}
	if c.Engine.MaxConcurrentSubtasks < 0 {
		return fmt.Errorf("engine.max_concurrent_subtasks must not be negative")
	}
	if c.Engine.MaxRetries != nil && *c.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries must not be negative")
	}
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "postgres":
			// valid
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.StorageDriverName() == "postgres" {
		if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (set FUNDI_DB_DSN env var)")
		}
	}
	return nil
}
