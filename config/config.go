// Package config loads the single process-wide configuration value for the
// geoaudit core. Priority: compiled-in defaults -> optional YAML file ->
// environment variable overrides. No other package in this module reads
// os.Getenv directly; everything is threaded through a *Config built once in
// main and passed explicitly into constructors.
package config

import "time"

// Config is the complete configuration for an audit worker process.
type Config struct {
	Worker    WorkerConfig    `yaml:"worker" env:"WORKER"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
	Metrics   MetricsConfig   `yaml:"metrics" env:"METRICS"`
	Pipeline  PipelineConfig  `yaml:"pipeline" env:"PIPELINE"`
	Providers ProvidersConfig `yaml:"providers" env:"PROVIDER"`
}

// WorkerConfig controls cross-audit parallelism.
type WorkerConfig struct {
	Count int `yaml:"count" env:"COUNT"`
}

// DatabaseConfig selects and parameterizes the GORM dialector.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"DRIVER"` // postgres, mysql, sqlite
	DSN             string        `yaml:"dsn" env:"DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// RedisConfig backs the egress progress bus (§6 of SPEC_FULL.md).
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // json, console
}

// TelemetryConfig configures the OpenTelemetry SDK.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// PipelineConfig holds the concurrency and phase-cadence knobs from SPEC_FULL.md §6.
type PipelineConfig struct {
	OrchestratorConcurrency int           `yaml:"orchestrator_concurrency" env:"C_ORCHESTRATOR"`
	AnalyzerConcurrency     int           `yaml:"analyzer_concurrency" env:"C_ANALYZER"`
	DefaultQueryCount       int           `yaml:"default_query_count" env:"DEFAULT_QUERY_COUNT"`
	HeartbeatInterval       time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL_SECONDS"`
	StuckAuditTimeout       time.Duration `yaml:"stuck_audit_timeout" env:"STUCK_AUDIT_SECONDS"`
	DomainFetchTimeout      time.Duration `yaml:"domain_fetch_timeout" env:"DOMAIN_FETCH_TIMEOUT_SECONDS"`
	OrchestratorProgressΔ   int           `yaml:"orchestrator_progress_delta" env:"-"`
	AnalyzerProgressΔ       int           `yaml:"analyzer_progress_delta" env:"-"`
}

// ProvidersConfig holds per-provider credentials and rate limits, keyed by
// provider id (openai, anthropic, google, perplexity).
type ProvidersConfig struct {
	Entries map[string]ProviderConfig `yaml:"-" env:"-"`
}

// ProviderConfig is one provider's credentials and rate-limit budget.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key" env:"API_KEY"`
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	Model   string `yaml:"model" env:"MODEL"`
	RPM     int    `yaml:"rpm" env:"RPM"`
	TPM     int    `yaml:"tpm" env:"TPM"`
}

// KnownProviders is the closed set of provider ids recognized by the core
// (SPEC_FULL.md §6).
var KnownProviders = []string{"openai", "anthropic", "google", "perplexity"}
