package config

import "time"

// DefaultConfig returns a Config populated with the spec's documented
// defaults (SPEC_FULL.md §6). A YAML file and then environment variables are
// layered on top of this in Loader.Load.
func DefaultConfig() *Config {
	cfg := &Config{
		Worker: WorkerConfig{Count: 2},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "geoauditd",
			SampleRate:  0.1,
		},
		Metrics: MetricsConfig{
			Namespace: "geoaudit",
		},
		Pipeline: PipelineConfig{
			OrchestratorConcurrency: 16,
			AnalyzerConcurrency:     10,
			DefaultQueryCount:       48,
			HeartbeatInterval:       30 * time.Second,
			StuckAuditTimeout:       300 * time.Second,
			DomainFetchTimeout:      5 * time.Second,
			OrchestratorProgressΔ:   8,
			AnalyzerProgressΔ:       5,
		},
		Providers: ProvidersConfig{Entries: defaultProviderConfigs()},
	}
	return cfg
}

func defaultProviderConfigs() map[string]ProviderConfig {
	m := make(map[string]ProviderConfig, len(KnownProviders))
	for _, id := range KnownProviders {
		m[id] = ProviderConfig{RPM: 60, TPM: 90000}
	}
	return m
}
