package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader builds a *Config following defaults -> YAML file -> environment
// variable precedence (SPEC_FULL.md §2.1, §9). It is the only place in this
// module allowed to call os.Getenv.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a configuration loader with the module's default
// environment-variable prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "GEOAUDIT",
		validators: []func(*Config) error{validatePipeline},
	}
}

// WithConfigPath sets an optional YAML config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator registers an additional post-load validation pass.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load assembles a Config: defaults, then an optional YAML file, then
// environment variables, then validation.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("config: load from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: load from env: %w", err)
	}
	l.loadProviderEnv(cfg)

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config: validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv recursively walks struct fields honoring their `env` tag.
// A tag of "-" (or absent) skips the field; Providers.Entries is skipped here
// and handled separately by loadProviderEnv since its keys are dynamic.
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("set %s: %w", envKey, err)
		}
	}

	return nil
}

// loadProviderEnv reads <prefix>_PROVIDER_<ID>_API_KEY / _RPM / _TPM /
// _BASE_URL / _MODEL (GEOAUDIT_PROVIDER_OPENAI_API_KEY with the default
// prefix) per SPEC_FULL.md §6. Unlike the rest of Config these keys are
// parameterized by provider id, so they fall outside the generic struct
// walker above.
func (l *Loader) loadProviderEnv(cfg *Config) {
	if cfg.Providers.Entries == nil {
		cfg.Providers.Entries = map[string]ProviderConfig{}
	}
	for _, id := range KnownProviders {
		entry := cfg.Providers.Entries[id]
		upper := strings.ToUpper(id)
		prefix := l.envPrefix + "_PROVIDER_" + upper + "_"

		if v := os.Getenv(prefix + "API_KEY"); v != "" {
			entry.APIKey = v
		}
		if v := os.Getenv(prefix + "BASE_URL"); v != "" {
			entry.BaseURL = v
		}
		if v := os.Getenv(prefix + "MODEL"); v != "" {
			entry.Model = v
		}
		if v := os.Getenv(prefix + "RPM"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				entry.RPM = n
			}
		}
		if v := os.Getenv(prefix + "TPM"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				entry.TPM = n
			}
		}
		cfg.Providers.Entries[id] = entry
	}
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			if d, err := time.ParseDuration(value); err == nil {
				field.SetInt(int64(d))
				return nil
			}
			// Plain integers in a duration field are seconds (matches
			// HEARTBEAT_INTERVAL_SECONDS-style env names in SPEC_FULL.md §6).
			secs, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(int64(time.Duration(secs) * time.Second))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Float64, reflect.Float32:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

func validatePipeline(cfg *Config) error {
	var errs []string
	if cfg.Pipeline.OrchestratorConcurrency <= 0 {
		errs = append(errs, "pipeline.orchestrator_concurrency must be positive")
	}
	if cfg.Pipeline.AnalyzerConcurrency <= 0 {
		errs = append(errs, "pipeline.analyzer_concurrency must be positive")
	}
	if cfg.Worker.Count <= 0 {
		errs = append(errs, "worker.count must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// MustLoad loads the configuration or panics; used only from main.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return cfg
}
