package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "deepresearch.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "DEEPRESEARCH_PORT")

	setString(&cfg.Store.Path, "DEEPRESEARCH_DB_PATH")
	setDuration(&cfg.Store.RetryInitial, "DEEPRESEARCH_STORE_RETRY_INITIAL")
	setDuration(&cfg.Store.RetryCap, "DEEPRESEARCH_STORE_RETRY_CAP")
	setUint64(&cfg.Store.RetryMax, "DEEPRESEARCH_STORE_RETRY_MAX")

	setString(&cfg.Provider.BaseURL, "DEEPRESEARCH_PROVIDER_URL")
	setString(&cfg.Provider.CredentialEnv, "DEEPRESEARCH_PROVIDER_CREDENTIAL_ENV")
	setString(&cfg.Provider.DefaultModel, "DEEPRESEARCH_PROVIDER_MODEL")

	setDuration(&cfg.DeepResearch.SyncBudget, "DEEPRESEARCH_SYNC_BUDGET")
	setDuration(&cfg.DeepResearch.PollInterval, "DEEPRESEARCH_POLL_INTERVAL")
	setDuration(&cfg.DeepResearch.MaxWait, "DEEPRESEARCH_MAX_WAIT")
	setInt(&cfg.DeepResearch.ExecutorCap, "DEEPRESEARCH_EXECUTOR_CAP")
	setInt(&cfg.DeepResearch.ExecutorQueueSize, "DEEPRESEARCH_EXECUTOR_QUEUE_SIZE")
	setString(&cfg.DeepResearch.OutputDir, "DEEPRESEARCH_OUTPUT_DIR")

	setString(&cfg.Notifier.Provider, "DEEPRESEARCH_NOTIFIER")

	setString(&cfg.Logging.Level, "DEEPRESEARCH_LOG_LEVEL")
	setString(&cfg.Logging.Service, "DEEPRESEARCH_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "DEEPRESEARCH_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "DEEPRESEARCH_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "DEEPRESEARCH_BREAKER_TIMEOUT")

	setString(&cfg.Telemetry.Endpoint, "DEEPRESEARCH_OTEL_ENDPOINT")
	setString(&cfg.Telemetry.ServiceName, "DEEPRESEARCH_OTEL_SERVICE_NAME")

	setInt64(&cfg.Cache.MaxSizeBytes, "DEEPRESEARCH_CACHE_MAX_SIZE_BYTES")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path is required")
	}
	if cfg.Provider.BaseURL == "" {
		return errors.New("provider.base_url is required")
	}
	if cfg.DeepResearch.ExecutorCap < 1 {
		return errors.New("deep_research.executor_cap must be >= 1")
	}
	if cfg.DeepResearch.SyncBudget <= 0 {
		return errors.New("deep_research.sync_budget must be > 0")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
