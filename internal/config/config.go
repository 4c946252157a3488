// Package config provides hierarchical configuration loading for the
// deep research task orchestrator. Precedence: defaults < YAML file < ENV.
package config

import "time"

// Config holds all runtime configuration for the orchestrator.
type Config struct {
	Server       Server       `yaml:"server"`
	Store        Store        `yaml:"store"`
	Provider     Provider     `yaml:"provider"`
	DeepResearch DeepResearch `yaml:"deep_research"`
	Notifier     Notifier     `yaml:"notifier"`
	Logging      Logging      `yaml:"logging"`
	Breaker      Breaker      `yaml:"breaker"`
	Telemetry    Telemetry    `yaml:"telemetry"`
	Cache        Cache        `yaml:"cache"`
}

// Server holds the admin HTTP surface configuration (health checks only).
type Server struct {
	Port string `yaml:"port"`
}

// Store holds StateStore configuration.
type Store struct {
	Path         string        `yaml:"path"`
	RetryInitial time.Duration `yaml:"retry_initial"`
	RetryCap     time.Duration `yaml:"retry_cap"`
	RetryMax     uint64        `yaml:"retry_max"`
}

// Provider holds the remote research provider's connection configuration.
type Provider struct {
	BaseURL       string `yaml:"base_url"`
	CredentialEnv string `yaml:"credential_env"` // name of the env var holding the credential, never the credential itself
	DefaultModel  string `yaml:"default_model"`
}

// DeepResearch holds task-lifecycle tuning: sync budget, poll cadence,
// executor concurrency, and output placement.
type DeepResearch struct {
	SyncBudget        time.Duration `yaml:"sync_budget"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	MaxWait           time.Duration `yaml:"max_wait"`
	ExecutorCap       int           `yaml:"executor_cap"`
	ExecutorQueueSize int           `yaml:"executor_queue_size"`
	OutputDir         string        `yaml:"output_dir"`
}

// Notifier holds desktop notification configuration.
type Notifier struct {
	Provider string `yaml:"provider"` // "desktop" or "" (disabled)
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Breaker holds circuit breaker configuration for provider calls.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Telemetry holds OpenTelemetry exporter configuration. An empty Endpoint
// disables telemetry entirely.
type Telemetry struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// Cache holds the L1 StateStore read-cache configuration.
type Cache struct {
	MaxSizeBytes int64 `yaml:"max_size_bytes"`
}

// Defaults returns a Config with sensible default values for local use.
func Defaults() Config {
	return Config{
		Server: Server{
			Port: "8080",
		},
		Store: Store{
			Path:         "deep_research.db",
			RetryInitial: 100 * time.Millisecond,
			RetryCap:     2 * time.Second,
			RetryMax:     3,
		},
		Provider: Provider{
			BaseURL:       "http://localhost:9090",
			CredentialEnv: "DEEPRESEARCH_PROVIDER_CREDENTIAL",
			DefaultModel:  "deep-research-v1",
		},
		DeepResearch: DeepResearch{
			SyncBudget:        30 * time.Second,
			PollInterval:      10 * time.Second,
			MaxWait:           8 * time.Hour,
			ExecutorCap:       3,
			ExecutorQueueSize: 32,
			OutputDir:         "./research_reports",
		},
		Notifier: Notifier{
			Provider: "desktop",
		},
		Logging: Logging{
			Level:   "info",
			Service: "deepresearch-orchestrator",
			Async:   true,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Telemetry: Telemetry{
			Endpoint:    "",
			ServiceName: "deepresearch-orchestrator",
		},
		Cache: Cache{
			MaxSizeBytes: 32 << 20,
		},
	}
}
