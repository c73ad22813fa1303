package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the TOML configuration file structure
type TOMLConfig struct {
	HTTP       TOMLHTTPConfig       `toml:"http"`
	Batching   TOMLBatchingConfig   `toml:"batching"`
	Downstream TOMLDownstreamConfig `toml:"downstream"`
	DevMode    bool                 `toml:"dev_mode"`
}

// TOMLHTTPConfig represents HTTP configuration in TOML
type TOMLHTTPConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// TOMLBatchingConfig represents batching/dispatcher configuration in TOML
type TOMLBatchingConfig struct {
	InitialStrategy string `toml:"initial_strategy"`
	MaxBatch        int    `toml:"max_batch"`
	BatchTimeout    string `toml:"batch_timeout"`
	IdleInterval    string `toml:"idle_interval"`
}

// TOMLDownstreamConfig represents the classifier client configuration in TOML
type TOMLDownstreamConfig struct {
	URL     string `toml:"url"`
	Timeout string `toml:"timeout"`

	CircuitBreakerRequests    uint32  `toml:"circuit_breaker_requests"`
	CircuitBreakerInterval    string  `toml:"circuit_breaker_interval"`
	CircuitBreakerTimeout     string  `toml:"circuit_breaker_timeout"`
	CircuitBreakerMinRequests uint32  `toml:"circuit_breaker_min_requests"`
	CircuitBreakerFailRatio   float64 `toml:"circuit_breaker_fail_ratio"`
}

// ConfigPaths lists the paths to search for config files
var ConfigPaths = []string{
	"config.toml",
	"proxy.toml",
	"./config/config.toml",
	"/etc/proxy/config.toml",
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	var tomlCfg TOMLConfig

	if _, err := toml.DecodeFile(path, &tomlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return tomlConfigToConfig(&tomlCfg)
}

// LoadWithFile loads configuration from file first, then overrides it with the
// env-derived values that mergeConfigs carries over
func LoadWithFile() (*Config, error) {
	// Start with defaults from environment
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	// Check for explicit config file path
	configPath := os.Getenv("PROXY_CONFIG")
	if configPath == "" {
		// Search for config file in standard locations
		for _, path := range ConfigPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}
	}

	// If no config file found, just use env vars
	if configPath == "" {
		return cfg, nil
	}

	// Load from file
	fileCfg, err := LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	// Merge: file config as base, env vars override
	return mergeConfigs(fileCfg, cfg), nil
}

// tomlConfigToConfig converts TOML config to the internal Config struct
func tomlConfigToConfig(tc *TOMLConfig) (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Port:        tc.HTTP.Port,
			CORSOrigins: tc.HTTP.CORSOrigins,
		},
		Batching: BatchingConfig{
			InitialStrategy: tc.Batching.InitialStrategy,
			MaxBatch:        tc.Batching.MaxBatch,
		},
		Downstream: DownstreamConfig{
			URL:                       tc.Downstream.URL,
			CircuitBreakerRequests:    tc.Downstream.CircuitBreakerRequests,
			CircuitBreakerMinRequests: tc.Downstream.CircuitBreakerMinRequests,
			CircuitBreakerFailRatio:   tc.Downstream.CircuitBreakerFailRatio,
		},
		DevMode: tc.DevMode,
	}

	// Parse durations
	if d, ok := parseDuration(tc.Batching.BatchTimeout); ok {
		cfg.Batching.BatchTimeout = d
	}
	if d, ok := parseDuration(tc.Batching.IdleInterval); ok {
		cfg.Batching.IdleInterval = d
	}
	if d, ok := parseDuration(tc.Downstream.Timeout); ok {
		cfg.Downstream.Timeout = d
	}
	if d, ok := parseDuration(tc.Downstream.CircuitBreakerInterval); ok {
		cfg.Downstream.CircuitBreakerInterval = d
	}
	if d, ok := parseDuration(tc.Downstream.CircuitBreakerTimeout); ok {
		cfg.Downstream.CircuitBreakerTimeout = d
	}

	return cfg, nil
}

func parseDuration(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false
	}
	return d, true
}

// mergeConfigs starts from base and takes from override the HTTP port, initial
// strategy, max batch and downstream URL when they are set and differ from the
// built-in defaults, CORS origins when non-empty, and DevMode when true. All
// other fields (durations, circuit breaker tuning) always come from base.
func mergeConfigs(base, override *Config) *Config {
	result := *base

	// HTTP
	if override.HTTP.Port != 0 && override.HTTP.Port != 8000 {
		result.HTTP.Port = override.HTTP.Port
	}
	if len(override.HTTP.CORSOrigins) > 0 {
		result.HTTP.CORSOrigins = override.HTTP.CORSOrigins
	}

	// Batching
	if override.Batching.InitialStrategy != "" && override.Batching.InitialStrategy != "sjf" {
		result.Batching.InitialStrategy = override.Batching.InitialStrategy
	}
	if override.Batching.MaxBatch != 0 && override.Batching.MaxBatch != 5 {
		result.Batching.MaxBatch = override.Batching.MaxBatch
	}

	// Downstream
	if override.Downstream.URL != "" && override.Downstream.URL != "http://localhost:8001/classify" {
		result.Downstream.URL = override.Downstream.URL
	}

	// General
	if override.DevMode {
		result.DevMode = true
	}

	return &result
}

// WriteExampleConfig writes an example configuration file
func WriteExampleConfig(path string) error {
	example := `# Batching classification proxy configuration
# Environment variables override these settings

[http]
port = 8000
cors_origins = ["http://localhost:4200"]

[batching]
initial_strategy = "sjf"  # sjf, fair, or fcfs
max_batch = 5
batch_timeout = "50ms"
idle_interval = "5ms"

[downstream]
url = "http://localhost:8001/classify"
timeout = "10s"
circuit_breaker_requests = 10
circuit_breaker_interval = "60s"
circuit_breaker_timeout = "30s"
circuit_breaker_min_requests = 5
circuit_breaker_fail_ratio = 0.6

dev_mode = false
`

	// Ensure directory exists
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	return os.WriteFile(path, []byte(example), 0644)
}
