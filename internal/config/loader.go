package config

import (
	"fmt"
	"io"
	"os"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// ConfigFileEnv names an optional YAML or TOML overlay applied before
	// the environment.
	ConfigFileEnv = "CONFIG_FILE"
)

// envKeys maps the supported environment variables to config keys.
// Variables not listed here are ignored.
var envKeys = map[string]string{
	"SERVICE_NAME":                "service.name",
	"APP_ENV":                     "service.environment",
	"SERVICE_VERSION":             "service.version",
	"OTEL_SDK_DISABLED":           "telemetry.disabled",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "telemetry.endpoint",
	"OTEL_EXPORTER_OTLP_PROTOCOL": "telemetry.protocol",
	"OTEL_EXPORTER_OTLP_INSECURE": "telemetry.insecure",
	"TELEMETRY_METRICS_INTERVAL":  "telemetry.metrics_interval",
	"TELEMETRY_SHUTDOWN_TIMEOUT":  "telemetry.shutdown_timeout",
	"LOG_JSON":                    "log.json",
	"LOG_LEVEL":                   "log.level",
	"HTTP_HOST":                   "http.host",
	"HTTP_PORT":                   "http.port",
	"HTTP_SHUTDOWN_TIMEOUT":       "http.shutdown_timeout",
	"DATABASE_DRIVER":             "database.driver",
	"DATABASE_URL":                "database.url",
	"REDIS_URL":                   "redis.url",
	"REDIS_CACHE_TTL":             "redis.cache_ttl",
	"NATS_URL":                    "nats.url",
	"NATS_SUBJECT_PREFIX":         "nats.subject_prefix",
	"NATS_QUEUE_GROUP":            "nats.queue_group",
	"WORKER_PROCESSES":            "worker.processes",
	"PRICE_FETCH_FAILURE_RATE":    "worker.fetch_failure_rate",
}

// Load resolves configuration from defaults, the optional CONFIG_FILE
// overlay and the environment.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SERVICE_NAME, OTEL_EXPORTER_OTLP_ENDPOINT, ...)
//  2. YAML or TOML file named by CONFIG_FILE
//  3. NewDefaultConfig
func Load() (*Config, error) {
	return LoadWithFile(os.Getenv(ConfigFileEnv))
}

// LoadWithFile is Load with an explicit overlay path. Files ending in .toml
// are parsed as TOML, everything else as YAML. An empty path skips the file.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		// Use rawbytes provider to avoid re-opening the file
		if err := k.Load(rawbytes.Provider(content), parserFor(configPath)); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		// Empty key makes the provider skip the variable
		return envKeys[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := NewDefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// readConfigFile opens the file once and validates its size from the open
// descriptor before reading it.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}
