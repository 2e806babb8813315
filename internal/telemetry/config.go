package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/startswithzed/observability/internal/config"
)

// Exporter protocols.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool           `koanf:"enabled"`
	Endpoint       string         `koanf:"endpoint"`
	Protocol       string         `koanf:"protocol"`
	Insecure       bool           `koanf:"insecure"` // Use insecure connection (no TLS)
	TLSSkipVerify  bool           `koanf:"tls_skip_verify"`
	ServiceName    string         `koanf:"service_name"`
	ServiceVersion string         `koanf:"service_version"`
	Environment    string         `koanf:"environment"`
	Batch          BatchConfig    `koanf:"batch"`
	Metrics        MetricsConfig  `koanf:"metrics"`
	Shutdown       ShutdownConfig `koanf:"shutdown"`
}

// BatchConfig bounds the span and log batching processors.
type BatchConfig struct {
	MaxQueueSize       int             `koanf:"max_queue_size"`
	MaxExportBatchSize int             `koanf:"max_export_batch_size"`
	Timeout            config.Duration `koanf:"timeout"` // periodic flush
}

// MetricsConfig controls metrics export.
type MetricsConfig struct {
	Enabled        bool            `koanf:"enabled"`
	ExportInterval config.Duration `koanf:"export_interval"`
}

// ShutdownConfig controls graceful shutdown behavior.
type ShutdownConfig struct {
	Timeout config.Duration `koanf:"timeout"`
}

// NewDefaultConfig returns defaults for the reference deployment, where an
// OTEL collector listens on otel-collector:4317 without TLS.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		Endpoint:       "http://otel-collector:4317",
		Protocol:       ProtocolGRPC,
		Insecure:       true,
		ServiceName:    config.DefaultAPIServiceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Batch: BatchConfig{
			MaxQueueSize:       2048,
			MaxExportBatchSize: 512,
			Timeout:            config.Duration(5 * time.Second),
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			ExportInterval: config.Duration(15 * time.Second),
		},
		Shutdown: ShutdownConfig{
			Timeout: config.Duration(5 * time.Second),
		},
	}
}

// FromAppConfig derives telemetry settings from the process configuration.
// serviceName overrides the configured name so each process role reports its
// own identity.
func FromAppConfig(app *config.Config, serviceName string) *Config {
	cfg := NewDefaultConfig()
	cfg.Enabled = !app.Telemetry.Disabled
	cfg.Endpoint = app.Telemetry.Endpoint
	cfg.Protocol = app.Telemetry.Protocol
	cfg.Insecure = app.Telemetry.Insecure
	cfg.ServiceName = serviceName
	if cfg.ServiceName == "" {
		cfg.ServiceName = app.Service.Name
	}
	cfg.ServiceVersion = app.Service.Version
	cfg.Environment = app.Service.Environment
	if app.Telemetry.MetricsInterval > 0 {
		cfg.Metrics.ExportInterval = app.Telemetry.MetricsInterval
	}
	if app.Telemetry.ShutdownTimeout > 0 {
		cfg.Shutdown.Timeout = app.Telemetry.ShutdownTimeout
	}
	return cfg
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}

	if c.Shutdown.Timeout.Duration() <= 0 {
		return fmt.Errorf("shutdown.timeout must be positive")
	}

	if !c.Enabled {
		return nil // Exporter settings are unused
	}

	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}

	switch c.Protocol {
	case "", ProtocolGRPC, ProtocolHTTP:
	default:
		return fmt.Errorf("protocol must be %q or %q, got %q", ProtocolGRPC, ProtocolHTTP, c.Protocol)
	}

	if c.Batch.MaxQueueSize <= 0 || c.Batch.MaxExportBatchSize <= 0 {
		return fmt.Errorf("batch sizes must be positive")
	}
	if c.Batch.MaxExportBatchSize > c.Batch.MaxQueueSize {
		return fmt.Errorf("batch.max_export_batch_size (%d) exceeds batch.max_queue_size (%d)",
			c.Batch.MaxExportBatchSize, c.Batch.MaxQueueSize)
	}
	if c.Batch.Timeout.Duration() <= 0 {
		return fmt.Errorf("batch.timeout must be positive")
	}

	if c.Metrics.Enabled && c.Metrics.ExportInterval.Duration() <= 0 {
		return fmt.Errorf("metrics.export_interval must be positive when metrics enabled")
	}

	return nil
}

// plaintext reports whether exporters should skip TLS. An explicit http://
// scheme implies plaintext, matching the OTLP exporter environment semantics.
func (c *Config) plaintext() bool {
	return c.Insecure || strings.HasPrefix(c.Endpoint, "http://")
}

// protocol returns the configured protocol, defaulting to gRPC.
func (c *Config) protocol() string {
	if c.Protocol == "" {
		return ProtocolGRPC
	}
	return c.Protocol
}
