// internal/logging/config.go
package logging

import (
	"fmt"
	"regexp"

	"github.com/startswithzed/observability/internal/config"
	"go.uber.org/zap/zapcore"
)

// Output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config holds logging configuration.
type Config struct {
	Level     zapcore.Level   `koanf:"level"`
	Format    string          `koanf:"format"`
	Output    OutputConfig    `koanf:"output"`
	Caller    bool            `koanf:"caller"`
	Name      string          `koanf:"name"` // instrumentation scope of the OTel bridge
	Noise     []string        `koanf:"noise"`
	Redaction RedactionConfig `koanf:"redaction"`
}

// OutputConfig controls where logs are written.
type OutputConfig struct {
	Stdout bool `koanf:"stdout"`
	OTEL   bool `koanf:"otel"`
}

// RedactionConfig controls sensitive data redaction.
type RedactionConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Fields   []string `koanf:"fields"`
	Patterns []string `koanf:"patterns"`
}

// DefaultNoiseEvents are access-log markers that duplicate server span data.
var DefaultNoiseEvents = []string{"request_started", "request_finished"}

// NewDefaultConfig returns config with production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: FormatJSON,
		Output: OutputConfig{
			Stdout: true,
			OTEL:   true,
		},
		Caller: true,
		Name:   "pricewatch",
		Noise:  append([]string(nil), DefaultNoiseEvents...),
		Redaction: RedactionConfig{
			Enabled: true,
			Fields: []string{
				"password", "secret", "token", "api_key",
				"authorization", "bearer", "credential", "private_key",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
			},
		},
	}
}

// FromAppConfig applies LOG_JSON, LOG_LEVEL and the service name.
// An unparsable level keeps the default.
func FromAppConfig(app *config.Config) *Config {
	cfg := NewDefaultConfig()
	if level, err := LevelFromString(app.Log.Level); err == nil {
		cfg.Level = level
	}
	if !app.Log.JSON {
		cfg.Format = FormatConsole
	}
	if app.Service.Name != "" {
		cfg.Name = app.Service.Name
	}
	return cfg
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != FormatJSON && c.Format != FormatConsole {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if !c.Output.Stdout && !c.Output.OTEL {
		return fmt.Errorf("at least one output must be enabled (stdout or otel)")
	}

	if c.Redaction.Enabled {
		for _, pattern := range c.Redaction.Patterns {
			// Basic ReDoS protection
			if len(pattern) > 200 {
				return fmt.Errorf("redaction pattern too long (max 200 chars): %q", pattern)
			}
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("invalid redaction pattern %q: %w", pattern, err)
			}
		}
	}

	for _, n := range c.Noise {
		if n == "" {
			return fmt.Errorf("noise event cannot be empty")
		}
	}

	return nil
}
