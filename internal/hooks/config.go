package hooks

import (
	"fmt"
	"time"

	"github.com/startswithzed/observability/internal/config"
)

// Config holds hook configuration
type Config struct {
	// ContinueOnError runs every handler even when an earlier one fails
	ContinueOnError bool `koanf:"continue_on_error"`

	// Timeout bounds one Execute call. Zero means no bound.
	Timeout config.Duration `koanf:"timeout"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ContinueOnError: false,
		Timeout:         config.Duration(10 * time.Second),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout.Duration())
	}
	return nil
}
