// internal/logging/otel.go
package logging

import (
	"fmt"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newEncoder creates JSON or console encoder. The pipeline stamps timestamp
// and level as ordinary fields, so the encoder's own keys are disabled.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.MessageKey = EventKey
	encoderCfg.TimeKey = zapcore.OmitKey
	encoderCfg.LevelKey = zapcore.OmitKey

	if format == FormatConsole {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

// newDualCore creates core with stdout and/or OTEL outputs.
func newDualCore(cfg *Config, level zapcore.LevelEnabler, otelProvider log.LoggerProvider, out zapcore.WriteSyncer) (zapcore.Core, error) {
	cores := make([]zapcore.Core, 0, 2)

	if cfg.Output.Stdout {
		cores = append(cores, zapcore.NewCore(newEncoder(cfg.Format), out, level))
	}

	if cfg.Output.OTEL && otelProvider != nil {
		var otelCore zapcore.Core = otelzap.NewCore(cfg.Name,
			otelzap.WithLoggerProvider(otelProvider),
		)
		// The bridge accepts every level; apply the configured floor
		if leveled, err := zapcore.NewIncreaseLevelCore(otelCore, level); err == nil {
			otelCore = leveled
		}
		cores = append(cores, otelCore)
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one output must be enabled and available")
	}

	if len(cores) == 1 {
		return cores[0], nil
	}
	return zapcore.NewTee(cores...), nil
}
