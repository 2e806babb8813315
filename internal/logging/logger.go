// internal/logging/logger.go
package logging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// callerSkip accounts for the level method and Logger.write.
const callerSkip = 2

// Logger wraps Zap with context-aware methods. Every entry goes through the
// sanitization pipeline before it reaches an encoder or the OTel bridge.
type Logger struct {
	zap      *zap.Logger
	pipeline *Pipeline
	config   *Config
	fields   []zap.Field

	// level is shared by every logger derived with With or Named.
	level *zap.AtomicLevel
}

// NewLogger creates a logger writing to stdout.
// otelProvider can be nil to disable OTEL output.
func NewLogger(cfg *Config, otelProvider log.LoggerProvider) (*Logger, error) {
	return newLogger(cfg, otelProvider, zapcore.Lock(os.Stdout))
}

// NewLoggerWithOutput is NewLogger writing the stdout stream to out instead.
func NewLoggerWithOutput(cfg *Config, otelProvider log.LoggerProvider, out zapcore.WriteSyncer) (*Logger, error) {
	return newLogger(cfg, otelProvider, out)
}

func newLogger(cfg *Config, otelProvider log.LoggerProvider, out zapcore.WriteSyncer) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level := zap.NewAtomicLevelAt(cfg.Level)
	core, err := newDualCore(cfg, level, otelProvider, out)
	if err != nil {
		return nil, fmt.Errorf("failed to create core: %w", err)
	}

	pipeline, err := DefaultPipeline(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Caller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(callerSkip))
	}

	return &Logger{
		zap:      zap.New(core, opts...),
		pipeline: pipeline,
		config:   cfg,
		level:    &level,
	}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}

// Context-aware logging methods

func (l *Logger) Trace(ctx context.Context, msg string, fields ...zap.Field) {
	if l.Enabled(TraceLevel) {
		l.write(ctx, TraceLevel, eventFromFields(msg, fields))
	}
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	if l.Enabled(zapcore.DebugLevel) {
		l.write(ctx, zapcore.DebugLevel, eventFromFields(msg, fields))
	}
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	if l.Enabled(zapcore.InfoLevel) {
		l.write(ctx, zapcore.InfoLevel, eventFromFields(msg, fields))
	}
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	if l.Enabled(zapcore.WarnLevel) {
		l.write(ctx, zapcore.WarnLevel, eventFromFields(msg, fields))
	}
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	if l.Enabled(zapcore.ErrorLevel) {
		l.write(ctx, zapcore.ErrorLevel, eventFromFields(msg, fields))
	}
}

func (l *Logger) DPanic(ctx context.Context, msg string, fields ...zap.Field) {
	if l.Enabled(zapcore.DPanicLevel) {
		l.write(ctx, zapcore.DPanicLevel, eventFromFields(msg, fields))
	}
}

func (l *Logger) Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	if l.Enabled(zapcore.FatalLevel) {
		l.write(ctx, zapcore.FatalLevel, eventFromFields(msg, fields))
	}
}

// Emit logs a prebuilt event. The event's "event" key is the message.
// ev is not modified.
func (l *Logger) Emit(ctx context.Context, level zapcore.Level, ev Event) {
	if l == nil || !l.zap.Core().Enabled(level) {
		return
	}
	if ev == nil {
		ev = Event{}
	} else {
		ev = ev.clone()
	}
	l.write(ctx, level, ev)
}

// write runs the pipeline over ev, which it owns, and hands the result to
// zap. It must be called directly from the exported level methods so the
// caller skip stays correct.
func (l *Logger) write(ctx context.Context, level zapcore.Level, ev Event) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(l.fields) > 0 {
		// Per-call fields win over With fields
		for k, v := range eventFromFields("", l.fields) {
			if _, ok := ev[k]; !ok && k != EventKey {
				ev[k] = v
			}
		}
	}

	out, ok := l.pipeline.Run(ctx, Record{Level: level, Time: time.Now(), Event: ev})
	if !ok {
		return
	}

	msg, fields := renderFields(out.Event)
	if ce := l.zap.Check(out.Level, msg); ce != nil {
		ce.Time = out.Time
		ce.Write(append(fields, contextField(ctx))...)
	}
}

// Child logger creation

// With returns a logger that adds fields to every entry. Fields go through
// the pipeline like per-call fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	merged := make([]zap.Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &Logger{
		zap:      l.zap,
		pipeline: l.pipeline,
		config:   l.config,
		fields:   merged,
		level:    l.level,
	}
}

func (l *Logger) Named(name string) *Logger {
	return &Logger{
		zap:      l.zap.Named(name),
		pipeline: l.pipeline,
		config:   l.config,
		fields:   l.fields,
		level:    l.level,
	}
}

// Enabled returns true if the given level is enabled.
func (l *Logger) Enabled(level zapcore.Level) bool {
	return l != nil && l.zap.Core().Enabled(level)
}

// SetLevel changes the minimum level of l and every logger derived from it.
// It has no effect on loggers without a configured level, such as NewNop.
func (l *Logger) SetLevel(level zapcore.Level) {
	if l == nil || l.level == nil {
		return
	}
	l.level.SetLevel(level)
}

// Level returns the current minimum level.
func (l *Logger) Level() zapcore.Level {
	if l.level == nil {
		return l.config.Level
	}
	return l.level.Level()
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	err := l.zap.Sync()
	// Ignore sync errors on stdout/stderr (common on Linux)
	if err != nil && isStdoutSyncError(err) {
		return nil
	}
	return err
}

// Underlying returns the underlying zap.Logger.
// Entries written to it directly skip the pipeline.
func (l *Logger) Underlying() *zap.Logger {
	return l.zap
}

// isStdoutSyncError checks if error is harmless stdout/stderr sync error.
// On Linux, syncing stdout/stderr returns EINVAL or ENOTTY which are safe to ignore.
func isStdoutSyncError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EINVAL || errno == syscall.ENOTTY
	}
	return false
}
