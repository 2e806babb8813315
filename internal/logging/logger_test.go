package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newBufferLogger(t *testing.T, cfg *Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	cfg.Output.OTEL = false
	l, err := newLogger(cfg, nil, zapcore.AddSync(buf))
	require.NoError(t, err)
	return l, buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestNewLogger_NoOutputAvailable(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output.Stdout = false

	// OTEL output enabled but no provider
	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
}

func TestLogger_JSONSchema(t *testing.T) {
	l, buf := newBufferLogger(t, NewDefaultConfig())
	ctx := spanContext(Bind(context.Background(), "request_id", "req-1", "method", "POST"))

	l.Info(ctx, "product_created",
		zap.Stringer("target_price", decimal.RequireFromString("59.99")),
		zap.Int("attempt", 2),
	)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	line := lines[0]

	assert.Equal(t, "product_created", line["event"])
	assert.Equal(t, "info", line["level"])
	assert.NotEmpty(t, line["timestamp"])
	assert.Equal(t, "abc123456789abcdef0123456789abcd", line["trace_id"])
	assert.Equal(t, "0102030405060708", line["span_id"])
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "POST", line["method"])
	assert.Equal(t, "59.99", line["target_price"])
	assert.Equal(t, float64(2), line["attempt"])
	assert.Contains(t, line["caller"], "logger_test.go")
	assert.NotContains(t, line, "context")
}

func TestLogger_NoiseDropped(t *testing.T) {
	l, buf := newBufferLogger(t, NewDefaultConfig())

	l.Info(context.Background(), "request_started", zap.String("path", "/"))
	l.Info(context.Background(), "request_finished")
	assert.Empty(t, buf.String())

	l.Info(context.Background(), "request_failed")
	assert.Len(t, decodeLines(t, buf), 1)
}

func TestLogger_NestedValues(t *testing.T) {
	l, buf := newBufferLogger(t, NewDefaultConfig())

	l.Emit(context.Background(), zapcore.WarnLevel, Event{
		EventKey: "nested",
		"meta": map[string]any{
			"prices": []any{decimal.NewFromInt(1), 2.5, nil},
			"ok":     true,
		},
	})

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	meta := lines[0]["meta"].(map[string]any)
	assert.Equal(t, []any{"1", 2.5, nil}, meta["prices"])
	assert.Equal(t, true, meta["ok"])
	assert.Equal(t, "warn", lines[0]["level"])
}

func TestLogger_ErrorField(t *testing.T) {
	l, buf := newBufferLogger(t, NewDefaultConfig())

	l.Error(context.Background(), "fetch_failed", zap.Error(errors.New("upstream timeout")))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "upstream timeout", lines[0]["error"])
	assert.Equal(t, "error", lines[0]["level"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Level = zapcore.WarnLevel
	l, buf := newBufferLogger(t, cfg)

	l.Info(context.Background(), "hidden")
	l.Debug(context.Background(), "hidden")
	l.Warn(context.Background(), "shown")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["event"])
	assert.False(t, l.Enabled(zapcore.InfoLevel))
}

func TestLogger_SetLevel(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Level = zapcore.WarnLevel
	l, buf := newBufferLogger(t, cfg)
	child := l.With(zap.String("component", "worker"))

	child.Info(context.Background(), "hidden")
	l.SetLevel(zapcore.InfoLevel)
	child.Info(context.Background(), "shown")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["event"])
	assert.Equal(t, zapcore.InfoLevel, child.Level())

	nop := NewNop()
	nop.SetLevel(zapcore.DebugLevel)
	assert.Equal(t, zapcore.InfoLevel, nop.Level())
}

func TestLogger_WithFields(t *testing.T) {
	l, buf := newBufferLogger(t, NewDefaultConfig())

	child := l.With(zap.String("component", "worker"), zap.String("actor", "a"))
	child.Info(context.Background(), "task_done", zap.String("actor", "override"))
	l.Info(context.Background(), "parent")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "worker", lines[0]["component"])
	assert.Equal(t, "override", lines[0]["actor"])
	assert.NotContains(t, lines[1], "component")
}

func TestLogger_ConsoleFormat(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = FormatConsole
	l, buf := newBufferLogger(t, cfg)

	l.Info(context.Background(), "hello", zap.String("k", "v"))
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), `"k": "v"`)
}

func TestLogger_Redaction(t *testing.T) {
	tl := NewTestLogger()

	tl.Info(context.Background(), "login",
		zap.String("password", "hunter2"),
		zap.String("header", "Bearer abc.def"),
	)

	tl.AssertField(t, "login", "password", Redacted)
	tl.AssertField(t, "login", "header", RedactedPattern)
	tl.AssertNoSecrets(t)
}

func TestLogger_OTelBridge(t *testing.T) {
	provider := global.GetLoggerProvider()
	cfg := NewDefaultConfig()
	l, err := newLogger(cfg, provider, zapcore.AddSync(&bytes.Buffer{}))
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		l.Info(spanContext(context.Background()), "bridged", zap.Int("n", 1))
	})
}

func TestConfigure(t *testing.T) {
	tl := NewTestLogger()
	Configure(tl.Logger)
	t.Cleanup(func() { Configure(NewNop()) })

	assert.Same(t, tl.Logger, L())
	FromContext(context.Background()).Info(context.Background(), "via_global")
	tl.AssertLogged(t, zapcore.InfoLevel, "via_global")

	ctxLogger := NewNop()
	ctx := WithLogger(context.Background(), ctxLogger)
	assert.Same(t, ctxLogger, FromContext(ctx))
}

func TestLogger_NilSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Info(context.Background(), "x")
		l.Emit(context.Background(), zapcore.InfoLevel, Event{})
	})
	assert.False(t, l.Enabled(zapcore.ErrorLevel))
}
