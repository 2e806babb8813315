// internal/logging/testing.go
package logging

import (
	"reflect"
	"regexp"
	"slices"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger wraps Logger with test observation capabilities. Entries run
// through the default pipeline before they are observed.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger creates a logger for testing with full observation.
func NewTestLogger() *TestLogger {
	return NewTestLoggerWithConfig(NewDefaultConfig())
}

// NewTestLoggerWithConfig observes a logger built from cfg. The config must
// be valid.
func NewTestLoggerWithConfig(cfg *Config) *TestLogger {
	core, observed := observer.New(TraceLevel)
	pipeline, err := DefaultPipeline(cfg)
	if err != nil {
		panic("logging: invalid test config: " + err.Error())
	}
	return &TestLogger{
		Logger: &Logger{
			zap:      zap.New(core),
			pipeline: pipeline,
			config:   cfg,
		},
		observed: observed,
	}
}

// All returns all logged entries.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// FilterMessage returns entries matching message exactly.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessage(msg)
}

// Event returns the rendered fields of the first entry with the given
// message, or nil.
func (t *TestLogger) Event(msg string) map[string]interface{} {
	entries := t.observed.FilterMessage(msg).All()
	if len(entries) == 0 {
		return nil
	}
	return entries[0].ContextMap()
}

// Reset clears all logged entries.
func (t *TestLogger) Reset() {
	t.observed.TakeAll()
}

// AssertLogged verifies a log at level containing message was logged.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	for _, entry := range t.observed.All() {
		if entry.Level == level && strings.Contains(entry.Message, msgContains) {
			return
		}
	}
	tb.Errorf("expected log at %v containing %q, logs: %+v", level, msgContains, t.observed.All())
}

// AssertNotLogged verifies no log containing message was logged at any level.
func (t *TestLogger) AssertNotLogged(tb testing.TB, msgContains string) {
	tb.Helper()
	for _, entry := range t.observed.All() {
		if strings.Contains(entry.Message, msgContains) {
			tb.Errorf("unexpected log at %v containing %q", entry.Level, msgContains)
		}
	}
}

// AssertField verifies a field with key and value exists in message.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, expected interface{}) {
	tb.Helper()
	for _, entry := range t.observed.FilterMessage(msg).All() {
		if got, ok := entry.ContextMap()[key]; ok && reflect.DeepEqual(got, expected) {
			return
		}
	}
	tb.Errorf("field %q=%v not found in message %q", key, expected, msg)
}

// AssertNoSecrets fails when a value under one of the configured redaction
// keys, or a string matching a redaction pattern, reached the output.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	red := t.config.Redaction
	patterns := make([]*regexp.Regexp, 0, len(red.Patterns))
	for _, p := range red.Patterns {
		patterns = append(patterns, regexp.MustCompile(p))
	}

	var check func(path, key string, v any)
	check = func(path, key string, v any) {
		switch val := v.(type) {
		case map[string]any:
			for k, nested := range val {
				check(path+"."+k, k, nested)
			}
		case []any:
			for _, nested := range val {
				check(path, key, nested)
			}
		case string:
			if val != "" && !strings.HasPrefix(val, "[REDACTED") && slices.Contains(red.Fields, strings.ToLower(key)) {
				tb.Errorf("%s: sensitive value not redacted: %q", path, val)
			}
			for _, re := range patterns {
				if re.MatchString(val) {
					tb.Errorf("%s: sensitive pattern %q matched", path, re)
				}
			}
		}
	}

	for _, entry := range t.observed.All() {
		check(entry.Message, "", entry.Message)
		for k, v := range entry.ContextMap() {
			check(entry.Message+"."+k, k, v)
		}
	}
}

// AssertTraceCorrelation verifies trace_id and span_id are present in
// message with their fixed hex widths.
func (t *TestLogger) AssertTraceCorrelation(tb testing.TB, msg string) {
	tb.Helper()
	fields := t.Event(msg)
	if fields == nil {
		tb.Errorf("message %q not logged", msg)
		return
	}
	traceID, _ := fields[TraceIDKey].(string)
	spanID, _ := fields[SpanIDKey].(string)
	if len(traceID) != 32 || len(spanID) != 16 {
		tb.Errorf("message %q missing trace correlation: trace_id=%q span_id=%q", msg, traceID, spanID)
	}
}
