// internal/logging/redact.go
package logging

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/startswithzed/observability/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Redaction markers.
const (
	Redacted        = "[REDACTED]"
	RedactedPattern = "[REDACTED:pattern]"
)

// secretMarshaler wraps config.Secret for Zap object marshaling.
type secretMarshaler struct {
	key string
	val config.Secret
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (s *secretMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString(s.key, fmt.Sprintf("[REDACTED:%d]", len(s.val.Value())))
	return nil
}

// Secret creates a Zap field for config.Secret with redaction indicator.
func Secret(key string, val config.Secret) zap.Field {
	return zap.Object(key, &secretMarshaler{key: key, val: val})
}

// RedactedString creates a Zap field with redacted value and length.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// Redactor is a pipeline stage that masks sensitive values. It runs after
// sanitization, so it only sees primitives, []any and map[string]any.
type Redactor struct {
	fields   map[string]bool
	patterns []*regexp.Regexp
}

// NewRedactor compiles the redaction rules.
// Returns error if any redaction pattern fails to compile.
func NewRedactor(cfg RedactionConfig) (*Redactor, error) {
	fields := make(map[string]bool, len(cfg.Fields))
	for _, f := range cfg.Fields {
		fields[strings.ToLower(f)] = true
	}

	patterns := make([]*regexp.Regexp, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		// Basic ReDoS protection: reject patterns longer than 200 chars
		if len(p) > 200 {
			return nil, fmt.Errorf("redaction pattern too long (max 200 chars): %q", p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	return &Redactor{fields: fields, patterns: patterns}, nil
}

// Apply implements Stage.
func (r *Redactor) Apply(_ context.Context, rec Record) Result {
	for k, v := range rec.Event {
		switch k {
		case TimestampKey, LevelKey, TraceIDKey, SpanIDKey:
			continue
		}
		rec.Event[k] = r.redact(k, v)
	}
	return Next(rec)
}

func (r *Redactor) shouldRedactKey(key string) bool {
	return r.fields[strings.ToLower(key)]
}

func (r *Redactor) redact(key string, v any) any {
	if r.shouldRedactKey(key) {
		return Redacted
	}
	switch x := v.(type) {
	case string:
		for _, re := range r.patterns {
			if re.MatchString(x) {
				return RedactedPattern
			}
		}
		return x
	case map[string]any:
		for k, nested := range x {
			x[k] = r.redact(k, nested)
		}
		return x
	case []any:
		for i, nested := range x {
			x[i] = r.redact("", nested)
		}
		return x
	default:
		return v
	}
}
