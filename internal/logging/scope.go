// internal/logging/scope.go
package logging

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// scope holds fields bound for one unit of work (a request or a task).
type scope struct {
	mu     sync.Mutex
	fields map[string]any
}

type scopeCtxKey struct{}

// NewScope returns a context with a fresh, empty field scope. Call it at the
// start of every unit of work so fields never leak between requests or tasks.
func NewScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeCtxKey{}, &scope{fields: make(map[string]any)})
}

func scopeFrom(ctx context.Context) *scope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(scopeCtxKey{}).(*scope)
	return s
}

// Bind adds alternating key/value pairs to the current scope, opening one if
// ctx has none. Every later log call made with a context derived from the
// returned one carries the fields. A trailing key without a value is bound
// to nil.
func Bind(ctx context.Context, kv ...any) context.Context {
	s := scopeFrom(ctx)
	if s == nil {
		ctx = NewScope(ctx)
		s = scopeFrom(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		var val any
		if i+1 < len(kv) {
			val = kv[i+1]
		}
		s.fields[key] = val
	}
	return ctx
}

// Unbind removes keys from the current scope.
func Unbind(ctx context.Context, keys ...string) {
	s := scopeFrom(ctx)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.fields, k)
	}
}

// Fields returns a copy of the fields bound to the current scope.
func Fields(ctx context.Context) map[string]any {
	s := scopeFrom(ctx)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.fields))
	for k, v := range s.fields {
		out[k] = v
	}
	return out
}

// loggerCtxKey is the context key for Logger.
type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Falls back to the process logger, which is a nop until Configure is called.
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
			return l
		}
	}
	return L()
}

// contextField hands ctx to the OTel bridge, which uses it for trace
// correlation. Encoders skip it.
func contextField(ctx context.Context) zap.Field {
	return zap.Field{Key: "context", Type: zapcore.SkipType, Interface: ctx}
}
