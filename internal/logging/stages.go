package logging

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zapcore"
)

// MergeContext adds the fields bound to the context scope. Fields already on
// the event win.
func MergeContext() Stage {
	return StageFunc(func(ctx context.Context, r Record) Result {
		for k, v := range Fields(ctx) {
			if _, ok := r.Event[k]; !ok {
				r.Event[k] = v
			}
		}
		return Next(r)
	})
}

// StampLevelAndTime sets the lowercase level name and an RFC 3339 UTC
// timestamp with nanoseconds.
func StampLevelAndTime() Stage {
	return StageFunc(func(_ context.Context, r Record) Result {
		if r.Time.IsZero() {
			r.Time = time.Now()
		}
		r.Event[LevelKey] = levelName(r.Level)
		r.Event[TimestampKey] = r.Time.UTC().Format(time.RFC3339Nano)
		return Next(r)
	})
}

// CorrelateSpan stamps trace_id and span_id when the context carries a valid
// span context.
func CorrelateSpan() Stage {
	return StageFunc(func(ctx context.Context, r Record) Result {
		sc := trace.SpanContextFromContext(ctx)
		if sc.IsValid() {
			r.Event[TraceIDKey] = sc.TraceID().String()
			r.Event[SpanIDKey] = sc.SpanID().String()
		}
		return Next(r)
	})
}

// DropNoise drops records whose event name is one of names.
func DropNoise(names ...string) Stage {
	noise := make(map[string]struct{}, len(names))
	for _, n := range names {
		noise[n] = struct{}{}
	}
	return StageFunc(func(_ context.Context, r Record) Result {
		if _, ok := noise[r.Event.Name()]; ok {
			return Drop()
		}
		return Next(r)
	})
}

// SanitizeEvent coerces every value to an export-safe primitive.
func SanitizeEvent() Stage {
	return StageFunc(func(_ context.Context, r Record) Result {
		r.Event = sanitizeEvent(r.Event)
		return Next(r)
	})
}

func sanitizeEvent(ev Event) Event {
	return Event(sanitizeMap(ev, 0, newVisited()))
}

func levelName(l zapcore.Level) string {
	if l == TraceLevel {
		return "trace"
	}
	return l.String()
}
