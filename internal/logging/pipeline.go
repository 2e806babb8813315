package logging

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"
)

// Reserved event keys.
const (
	EventKey     = "event"
	LevelKey     = "level"
	TimestampKey = "timestamp"
	TraceIDKey   = "trace_id"
	SpanIDKey    = "span_id"

	pipelineErrorKey = "log_pipeline_error"
)

// Event is a log payload under construction. EventKey holds the message.
type Event map[string]any

// Name returns the event message, or "" when absent or not a string.
func (e Event) Name() string {
	s, _ := e[EventKey].(string)
	return s
}

func (e Event) clone() Event {
	out := make(Event, len(e)+4)
	for k, v := range e {
		out[k] = v
	}
	return out
}

// Record is what travels through the pipeline.
type Record struct {
	Level zapcore.Level
	Time  time.Time
	Event Event
}

// Result is the outcome of one stage: the record to pass on, or a drop.
type Result struct {
	Record  Record
	Dropped bool
}

// Next passes r to the following stage.
func Next(r Record) Result {
	return Result{Record: r}
}

// Drop suppresses the record. Later stages do not run.
func Drop() Result {
	return Result{Dropped: true}
}

// Stage transforms or drops a record. Stages run synchronously on the
// emitting goroutine and own the Event they are handed.
type Stage interface {
	Apply(ctx context.Context, r Record) Result
}

// StageFunc adapts a function to Stage.
type StageFunc func(ctx context.Context, r Record) Result

// Apply implements Stage.
func (f StageFunc) Apply(ctx context.Context, r Record) Result {
	return f(ctx, r)
}

// Pipeline runs stages in order.
type Pipeline struct {
	stages []Stage
}

// NewPipeline builds a pipeline from stages.
func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// DefaultPipeline is the process pipeline: merge scope fields, stamp level
// and time, correlate with the current span, drop noise, sanitize, redact.
func DefaultPipeline(cfg *Config) (*Pipeline, error) {
	stages := []Stage{
		MergeContext(),
		StampLevelAndTime(),
		CorrelateSpan(),
		DropNoise(cfg.Noise...),
		SanitizeEvent(),
	}
	if cfg.Redaction.Enabled {
		r, err := NewRedactor(cfg.Redaction)
		if err != nil {
			return nil, err
		}
		stages = append(stages, r)
	}
	return NewPipeline(stages...), nil
}

// Run applies every stage to a copy of r. It returns false when a stage
// dropped the record. A panicking stage does not lose the record: the
// remaining stages are skipped and the record is sanitized with the panic
// noted under log_pipeline_error.
func (p *Pipeline) Run(ctx context.Context, r Record) (out Record, ok bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if r.Event == nil {
		r.Event = Event{}
	} else {
		r.Event = r.Event.clone()
	}
	if p == nil {
		return r, true
	}

	defer func() {
		if rec := recover(); rec != nil {
			ev := r.Event.clone()
			ev[pipelineErrorKey] = fmt.Sprintf("stage panicked: %s", describeAny(rec))
			out = Record{Level: r.Level, Time: r.Time, Event: sanitizeEvent(ev)}
			ok = true
		}
	}()

	for _, s := range p.stages {
		res := s.Apply(ctx, r)
		if res.Dropped {
			return Record{}, false
		}
		r = res.Record
		if r.Event == nil {
			r.Event = Event{}
		}
	}
	return r, true
}
