package logging

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zapcore"
)

var (
	testTraceID = trace.TraceID{0xab, 0xc1, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef, 0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd}
	testSpanID  = trace.SpanID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
)

func spanContext(ctx context.Context) context.Context {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    testTraceID,
		SpanID:     testSpanID,
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(ctx, sc)
}

func record(ev Event) Record {
	return Record{
		Level: zapcore.InfoLevel,
		Time:  time.Date(2025, 3, 4, 5, 6, 7, 8, time.UTC),
		Event: ev,
	}
}

func TestMergeContext(t *testing.T) {
	ctx := Bind(context.Background(), "request_id", "r-1", "path", "/x")

	res := MergeContext().Apply(ctx, record(Event{EventKey: "e", "path": "/own"}))
	require.False(t, res.Dropped)
	assert.Equal(t, "r-1", res.Record.Event["request_id"])
	assert.Equal(t, "/own", res.Record.Event["path"], "event fields win over bound fields")

	res = MergeContext().Apply(context.Background(), record(Event{EventKey: "e"}))
	assert.Equal(t, Event{EventKey: "e"}, res.Record.Event)
}

func TestStampLevelAndTime(t *testing.T) {
	res := StampLevelAndTime().Apply(context.Background(), record(Event{EventKey: "e"}))

	assert.Equal(t, "info", res.Record.Event[LevelKey])
	assert.Equal(t, "2025-03-04T05:06:07.000000008Z", res.Record.Event[TimestampKey])

	rec := record(Event{})
	rec.Level = TraceLevel
	res = StampLevelAndTime().Apply(context.Background(), rec)
	assert.Equal(t, "trace", res.Record.Event[LevelKey])
}

func TestCorrelateSpan(t *testing.T) {
	res := CorrelateSpan().Apply(spanContext(context.Background()), record(Event{}))
	assert.Equal(t, "abc123456789abcdef0123456789abcd", res.Record.Event[TraceIDKey])
	assert.Equal(t, "0102030405060708", res.Record.Event[SpanIDKey])

	res = CorrelateSpan().Apply(context.Background(), record(Event{}))
	assert.NotContains(t, res.Record.Event, TraceIDKey)
	assert.NotContains(t, res.Record.Event, SpanIDKey)
}

func TestDropNoise(t *testing.T) {
	stage := DropNoise(DefaultNoiseEvents...)

	assert.True(t, stage.Apply(context.Background(), record(Event{EventKey: "request_started"})).Dropped)
	assert.True(t, stage.Apply(context.Background(), record(Event{EventKey: "request_finished"})).Dropped)
	assert.False(t, stage.Apply(context.Background(), record(Event{EventKey: "request_failed"})).Dropped)
	assert.False(t, stage.Apply(context.Background(), record(Event{})).Dropped)
}

func TestStages_Deterministic(t *testing.T) {
	ctx := spanContext(Bind(context.Background(), "k", "v"))
	stages := []Stage{MergeContext(), StampLevelAndTime(), CorrelateSpan(), DropNoise("x"), SanitizeEvent()}

	for _, s := range stages {
		a := s.Apply(ctx, record(Event{EventKey: "e", "n": 1}))
		b := s.Apply(ctx, record(Event{EventKey: "e", "n": 1}))
		assert.Equal(t, a, b)
	}
}

func TestPipeline_Run(t *testing.T) {
	p, err := DefaultPipeline(NewDefaultConfig())
	require.NoError(t, err)

	input := Event{EventKey: "product_created", "n": 3}
	out, ok := p.Run(spanContext(context.Background()), record(input))
	require.True(t, ok)

	assert.Equal(t, int64(3), out.Event["n"])
	assert.Equal(t, "info", out.Event[LevelKey])
	assert.Len(t, out.Event[TraceIDKey], 32)
	assert.Equal(t, 3, input["n"], "input event is not modified")
	assert.NotContains(t, input, LevelKey)
}

func TestPipeline_DropShortCircuits(t *testing.T) {
	called := false
	after := StageFunc(func(_ context.Context, r Record) Result {
		called = true
		return Next(r)
	})

	p := NewPipeline(DropNoise("request_started"), after)
	_, ok := p.Run(context.Background(), record(Event{EventKey: "request_started"}))

	assert.False(t, ok)
	assert.False(t, called)
}

func TestPipeline_PanickingStage(t *testing.T) {
	bad := StageFunc(func(context.Context, Record) Result { panic("stage bug") })
	p := NewPipeline(StampLevelAndTime(), bad)

	var (
		out Record
		ok  bool
	)
	require.NotPanics(t, func() {
		out, ok = p.Run(context.Background(), record(Event{EventKey: "e", "id": uuid.Nil}))
	})
	require.True(t, ok)
	assert.Equal(t, "e", out.Event[EventKey])
	assert.Equal(t, uuid.Nil.String(), out.Event["id"])
	assert.Contains(t, out.Event[pipelineErrorKey], "stage bug")
}

func TestPipeline_NilSafe(t *testing.T) {
	var p *Pipeline
	out, ok := p.Run(context.Background(), Record{})
	assert.True(t, ok)
	assert.NotNil(t, out.Event)
}

// Request markers vanish while domain events carry correlation and
// string-coerced identifiers.
func TestPipeline_RequestScenario(t *testing.T) {
	tl := NewTestLogger()
	ctx := spanContext(NewScope(context.Background()))
	productID := uuid.New()

	tl.Emit(ctx, zapcore.InfoLevel, Event{EventKey: "request_started"})
	tl.Emit(ctx, zapcore.InfoLevel, Event{EventKey: "product_created", "product_id": productID})

	entries := tl.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "product_created", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Len(t, fields[TraceIDKey], 32)
	assert.Len(t, fields[SpanIDKey], 16)
	assert.Equal(t, productID.String(), fields["product_id"])
	tl.AssertTraceCorrelation(t, "product_created")
}
