package instrument

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// QueueTargetName names the queue target.
const QueueTargetName = "queue"

const queueInstrumentationName = "github.com/startswithzed/observability/internal/instrument/queue"

// QueueTarget enables producer spans and publish/process duration samples
// for the NATS task queue.
func QueueTarget() Target {
	return Target{
		Name:     QueueTargetName,
		Activate: func() error {
			queueMessaging.Store(NewMessaging(otel.GetTracerProvider(), otel.GetMeterProvider()))
			return nil
		},
	}
}

var disabledMessaging = &Messaging{}

var queueMessaging atomic.Pointer[Messaging]

// Messaging records queue telemetry. A disabled Messaging starts no spans
// and records nothing.
type Messaging struct {
	enabled    bool
	tracer     trace.Tracer
	publishDur metric.Float64Histogram
	processDur metric.Float64Histogram
}

// QueueMessaging returns a Messaging bound to the global providers when the
// queue target is active, and a disabled one otherwise.
// The instruments are created once, when the target activates.
func QueueMessaging() *Messaging {
	if !Active(QueueTargetName) {
		return disabledMessaging
	}
	if m := queueMessaging.Load(); m != nil {
		return m
	}
	m := NewMessaging(otel.GetTracerProvider(), otel.GetMeterProvider())
	if queueMessaging.CompareAndSwap(nil, m) {
		return m
	}
	return queueMessaging.Load()
}

// NewMessaging returns an enabled Messaging using the given providers.
func NewMessaging(tp trace.TracerProvider, mp metric.MeterProvider) *Messaging {
	meter := mp.Meter(queueInstrumentationName)
	m := &Messaging{
		enabled: true,
		tracer:  tp.Tracer(queueInstrumentationName),
	}

	// Instrument creation errors leave the histogram nil; recording skips it
	m.publishDur, _ = meter.Float64Histogram(
		"messaging.client.operation.duration",
		metric.WithDescription("Duration of publishing a task to the queue."),
		metric.WithUnit("s"),
	)
	m.processDur, _ = meter.Float64Histogram(
		"messaging.process.duration",
		metric.WithDescription("Duration of processing a task received from the queue."),
		metric.WithUnit("s"),
	)
	return m
}

// Enabled reports whether the queue target is in effect.
func (m *Messaging) Enabled() bool {
	return m != nil && m.enabled
}

// Attributes returns the semantic attributes for a queue operation.
func Attributes(subject, operation string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.system", "nats"),
		attribute.String("messaging.destination.name", subject),
		attribute.String("messaging.operation.name", operation),
	}
}

// StartPublish starts a producer span for subject. The returned function
// ends the span and records the publish duration.
func (m *Messaging) StartPublish(ctx context.Context, subject string) (context.Context, func(error)) {
	if !m.Enabled() {
		return ctx, func(error) {}
	}

	start := time.Now()
	attrs := Attributes(subject, "publish")
	ctx, span := m.tracer.Start(ctx, "publish "+subject,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attrs...),
	)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if m.publishDur != nil {
			m.publishDur.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(withOutcome(attrs, err)...))
		}
	}
}

// RecordProcess records the processing duration of one task.
func (m *Messaging) RecordProcess(ctx context.Context, subject string, d time.Duration, err error) {
	if !m.Enabled() || m.processDur == nil {
		return
	}
	attrs := Attributes(subject, "process")
	m.processDur.Record(ctx, d.Seconds(), metric.WithAttributes(withOutcome(attrs, err)...))
}

func withOutcome(attrs []attribute.KeyValue, err error) []attribute.KeyValue {
	out := append([]attribute.KeyValue(nil), attrs...)
	if err != nil {
		return append(out, attribute.String("error.type", "failed"))
	}
	return out
}
