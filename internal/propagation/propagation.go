// Package propagation moves trace context across process boundaries.
//
// A producer injects the active span context into a Carrier that travels with
// the unit of work (task payload, message headers). The consumer extracts it
// and starts a span that links to the producer rather than parenting under
// it, so the consumer's trace stays independent while remaining navigable
// from the producer's.
package propagation

import (
	"context"

	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Standard W3C carrier keys.
const (
	TraceparentKey = "traceparent"
	TracestateKey  = "tracestate"
	BaggageKey     = "baggage"
)

// Propagator is the W3C TraceContext plus Baggage propagator. It is used
// directly instead of the OTel global so carriers are written the same way
// whether or not telemetry was initialized.
var Propagator propagation.TextMapPropagator = propagation.NewCompositeTextMapPropagator(
	propagation.TraceContext{},
	propagation.Baggage{},
)

// Inject writes the span context of ctx into carrier. When ctx carries no
// valid span the carrier is left unmodified.
func Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	if ctx == nil || carrier == nil {
		return
	}
	if c, ok := carrier.(*Carrier); ok && c == nil {
		return
	}
	if !trace.SpanContextFromContext(ctx).IsValid() {
		return
	}
	Propagator.Inject(ctx, carrier)
}

// Extract parses carrier into a context derived from ctx. Missing or
// malformed entries yield a context whose span context is invalid.
func Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if carrier == nil {
		return ctx
	}
	if c, ok := carrier.(*Carrier); ok && c == nil {
		return ctx
	}
	return Propagator.Extract(ctx, carrier)
}

// CarrierFromContext returns a new carrier holding the span context of ctx.
func CarrierFromContext(ctx context.Context) *Carrier {
	c := NewCarrier()
	Inject(ctx, c)
	return c
}

// StartLinkedSpan starts a span named name whose parent is the span in ctx
// (a root span when there is none). When extracted holds a valid span
// context the new span carries a link to it. Baggage from extracted is merged
// into the returned context, local members winning on conflict.
func StartLinkedSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	extracted context.Context,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	if extracted != nil {
		if sc := trace.SpanContextFromContext(extracted); sc.IsValid() {
			opts = append(opts, trace.WithLinks(trace.Link{SpanContext: sc}))
		}
		ctx = mergeBaggage(ctx, baggage.FromContext(extracted))
	}

	return tracer.Start(ctx, name, opts...)
}

func mergeBaggage(ctx context.Context, remote baggage.Baggage) context.Context {
	if remote.Len() == 0 {
		return ctx
	}
	local := baggage.FromContext(ctx)
	if local.Len() == 0 {
		return baggage.ContextWithBaggage(ctx, remote)
	}

	merged := remote
	for _, m := range local.Members() {
		if b, err := merged.SetMember(m); err == nil {
			merged = b
		}
	}
	return baggage.ContextWithBaggage(ctx, merged)
}
