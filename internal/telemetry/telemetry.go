package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Signal names used in failure reports.
const (
	SignalTraces  = "traces"
	SignalMetrics = "metrics"
	SignalLogs    = "logs"
)

// SignalError records why a signal fell back to its no-op provider.
type SignalError struct {
	Signal string
	Err    error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("%s exporter unavailable: %v", e.Signal, e.Err)
}

func (e *SignalError) Unwrap() error {
	return e.Err
}

// Exporters holds the exporter instances backing the providers. A nil field
// means that signal is not exported.
type Exporters struct {
	Span   trace.SpanExporter
	Metric sdkmetric.Exporter
	Log    sdklog.Exporter
}

// Telemetry owns the trace, metric and log providers of one process.
//
// Exporter failures never crash the application: the affected signal falls
// back to a no-op provider and the failure is recorded.
type Telemetry struct {
	config   *Config
	resource *Resource

	exporters      Exporters
	tracerProvider *trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	loggerProvider *sdklog.LoggerProvider

	failures []error

	// Health tracking
	healthy  atomic.Bool
	degraded atomic.Bool
}

// Option configures New.
type Option func(*options)

type options struct {
	factory  ExporterFactory
	resource *Resource
	globals  bool
}

// WithExporterFactory overrides the OTLP exporters (for testing).
func WithExporterFactory(f ExporterFactory) Option {
	return func(o *options) {
		o.factory = f
	}
}

// WithResource reuses an existing process identity instead of building one.
func WithResource(r *Resource) Option {
	return func(o *options) {
		o.resource = r
	}
}

// WithoutGlobals keeps the providers out of the OTel global registry.
func WithoutGlobals() Option {
	return func(o *options) {
		o.globals = false
	}
}

// New builds the Resource and the three providers.
//
// It only fails on invalid configuration. If telemetry is disabled the
// instance carries no providers and callers get the OTel no-op globals.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	o := options{factory: OTLPFactory{}, globals: true}
	for _, opt := range opts {
		opt(&o)
	}

	t := &Telemetry{
		config:   cfg,
		resource: o.resource,
	}
	if t.resource == nil {
		t.resource = NewResource(cfg.ServiceName, cfg.Environment, cfg.ServiceVersion)
	}
	t.healthy.Store(true)

	if !cfg.Enabled {
		return t, nil
	}

	if exp, err := o.factory.SpanExporter(ctx, cfg); err != nil {
		t.recordFailure(SignalTraces, err)
	} else {
		t.exporters.Span = exp
		t.tracerProvider = newTracerProvider(cfg, t.resource, exp)
	}

	if cfg.Metrics.Enabled {
		if exp, err := o.factory.MetricExporter(ctx, cfg); err != nil {
			t.recordFailure(SignalMetrics, err)
		} else {
			t.exporters.Metric = exp
			t.meterProvider = newMeterProvider(cfg, t.resource, exp)
		}
	}

	if exp, err := o.factory.LogExporter(ctx, cfg); err != nil {
		t.recordFailure(SignalLogs, err)
	} else {
		t.exporters.Log = exp
		t.loggerProvider = newLoggerProvider(cfg, t.resource, exp)
	}

	if o.globals {
		t.installGlobals()
	}

	return t, nil
}

func (t *Telemetry) installGlobals() {
	if t.tracerProvider != nil {
		otel.SetTracerProvider(t.tracerProvider)
	}
	if t.meterProvider != nil {
		otel.SetMeterProvider(t.meterProvider)
	}
	if t.loggerProvider != nil {
		global.SetLoggerProvider(t.loggerProvider)
	}

	// W3C Trace Context plus Baggage
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

// Tracer returns a tracer for the given instrumentation scope.
//
// Falls back to the global provider if telemetry is disabled or degraded.
func (t *Telemetry) Tracer(name string, opts ...oteltrace.TracerOption) oteltrace.Tracer {
	if t == nil || t.tracerProvider == nil {
		return otel.GetTracerProvider().Tracer(name, opts...)
	}
	return t.tracerProvider.Tracer(name, opts...)
}

// Meter returns a meter for the given instrumentation scope.
//
// Falls back to the global provider if telemetry is disabled or degraded.
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if t == nil || t.meterProvider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return t.meterProvider.Meter(name, opts...)
}

// LoggerProvider returns the log provider for the zap bridge.
//
// Returns nil if logs are not exported.
func (t *Telemetry) LoggerProvider() log.LoggerProvider {
	if t == nil || t.loggerProvider == nil {
		return nil
	}
	return t.loggerProvider
}

// Resource returns the process identity.
func (t *Telemetry) Resource() *Resource {
	if t == nil {
		return nil
	}
	return t.resource
}

// Exporters returns the exporter instances owned by this Telemetry.
func (t *Telemetry) Exporters() Exporters {
	if t == nil {
		return Exporters{}
	}
	return t.exporters
}

// Failures returns the exporter construction failures, one per signal.
func (t *Telemetry) Failures() []error {
	if t == nil {
		return nil
	}
	return append([]error(nil), t.failures...)
}

// Shutdown flushes and stops all providers.
//
// Uses the configured shutdown timeout when ctx has no deadline.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}

	// Use configured timeout if no deadline set
	if _, ok := ctx.Deadline(); !ok && t.config != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Shutdown.Timeout.Duration())
		defer cancel()
	}

	var errs []error

	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}

	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if t.loggerProvider != nil {
		if err := t.loggerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("logger provider shutdown: %w", err))
		}
	}

	t.healthy.Store(false)
	return errors.Join(errs...)
}

// ForceFlush immediately exports all pending telemetry data.
func (t *Telemetry) ForceFlush(ctx context.Context) error {
	if t == nil {
		return nil
	}

	var errs []error

	if t.tracerProvider != nil {
		if err := t.tracerProvider.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace flush: %w", err))
		}
	}

	if t.meterProvider != nil {
		if err := t.meterProvider.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter flush: %w", err))
		}
	}

	if t.loggerProvider != nil {
		if err := t.loggerProvider.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("log flush: %w", err))
		}
	}

	return errors.Join(errs...)
}

// HealthStatus reports provider health.
type HealthStatus struct {
	Healthy  bool
	Degraded bool
}

// Health returns the current telemetry health status.
func (t *Telemetry) Health() HealthStatus {
	if t == nil {
		return HealthStatus{Healthy: false, Degraded: true}
	}
	return HealthStatus{
		Healthy:  t.healthy.Load(),
		Degraded: t.degraded.Load(),
	}
}

// IsEnabled returns true if telemetry is enabled and healthy.
func (t *Telemetry) IsEnabled() bool {
	if t == nil || t.config == nil {
		return false
	}
	return t.config.Enabled && t.healthy.Load()
}

// recordFailure marks telemetry as degraded and keeps the cause for the
// one-time startup warning.
func (t *Telemetry) recordFailure(signal string, err error) {
	t.degraded.Store(true)
	t.failures = append(t.failures, &SignalError{Signal: signal, Err: err})
}
