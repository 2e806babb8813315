package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry provides in-memory telemetry for testing.
type TestTelemetry struct {
	*Telemetry

	SpanRecorder *tracetest.SpanRecorder
	MetricReader *TestMetricReader
}

// NewTestTelemetry creates telemetry with synchronous in-memory recording.
// Spans are visible as soon as they end; metrics are collected on demand.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.ServiceName = "pricewatch-test"
	res := NewResource(cfg.ServiceName, "test", cfg.ServiceVersion)

	spanRecorder := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(
		trace.WithSpanProcessor(spanRecorder),
		trace.WithResource(res.OTel()),
	)

	metricReader := newTestMetricReader()
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(metricReader.reader),
		sdkmetric.WithResource(res.OTel()),
	)

	t := &Telemetry{
		config:         cfg,
		resource:       res,
		tracerProvider: tp,
		meterProvider:  mp,
	}
	t.healthy.Store(true)

	return &TestTelemetry{
		Telemetry:    t,
		SpanRecorder: spanRecorder,
		MetricReader: metricReader,
	}
}

// Spans returns all ended spans.
func (t *TestTelemetry) Spans() []trace.ReadOnlySpan {
	return t.SpanRecorder.Ended()
}

// SpanByName finds a span by name, or nil if not found.
func (t *TestTelemetry) SpanByName(name string) trace.ReadOnlySpan {
	for _, span := range t.Spans() {
		if span.Name() == name {
			return span
		}
	}
	return nil
}

// AssertSpanExists verifies a span with the given name was recorded.
func (t *TestTelemetry) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	if t.SpanByName(name) == nil {
		tb.Errorf("expected span %q not found, got: %v", name, t.spanNames())
	}
}

// AssertSpanAttribute verifies a span has the expected attribute.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, spanName string, key string, expected interface{}) {
	tb.Helper()
	span := t.SpanByName(spanName)
	if span == nil {
		tb.Fatalf("span %q not found", spanName)
	}

	for _, attr := range span.Attributes() {
		if string(attr.Key) == key {
			got := attrValue(attr.Value)
			if got != expected {
				tb.Errorf("span %q attribute %q: got %v, want %v", spanName, key, got, expected)
			}
			return
		}
	}
	tb.Errorf("span %q missing attribute %q", spanName, key)
}

// spanNames returns names of all recorded spans.
func (t *TestTelemetry) spanNames() []string {
	spans := t.Spans()
	names := make([]string, len(spans))
	for i, span := range spans {
		names[i] = span.Name()
	}
	return names
}

// attrValue extracts the value from an attribute.
func attrValue(v attribute.Value) interface{} {
	switch v.Type() {
	case attribute.STRING:
		return v.AsString()
	case attribute.INT64:
		return v.AsInt64()
	case attribute.FLOAT64:
		return v.AsFloat64()
	case attribute.BOOL:
		return v.AsBool()
	default:
		return v.AsInterface()
	}
}

// TestMetricReader wraps the SDK's ManualReader for testing.
type TestMetricReader struct {
	reader *sdkmetric.ManualReader
}

func newTestMetricReader() *TestMetricReader {
	return &TestMetricReader{reader: sdkmetric.NewManualReader()}
}

// Collect returns the current state of every instrument.
func (r *TestMetricReader) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	err := r.reader.Collect(ctx, &rm)
	return rm, err
}

// Sum returns the summed int64 counter value for name across all data points,
// and whether the metric was found.
func (r *TestMetricReader) Sum(ctx context.Context, name string) (int64, bool) {
	rm, err := r.Collect(ctx)
	if err != nil {
		return 0, false
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				return 0, false
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total, true
		}
	}
	return 0, false
}

// Has reports whether a metric with the given name has been recorded.
func (r *TestMetricReader) Has(ctx context.Context, name string) bool {
	rm, err := r.Collect(ctx)
	if err != nil {
		return false
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return true
			}
		}
	}
	return false
}

// InMemoryFactory is an ExporterFactory that never touches the network.
// Every call returns a new exporter so tests can tell instances apart.
type InMemoryFactory struct {
	// Err, when set, is returned for the signals listed in FailSignals
	// (all signals when FailSignals is empty).
	Err         error
	FailSignals []string

	mu    sync.Mutex
	calls int
}

// Calls returns the number of exporters requested so far.
func (f *InMemoryFactory) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *InMemoryFactory) fail(signal string) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.Err == nil {
		return nil
	}
	if len(f.FailSignals) == 0 {
		return f.Err
	}
	for _, s := range f.FailSignals {
		if s == signal {
			return f.Err
		}
	}
	return nil
}

// SpanExporter implements ExporterFactory.
func (f *InMemoryFactory) SpanExporter(context.Context, *Config) (trace.SpanExporter, error) {
	if err := f.fail(SignalTraces); err != nil {
		return nil, err
	}
	return tracetest.NewInMemoryExporter(), nil
}

// MetricExporter implements ExporterFactory.
func (f *InMemoryFactory) MetricExporter(context.Context, *Config) (sdkmetric.Exporter, error) {
	if err := f.fail(SignalMetrics); err != nil {
		return nil, err
	}
	return &MemoryMetricExporter{}, nil
}

// LogExporter implements ExporterFactory.
func (f *InMemoryFactory) LogExporter(context.Context, *Config) (sdklog.Exporter, error) {
	if err := f.fail(SignalLogs); err != nil {
		return nil, err
	}
	return &MemoryLogExporter{}, nil
}

// ErrExporterClosed is returned by memory exporters after Shutdown.
var ErrExporterClosed = errors.New("exporter closed")

// MemoryMetricExporter stores exported metrics.
type MemoryMetricExporter struct {
	mu       sync.Mutex
	closed   bool
	exported []metricdata.ResourceMetrics
}

// Temporality implements sdkmetric.Exporter.
func (e *MemoryMetricExporter) Temporality(k sdkmetric.InstrumentKind) metricdata.Temporality {
	return sdkmetric.DefaultTemporalitySelector(k)
}

// Aggregation implements sdkmetric.Exporter.
func (e *MemoryMetricExporter) Aggregation(k sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(k)
}

// Export implements sdkmetric.Exporter.
func (e *MemoryMetricExporter) Export(_ context.Context, rm *metricdata.ResourceMetrics) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrExporterClosed
	}
	e.exported = append(e.exported, *rm)
	return nil
}

// ForceFlush implements sdkmetric.Exporter.
func (e *MemoryMetricExporter) ForceFlush(context.Context) error { return nil }

// Shutdown implements sdkmetric.Exporter.
func (e *MemoryMetricExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

// Exported returns all exported batches.
func (e *MemoryMetricExporter) Exported() []metricdata.ResourceMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]metricdata.ResourceMetrics(nil), e.exported...)
}

// MemoryLogExporter stores exported log records.
type MemoryLogExporter struct {
	mu      sync.Mutex
	closed  bool
	records []sdklog.Record
}

// Export implements sdklog.Exporter.
func (e *MemoryLogExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrExporterClosed
	}
	// Records are reused by the processor once Export returns
	for i := range records {
		e.records = append(e.records, records[i].Clone())
	}
	return nil
}

// ForceFlush implements sdklog.Exporter.
func (e *MemoryLogExporter) ForceFlush(context.Context) error { return nil }

// Shutdown implements sdklog.Exporter.
func (e *MemoryLogExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

// Records returns all exported log records.
func (e *MemoryLogExporter) Records() []sdklog.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]sdklog.Record(nil), e.records...)
}
