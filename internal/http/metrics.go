package http

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/startswithzed/observability/internal/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const (
	httpInstrumentationName = "github.com/startswithzed/observability/internal/http"
	metricsStartKey         = "pricewatch.metrics_start"
)

// Metrics records request counts, latency, response size and in-flight
// requests as OTel instruments.
type Metrics struct {
	meter          metric.Meter
	logger         *logging.Logger
	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	responseSize   metric.Int64Histogram
	activeRequests metric.Int64UpDownCounter
}

// NewMetrics creates the hook. Instruments that fail to register are logged
// and skipped.
func NewMetrics(mp metric.MeterProvider, logger *logging.Logger) *Metrics {
	if logger == nil {
		logger = logging.NewNop()
	}

	m := &Metrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	ctx := context.Background()
	var err error

	m.requestsTotal, err = m.meter.Int64Counter(
		"pricewatch.http.requests_total",
		metric.WithDescription("Total HTTP requests labeled by method, route and status code."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "metric_create_failed", zap.String("metric", "pricewatch.http.requests_total"), zap.Error(err))
	}

	m.requestDur, err = m.meter.Float64Histogram(
		"pricewatch.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds, labeled by method, route and status code."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		m.logger.Warn(ctx, "metric_create_failed", zap.String("metric", "pricewatch.http.request_duration_seconds"), zap.Error(err))
	}

	m.responseSize, err = m.meter.Int64Histogram(
		"pricewatch.http.response_size_bytes",
		metric.WithDescription("HTTP response body size in bytes."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 5000, 10000, 50000, 100000, 500000),
	)
	if err != nil {
		m.logger.Warn(ctx, "metric_create_failed", zap.String("metric", "pricewatch.http.response_size_bytes"), zap.Error(err))
	}

	m.activeRequests, err = m.meter.Int64UpDownCounter(
		"pricewatch.http.active_requests",
		metric.WithDescription("Number of currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn(ctx, "metric_create_failed", zap.String("metric", "pricewatch.http.active_requests"), zap.Error(err))
	}
}

func (*Metrics) Name() string { return "metrics" }

func (m *Metrics) Before(c echo.Context) error {
	c.Set(metricsStartKey, time.Now())
	if m.activeRequests != nil {
		m.activeRequests.Add(c.Request().Context(), 1)
	}
	return nil
}

func (m *Metrics) After(c echo.Context, _ error) {
	ctx := c.Request().Context()
	attrs := metric.WithAttributes(
		attribute.String("method", c.Request().Method),
		attribute.String("endpoint", routeOf(c)),
		attribute.Int("status", c.Response().Status),
	)

	if m.requestsTotal != nil {
		m.requestsTotal.Add(ctx, 1, attrs)
	}
	if start, ok := c.Get(metricsStartKey).(time.Time); ok && m.requestDur != nil {
		m.requestDur.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	if m.responseSize != nil {
		m.responseSize.Record(ctx, c.Response().Size, attrs)
	}
	if m.activeRequests != nil {
		m.activeRequests.Add(ctx, -1)
	}
}
