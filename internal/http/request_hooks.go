package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/startswithzed/observability/internal/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// HeaderTraceID carries the request's trace id on every response whose
	// request span is valid.
	HeaderTraceID = "X-Trace-Id"

	// TenantBaggageKey is the baggage member naming the calling tenant.
	TenantBaggageKey = "tenant_id"

	// DefaultTenant is used when the caller sends no tenant baggage.
	DefaultTenant = "default-org"

	unmatchedRoute = "unmatched"
	startTimeKey   = "pricewatch.request_start"
)

// RequestScope opens a fresh log scope for the request and binds the request
// id, method, path and tenant. The tenant is read from inbound baggage and
// stored back into the request baggage so outgoing calls carry it.
type RequestScope struct {
	logger *logging.Logger
}

// NewRequestScope creates the hook. logger is attached to the request
// context for handlers that log through logging.FromContext.
func NewRequestScope(logger *logging.Logger) *RequestScope {
	return &RequestScope{logger: logger}
}

func (*RequestScope) Name() string { return "request_scope" }

func (h *RequestScope) Before(c echo.Context) error {
	req := c.Request()
	ctx := logging.NewScope(req.Context())
	if h.logger != nil {
		ctx = logging.WithLogger(ctx, h.logger)
	}

	bag := baggage.FromContext(propagation.Baggage{}.Extract(ctx, propagation.HeaderCarrier(req.Header)))
	tenant := bag.Member(TenantBaggageKey).Value()
	if tenant == "" {
		tenant = DefaultTenant
		if m, err := baggage.NewMember(TenantBaggageKey, tenant); err == nil {
			if b, err := bag.SetMember(m); err == nil {
				bag = b
			}
		}
	}
	ctx = baggage.ContextWithBaggage(ctx, bag)

	requestID := c.Response().Header().Get(echo.HeaderXRequestID)
	if requestID == "" {
		requestID = req.Header.Get(echo.HeaderXRequestID)
	}
	logging.Bind(ctx,
		"request_id", requestID,
		"method", req.Method,
		"path", req.URL.Path,
		TenantBaggageKey, tenant,
	)

	c.SetRequest(req.WithContext(ctx))
	return nil
}

// ServerSpan continues the caller's trace from the inbound traceparent
// header and opens the server span for the request. Baggage is owned by
// RequestScope and left untouched.
type ServerSpan struct {
	tracer trace.Tracer
}

// NewServerSpan creates the hook.
func NewServerSpan(tp trace.TracerProvider) *ServerSpan {
	return &ServerSpan{tracer: tp.Tracer(httpInstrumentationName)}
}

func (*ServerSpan) Name() string { return "server_span" }

func (h *ServerSpan) Before(c echo.Context) error {
	req := c.Request()
	ctx := propagation.TraceContext{}.Extract(req.Context(), propagation.HeaderCarrier(req.Header))

	route := routeOf(c)
	ctx, _ = h.tracer.Start(ctx, req.Method+" "+route,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("http.route", route),
			attribute.String("url.path", req.URL.Path),
			attribute.String("url.scheme", c.Scheme()),
			attribute.String("client.address", c.RealIP()),
			attribute.String("user_agent.original", req.UserAgent()),
		),
	)
	c.SetRequest(req.WithContext(ctx))
	return nil
}

func (h *ServerSpan) After(c echo.Context, err error) {
	span := trace.SpanFromContext(c.Request().Context())
	status := c.Response().Status
	span.SetAttributes(attribute.Int("http.response.status_code", status))
	// The error boundary already set the status when err != nil
	if status >= http.StatusInternalServerError && err == nil {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
	span.End()
}

// TraceHeader sets X-Trace-Id just before the response headers are written,
// so error responses carry it too.
type TraceHeader struct{}

func (TraceHeader) Name() string { return "trace_header" }

func (TraceHeader) Before(c echo.Context) error {
	c.Response().Before(func() {
		sc := trace.SpanContextFromContext(c.Request().Context())
		if sc.IsValid() {
			c.Response().Header().Set(HeaderTraceID, sc.TraceID().String())
		}
	})
	return nil
}

// AccessLog writes request_started and request_finished. Both events are in
// the default noise list, so they only reach the output when a deployment
// clears it.
type AccessLog struct {
	logger *logging.Logger
}

// NewAccessLog creates the hook.
func NewAccessLog(logger *logging.Logger) *AccessLog {
	return &AccessLog{logger: logger}
}

func (*AccessLog) Name() string { return "access_log" }

func (h *AccessLog) Before(c echo.Context) error {
	c.Set(startTimeKey, time.Now())
	ctx := c.Request().Context()
	h.log(c).Info(ctx, "request_started",
		zap.String("user_agent", c.Request().UserAgent()),
		zap.String("client_ip", c.RealIP()),
	)
	return nil
}

func (h *AccessLog) After(c echo.Context, _ error) {
	ctx := c.Request().Context()
	fields := []zap.Field{
		zap.Int("status_code", c.Response().Status),
		zap.Int64("response_size", c.Response().Size),
	}
	if start, ok := c.Get(startTimeKey).(time.Time); ok {
		fields = append(fields, zap.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000))
	}
	h.log(c).Info(ctx, "request_finished", fields...)
}

func (h *AccessLog) log(c echo.Context) *logging.Logger {
	if h.logger != nil {
		return h.logger
	}
	return logging.FromContext(c.Request().Context())
}

// routeOf returns the matched route template, keeping span names and metric
// labels bounded.
func routeOf(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return unmatchedRoute
}
