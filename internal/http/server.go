// Package http provides the pricewatch HTTP API server.
//
// Requests pass through an explicit ordered hook list (see DefaultHooks)
// instead of an implicit middleware stack. Every error or panic that escapes
// a handler reaches a single error boundary that records it on the request
// span and answers with a generic JSON body carrying the trace id.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/startswithzed/observability/internal/config"
	"github.com/startswithzed/observability/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CheckFunc reports whether a dependency is reachable.
type CheckFunc func(ctx context.Context) error

type readinessCheck struct {
	name  string
	check CheckFunc
}

// Server provides HTTP endpoints for pricewatch.
type Server struct {
	echo     *echo.Echo
	logger   *logging.Logger
	config   *Config
	registry *prometheus.Registry

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	hooks          []Hook
	checks         []readinessCheck
	degraded       func() []error
}

// Config holds HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	ServiceName     string
	Version         string
}

// ConfigFromApp maps the application config onto server settings.
func ConfigFromApp(app *config.Config, serviceName string) *Config {
	return &Config{
		Host:            app.HTTP.Host,
		Port:            app.HTTP.Port,
		ShutdownTimeout: app.HTTP.ShutdownTimeout.Duration(),
		ServiceName:     serviceName,
		Version:         app.Service.Version,
	}
}

// Option configures a Server.
type Option func(*Server)

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		s.tracerProvider = tp
	}
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Server) {
		s.meterProvider = mp
	}
}

// WithHooks replaces the default hook list.
func WithHooks(hooks ...Hook) Option {
	return func(s *Server) {
		s.hooks = hooks
	}
}

// WithTelemetryFailures reports bootstrap degradations on the readiness
// endpoint. They do not make the service unready.
func WithTelemetryFailures(fn func() []error) Option {
	return func(s *Server) {
		s.degraded = fn
	}
}

// NewServer creates a new HTTP server.
func NewServer(logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host:            "0.0.0.0",
			Port:            8000,
			ShutdownTimeout: 10 * time.Second,
			ServiceName:     config.DefaultAPIServiceName,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		logger:   logger,
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracerProvider == nil {
		s.tracerProvider = otel.GetTracerProvider()
	}
	if s.meterProvider == nil {
		s.meterProvider = otel.GetMeterProvider()
	}
	if s.hooks == nil {
		s.hooks = s.DefaultHooks()
	}
	if err := s.registerCollectors(); err != nil {
		return nil, err
	}

	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.RequestID())
	e.Use(Chain(s.hooks...))

	s.registerRoutes()

	return s, nil
}

// DefaultHooks returns the standard hook order: log scope, server span,
// trace header, access log, metrics.
func (s *Server) DefaultHooks() []Hook {
	return []Hook{
		NewRequestScope(s.logger),
		NewServerSpan(s.tracerProvider),
		TraceHeader{},
		NewAccessLog(s.logger),
		NewMetrics(s.meterProvider, s.logger),
	}
}

func (s *Server) registerCollectors() error {
	buildInfo := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pricewatch",
		Name:      "build_info",
		Help:      "Build information of the running service.",
	}, []string{"service", "version"})
	buildInfo.WithLabelValues(s.config.ServiceName, s.config.Version).Set(1)

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		buildInfo,
	} {
		if err := s.registry.Register(c); err != nil {
			return fmt.Errorf("register prometheus collector: %w", err)
		}
	}
	return nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleLive)
	s.echo.GET("/healthz/live", s.handleLive)
	s.echo.GET("/healthz/ready", s.handleReady)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
}

// Echo exposes the router so domain packages can register their routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// AddReadinessCheck appends a dependency check. Checks run in the order
// they were added and the first failure names the reason.
func (s *Server) AddReadinessCheck(name string, fn CheckFunc) {
	s.checks = append(s.checks, readinessCheck{name: name, check: fn})
}

// handleLive reports that the process is serving requests.
func (s *Server) handleLive(c echo.Context) error {
	ctx := c.Request().Context()
	s.logger.Info(ctx, "liveness_check_triggered")
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleReady runs the readiness checks in order.
func (s *Server) handleReady(c echo.Context) error {
	ctx := c.Request().Context()
	s.logger.Info(ctx, "readiness_check_triggered")

	for _, rc := range s.checks {
		if err := rc.check(ctx); err != nil {
			s.logger.Error(ctx, "readiness_check_failed_"+rc.name, zap.Error(err))
			return c.JSON(http.StatusServiceUnavailable, ReadinessResponse{
				Status: "unready",
				Reason: rc.name,
			})
		}
	}

	resp := ReadinessResponse{Status: "ready"}
	if s.degraded != nil {
		for _, err := range s.degraded() {
			resp.Degraded = append(resp.Degraded, err.Error())
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// handleError is the error boundary. Client errors are answered with their
// own status and message. Anything else is recorded on the request span,
// logged and answered with a generic 500.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	ctx := c.Request().Context()
	sc := trace.SpanContextFromContext(ctx)
	body := ErrorResponse{Detail: http.StatusText(http.StatusInternalServerError)}
	if sc.IsValid() {
		body.TraceID = sc.TraceID().String()
		c.Response().Header().Set(HeaderTraceID, body.TraceID)
	}

	code := http.StatusInternalServerError
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Code < http.StatusInternalServerError {
		code = he.Code
		body.Detail = fmt.Sprint(he.Message)
	} else {
		span := trace.SpanFromContext(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error(ctx, "unhandled_exception", zap.Error(err))
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(code)
	} else {
		werr = c.JSON(code, body)
	}
	if werr != nil {
		s.logger.Warn(ctx, "error_response_failed", zap.Error(werr))
	}
}

// Start starts the HTTP server. It blocks until the server stops and
// returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "http_server_starting", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "http_server_stopping")
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	return s.echo.Shutdown(ctx)
}
