package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/startswithzed/observability/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zapcore"
)

const (
	inboundTraceID     = "4bf92f3577b34da6a3ce929d0e0e4736"
	inboundParentID    = "00f067aa0ba902b7"
	inboundTraceparent = "00-" + inboundTraceID + "-" + inboundParentID + "-01"
)

type testServer struct {
	*Server
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
	logs   *logging.TestLogger
}

func setupTestServer(t *testing.T, logCfg *logging.Config, opts ...Option) *testServer {
	t.Helper()
	if logCfg == nil {
		logCfg = logging.NewDefaultConfig()
	}

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	logs := logging.NewTestLoggerWithConfig(logCfg)
	opts = append([]Option{WithTracerProvider(tp), WithMeterProvider(mp)}, opts...)
	server, err := NewServer(logs.Logger, &Config{Host: "127.0.0.1", Port: 8000, ServiceName: "pricewatch-api", Version: "1.0.0"}, opts...)
	require.NoError(t, err)

	return &testServer{Server: server, spans: spans, reader: reader, logs: logs}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) span(t *testing.T, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, sp := range s.spans.Ended() {
		if sp.Name() == name {
			return sp
		}
	}
	t.Fatalf("span %q not recorded", name)
	return nil
}

func spanAttr(sp sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range sp.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(logging.NewNop(), nil)
		require.NoError(t, err)
		assert.NotNil(t, server.Echo())
		assert.Equal(t, "0.0.0.0", server.config.Host)
		assert.Equal(t, 8000, server.config.Port)
		assert.Len(t, server.hooks, 5)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})
}

func TestHandleLive(t *testing.T) {
	s := setupTestServer(t, nil)

	for _, path := range []string{"/health", "/healthz/live"} {
		rec := s.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
	}
}

func TestHandleReady(t *testing.T) {
	dbErr := errors.New("connection refused")

	tests := []struct {
		name       string
		dbErr      error
		cacheErr   error
		wantCode   int
		wantStatus string
		wantReason string
	}{
		{"all dependencies reachable", nil, nil, http.StatusOK, "ready", ""},
		{"database down", dbErr, nil, http.StatusServiceUnavailable, "unready", "db"},
		{"database checked first", dbErr, dbErr, http.StatusServiceUnavailable, "unready", "db"},
		{"cache down", nil, errors.New("dial tcp: timeout"), http.StatusServiceUnavailable, "unready", "redis"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestServer(t, nil)
			s.AddReadinessCheck("db", func(context.Context) error { return tt.dbErr })
			s.AddReadinessCheck("redis", func(context.Context) error { return tt.cacheErr })

			rec := s.do(httptest.NewRequest(http.MethodGet, "/healthz/ready", nil))
			assert.Equal(t, tt.wantCode, rec.Code)

			var resp ReadinessResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantReason, resp.Reason)
			if tt.wantReason != "" {
				s.logs.AssertLogged(t, zapcore.ErrorLevel, "readiness_check_failed_"+tt.wantReason)
			}
		})
	}
}

func TestHandleReady_ReportsTelemetryDegradation(t *testing.T) {
	s := setupTestServer(t, nil, WithTelemetryFailures(func() []error {
		return []error{errors.New("traces: exporter unavailable")}
	}))

	rec := s.do(httptest.NewRequest(http.MethodGet, "/healthz/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, []string{"traces: exporter unavailable"}, resp.Degraded)
}

func TestServerSpan_ContinuesInboundTrace(t *testing.T) {
	s := setupTestServer(t, nil)
	s.Echo().GET("/api/v1/products/:id", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/42", nil)
	req.Header.Set("traceparent", inboundTraceparent)
	rec := s.do(req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, inboundTraceID, rec.Header().Get(HeaderTraceID))

	sp := s.span(t, "GET /api/v1/products/:id")
	assert.Equal(t, inboundTraceID, sp.SpanContext().TraceID().String())
	assert.Equal(t, inboundParentID, sp.Parent().SpanID().String())

	route, ok := spanAttr(sp, "http.route")
	require.True(t, ok)
	assert.Equal(t, "/api/v1/products/:id", route.AsString())
	status, ok := spanAttr(sp, "http.response.status_code")
	require.True(t, ok)
	assert.Equal(t, int64(http.StatusNoContent), status.AsInt64())
	assert.Equal(t, codes.Unset, sp.Status().Code)
}

func TestTraceHeader_NewTrace(t *testing.T) {
	s := setupTestServer(t, nil)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/healthz/live", nil))

	header := rec.Header().Get(HeaderTraceID)
	assert.Len(t, header, 32)
	sp := s.span(t, "GET /healthz/live")
	assert.Equal(t, sp.SpanContext().TraceID().String(), header)
	assert.False(t, sp.Parent().IsValid())
}

func TestErrorBoundary(t *testing.T) {
	tests := []struct {
		name    string
		handler echo.HandlerFunc
		wantErr string
	}{
		{
			name:    "returned error",
			handler: func(echo.Context) error { return errors.New("database exploded") },
			wantErr: "database exploded",
		},
		{
			name:    "panic",
			handler: func(echo.Context) error { panic("nil map write") },
			wantErr: "panic: nil map write",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestServer(t, nil)
			s.Echo().GET("/boom", tt.handler)

			rec := s.do(httptest.NewRequest(http.MethodGet, "/boom", nil))
			assert.Equal(t, http.StatusInternalServerError, rec.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "Internal Server Error", body.Detail)
			assert.Len(t, body.TraceID, 32)
			assert.Equal(t, body.TraceID, rec.Header().Get(HeaderTraceID))
			assert.NotContains(t, rec.Body.String(), tt.wantErr)

			sp := s.span(t, "GET /boom")
			assert.Equal(t, body.TraceID, sp.SpanContext().TraceID().String())
			assert.Equal(t, codes.Error, sp.Status().Code)
			assert.Equal(t, tt.wantErr, sp.Status().Description)
			require.NotEmpty(t, sp.Events())
			assert.Equal(t, "exception", sp.Events()[0].Name)

			s.logs.AssertLogged(t, zapcore.ErrorLevel, "unhandled_exception")
			ev := s.logs.Event("unhandled_exception")
			assert.Equal(t, body.TraceID, ev[logging.TraceIDKey])
		})
	}
}

func TestErrorBoundary_ClientError(t *testing.T) {
	s := setupTestServer(t, nil)
	s.Echo().POST("/things", func(echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	})

	rec := s.do(httptest.NewRequest(http.MethodPost, "/things", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "name is required", body.Detail)
	assert.Equal(t, body.TraceID, rec.Header().Get(HeaderTraceID))

	sp := s.span(t, "POST /things")
	assert.Equal(t, codes.Unset, sp.Status().Code)
	assert.Empty(t, sp.Events())
	s.logs.AssertNotLogged(t, "unhandled_exception")
}

func TestRequestScope_BindsRequestFields(t *testing.T) {
	s := setupTestServer(t, nil)

	var fields map[string]any
	s.Echo().POST("/api/v1/products", func(c echo.Context) error {
		ctx := c.Request().Context()
		fields = logging.Fields(ctx)
		logging.Bind(ctx, "product_id", "p-1")
		logging.FromContext(ctx).Info(ctx, "product_created")
		return c.NoContent(http.StatusCreated)
	})

	rec := s.do(httptest.NewRequest(http.MethodPost, "/api/v1/products", nil))
	require.Equal(t, http.StatusCreated, rec.Code)

	assert.NotEmpty(t, fields["request_id"])
	assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), fields["request_id"])
	assert.Equal(t, http.MethodPost, fields["method"])
	assert.Equal(t, "/api/v1/products", fields["path"])
	assert.Equal(t, DefaultTenant, fields[TenantBaggageKey])

	ev := s.logs.Event("product_created")
	require.NotNil(t, ev)
	assert.Equal(t, "p-1", ev["product_id"])
	assert.Equal(t, fields["request_id"], ev["request_id"])
	assert.Equal(t, rec.Header().Get(HeaderTraceID), ev[logging.TraceIDKey])
}

func TestRequestScope_TenantFromBaggage(t *testing.T) {
	s := setupTestServer(t, nil)

	var tenant any
	s.Echo().GET("/tenant", func(c echo.Context) error {
		tenant = logging.Fields(c.Request().Context())[TenantBaggageKey]
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/tenant", nil)
	req.Header.Set("baggage", "tenant_id=acme,region=eu")
	s.do(req)

	assert.Equal(t, "acme", tenant)
}

func TestRequestScope_IsolatedPerRequest(t *testing.T) {
	s := setupTestServer(t, nil)

	var seen []map[string]any
	s.Echo().GET("/items/:id", func(c echo.Context) error {
		ctx := c.Request().Context()
		if c.Param("id") == "1" {
			logging.Bind(ctx, "leak", true)
		}
		seen = append(seen, logging.Fields(ctx))
		return c.NoContent(http.StatusOK)
	})

	s.do(httptest.NewRequest(http.MethodGet, "/items/1", nil))
	s.do(httptest.NewRequest(http.MethodGet, "/items/2", nil))

	require.Len(t, seen, 2)
	assert.Equal(t, true, seen[0]["leak"])
	assert.NotContains(t, seen[1], "leak")
	assert.NotEqual(t, seen[0]["request_id"], seen[1]["request_id"])
}

func TestAccessLog_NoiseFiltering(t *testing.T) {
	t.Run("dropped by default", func(t *testing.T) {
		s := setupTestServer(t, nil)
		s.do(httptest.NewRequest(http.MethodGet, "/healthz/live", nil))

		s.logs.AssertNotLogged(t, "request_started")
		s.logs.AssertNotLogged(t, "request_finished")
		s.logs.AssertLogged(t, zapcore.InfoLevel, "liveness_check_triggered")
	})

	t.Run("written when noise list is empty", func(t *testing.T) {
		cfg := logging.NewDefaultConfig()
		cfg.Noise = nil
		s := setupTestServer(t, cfg)
		rec := s.do(httptest.NewRequest(http.MethodGet, "/healthz/live", nil))

		s.logs.AssertLogged(t, zapcore.InfoLevel, "request_started")
		s.logs.AssertField(t, "request_finished", "status_code", int64(http.StatusOK))
		ev := s.logs.Event("request_finished")
		require.NotNil(t, ev)
		assert.Equal(t, rec.Header().Get(HeaderTraceID), ev[logging.TraceIDKey])
	})
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupTestServer(t, nil)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pricewatch_build_info{service="pricewatch-api",version="1.0.0"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
