// Package telemetry provides OpenTelemetry instrumentation for pricewatch.
//
// # Overview
//
// A Telemetry value owns the Resource (process identity) and the trace,
// metric and log providers of one process. Each provider sits behind a
// batching processor and an OTLP exporter pointed at the collector.
//
// # Usage
//
//	cfg := telemetry.NewDefaultConfig()
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	ctx, span := tel.Tracer("pricewatch.api").Start(ctx, "create_product")
//	defer span.End()
//
// Processes should not call New directly; the bootstrap package guards it so
// it runs exactly once per process.
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "http://otel-collector:4317"
//	  protocol: "grpc"          # or "http/protobuf"
//	  batch:
//	    max_queue_size: 2048
//	    max_export_batch_size: 512
//	    timeout: "5s"
//	  metrics:
//	    enabled: true
//	    export_interval: "15s"
//
// # Error Handling
//
// Telemetry failures do not crash the application. A signal whose exporter
// cannot be built falls back to the OTel no-op provider, the failure is kept
// in Failures, and Health reports the instance as degraded.
//
// # Testing
//
// Use TestTelemetry for synchronous span and metric assertions, and
// InMemoryFactory to run New without a collector:
//
//	tt := telemetry.NewTestTelemetry()
//	_, span := tt.Tracer("test").Start(ctx, "test-span")
//	span.End()
//	tt.AssertSpanExists(t, "test-span")
package telemetry
