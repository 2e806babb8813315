// Package logging provides structured logging with OpenTelemetry integration.
//
// # Overview
//
// Logging package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Dual output (stdout + OpenTelemetry log bridge)
//   - A per-unit-of-work field scope (NewScope, Bind)
//   - A sanitization pipeline every entry passes before rendering
//
// # Pipeline
//
// Each entry becomes an Event and runs through DefaultPipeline:
//
//  1. MergeContext: fields bound to the scope (request_id, path, ...)
//  2. StampLevelAndTime: level, RFC 3339 UTC timestamp
//  3. CorrelateSpan: trace_id (32 hex) and span_id (16 hex)
//  4. DropNoise: suppresses request_started / request_finished
//  5. SanitizeEvent: coerces values to JSON primitives (see Sanitize)
//  6. Redactor: masks sensitive keys and token patterns
//
// A stage returns Next(record) or Drop(); a drop ends the pipeline and
// nothing is written.
//
// # Usage
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), tel.LoggerProvider())
//	if err != nil {
//	    return err
//	}
//	logging.Configure(logger)
//
//	ctx = logging.NewScope(ctx)
//	ctx = logging.Bind(ctx, "request_id", id)
//	logging.L().Info(ctx, "product_created", zap.Stringer("product_id", p.ID))
//
// Output:
//
//	{"event":"product_created","timestamp":"2025-11-24T10:15:30.123456Z","level":"info",
//	 "product_id":"6f1c...","request_id":"...","span_id":"...","trace_id":"..."}
package logging
