// Package hooks provides lifecycle hook management for pricewatch processes.
//
// Supports before_dispatch (run by the queue client before a task is
// published) and after_worker_start (run by a worker before it consumes).
// The telemetry bootstrap registers its per-process re-initialization on
// after_worker_start.
package hooks
