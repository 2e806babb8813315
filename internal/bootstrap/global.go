package bootstrap

import (
	"context"

	"github.com/startswithzed/observability/internal/hooks"
)

var defaultProcess = NewProcess()

// InitTelemetry initializes observability for this process. See Process.Init.
func InitTelemetry(ctx context.Context, serviceName string) *State {
	return defaultProcess.Init(ctx, serviceName)
}

// Current returns the process State, or nil before InitTelemetry.
func Current() *State {
	return defaultProcess.State()
}

// Shutdown flushes the process telemetry.
func Shutdown(ctx context.Context) error {
	return defaultProcess.Shutdown(ctx)
}

// WorkerHook returns the after_worker_start handler of the process.
func WorkerHook(defaultService string) hooks.HookHandler {
	return defaultProcess.WorkerHook(defaultService)
}
