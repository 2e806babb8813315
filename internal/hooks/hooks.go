// Package hooks provides lifecycle hook management for pricewatch processes
package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// HookType represents different lifecycle hooks
type HookType string

const (
	// HookBeforeDispatch is called before a task is published to the queue.
	// Handlers receive the task carrier and may add entries to it.
	HookBeforeDispatch HookType = "before_dispatch"

	// HookAfterWorkerStart is called once a worker process is up and before
	// it starts consuming tasks
	HookAfterWorkerStart HookType = "after_worker_start"
)

// Keys of the data map passed to handlers.
const (
	DataActor   = "actor"
	DataSubject = "subject"
	DataTaskID  = "task_id"
	DataCarrier = "carrier"
	DataSlot    = "worker_slot"
	DataService = "service_name"
)

// HookHandler is a function that handles a hook event
type HookHandler func(ctx context.Context, data map[string]any) error

// HookManager manages lifecycle hooks. It is safe for concurrent use.
type HookManager struct {
	config *Config

	mu       sync.RWMutex
	handlers map[HookType][]HookHandler
}

// NewHookManager creates a new hook manager. A nil config uses DefaultConfig.
func NewHookManager(config *Config) *HookManager {
	if config == nil {
		config = DefaultConfig()
	}
	return &HookManager{
		config:   config,
		handlers: make(map[HookType][]HookHandler),
	}
}

// RegisterHandler registers a handler for a hook type. Handlers run in
// registration order.
func (h *HookManager) RegisterHandler(hookType HookType, handler HookHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[hookType] = append(h.handlers[hookType], handler)
}

// Execute executes all handlers for the given hook type. By default the
// first failing handler stops execution; with ContinueOnError every handler
// runs and the errors are joined.
func (h *HookManager) Execute(ctx context.Context, hookType HookType, data map[string]any) error {
	if h == nil {
		return nil
	}

	h.mu.RLock()
	handlers := append([]HookHandler(nil), h.handlers[hookType]...)
	h.mu.RUnlock()

	if len(handlers) == 0 {
		// No handlers registered - not an error
		return nil
	}

	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout.Duration())
		defer cancel()
	}

	var errs []error
	for _, handler := range handlers {
		if err := runHandler(ctx, handler, data); err != nil {
			err = fmt.Errorf("hook %s failed: %w", hookType, err)
			if !h.config.ContinueOnError {
				return err
			}
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func runHandler(ctx context.Context, handler HookHandler, data map[string]any) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return handler(ctx, data)
}

// Len returns the number of handlers registered for hookType.
func (h *HookManager) Len(hookType HookType) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers[hookType])
}

// Config returns the hook configuration
func (h *HookManager) Config() *Config {
	return h.config
}
