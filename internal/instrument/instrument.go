// Package instrument activates OpenTelemetry instrumentation for the client
// libraries pricewatch talks to: the SQL driver, the Redis cache and the NATS
// task queue.
//
// Activation is process wide and idempotent per target name. Targets are
// activated independently: a failing or panicking target is reported and
// the remaining ones still activate.
package instrument

import (
	"fmt"
	"sync"
)

// Target is one instrumentation unit.
type Target struct {
	// Name identifies the target; a name activates at most once per process.
	Name string
	// Activate installs the instrumentation.
	Activate func() error
}

type registry struct {
	mu     sync.Mutex
	active map[string]bool
}

func newRegistry() *registry {
	return &registry{active: make(map[string]bool)}
}

var process = newRegistry()

// Activate activates targets that are not active yet and returns one error
// per failed target. A failed target may be retried by a later call.
func Activate(targets ...Target) []error {
	return process.activate(targets...)
}

// Active reports whether the named target has been activated.
func Active(name string) bool {
	return process.isActive(name)
}

func (r *registry) activate(targets ...Target) []error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, t := range targets {
		if t.Name == "" || t.Activate == nil {
			errs = append(errs, fmt.Errorf("instrument: invalid target %q", t.Name))
			continue
		}
		if r.active[t.Name] {
			continue
		}
		if err := safeActivate(t); err != nil {
			errs = append(errs, err)
			continue
		}
		r.active[t.Name] = true
	}
	return errs
}

func (r *registry) isActive(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[name]
}

func safeActivate(t Target) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("instrument %s: panic: %v", t.Name, p)
		}
	}()
	if err := t.Activate(); err != nil {
		return fmt.Errorf("instrument %s: %w", t.Name, err)
	}
	return nil
}
