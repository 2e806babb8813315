// Package queue dispatches background tasks over NATS and runs them in
// workers.
//
// Every dispatched task carries the producer's trace context in its payload
// (trace_carrier) and mirrored in the message headers. Workers start one span
// per task that links to the producer span instead of continuing its trace.
//
// Task subjects follow the pattern:
//
//	{prefix}.{actor}
//
// Example usage:
//
//	client := queue.NewClient(nc, "pricewatch.tasks", hm)
//	task, err := client.Send(ctx, "update_product_price", args)
package queue

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/startswithzed/observability/internal/propagation"
)

// Task is the wire form of a dispatched unit of work.
type Task struct {
	ID           string               `json:"id"`
	Actor        string               `json:"actor"`
	Args         json.RawMessage      `json:"args"`
	TraceCarrier *propagation.Carrier `json:"trace_carrier,omitempty"`
	EnqueuedAt   time.Time            `json:"enqueued_at"`
}

// Decode unmarshals the task arguments into v.
func (t *Task) Decode(v any) error {
	return json.Unmarshal(t.Args, v)
}

// Subject returns the subject tasks for actor are published on.
func Subject(prefix, actor string) string {
	return prefix + "." + actor
}

// carrierFromHeader rebuilds a carrier from message headers. Keys are sorted
// so the result does not depend on map order.
func carrierFromHeader(h nats.Header) *propagation.Carrier {
	c := propagation.NewCarrier()
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c.Set(k, h.Get(k))
	}
	return c
}

// taskCarrier prefers the payload carrier and falls back to the headers.
func taskCarrier(task *Task, msg *nats.Msg) *propagation.Carrier {
	if task.TraceCarrier.Len() > 0 {
		return task.TraceCarrier
	}
	if msg != nil && len(msg.Header) > 0 {
		return carrierFromHeader(msg.Header)
	}
	return nil
}
