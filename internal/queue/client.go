package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/startswithzed/observability/internal/hooks"
	"github.com/startswithzed/observability/internal/instrument"
	"github.com/startswithzed/observability/internal/logging"
	"github.com/startswithzed/observability/internal/propagation"
	"go.uber.org/zap"
)

// ErrNoConnection is returned by Send when the client has no NATS connection.
var ErrNoConnection = errors.New("queue: no nats connection")

// Client publishes tasks.
type Client struct {
	nats   *nats.Conn
	prefix string
	hooks  *hooks.HookManager
}

// NewClient creates a client publishing under prefix. hm may be nil.
func NewClient(nc *nats.Conn, prefix string, hm *hooks.HookManager) *Client {
	return &Client{
		nats:   nc,
		prefix: prefix,
		hooks:  hm,
	}
}

// Send publishes a task for actor with args as its JSON arguments.
//
// The before_dispatch hooks run first and may add entries to the carrier.
// The span context of ctx (or the producer span when queue instrumentation
// is active) is then injected into the task's trace_carrier and mirrored into
// the message headers.
//
// Returns error if args cannot be encoded, a hook fails, or the publish fails.
func (c *Client) Send(ctx context.Context, actor string, args any) (*Task, error) {
	if c == nil || c.nats == nil {
		return nil, ErrNoConnection
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal task args: %w", err)
	}

	subject := Subject(c.prefix, actor)
	task := &Task{
		ID:         uuid.New().String(),
		Actor:      actor,
		Args:       raw,
		EnqueuedAt: time.Now().UTC(),
	}

	ctx, done := instrument.QueueMessaging().StartPublish(ctx, subject)

	carrier := propagation.NewCarrier()
	err = c.hooks.Execute(ctx, hooks.HookBeforeDispatch, map[string]any{
		hooks.DataActor:   actor,
		hooks.DataSubject: subject,
		hooks.DataTaskID:  task.ID,
		hooks.DataCarrier: carrier,
	})
	if err != nil {
		done(err)
		return nil, fmt.Errorf("dispatch %s: %w", actor, err)
	}

	propagation.Inject(ctx, carrier)
	if carrier.Len() > 0 {
		task.TraceCarrier = carrier
	}

	err = c.publish(subject, task)
	done(err)
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Trace(ctx, "task_dispatched",
		zap.String("task_id", task.ID),
		zap.String("actor", actor),
		zap.Any("trace_carrier", task.TraceCarrier.Map()),
	)
	return task, nil
}

func (c *Client) publish(subject string, task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, task.ID)
	for _, k := range task.TraceCarrier.Keys() {
		msg.Header.Set(k, task.TraceCarrier.Get(k))
	}

	if err := c.nats.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish task %s: %w", task.ID, err)
	}
	return nil
}
