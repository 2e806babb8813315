package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/startswithzed/observability/internal/config"
	"github.com/startswithzed/observability/internal/hooks"
	"github.com/startswithzed/observability/internal/instrument"
	"github.com/startswithzed/observability/internal/logging"
	"github.com/startswithzed/observability/internal/propagation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const workerInstrumentationName = "github.com/startswithzed/observability/internal/queue"

const subscribeFlushTimeout = 5 * time.Second

// Handler runs one task. A returned error or a panic marks the task failed;
// failed tasks are not retried.
type Handler func(ctx context.Context, task *Task) error

// ErrUnknownActor is recorded for tasks with no registered handler.
var ErrUnknownActor = errors.New("queue: no handler registered for actor")

// Worker consumes tasks from a NATS queue group.
type Worker struct {
	nats   *nats.Conn
	config config.NATSConfig
	hooks  *hooks.HookManager
	slot   int

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	logger         *logging.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	subs     []*nats.Subscription

	metrics *workerMetrics
}

type workerMetrics struct {
	processed metric.Int64Counter
	failed    metric.Int64Counter
	duration  metric.Float64Histogram
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithSlot sets the supervisor slot reported to after_worker_start hooks.
func WithSlot(slot int) WorkerOption {
	return func(w *Worker) {
		w.slot = slot
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) WorkerOption {
	return func(w *Worker) {
		w.tracerProvider = tp
	}
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) WorkerOption {
	return func(w *Worker) {
		w.meterProvider = mp
	}
}

// WithLogger overrides the process logger.
func WithLogger(l *logging.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = l
	}
}

// NewWorker creates a worker. hm may be nil.
func NewWorker(nc *nats.Conn, cfg config.NATSConfig, hm *hooks.HookManager, opts ...WorkerOption) *Worker {
	w := &Worker{
		nats:     nc,
		config:   cfg,
		hooks:    hm,
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Register registers the handler for actor. Registering after Start has no
// effect on subscriptions already made.
func (w *Worker) Register(actor string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[actor] = h
}

// Start runs the after_worker_start hooks, then subscribes every registered
// actor in the configured queue group. The hooks run first so a worker
// process has its own telemetry before the first task arrives.
func (w *Worker) Start(ctx context.Context) error {
	if w.nats == nil {
		return ErrNoConnection
	}

	err := w.hooks.Execute(ctx, hooks.HookAfterWorkerStart, map[string]any{
		hooks.DataSlot: w.slot,
	})
	if err != nil {
		return fmt.Errorf("worker start: %w", err)
	}

	w.metrics = w.newMetrics()

	w.mu.Lock()
	defer w.mu.Unlock()
	for actor := range w.handlers {
		subject := Subject(w.config.SubjectPrefix, actor)
		sub, err := w.nats.QueueSubscribe(subject, w.config.QueueGroup, w.handleMsg)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		w.subs = append(w.subs, sub)
	}
	// A connection still retrying its first connect replays the
	// subscriptions once the broker is reachable, so only a live connection
	// is flushed.
	if w.nats.IsConnected() {
		if err := w.nats.FlushTimeout(subscribeFlushTimeout); err != nil {
			return fmt.Errorf("flush subscriptions: %w", err)
		}
	} else {
		w.log().Warn(ctx, "worker_broker_unavailable",
			zap.Int("worker_slot", w.slot),
			zap.String("status", w.nats.Status().String()),
		)
	}

	w.log().Info(ctx, "worker_started",
		zap.Int("worker_slot", w.slot),
		zap.Int("actors", len(w.handlers)),
		zap.String("queue_group", w.config.QueueGroup),
	)
	return nil
}

// Stop drains the subscriptions so in-flight tasks finish.
func (w *Worker) Stop() error {
	w.mu.Lock()
	subs := w.subs
	w.subs = nil
	w.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *Worker) log() *logging.Logger {
	if w.logger != nil {
		return w.logger
	}
	return logging.L()
}

func (w *Worker) tracer() trace.Tracer {
	if w.tracerProvider != nil {
		return w.tracerProvider.Tracer(workerInstrumentationName)
	}
	return otel.Tracer(workerInstrumentationName)
}

func (w *Worker) newMetrics() *workerMetrics {
	var meter metric.Meter
	if w.meterProvider != nil {
		meter = w.meterProvider.Meter(workerInstrumentationName)
	} else {
		meter = otel.Meter(workerInstrumentationName)
	}

	m := &workerMetrics{}
	var err error

	m.processed, err = meter.Int64Counter(
		"pricewatch.tasks.processed",
		metric.WithDescription("Tasks that completed successfully, labeled by actor."),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		w.log().Warn(context.Background(), "metric_create_failed", zap.String("metric", "pricewatch.tasks.processed"), zap.Error(err))
	}

	m.failed, err = meter.Int64Counter(
		"pricewatch.tasks.failed",
		metric.WithDescription("Tasks that returned an error or panicked, labeled by actor. Failed tasks are not retried."),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		w.log().Warn(context.Background(), "metric_create_failed", zap.String("metric", "pricewatch.tasks.failed"), zap.Error(err))
	}

	m.duration, err = meter.Float64Histogram(
		"pricewatch.tasks.duration",
		metric.WithDescription("Task processing duration in seconds, labeled by actor and outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		w.log().Warn(context.Background(), "metric_create_failed", zap.String("metric", "pricewatch.tasks.duration"), zap.Error(err))
	}

	return m
}

func (w *Worker) handleMsg(msg *nats.Msg) {
	w.Process(context.Background(), msg)
}

// Process runs the task carried by msg. It never panics and never returns an
// error: failures are recorded on the task span, counted and logged.
func (w *Worker) Process(ctx context.Context, msg *nats.Msg) {
	start := time.Now()

	// Each task gets its own log scope
	ctx = logging.NewScope(ctx)
	metrics := w.metrics
	if metrics == nil {
		metrics = w.newMetrics()
	}

	var task Task
	if err := json.Unmarshal(msg.Data, &task); err != nil {
		w.log().Error(ctx, "task_decode_failed",
			zap.String("subject", msg.Subject),
			zap.Error(err),
		)
		if metrics.failed != nil {
			metrics.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("actor", "unknown")))
		}
		return
	}

	extracted := propagation.Extract(context.Background(), taskCarrier(&task, msg))
	attrs := append(instrument.Attributes(msg.Subject, "process"),
		attribute.String("messaging.message.id", task.ID),
		attribute.String("pricewatch.task.actor", task.Actor),
	)
	ctx, span := propagation.StartLinkedSpan(ctx, w.tracer(), "worker."+task.Actor, extracted,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	logging.Bind(ctx, "task_id", task.ID, "actor", task.Actor)

	err := w.run(ctx, &task)
	elapsed := time.Since(start)
	actorAttr := attribute.String("actor", task.Actor)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if metrics.failed != nil {
			metrics.failed.Add(ctx, 1, metric.WithAttributes(actorAttr))
		}
		w.log().Error(ctx, "task_failed",
			zap.Error(err),
			zap.Float64("duration_ms", float64(elapsed.Microseconds())/1000),
		)
	} else {
		span.SetStatus(codes.Ok, "")
		if metrics.processed != nil {
			metrics.processed.Add(ctx, 1, metric.WithAttributes(actorAttr))
		}
		w.log().Debug(ctx, "task_completed",
			zap.Float64("duration_ms", float64(elapsed.Microseconds())/1000),
		)
	}

	if metrics.duration != nil {
		metrics.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
			actorAttr,
			attribute.Bool("success", err == nil),
		))
	}
	instrument.QueueMessaging().RecordProcess(ctx, msg.Subject, elapsed, err)
}

// run invokes the handler, converting a panic into an error.
func (w *Worker) run(ctx context.Context, task *Task) (err error) {
	w.mu.RLock()
	h, ok := w.handlers[task.Actor]
	w.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownActor, task.Actor)
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return h(ctx, task)
}
