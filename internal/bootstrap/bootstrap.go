// Package bootstrap wires process-wide observability exactly once per
// process: telemetry providers and exporters, the structured logger, the OTel
// error handler and client instrumentation.
//
// Every entry point (API server, worker, worker process spawned by the
// supervisor) calls InitTelemetry. Only the first call in a process has an
// effect; later calls return the same State. Worker processes are separate
// OS processes, so each one builds its own exporters and never shares a
// connection with the process that spawned it.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/startswithzed/observability/internal/config"
	"github.com/startswithzed/observability/internal/hooks"
	"github.com/startswithzed/observability/internal/instrument"
	"github.com/startswithzed/observability/internal/logging"
	"github.com/startswithzed/observability/internal/telemetry"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceNameEnv overrides the role default service name.
const ServiceNameEnv = "SERVICE_NAME"

// Export errors are reported at most once per interval.
const exportErrorInterval = 30 * time.Second

// State is the read-only result of initialization.
type State struct {
	ServiceName string
	Config      *config.Config
	Telemetry   *telemetry.Telemetry
	Logger      *logging.Logger

	// Failures lists everything that degraded during initialization.
	Failures []error
}

// Process owns the once-per-process initialization.
type Process struct {
	once  sync.Once
	state atomic.Pointer[State]
	inits atomic.Int64

	factory    telemetry.ExporterFactory
	loadConfig func() (*config.Config, error)
	targets    func(*config.Config) []instrument.Target
	logOutput  zapcore.WriteSyncer
}

// Option configures a Process.
type Option func(*Process)

// WithExporterFactory replaces the OTLP exporters.
func WithExporterFactory(f telemetry.ExporterFactory) Option {
	return func(p *Process) {
		p.factory = f
	}
}

// WithConfigLoader replaces config.Load.
func WithConfigLoader(load func() (*config.Config, error)) Option {
	return func(p *Process) {
		p.loadConfig = load
	}
}

// WithTargets replaces the default instrumentation targets.
func WithTargets(targets ...instrument.Target) Option {
	return func(p *Process) {
		p.targets = func(*config.Config) []instrument.Target { return targets }
	}
}

// WithLogOutput sends the stdout log stream to out.
func WithLogOutput(out zapcore.WriteSyncer) Option {
	return func(p *Process) {
		p.logOutput = out
	}
}

// NewProcess returns an uninitialized Process.
func NewProcess(opts ...Option) *Process {
	p := &Process{
		factory:    telemetry.OTLPFactory{},
		loadConfig: config.Load,
		targets:    defaultTargets,
		logOutput:  zapcore.Lock(os.Stdout),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func defaultTargets(cfg *config.Config) []instrument.Target {
	return []instrument.Target{
		instrument.SQL(cfg.Database.Driver),
		instrument.RedisTarget(),
		instrument.QueueTarget(),
	}
}

// Init initializes the process on first call and returns the shared State.
// Concurrent callers block until the first call completes. Init never
// returns an error and never panics: failures degrade to no-op telemetry and
// are logged once as warnings.
func (p *Process) Init(ctx context.Context, serviceName string) *State {
	p.once.Do(func() {
		p.state.Store(p.initialize(ctx, serviceName))
		p.inits.Add(1)
	})
	return p.state.Load()
}

// State returns the initialized State, or nil before Init.
func (p *Process) State() *State {
	return p.state.Load()
}

// Initializations returns how many times initialization actually ran.
func (p *Process) Initializations() int64 {
	return p.inits.Load()
}

// Shutdown flushes and stops the providers. It is bounded by the configured
// shutdown timeout when ctx has no deadline.
func (p *Process) Shutdown(ctx context.Context) error {
	st := p.State()
	if st == nil {
		return nil
	}
	err := st.Telemetry.Shutdown(ctx)
	_ = st.Logger.Sync()
	return err
}

// WorkerHook returns an after_worker_start handler that initializes the
// worker process under SERVICE_NAME or defaultService.
func (p *Process) WorkerHook(defaultService string) hooks.HookHandler {
	return func(ctx context.Context, data map[string]any) error {
		name := ServiceName(defaultService)
		st := p.Init(ctx, name)
		if data != nil {
			data[hooks.DataService] = st.ServiceName
		}
		return nil
	}
}

// ServiceName returns SERVICE_NAME when set, otherwise roleDefault.
func ServiceName(roleDefault string) string {
	if name := os.Getenv(ServiceNameEnv); name != "" {
		return name
	}
	return roleDefault
}

func (p *Process) initialize(ctx context.Context, serviceName string) (st *State) {
	defer func() {
		if r := recover(); r != nil {
			st = p.fallback(serviceName, fmt.Errorf("telemetry initialization panicked: %v", r))
		}
	}()

	st = &State{}

	cfg, err := p.loadConfig()
	if err != nil {
		st.Failures = append(st.Failures, fmt.Errorf("load config, using defaults: %w", err))
		cfg = config.NewDefaultConfig()
	}
	if serviceName == "" {
		serviceName = cfg.Service.Name
	}
	st.ServiceName = serviceName
	st.Config = cfg

	tcfg := telemetry.FromAppConfig(cfg, serviceName)
	if err := tcfg.Validate(); err != nil {
		st.Failures = append(st.Failures, fmt.Errorf("telemetry disabled: %w", err))
		tcfg.Enabled = false
	}

	tel, err := telemetry.New(ctx, tcfg, telemetry.WithExporterFactory(p.factory))
	if err != nil {
		st.Failures = append(st.Failures, err)
		tcfg.Enabled = false
		tel, _ = telemetry.New(ctx, tcfg, telemetry.WithExporterFactory(p.factory))
	}
	st.Telemetry = tel
	st.Failures = append(st.Failures, tel.Failures()...)

	st.Logger = p.newLogger(cfg, serviceName, tel, st)
	logging.Configure(st.Logger)

	logger := st.Logger
	telemetry.NewThrottledErrorHandler(exportErrorInterval, 1, func(err error, suppressed int) {
		logger.Warn(context.Background(), "telemetry_export_error",
			zap.Error(err),
			zap.Int("suppressed", suppressed),
		)
	}).Install()

	st.Failures = append(st.Failures, instrument.Activate(p.targets(cfg)...)...)

	for _, failure := range st.Failures {
		logger.Warn(ctx, "telemetry_degraded", zap.Error(failure))
	}

	logger.Info(ctx, "telemetry_initialized",
		zap.String("service_name", serviceName),
		zap.String("service_instance_id", instanceID(tel)),
		zap.String("environment", tcfg.Environment),
		zap.String("endpoint", tcfg.Endpoint),
		zap.String("protocol", tcfg.Protocol),
		zap.Bool("enabled", tel.IsEnabled()),
	)

	return st
}

func instanceID(tel *telemetry.Telemetry) string {
	if res := tel.Resource(); res != nil {
		return res.InstanceID
	}
	return ""
}

func (p *Process) newLogger(cfg *config.Config, serviceName string, tel *telemetry.Telemetry, st *State) *logging.Logger {
	lcfg := logging.FromAppConfig(cfg)
	lcfg.Name = serviceName

	provider := tel.LoggerProvider()
	if provider == nil {
		lcfg.Output.OTEL = false
	}

	logger, err := logging.NewLoggerWithOutput(lcfg, provider, p.logOutput)
	if err == nil {
		return logger
	}
	st.Failures = append(st.Failures, fmt.Errorf("logger: %w", err))

	fallback := logging.NewDefaultConfig()
	fallback.Output.OTEL = false
	if logger, err = logging.NewLoggerWithOutput(fallback, nil, p.logOutput); err == nil {
		return logger
	}
	return logging.NewNop()
}

// fallback builds a State with no telemetry and a stdout logger.
func (p *Process) fallback(serviceName string, cause error) *State {
	cfg := config.NewDefaultConfig()
	if serviceName == "" {
		serviceName = cfg.Service.Name
	}

	lcfg := logging.NewDefaultConfig()
	lcfg.Output.OTEL = false
	logger, err := logging.NewLoggerWithOutput(lcfg, nil, p.logOutput)
	if err != nil {
		logger = logging.NewNop()
	}
	logging.Configure(logger)
	logger.Warn(context.Background(), "telemetry_degraded", zap.Error(cause))

	return &State{
		ServiceName: serviceName,
		Config:      cfg,
		Logger:      logger,
		Failures:    []error{cause},
	}
}
