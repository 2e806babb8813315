// Package supervisor runs a fixed number of worker processes and keeps them
// running.
//
// Workers are started by re-executing the current binary with the slot
// number in PRICEWATCH_WORKER_SLOT. A worker process is never forked from an
// initialized parent, so each one bootstraps its own telemetry exporters
// through the after_worker_start hook. Exited workers are restarted with
// exponential backoff. Cancelling the Run context sends SIGTERM to every
// worker and kills those still running after StopTimeout.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/startswithzed/observability/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SlotEnv carries the worker slot into the child process.
const SlotEnv = "PRICEWATCH_WORKER_SLOT"

// Slot returns the worker slot of this process and whether it was started
// by a supervisor.
func Slot() (int, bool) {
	v := os.Getenv(SlotEnv)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Config controls the supervised processes.
type Config struct {
	// Processes is the number of worker processes kept running.
	Processes int

	// Path is the executable to run. Defaults to the running binary.
	Path string
	Args []string

	// Env is appended to the parent environment.
	Env []string

	MinRestartDelay time.Duration
	MaxRestartDelay time.Duration
	StopTimeout     time.Duration

	Stdout io.Writer
	Stderr io.Writer
}

func (c *Config) applyDefaults() error {
	if c.Processes < 1 {
		return fmt.Errorf("processes must be >= 1, got %d", c.Processes)
	}
	if c.Path == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve executable: %w", err)
		}
		c.Path = exe
	}
	if c.MinRestartDelay <= 0 {
		c.MinRestartDelay = 500 * time.Millisecond
	}
	if c.MaxRestartDelay < c.MinRestartDelay {
		c.MaxRestartDelay = max(30*time.Second, c.MinRestartDelay)
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
	return nil
}

// Supervisor keeps Config.Processes worker processes running.
type Supervisor struct {
	cfg    Config
	logger *logging.Logger

	starts atomic.Int64

	mu   sync.Mutex
	pids map[int]int
}

// New creates a supervisor. logger may be nil.
func New(cfg Config, logger *logging.Logger) (*Supervisor, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.L()
	}
	return &Supervisor{
		cfg:    cfg,
		logger: logger,
		pids:   make(map[int]int),
	}, nil
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has exited. It returns early with an error when the executable cannot be
// started at all.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for slot := range s.cfg.Processes {
		g.Go(func() error {
			return s.runSlot(ctx, slot)
		})
	}
	return g.Wait()
}

// Starts returns how many worker processes have been started, restarts
// included.
func (s *Supervisor) Starts() int64 {
	return s.starts.Load()
}

// PIDs returns the running worker processes by slot.
func (s *Supervisor) PIDs() map[int]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]int, len(s.pids))
	for slot, pid := range s.pids {
		out[slot] = pid
	}
	return out
}

func (s *Supervisor) runSlot(ctx context.Context, slot int) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.MinRestartDelay
	bo.MaxInterval = s.cfg.MaxRestartDelay
	bo.Reset()

	for {
		started := time.Now()
		err := s.runChild(ctx, slot)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("worker %d: %w", slot, err)
		}

		// A worker that stayed up longer than the longest delay was healthy
		if time.Since(started) > s.cfg.MaxRestartDelay {
			bo.Reset()
		}
		delay := bo.NextBackOff()
		s.logger.Warn(ctx, "worker_process_exited",
			zap.Int("worker_slot", slot),
			zap.Error(err),
			zap.Duration("restart_in", delay),
		)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (s *Supervisor) runChild(ctx context.Context, slot int) error {
	cmd := exec.CommandContext(ctx, s.cfg.Path, s.cfg.Args...)
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.Env = append(cmd.Env, SlotEnv+"="+strconv.Itoa(slot))
	cmd.Stdout = s.cfg.Stdout
	cmd.Stderr = s.cfg.Stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = s.cfg.StopTimeout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	s.starts.Add(1)
	pid := cmd.Process.Pid

	s.mu.Lock()
	s.pids[slot] = pid
	s.mu.Unlock()
	s.logger.Info(ctx, "worker_process_started",
		zap.Int("worker_slot", slot),
		zap.Int("pid", pid),
	)

	err := cmd.Wait()

	s.mu.Lock()
	if s.pids[slot] == pid {
		delete(s.pids, slot)
	}
	s.mu.Unlock()

	if ctx.Err() != nil {
		s.logger.Info(context.WithoutCancel(ctx), "worker_process_stopped",
			zap.Int("worker_slot", slot),
			zap.Int("pid", pid),
		)
	}
	return err
}
