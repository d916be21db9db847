// Package scheduler runs the aggregator periodically and on demand, one run at a time.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"bcpea_notifier/internal/model"
	"bcpea_notifier/internal/notify"
)

// Runner performs one collection pass.
type Runner interface {
	Run(ctx context.Context) (*model.RunReport, error)
}

// ErrBusy is returned when a run is already in progress.
var ErrBusy = errors.New("run already in progress")

// Scheduler starts runs on a fixed interval and delivers their reports.
type Scheduler struct {
	runner     Runner
	notifiers  []notify.Notifier
	log        *slog.Logger
	tick       time.Duration
	runTimeout time.Duration

	mu      sync.Mutex
	running bool
	base    context.Context
	wg      sync.WaitGroup
}

// New creates a Scheduler with a 24 hour interval and a 20 minute run deadline.
func New(runner Runner, log *slog.Logger, notifiers ...notify.Notifier) *Scheduler {
	return &Scheduler{
		runner:     runner,
		notifiers:  notifiers,
		log:        log,
		tick:       24 * time.Hour,
		runTimeout: 20 * time.Minute,
	}
}

// SetTickInterval overrides the interval between scheduled runs.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// SetRunTimeout overrides the deadline of a single run.
func (s *Scheduler) SetRunTimeout(d time.Duration) {
	s.runTimeout = d
}

// Run starts a run immediately and then on every tick, blocking until ctx is
// cancelled. A tick that finds a run in progress is skipped. Runs launched by
// Start while Run is active are cancelled together with ctx.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	s.runScheduled(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runScheduled(ctx)
		}
	}
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	if _, err := s.TryRun(ctx); err != nil {
		if errors.Is(err, ErrBusy) {
			s.log.Warn("skipping scheduled run", "reason", err)
			return
		}
		s.log.Error("scheduled run", "error", err)
	}
}

// TryRun performs one run synchronously unless another run is in progress,
// in which case it returns ErrBusy.
func (s *Scheduler) TryRun(ctx context.Context) (notify.Stats, error) {
	if !s.acquire() {
		return notify.Stats{}, ErrBusy
	}
	defer s.release()
	return s.runOnce(ctx)
}

// Go starts Run in its own goroutine. Wait also blocks until that Run has returned.
func (s *Scheduler) Go(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run(ctx)
	}()
}

// Start launches a detached run bounded by the run timeout and returns
// immediately. It returns false when a run is already in progress.
func (s *Scheduler) Start() bool {
	if !s.acquire() {
		return false
	}

	s.mu.Lock()
	ctx := s.base
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release()
		if _, err := s.runOnce(ctx); err != nil {
			s.log.Error("triggered run", "error", err)
		}
	}()
	return true
}

// Busy reports whether a run is in progress.
func (s *Scheduler) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Wait blocks until detached runs and the loop started by Go have finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// runOnce collects a report within the run timeout and dispatches it.
// A run cut short by the deadline is not delivered.
func (s *Scheduler) runOnce(ctx context.Context) (notify.Stats, error) {
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	report, err := s.runner.Run(runCtx)
	if err != nil {
		s.log.Error("run aborted, report discarded", "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return notify.Stats{}, err
	}
	s.log.Info("run finished", "users", report.Len(), "duration_ms", time.Since(start).Milliseconds())

	return notify.Dispatch(ctx, report, s.log, s.notifiers...)
}
