// Package cleanup runs the reaper periodically on every peer. Each cycle competes
// for the cleanup lock; only the peer that gets it does the work.
package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mcoot/basequiz/internal/metrics"
	"github.com/mcoot/basequiz/internal/services/reaper"
)

// CycleOutcome describes what one cycle did
type CycleOutcome string

const (
	// OutcomeSkipped means another cycle was still running on this peer
	OutcomeSkipped CycleOutcome = metrics.OutcomeSkipped
	// OutcomeNotAcquired means another peer holds the cleanup lock
	OutcomeNotAcquired CycleOutcome = metrics.OutcomeNotAcquired
	// OutcomeCompleted means this peer held the lock and ran a cleanup pass
	OutcomeCompleted CycleOutcome = metrics.OutcomeCompleted
	// OutcomeFailed means the cleanup pass panicked; the lock was still released
	OutcomeFailed CycleOutcome = metrics.OutcomeFailed
)

// Lock is the cleanup lock as the scheduler uses it
type Lock interface {
	TryAcquire(ctx context.Context) bool
	Release(ctx context.Context)
}

// Reaper runs one cleanup pass
type Reaper interface {
	RunCleanupPass(ctx context.Context) reaper.Result
}

// Config holds scheduler settings
type Config struct {
	// Interval is the time between cycles
	Interval time.Duration
}

// DefaultConfig returns default scheduler configuration
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
	}
}

// Scheduler triggers cleanup cycles: one as soon as it starts, then one per interval
type Scheduler struct {
	lock     Lock
	reaper   Reaper
	guard    *CycleGuard
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a new Scheduler. A nil guard gets a private one.
func New(lock Lock, r Reaper, guard *CycleGuard, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if guard == nil {
		guard = NewCycleGuard()
	}
	return &Scheduler{
		lock:     lock,
		reaper:   r,
		guard:    guard,
		interval: cfg.Interval,
		metrics:  m,
		logger:   logger.With(slog.String("component", "cleanup")),
	}
}

// Start begins the periodic cycles. Calling Start on a running scheduler does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("cleanup scheduler started", "interval", s.interval)
	go s.run()
}

// Stop cancels future cycles and waits for the timer goroutine to exit. A cycle
// already in flight runs to completion; its store calls are not cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.logger.Info("cleanup scheduler stopped")
}

// Running reports whether the scheduler is started
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Cycles run to completion once begun
	ctx := context.Background()
	s.RunCycle(ctx)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle runs one cycle: skip if one is already running here, otherwise take
// the lock, run a cleanup pass and release the lock whatever happened.
func (s *Scheduler) RunCycle(ctx context.Context) (outcome CycleOutcome) {
	defer func() {
		s.metrics.RecordCycle(string(outcome))
	}()

	if !s.guard.TryEnter() {
		s.logger.Debug("cleanup cycle already running, skipping")
		return OutcomeSkipped
	}
	defer s.guard.Exit()

	if !s.lock.TryAcquire(ctx) {
		return OutcomeNotAcquired
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cleanup pass panicked", "panic", r)
			outcome = OutcomeFailed
		}
	}()
	defer s.lock.Release(ctx)

	res := s.reaper.RunCleanupPass(ctx)
	if err := res.Err(); err != nil {
		s.logger.Warn("cleanup pass incomplete, remaining work deferred", "error", err)
	}
	return OutcomeCompleted
}
