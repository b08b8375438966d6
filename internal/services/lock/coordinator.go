// Package lock implements the cleanup lock: a time-bounded, advisory token at
// cleanup/lock that decides which peer runs the reaper.
//
// Acquisition is read-then-write. Two peers racing inside the window can both
// acquire; the work done under the lock is idempotent, so the cost is duplicate
// work, not corruption. Deployments that install the store rules turn the write
// into a compare-and-set and close the race.
package lock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mcoot/basequiz/internal/dependencies/clock"
	"github.com/mcoot/basequiz/internal/dependencies/random"
	"github.com/mcoot/basequiz/internal/metrics"
	"github.com/mcoot/basequiz/internal/model"
	"github.com/mcoot/basequiz/internal/realtime"
)

const (
	ownerTagLength   = 16
	ownerTagAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// Config holds lock settings
type Config struct {
	// Timeout is the age after which a held lock is considered abandoned
	Timeout time.Duration
}

// DefaultConfig returns default lock configuration
func DefaultConfig() Config {
	return Config{
		Timeout: 60 * time.Second,
	}
}

// Coordinator acquires and releases the cleanup lock for one peer
type Coordinator struct {
	store   realtime.Store
	clock   clock.Clock
	random  random.Random
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu    sync.Mutex
	owner string
}

// New creates a new lock Coordinator
func New(store realtime.Store, clock clock.Clock, random random.Random, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Coordinator{
		store:   store,
		clock:   clock,
		random:  random,
		timeout: cfg.Timeout,
		metrics: m,
		logger:  logger.With(slog.String("component", "lock")),
	}
}

// TryAcquire takes the lock if it is absent, malformed or older than the timeout.
// It never returns an error: anything that prevents acquisition means "not acquired".
func (c *Coordinator) TryAcquire(ctx context.Context) bool {
	snap, err := c.store.Get(ctx, model.CleanupLockPath)
	if err != nil {
		return c.fail("read lock", err)
	}

	now := c.clock.Now()
	if held, ok := decodeLock(snap); ok && c.isValid(held, now) {
		c.logger.Debug("lock held by another peer", "owner", held.AcquiredBy)
		c.metrics.RecordLockAttempt(metrics.LockHeld)
		return false
	}

	owner := c.random.String(ownerTagLength, ownerTagAlphabet)
	record := model.CleanupLock{
		Timestamp:  model.Millis(now),
		AcquiredBy: owner,
	}
	if err := c.store.Set(ctx, model.CleanupLockPath, record); err != nil {
		return c.fail("write lock", err)
	}

	// A crashed holder must not keep the lock until it times out
	if err := c.store.OnDisconnect(model.CleanupLockPath).Remove(ctx); err != nil {
		if rmErr := c.store.Remove(ctx, model.CleanupLockPath); rmErr != nil {
			c.logger.Warn("failed to back out lock without disconnect hook", "error", rmErr)
		}
		return c.fail("register disconnect hook", err)
	}

	c.mu.Lock()
	c.owner = owner
	c.mu.Unlock()

	c.logger.Debug("lock acquired", "owner", owner)
	c.metrics.RecordLockAttempt(metrics.LockAcquired)
	return true
}

// Release deletes the lock record whoever holds it, and drops this peer's
// disconnect hook for it. Releasing a lock that is not held is harmless.
func (c *Coordinator) Release(ctx context.Context) {
	if err := c.store.Remove(ctx, model.CleanupLockPath); err != nil {
		c.logger.Warn("failed to release lock", "error", err)
	}
	// A hook left behind would delete a later holder's lock when this peer leaves
	if err := c.store.OnDisconnect(model.CleanupLockPath).Cancel(ctx); err != nil {
		c.logger.Warn("failed to cancel lock disconnect hook", "error", err)
	}

	c.mu.Lock()
	c.owner = ""
	c.mu.Unlock()
}

// Owner returns the owner tag of the lock this peer last acquired, empty if none
func (c *Coordinator) Owner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}

// isValid reports whether a lock is still within its timeout window. A lock
// exactly Timeout old is already reclaimable.
func (c *Coordinator) isValid(lock model.CleanupLock, now time.Time) bool {
	return now.Sub(model.FromMillis(lock.Timestamp)) < c.timeout
}

// fail classifies an acquisition failure. Permission denials are routine lock
// contention; anything else is transient and retried next cycle.
func (c *Coordinator) fail(op string, err error) bool {
	if realtime.IsPermissionDenied(err) {
		c.logger.Debug("lock not acquired", "op", op, "error", err)
		c.metrics.RecordLockAttempt(metrics.LockDenied)
		return false
	}
	c.logger.Warn("lock not acquired", "op", op, "error", err)
	c.metrics.RecordLockAttempt(metrics.LockError)
	return false
}

// decodeLock reads a lock record. Missing and malformed records report false.
func decodeLock(snap realtime.Snapshot) (model.CleanupLock, bool) {
	if !snap.Exists() {
		return model.CleanupLock{}, false
	}
	var lock model.CleanupLock
	if err := snap.Decode(&lock); err != nil {
		return model.CleanupLock{}, false
	}
	return lock, true
}
