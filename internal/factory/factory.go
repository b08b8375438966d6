package factory

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mcoot/basequiz/internal/dependencies/clock"
	"github.com/mcoot/basequiz/internal/dependencies/random"
	"github.com/mcoot/basequiz/internal/metrics"
	"github.com/mcoot/basequiz/internal/realtime"
	"github.com/mcoot/basequiz/internal/realtime/memory"
	realtimeredis "github.com/mcoot/basequiz/internal/realtime/redis"
	"github.com/mcoot/basequiz/internal/realtime/rules"
	"github.com/mcoot/basequiz/internal/services/chat"
	"github.com/mcoot/basequiz/internal/services/cleanup"
	"github.com/mcoot/basequiz/internal/services/identity"
	"github.com/mcoot/basequiz/internal/services/lock"
	"github.com/mcoot/basequiz/internal/services/presence"
	"github.com/mcoot/basequiz/internal/services/reaper"
	"github.com/mcoot/basequiz/internal/services/rooms"
	"github.com/mcoot/basequiz/internal/services/stats"
)

// Storage type constants
const (
	StorageTypeMemory = "memory"
	StorageTypeRedis  = "redis"
)

// App contains all wired components of one peer
type App struct {
	// Store is this peer's connection to the shared tree
	Store realtime.Store

	// External dependencies
	Clock   clock.Clock
	Random  random.Random
	Metrics *metrics.Metrics

	// Services
	Identity *identity.Service
	Rooms    *rooms.Controller
	Lock     *lock.Coordinator
	Reaper   *reaper.Reaper
	Cleanup  *cleanup.Scheduler
	Stats    *stats.Service
	Chat     *chat.Service
	Presence *presence.Service
}

// Config holds configuration for the application factory
type Config struct {
	// StorageType selects the store backend ("memory" or "redis")
	// If empty, defaults to "memory"
	StorageType string
	// RedisConfig holds Redis connection settings (required if StorageType is "redis")
	RedisConfig *realtimeredis.Config

	// LockTimeout, GuestTTL and CleanupInterval fall back to the service defaults when zero
	LockTimeout     time.Duration
	GuestTTL        time.Duration
	CleanupInterval time.Duration
	// ChatLimit is how many messages a chat feed keeps (optional)
	ChatLimit int

	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger
	// Metrics receives the peer's collectors (optional)
	// If nil, nothing is recorded
	Metrics *metrics.Metrics
}

func (c Config) lockTimeout() time.Duration {
	if c.LockTimeout <= 0 {
		return lock.DefaultConfig().Timeout
	}
	return c.LockTimeout
}

// New creates a new peer with all dependencies wired
func New(cfg Config) (*App, error) {
	// Use no-op logger if not provided
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	clk := clock.New()
	ruleSet := rules.Default(cfg.lockTimeout())

	// Create the store connection based on type
	var store realtime.Store
	storageType := cfg.StorageType
	if storageType == "" {
		storageType = StorageTypeMemory
	}

	switch storageType {
	case StorageTypeMemory:
		// A private tree: only useful for a single peer or for trying the CLI
		store = memory.NewServer(memory.WithRules(ruleSet), memory.WithClock(clk)).Connect()
	case StorageTypeRedis:
		if cfg.RedisConfig == nil {
			return nil, errors.New("RedisConfig required when StorageType is redis")
		}
		redisStore, err := realtimeredis.New(*cfg.RedisConfig,
			realtimeredis.WithRules(ruleSet),
			realtimeredis.WithClock(clk),
			realtimeredis.WithLogger(logger.With(slog.String("component", "store"))),
		)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		store = redisStore
	default:
		return nil, errors.New("invalid StorageType: must be 'memory' or 'redis'")
	}

	return newWithDependencies(store, clk, random.New(), cfg, logger), nil
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(store realtime.Store, clk clock.Clock, rnd random.Random, cfg Config, logger *slog.Logger) *App {
	m := cfg.Metrics

	identityService := identity.New(store, clk, logger)
	coordinator := lock.New(store, clk, rnd, lock.Config{Timeout: cfg.lockTimeout()}, m, logger)
	r := reaper.New(store, clk, reaper.Config{GuestTTL: cfg.GuestTTL}, m, logger)

	return &App{
		Store:    store,
		Clock:    clk,
		Random:   rnd,
		Metrics:  m,
		Identity: identityService,
		Rooms:    rooms.NewController(store, identityService, clk, rnd, logger),
		Lock:     coordinator,
		Reaper:   r,
		Cleanup:  cleanup.New(coordinator, r, cleanup.NewCycleGuard(), cleanup.Config{Interval: cfg.CleanupInterval}, m, logger),
		Stats:    stats.New(store, identityService, clk, m, logger),
		Chat:     chat.New(store, identityService, clk, cfg.ChatLimit, logger),
		Presence: presence.New(store, identityService, clk, logger),
	}
}

// StartCleanupService starts periodic cleanup on this peer. It is a no-op if
// already started.
func (a *App) StartCleanupService() {
	a.Cleanup.Start()
}

// StopCleanupService stops future cleanup cycles. It is a no-op if not started.
func (a *App) StopCleanupService() {
	a.Cleanup.Stop()
}

// Close stops cleanup and disconnects from the store, which fires this peer's
// disconnect hooks
func (a *App) Close() error {
	a.StopCleanupService()
	return a.Store.Close()
}
