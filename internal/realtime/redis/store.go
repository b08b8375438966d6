// Package redis is the shared realtime store backed by Redis. Every peer opens its
// own Store; they meet in one hash holding the flattened tree, learn about each
// other's writes over Pub/Sub and keep each other's disconnect hooks honest through
// heartbeat keys.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mcoot/basequiz/internal/dependencies/clock"
	"github.com/mcoot/basequiz/internal/realtime"
)

const (
	// scanCount is the HSCAN batch size when reading a subtree
	scanCount = 500

	// closeTimeout bounds the Redis calls made while closing
	closeTimeout = 5 * time.Second
)

// Store is one peer's connection to the Redis-backed tree
type Store struct {
	client     *redis.Client
	ownsClient bool
	cfg        Config
	keys       keys
	id         string

	rules  realtime.Rules
	clock  clock.Clock
	logger *slog.Logger

	mu        sync.Mutex
	auth      string
	closed    bool
	listeners map[*realtime.Listener]struct{}
	pubsub    *redis.PubSub

	state  *realtime.ConnectionState
	stopCh chan struct{}
	doneCh chan struct{}
}

// Ensure Store implements the interface
var _ realtime.Store = (*Store)(nil)

// Option configures a Store
type Option func(*Store)

// WithRules enables access rules on every write
func WithRules(rules realtime.Rules) Option {
	return func(s *Store) {
		s.rules = rules
	}
}

// WithClock sets the clock rules see as "now"
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithLogger sets the logger for background heartbeat and feed errors
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New connects to Redis and registers a new peer connection
func New(cfg Config, opts ...Option) (*Store, error) {
	redisOpts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	redisOpts.PoolSize = cfg.PoolSize
	redisOpts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(redisOpts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	s, err := NewWithClient(client, cfg, opts...)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.ownsClient = true
	return s, nil
}

// NewWithClient registers a peer connection on an existing client (for testing and
// for sharing one pool between peers). The client is not closed by Close.
func NewWithClient(client *redis.Client, cfg Config, opts ...Option) (*Store, error) {
	cfg = cfg.withDefaults()
	s := &Store{
		client:    client,
		cfg:       cfg,
		keys:      keys{prefix: cfg.KeyPrefix},
		id:        uuid.NewString(),
		clock:     clock.New(),
		logger:    slog.Default(),
		listeners: make(map[*realtime.Listener]struct{}),
		state:     realtime.NewConnectionState(true),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.beat(ctx); err != nil {
		return nil, err
	}

	go s.run()
	return s, nil
}

// ID returns the connection id
func (s *Store) ID() string {
	return s.id
}

func (s *Store) ready() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", realtime.ErrStoreClosed
	}
	if !s.state.Online() {
		return "", realtime.ErrOffline
	}
	return s.auth, nil
}

func (s *Store) Get(ctx context.Context, path string) (realtime.Snapshot, error) {
	clean, err := realtime.CleanPath(path)
	if err != nil {
		return realtime.Snapshot{}, err
	}
	if _, err := s.ready(); err != nil {
		return realtime.Snapshot{}, err
	}
	return s.get(ctx, clean)
}

func (s *Store) get(ctx context.Context, path string) (realtime.Snapshot, error) {
	leaves, err := s.readLeaves(ctx, path)
	if err != nil {
		return realtime.Snapshot{}, err
	}
	value, err := realtime.Assemble(path, leaves)
	if err != nil {
		return realtime.Snapshot{}, err
	}
	return realtime.Snapshot{Path: path, Key: realtime.KeyOf(path), Value: value}, nil
}

func (s *Store) Children(ctx context.Context, path string) ([]realtime.Snapshot, error) {
	clean, err := realtime.CleanPath(path)
	if err != nil {
		return nil, err
	}
	if _, err := s.ready(); err != nil {
		return nil, err
	}
	leaves, err := s.readLeaves(ctx, clean)
	if err != nil {
		return nil, err
	}
	return realtime.ChildSnapshots(clean, leaves)
}

func (s *Store) Query(ctx context.Context, path string, q realtime.Query) ([]realtime.Snapshot, error) {
	children, err := s.Children(ctx, path)
	if err != nil {
		return nil, err
	}
	return realtime.ApplyQuery(children, q), nil
}

func (s *Store) Set(ctx context.Context, path string, value any) error {
	return s.Update(ctx, map[string]any{path: value})
}

func (s *Store) Update(ctx context.Context, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	auth, err := s.ready()
	if err != nil {
		return err
	}
	return s.mutate(ctx, &auth, updates)
}

func (s *Store) Remove(ctx context.Context, path string) error {
	return s.Update(ctx, map[string]any{path: nil})
}

func (s *Store) Transaction(ctx context.Context, path string, fn realtime.TxnFunc) (realtime.Snapshot, error) {
	clean, err := realtime.CleanWritePath(path)
	if err != nil {
		return realtime.Snapshot{}, err
	}
	auth, err := s.ready()
	if err != nil {
		return realtime.Snapshot{}, err
	}

	var plan *realtime.WritePlan
	txf := func(tx *redis.Tx) error {
		current, err := readForWrite(ctx, tx, s.keys.tree(), clean)
		if err != nil {
			return err
		}
		value, err := realtime.Assemble(clean, current.Subtree(clean))
		if err != nil {
			return err
		}
		next, err := fn(value)
		if err != nil {
			return err
		}
		plan, err = realtime.PlanWrite(current, map[string]any{clean: next})
		if err != nil {
			return err
		}
		if err := realtime.CheckPlan(s.rules, auth, s.clock.Now(), current, plan); err != nil {
			return err
		}
		return s.commit(ctx, tx, plan)
	}
	if err := s.watch(ctx, txf); err != nil {
		return realtime.Snapshot{}, err
	}

	s.publish(ctx, plan)
	return realtime.Snapshot{Path: clean, Key: realtime.KeyOf(clean), Value: plan.Next[clean]}, nil
}

func (s *Store) Subscribe(ctx context.Context, path string, fn func(realtime.Snapshot)) (realtime.Unsubscribe, error) {
	clean, err := realtime.CleanPath(path)
	if err != nil {
		return nil, err
	}
	if _, err := s.ready(); err != nil {
		return nil, err
	}
	if err := s.ensureFeed(ctx); err != nil {
		return nil, err
	}

	read := func(ctx context.Context, p string) (realtime.Snapshot, error) {
		if _, err := s.ready(); err != nil {
			return realtime.Snapshot{}, err
		}
		return s.get(ctx, p)
	}
	l := realtime.NewListener(clean, read, fn, func(l *realtime.Listener) {
		s.mu.Lock()
		delete(s.listeners, l)
		s.mu.Unlock()
	})

	s.mu.Lock()
	s.listeners[l] = struct{}{}
	s.mu.Unlock()

	// A change published before the listener was registered must not be lost
	l.Notify(clean)
	return l.Unsubscribe, nil
}

func (s *Store) OnDisconnect(path string) realtime.DisconnectOps {
	return &disconnectOps{store: s, path: path}
}

func (s *Store) Connected() bool {
	return s.state.Online()
}

func (s *Store) WatchConnected(fn func(bool)) realtime.Unsubscribe {
	return s.state.Watch(fn)
}

func (s *Store) Auth(uid string) {
	s.mu.Lock()
	s.auth = uid
	s.mu.Unlock()
}

// Close stops the heartbeat, applies this connection's disconnect hooks and
// deregisters it. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listeners := make([]*realtime.Listener, 0, len(s.listeners))
	for l := range s.listeners {
		listeners = append(listeners, l)
	}
	ps := s.pubsub
	s.pubsub = nil
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh

	for _, l := range listeners {
		l.Unsubscribe()
	}

	var errs []error
	if ps != nil {
		if err := ps.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	claimed, err := s.client.SRem(ctx, s.keys.conns(), s.id).Result()
	switch {
	case err != nil:
		errs = append(errs, err)
	case claimed == 1:
		if err := s.fireHooks(ctx, s.id); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.client.Del(ctx, s.keys.conn(s.id)).Err(); err != nil {
		errs = append(errs, err)
	}
	s.state.Set(false)

	if s.ownsClient {
		if err := s.client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ensureFeed starts the Pub/Sub receiver the first time something subscribes
func (s *Store) ensureFeed(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pubsub != nil {
		return nil
	}

	ps := s.client.Subscribe(ctx, s.keys.changes())
	// Wait for the subscription to be confirmed so no later publish is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return err
	}
	s.pubsub = ps
	go s.feed(ps.Channel())
	return nil
}

func (s *Store) feed(ch <-chan *redis.Message) {
	for msg := range ch {
		var paths []string
		if err := json.Unmarshal([]byte(msg.Payload), &paths); err != nil {
			s.logger.Warn("discarding malformed change notification", "payload", msg.Payload, "error", err)
			continue
		}

		s.mu.Lock()
		listeners := make([]*realtime.Listener, 0, len(s.listeners))
		for l := range s.listeners {
			listeners = append(listeners, l)
		}
		s.mu.Unlock()

		for _, l := range listeners {
			for _, p := range paths {
				l.Notify(p)
			}
		}
	}
}
