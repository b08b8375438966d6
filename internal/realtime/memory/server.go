// Package memory provides an in-process realtime store. A Server holds the shared
// tree; every peer talks to it through its own Conn, so multi-peer races can be
// exercised inside one process.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/mcoot/basequiz/internal/dependencies/clock"
	"github.com/mcoot/basequiz/internal/realtime"
)

// changeLogSize is how many recent write paths are kept for transaction conflict checks
const changeLogSize = 1024

type change struct {
	version uint64
	path    string
}

// Server is the shared tree all connections read and write
type Server struct {
	mu sync.RWMutex

	leaves    realtime.Leaves
	version   uint64
	changes   []change
	listeners map[*realtime.Listener]struct{}
	conns     map[string]*Conn

	rules realtime.Rules
	clock clock.Clock
}

// Option configures a Server
type Option func(*Server)

// WithRules enables access rules on every write
func WithRules(rules realtime.Rules) Option {
	return func(s *Server) {
		s.rules = rules
	}
}

// WithClock sets the clock rules see as "now"
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// NewServer creates an empty shared tree
func NewServer(opts ...Option) *Server {
	s := &Server{
		leaves:    make(realtime.Leaves),
		listeners: make(map[*realtime.Listener]struct{}),
		conns:     make(map[string]*Conn),
		clock:     clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens a new peer connection to the server
func (s *Server) Connect() *Conn {
	c := &Conn{
		id:        uuid.NewString(),
		server:    s,
		hooks:     make(map[string]json.RawMessage),
		listeners: make(map[*realtime.Listener]struct{}),
		state:     realtime.NewConnectionState(true),
	}
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	return c
}

// ListenerCount returns the number of attached subscriptions across all connections
func (s *Server) ListenerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}

// ConnectionCount returns the number of open connections
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Leaves returns a copy of every stored leaf (for tests and debugging)
func (s *Server) Leaves() realtime.Leaves {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(realtime.Leaves, len(s.leaves))
	for k, v := range s.leaves {
		out[k] = v
	}
	return out
}

func (s *Server) get(path string) (realtime.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, err := realtime.Assemble(path, s.leaves.Subtree(path))
	if err != nil {
		return realtime.Snapshot{}, err
	}
	return realtime.Snapshot{Path: path, Key: realtime.KeyOf(path), Value: value}, nil
}

func (s *Server) children(path string) ([]realtime.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return realtime.ChildSnapshots(path, s.leaves.Subtree(path))
}

// write applies a multi-path update atomically. Rules are skipped when auth is nil,
// which is how disconnect hooks run.
func (s *Server) write(auth *string, updates map[string]any) error {
	s.mu.Lock()
	plan, err := realtime.PlanWrite(s.leaves, updates)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if auth != nil {
		if err := s.checkLocked(*auth, plan); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	listeners := s.applyLocked(plan)
	s.mu.Unlock()

	notify(listeners, plan.Paths)
	return nil
}

// check evaluates rules for a plan without applying it
func (s *Server) check(auth string, updates map[string]any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plan, err := realtime.PlanWrite(s.leaves, updates)
	if err != nil {
		return err
	}
	return s.checkLocked(auth, plan)
}

func (s *Server) checkLocked(auth string, plan *realtime.WritePlan) error {
	return realtime.CheckPlan(s.rules, auth, s.clock.Now(), s.leaves, plan)
}

func (s *Server) applyLocked(plan *realtime.WritePlan) []*realtime.Listener {
	for _, leaf := range plan.Delete {
		delete(s.leaves, leaf)
	}
	for k, v := range plan.Put {
		s.leaves[k] = v
	}
	s.version++
	for _, path := range plan.Paths {
		s.changes = append(s.changes, change{version: s.version, path: path})
	}
	if len(s.changes) > changeLogSize {
		s.changes = append([]change(nil), s.changes[len(s.changes)-changeLogSize:]...)
	}

	listeners := make([]*realtime.Listener, 0, len(s.listeners))
	for l := range s.listeners {
		listeners = append(listeners, l)
	}
	return listeners
}

// changedSinceLocked reports whether any write after version touched path
func (s *Server) changedSinceLocked(version uint64, path string) bool {
	if version == s.version {
		return false
	}
	if len(s.changes) == 0 || s.changes[0].version > version+1 {
		// Log no longer covers the window
		return true
	}
	for _, c := range s.changes {
		if c.version > version && realtime.Touches(c.path, path) {
			return true
		}
	}
	return false
}

func (s *Server) transaction(ctx context.Context, auth string, path string, fn realtime.TxnFunc) (realtime.Snapshot, error) {
	for attempt := 0; attempt < realtime.MaxTransactionRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return realtime.Snapshot{}, err
		}

		s.mu.RLock()
		current, err := realtime.Assemble(path, s.leaves.Subtree(path))
		version := s.version
		s.mu.RUnlock()
		if err != nil {
			return realtime.Snapshot{}, err
		}

		next, err := fn(current)
		if err != nil {
			return realtime.Snapshot{}, err
		}

		s.mu.Lock()
		if s.changedSinceLocked(version, path) {
			s.mu.Unlock()
			continue
		}
		plan, err := realtime.PlanWrite(s.leaves, map[string]any{path: next})
		if err == nil {
			err = s.checkLocked(auth, plan)
		}
		if err != nil {
			s.mu.Unlock()
			return realtime.Snapshot{}, err
		}
		listeners := s.applyLocked(plan)
		s.mu.Unlock()

		notify(listeners, plan.Paths)
		return realtime.Snapshot{Path: path, Key: realtime.KeyOf(path), Value: plan.Next[path]}, nil
	}
	return realtime.Snapshot{}, realtime.ErrTxnConflict
}

func (s *Server) attach(l *realtime.Listener) {
	s.mu.Lock()
	s.listeners[l] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) detach(l *realtime.Listener) {
	s.mu.Lock()
	delete(s.listeners, l)
	s.mu.Unlock()
}

// fireHooks applies a departed connection's disconnect hooks, one path at a time
func (s *Server) fireHooks(id string, hooks map[string]json.RawMessage) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()

	paths := make([]string, 0, len(hooks))
	for p := range hooks {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	now := s.clock.Now()
	for _, p := range paths {
		var value any
		if hooks[p] != nil {
			raw, err := realtime.ResolveServerValues(hooks[p], now)
			if err != nil {
				continue
			}
			value = raw
		}
		_ = s.write(nil, map[string]any{p: value})
	}
}

func notify(listeners []*realtime.Listener, paths []string) {
	for _, l := range listeners {
		for _, p := range paths {
			l.Notify(p)
		}
	}
}
