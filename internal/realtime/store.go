// Package realtime defines the contract of the shared, tree-structured realtime
// store that every peer reads and writes, plus the tree utilities shared by the
// backends.
//
// Data is a JSON tree addressed by slash-separated paths ("rooms/ABC123/players/u1").
// Objects are stored flattened into leaves and assembled again on read, so writing
// an empty object is the same as deleting the node.
package realtime

import (
	"context"
	"encoding/json"
	"time"
)

// MaxTransactionRetries bounds how often a Transaction re-runs its function on conflict.
const MaxTransactionRetries = 25

// Snapshot is the value of a subtree at a point in time.
type Snapshot struct {
	Path  string
	Key   string
	Value json.RawMessage
}

// Exists reports whether there was any data at the path.
func (s Snapshot) Exists() bool {
	return len(s.Value) > 0
}

// Decode unmarshals the snapshot into v. A missing snapshot leaves v untouched.
// Decode errors are data-shape errors; callers treat the record as absent.
func (s Snapshot) Decode(v any) error {
	if !s.Exists() {
		return nil
	}
	return json.Unmarshal(s.Value, v)
}

// Query selects a range of children ordered by a numeric child field.
type Query struct {
	// OrderBy is the child field to order by. Empty orders by key.
	OrderBy string
	// LimitToLast keeps only the last N children after ordering. Zero keeps all.
	LimitToLast int
}

// TxnFunc computes the next value of a path from its current value (nil if absent).
// Returning a nil value deletes the path; returning ErrAbortTransaction aborts.
// The function may run several times and must not have side effects.
type TxnFunc func(current json.RawMessage) (any, error)

// Unsubscribe detaches a listener. It is safe to call more than once.
type Unsubscribe func()

// DisconnectOps queues writes the store applies when this connection goes away,
// whether by explicit Close or because the peer vanished.
type DisconnectOps interface {
	Set(ctx context.Context, value any) error
	Remove(ctx context.Context) error
	// Cancel drops every queued op at or below the path.
	Cancel(ctx context.Context) error
}

// Store is one peer's connection to the shared tree.
type Store interface {
	// Get returns the subtree at path; a missing path yields a snapshot that does not exist.
	Get(ctx context.Context, path string) (Snapshot, error)

	// Children returns the immediate children of path sorted by key.
	Children(ctx context.Context, path string) ([]Snapshot, error)

	// Query returns children of path ordered and limited by q.
	Query(ctx context.Context, path string, q Query) ([]Snapshot, error)

	// Set replaces the subtree at path. A nil value removes it.
	Set(ctx context.Context, path string, value any) error

	// Update applies a multi-path write as one unit: readers see all of it or none
	// of it. Nil values delete the subtree at that path. Paths must not overlap.
	Update(ctx context.Context, updates map[string]any) error

	// Remove deletes the subtree at path. Removing a missing path is not an error.
	Remove(ctx context.Context, path string) error

	// Transaction atomically replaces the value at path with fn(current), retrying
	// fn when a concurrent writer touched the path in between.
	Transaction(ctx context.Context, path string, fn TxnFunc) (Snapshot, error)

	// Subscribe calls fn with the current value of path and again after every change
	// at, above or below it. Delivery is coalesced: fn always sees the latest value.
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error)

	// OnDisconnect returns the disconnect hooks for path on this connection.
	OnDisconnect(path string) DisconnectOps

	// Connected reports whether this connection currently reaches the store.
	Connected() bool

	// WatchConnected calls fn with the current connection state and on every change.
	WatchConnected(fn func(bool)) Unsubscribe

	// Auth sets the identity access rules see for this connection's writes.
	Auth(uid string)

	// Close disconnects, firing this connection's disconnect hooks.
	Close() error
}

// WriteRequest describes one path of a write for access rules.
type WriteRequest struct {
	Auth    string
	Path    string
	Current json.RawMessage // nil if absent
	Next    json.RawMessage // nil for deletes
	Now     time.Time
}

// Rules decides whether a write may proceed. Backends evaluate it inside the
// write's atomic section against the stored value.
type Rules interface {
	CheckWrite(req WriteRequest) error
}

// RulesFunc adapts a function to Rules.
type RulesFunc func(req WriteRequest) error

// CheckWrite calls f(req).
func (f RulesFunc) CheckWrite(req WriteRequest) error {
	return f(req)
}
