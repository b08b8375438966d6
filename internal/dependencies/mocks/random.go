package mocks

import (
	"sync"

	"github.com/mcoot/basequiz/internal/dependencies/random"
)

// MockRandom hands out queued strings in order. It is safe to use from the
// scheduler goroutine while a test queues more values.
type MockRandom struct {
	mu     sync.Mutex
	queued []string
}

// Ensure MockRandom implements Random
var _ random.Random = (*MockRandom)(nil)

// NewMockRandom creates a MockRandom with nothing queued
func NewMockRandom() *MockRandom {
	return &MockRandom{}
}

// String returns the next queued value regardless of length and alphabet, or ""
// once the queue is drained
func (r *MockRandom) String(length int, alphabet string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queued) == 0 {
		return ""
	}
	next := r.queued[0]
	r.queued = r.queued[1:]
	return next
}

// QueueString appends values to the queue
func (r *MockRandom) QueueString(values ...string) {
	r.mu.Lock()
	r.queued = append(r.queued, values...)
	r.mu.Unlock()
}
