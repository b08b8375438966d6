package cleanup

import "sync/atomic"

// CycleGuard records whether a cleanup cycle is running on this peer. Share one
// guard between everything that can trigger a cycle so they never overlap.
type CycleGuard struct {
	running atomic.Bool
}

// NewCycleGuard creates an idle guard
func NewCycleGuard() *CycleGuard {
	return &CycleGuard{}
}

// TryEnter marks a cycle as running. It returns false if one already is.
func (g *CycleGuard) TryEnter() bool {
	return g.running.CompareAndSwap(false, true)
}

// Exit marks the running cycle as finished
func (g *CycleGuard) Exit() {
	g.running.Store(false)
}

// Running reports whether a cycle is in progress
func (g *CycleGuard) Running() bool {
	return g.running.Load()
}
