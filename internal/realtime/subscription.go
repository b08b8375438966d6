package realtime

import (
	"context"
	"sync"
	"time"
)

// Failed reads are retried with a doubling delay between these bounds until one
// succeeds or a change arrives.
const (
	readRetryMin = 50 * time.Millisecond
	readRetryMax = 2 * time.Second
)

// Listener is the delivery side of a Subscribe call, shared by the backends.
// Notifications are coalesced into a single pending signal; a goroutine re-reads
// the path and hands the latest snapshot to the callback.
type Listener struct {
	path   string
	read   func(ctx context.Context, path string) (Snapshot, error)
	fn     func(Snapshot)
	detach func(*Listener)

	pending chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewListener creates a listener and starts its delivery goroutine with an
// initial delivery already pending. detach is called exactly once on Unsubscribe.
func NewListener(path string, read func(ctx context.Context, path string) (Snapshot, error), fn func(Snapshot), detach func(*Listener)) *Listener {
	l := &Listener{
		path:    path,
		read:    read,
		fn:      fn,
		detach:  detach,
		pending: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	l.pending <- struct{}{}
	go l.run()
	return l
}

// Path returns the watched path.
func (l *Listener) Path() string {
	return l.path
}

// Notify marks the listener dirty if changed affects its path.
func (l *Listener) Notify(changed string) {
	if !Touches(changed, l.path) {
		return
	}
	select {
	case l.pending <- struct{}{}:
	default:
	}
}

// Unsubscribe stops future deliveries. A delivery already running completes.
func (l *Listener) Unsubscribe() {
	l.once.Do(func() {
		close(l.done)
		if l.detach != nil {
			l.detach(l)
		}
	})
}

func (l *Listener) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-l.done
		cancel()
	}()

	var (
		retry <-chan time.Time
		delay = readRetryMin
	)
	for {
		select {
		case <-l.done:
			return
		case <-l.pending:
		case <-retry:
		}
		retry = nil

		snap, err := l.read(ctx, l.path)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			retry = time.After(delay)
			delay = min(2*delay, readRetryMax)
			continue
		}
		delay = readRetryMin

		select {
		case <-l.done:
			return
		default:
		}
		l.fn(snap)
	}
}

// ConnectionState tracks a connection's online flag and its watchers.
type ConnectionState struct {
	mu       sync.Mutex
	online   bool
	nextID   int
	watchers map[int]func(bool)
}

// NewConnectionState returns a state holder starting at online.
func NewConnectionState(online bool) *ConnectionState {
	return &ConnectionState{online: online, watchers: make(map[int]func(bool))}
}

// Online returns the current state.
func (c *ConnectionState) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// Set changes the state and notifies watchers if it changed.
func (c *ConnectionState) Set(online bool) {
	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return
	}
	c.online = online
	fns := make([]func(bool), 0, len(c.watchers))
	for _, fn := range c.watchers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

// Watch registers fn, calls it with the current state and returns its detach func.
func (c *ConnectionState) Watch(fn func(bool)) Unsubscribe {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = fn
	online := c.online
	c.mu.Unlock()

	fn(online)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, id)
			c.mu.Unlock()
		})
	}
}
