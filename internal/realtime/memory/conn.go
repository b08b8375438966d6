package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mcoot/basequiz/internal/realtime"
)

// Conn is one peer's connection to a Server
type Conn struct {
	id     string
	server *Server

	mu        sync.Mutex
	auth      string
	closed    bool
	hooks     map[string]json.RawMessage // nil value removes
	listeners map[*realtime.Listener]struct{}

	state *realtime.ConnectionState
}

// Ensure Conn implements the interface
var _ realtime.Store = (*Conn)(nil)

// ID returns the connection id
func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) ready() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", realtime.ErrStoreClosed
	}
	if !c.state.Online() {
		return "", realtime.ErrOffline
	}
	return c.auth, nil
}

func (c *Conn) Get(ctx context.Context, path string) (realtime.Snapshot, error) {
	clean, err := realtime.CleanPath(path)
	if err != nil {
		return realtime.Snapshot{}, err
	}
	if _, err := c.ready(); err != nil {
		return realtime.Snapshot{}, err
	}
	return c.server.get(clean)
}

func (c *Conn) Children(ctx context.Context, path string) ([]realtime.Snapshot, error) {
	clean, err := realtime.CleanPath(path)
	if err != nil {
		return nil, err
	}
	if _, err := c.ready(); err != nil {
		return nil, err
	}
	return c.server.children(clean)
}

func (c *Conn) Query(ctx context.Context, path string, q realtime.Query) ([]realtime.Snapshot, error) {
	children, err := c.Children(ctx, path)
	if err != nil {
		return nil, err
	}
	return realtime.ApplyQuery(children, q), nil
}

func (c *Conn) Set(ctx context.Context, path string, value any) error {
	return c.Update(ctx, map[string]any{path: value})
}

func (c *Conn) Update(ctx context.Context, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	auth, err := c.ready()
	if err != nil {
		return err
	}
	return c.server.write(&auth, updates)
}

func (c *Conn) Remove(ctx context.Context, path string) error {
	return c.Update(ctx, map[string]any{path: nil})
}

func (c *Conn) Transaction(ctx context.Context, path string, fn realtime.TxnFunc) (realtime.Snapshot, error) {
	clean, err := realtime.CleanWritePath(path)
	if err != nil {
		return realtime.Snapshot{}, err
	}
	auth, err := c.ready()
	if err != nil {
		return realtime.Snapshot{}, err
	}
	return c.server.transaction(ctx, auth, clean, fn)
}

func (c *Conn) Subscribe(ctx context.Context, path string, fn func(realtime.Snapshot)) (realtime.Unsubscribe, error) {
	clean, err := realtime.CleanPath(path)
	if err != nil {
		return nil, err
	}
	if _, err := c.ready(); err != nil {
		return nil, err
	}

	read := func(_ context.Context, p string) (realtime.Snapshot, error) {
		if _, err := c.ready(); err != nil {
			return realtime.Snapshot{}, err
		}
		return c.server.get(p)
	}
	l := realtime.NewListener(clean, read, fn, func(l *realtime.Listener) {
		c.mu.Lock()
		delete(c.listeners, l)
		c.mu.Unlock()
		c.server.detach(l)
	})

	c.mu.Lock()
	c.listeners[l] = struct{}{}
	c.mu.Unlock()
	c.server.attach(l)

	// A write between the first read and attach must not be lost
	l.Notify(clean)
	return l.Unsubscribe, nil
}

func (c *Conn) OnDisconnect(path string) realtime.DisconnectOps {
	return &disconnectOps{conn: c, path: path}
}

func (c *Conn) Connected() bool {
	return c.state.Online()
}

func (c *Conn) WatchConnected(fn func(bool)) realtime.Unsubscribe {
	return c.state.Watch(fn)
}

func (c *Conn) Auth(uid string) {
	c.mu.Lock()
	c.auth = uid
	c.mu.Unlock()
}

// Close disconnects for good, firing disconnect hooks and detaching listeners
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	listeners := make([]*realtime.Listener, 0, len(c.listeners))
	for l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l.Unsubscribe()
	}
	c.Disconnect()
	return nil
}

// Disconnect simulates losing the connection: the server fires the hooks and
// forgets them, and operations fail with ErrOffline until Reconnect.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if !c.state.Online() {
		c.mu.Unlock()
		return
	}
	hooks := c.hooks
	c.hooks = make(map[string]json.RawMessage)
	c.mu.Unlock()

	c.server.fireHooks(c.id, hooks)
	c.state.Set(false)
}

// Reconnect restores a connection dropped by Disconnect
func (c *Conn) Reconnect() {
	c.mu.Lock()
	if c.closed || c.state.Online() {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.server.mu.Lock()
	c.server.conns[c.id] = c
	c.server.mu.Unlock()
	c.state.Set(true)
}

type disconnectOps struct {
	conn *Conn
	path string
}

func (d *disconnectOps) Set(ctx context.Context, value any) error {
	clean, err := realtime.CleanWritePath(d.path)
	if err != nil {
		return err
	}
	auth, err := d.conn.ready()
	if err != nil {
		return err
	}
	if err := d.conn.server.check(auth, map[string]any{clean: value}); err != nil {
		return err
	}

	var raw json.RawMessage
	if value != nil {
		raw, err = json.Marshal(value)
		if err != nil {
			return err
		}
	}

	d.conn.mu.Lock()
	defer d.conn.mu.Unlock()
	d.conn.hooks[clean] = raw
	return nil
}

func (d *disconnectOps) Remove(ctx context.Context) error {
	return d.Set(ctx, nil)
}

func (d *disconnectOps) Cancel(ctx context.Context) error {
	clean, err := realtime.CleanWritePath(d.path)
	if err != nil {
		return err
	}
	d.conn.mu.Lock()
	defer d.conn.mu.Unlock()
	for p := range d.conn.hooks {
		if realtime.IsWithin(p, clean) {
			delete(d.conn.hooks, p)
		}
	}
	return nil
}
