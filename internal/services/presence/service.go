// Package presence publishes whether the acting user is online and records when
// a guest went away, which is what guest expiry is measured from.
package presence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mcoot/basequiz/internal/dependencies/clock"
	"github.com/mcoot/basequiz/internal/model"
	"github.com/mcoot/basequiz/internal/realtime"
	"github.com/mcoot/basequiz/internal/services/identity"
)

// Service maintains presence/{uid} for the acting user
type Service struct {
	store    realtime.Store
	identity identity.Provider
	clock    clock.Clock
	logger   *slog.Logger
}

// New creates a new presence Service
func New(store realtime.Store, ident identity.Provider, clock clock.Clock, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		identity: ident,
		clock:    clock,
		logger:   logger.With(slog.String("component", "presence")),
	}
}

// GoOnline marks the acting user online and queues the writes that mark it
// offline if this connection drops. A returning guest's lastDisconnected is
// cleared so cleanup no longer counts it as gone.
func (s *Service) GoOnline(ctx context.Context) error {
	me, err := s.identity.Current()
	if err != nil {
		return err
	}

	// Queue the hooks first so a drop right after the write still lands offline
	offline := map[string]any{"online": false, "lastChanged": realtime.ServerTimestamp}
	if err := s.store.OnDisconnect(model.PresencePath(me.UID)).Set(ctx, offline); err != nil {
		return fmt.Errorf("queue presence hook: %w", err)
	}
	updates := map[string]any{
		model.PresencePath(me.UID): model.Presence{Online: true, LastChanged: model.Millis(s.clock.Now())},
	}
	if me.IsGuest {
		if err := s.store.OnDisconnect(model.LastDisconnectedPath(me.UID)).Set(ctx, realtime.ServerTimestamp); err != nil {
			return fmt.Errorf("queue disconnect time hook: %w", err)
		}
		updates[model.LastDisconnectedPath(me.UID)] = nil
	}

	if err := s.store.Update(ctx, updates); err != nil {
		return fmt.Errorf("go online: %w", err)
	}
	s.logger.Debug("online", "uid", me.UID)
	return nil
}

// GoOffline marks the acting user offline now and drops the queued hooks
func (s *Service) GoOffline(ctx context.Context) error {
	me, err := s.identity.Current()
	if err != nil {
		return err
	}

	for _, path := range []string{model.PresencePath(me.UID), model.LastDisconnectedPath(me.UID)} {
		if err := s.store.OnDisconnect(path).Cancel(ctx); err != nil {
			return fmt.Errorf("cancel presence hook: %w", err)
		}
	}

	now := model.Millis(s.clock.Now())
	updates := map[string]any{
		model.PresencePath(me.UID): model.Presence{Online: false, LastChanged: now},
	}
	if me.IsGuest {
		updates[model.LastDisconnectedPath(me.UID)] = now
	}
	if err := s.store.Update(ctx, updates); err != nil {
		return fmt.Errorf("go offline: %w", err)
	}
	s.logger.Debug("offline", "uid", me.UID)
	return nil
}

// Get reads a user's presence. Missing or malformed records read as offline.
func (s *Service) Get(ctx context.Context, uid model.UserID) (model.Presence, error) {
	snap, err := s.store.Get(ctx, model.PresencePath(uid))
	if err != nil {
		return model.Presence{}, err
	}
	var p model.Presence
	if err := snap.Decode(&p); err != nil {
		return model.Presence{}, nil
	}
	return p, nil
}

// Ready reports whether this peer currently reaches the store
func (s *Service) Ready() bool {
	return s.store.Connected()
}

// WatchReady calls fn with the current readiness and on every change
func (s *Service) WatchReady(fn func(bool)) realtime.Unsubscribe {
	return s.store.WatchConnected(fn)
}

// Track goes online now and again every time the connection comes back, since
// the hooks queued by GoOnline are spent when the connection drops.
func (s *Service) Track() realtime.Unsubscribe {
	return s.store.WatchConnected(func(ready bool) {
		if !ready {
			return
		}
		if err := s.GoOnline(context.Background()); err != nil {
			s.logger.Warn("failed to announce presence", "error", err)
		}
	})
}
