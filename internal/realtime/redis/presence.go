package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/mcoot/basequiz/internal/realtime"
)

// hookRemove is how a queued delete is stored in the hooks hash
const hookRemove = "null"

func (s *Store) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HeartbeatInterval)
			if err := s.Heartbeat(ctx); err != nil {
				s.logger.Warn("heartbeat failed", "conn", s.id, "error", err)
			}
			cancel()
		}
	}
}

// Heartbeat refreshes this connection's liveness key, then sweeps peers whose
// heartbeat expired. The connection is reported offline while Redis is unreachable.
// A connection that another peer swept while it stalled has lost its hooks, so
// rejoining is reported as a drop followed by a reconnect.
func (s *Store) Heartbeat(ctx context.Context) error {
	rejoined, err := s.beat(ctx)
	if err != nil {
		s.state.Set(false)
		return err
	}
	if rejoined {
		s.logger.Warn("connection was swept while stalled, reconnecting", "conn", s.id)
		s.state.Set(false)
	}
	s.state.Set(true)

	if _, err := s.SweepExpired(ctx); err != nil {
		return fmt.Errorf("sweep expired connections: %w", err)
	}
	return nil
}

// beat refreshes the liveness key and reports whether the connection had to be
// re-added to the live set
func (s *Store) beat(ctx context.Context) (bool, error) {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keys.conn(s.id), "1", s.cfg.HeartbeatTTL)
	added := pipe.SAdd(ctx, s.keys.conns(), s.id)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return added.Val() == 1, nil
}

// SweepExpired applies the disconnect hooks of every peer whose heartbeat expired
// and returns how many peers it claimed. Claiming is an SREM, so each departed
// peer's hooks run once however many connections sweep concurrently.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	ids, err := s.client.SMembers(ctx, s.keys.conns()).Result()
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, id := range ids {
		if id == s.id {
			continue
		}
		alive, err := s.client.Exists(ctx, s.keys.conn(id)).Result()
		if err != nil {
			return swept, err
		}
		if alive > 0 {
			continue
		}
		claimed, err := s.client.SRem(ctx, s.keys.conns(), id).Result()
		if err != nil {
			return swept, err
		}
		if claimed == 0 {
			continue
		}
		s.logger.Info("applying disconnect hooks of expired connection", "conn", id)
		if err := s.fireHooks(ctx, id); err != nil {
			return swept, err
		}
		swept++
	}
	return swept, nil
}

// fireHooks applies a departed connection's hooks one path at a time, then forgets them
func (s *Store) fireHooks(ctx context.Context, id string) error {
	hooks, err := s.client.HGetAll(ctx, s.keys.hooks(id)).Result()
	if err != nil {
		return err
	}

	paths := make([]string, 0, len(hooks))
	for p := range hooks {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	now := s.clock.Now()
	for _, p := range paths {
		var value any
		if hooks[p] != hookRemove {
			raw, err := realtime.ResolveServerValues(json.RawMessage(hooks[p]), now)
			if err != nil {
				return fmt.Errorf("resolve disconnect hook %s: %w", p, err)
			}
			value = raw
		}
		if err := s.mutate(ctx, nil, map[string]any{p: value}); err != nil {
			return fmt.Errorf("apply disconnect hook %s: %w", p, err)
		}
	}
	return s.client.Del(ctx, s.keys.hooks(id)).Err()
}

type disconnectOps struct {
	store *Store
	path  string
}

func (d *disconnectOps) Set(ctx context.Context, value any) error {
	clean, err := realtime.CleanWritePath(d.path)
	if err != nil {
		return err
	}
	auth, err := d.store.ready()
	if err != nil {
		return err
	}

	// Rules are checked when the hook is queued; it runs later without them
	current, err := readForWrite(ctx, d.store.client, d.store.keys.tree(), clean)
	if err != nil {
		return err
	}
	plan, err := realtime.PlanWrite(current, map[string]any{clean: value})
	if err != nil {
		return err
	}
	if err := realtime.CheckPlan(d.store.rules, auth, d.store.clock.Now(), current, plan); err != nil {
		return err
	}

	raw := hookRemove
	if next := plan.Next[clean]; next != nil {
		raw = string(next)
	}
	return d.store.client.HSet(ctx, d.store.keys.hooks(d.store.id), clean, raw).Err()
}

func (d *disconnectOps) Remove(ctx context.Context) error {
	return d.Set(ctx, nil)
}

func (d *disconnectOps) Cancel(ctx context.Context) error {
	clean, err := realtime.CleanWritePath(d.path)
	if err != nil {
		return err
	}
	key := d.store.keys.hooks(d.store.id)
	queued, err := d.store.client.HKeys(ctx, key).Result()
	if err != nil {
		return err
	}
	var drop []string
	for _, p := range queued {
		if realtime.IsWithin(p, clean) {
			drop = append(drop, p)
		}
	}
	if len(drop) == 0 {
		return nil
	}
	return d.store.client.HDel(ctx, key, drop...).Err()
}
