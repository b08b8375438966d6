package redis

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/basequiz/internal/realtime"
)

// hashReader is what a subtree read needs; both *redis.Client and *redis.Tx have it
type hashReader interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
	HScan(ctx context.Context, key string, cursor uint64, match string, count int64) *redis.ScanCmd
}

// readSubtree loads the leaves at or below path. Path segments never contain glob
// characters, so the HSCAN pattern needs no escaping.
func readSubtree(ctx context.Context, r hashReader, tree, path string) (realtime.Leaves, error) {
	out := make(realtime.Leaves)
	if path == "" {
		all, err := r.HGetAll(ctx, tree).Result()
		if err != nil {
			return nil, err
		}
		for k, v := range all {
			out[k] = json.RawMessage(v)
		}
		return out, nil
	}

	v, err := r.HGet(ctx, tree, path).Result()
	switch {
	case err == nil:
		out[path] = json.RawMessage(v)
	case !errors.Is(err, redis.Nil):
		return nil, err
	}

	var cursor uint64
	for {
		kv, next, err := r.HScan(ctx, tree, cursor, path+"/*", scanCount).Result()
		if err != nil {
			return nil, err
		}
		for i := 0; i+1 < len(kv); i += 2 {
			out[kv[i]] = json.RawMessage(kv[i+1])
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

// readForWrite loads what a write at path plans against: the subtree plus any
// leaf sitting at one of its ancestors
func readForWrite(ctx context.Context, r hashReader, tree, path string) (realtime.Leaves, error) {
	out, err := readSubtree(ctx, r, tree, path)
	if err != nil {
		return nil, err
	}
	ancestors := realtime.Ancestors(path)
	if len(ancestors) == 0 {
		return out, nil
	}
	values, err := r.HMGet(ctx, tree, ancestors...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		if s, ok := v.(string); ok {
			out[ancestors[i]] = json.RawMessage(s)
		}
	}
	return out, nil
}

// readLeaves reads a subtree as one consistent snapshot: the scan runs under WATCH
// and is retried if a writer committed in the middle of it.
func (s *Store) readLeaves(ctx context.Context, path string) (realtime.Leaves, error) {
	var leaves realtime.Leaves
	txf := func(tx *redis.Tx) error {
		var err error
		leaves, err = readSubtree(ctx, tx, s.keys.tree(), path)
		if err != nil {
			return err
		}
		// EXEC fails if the tree changed since WATCH
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Exists(ctx, s.keys.tree())
			return nil
		})
		return err
	}
	if err := s.watch(ctx, txf); err != nil {
		return nil, err
	}
	return leaves, nil
}

// mutate applies a multi-path update in one MULTI/EXEC. Rules are skipped when auth
// is nil, which is how disconnect hooks run.
func (s *Store) mutate(ctx context.Context, auth *string, updates map[string]any) error {
	paths, err := realtime.CleanUpdatePaths(updates)
	if err != nil {
		return err
	}

	var plan *realtime.WritePlan
	txf := func(tx *redis.Tx) error {
		current := make(realtime.Leaves)
		for clean := range paths {
			sub, err := readForWrite(ctx, tx, s.keys.tree(), clean)
			if err != nil {
				return err
			}
			for k, v := range sub {
				current[k] = v
			}
		}
		plan, err = realtime.PlanWrite(current, updates)
		if err != nil {
			return err
		}
		if auth != nil {
			if err := realtime.CheckPlan(s.rules, *auth, s.clock.Now(), current, plan); err != nil {
				return err
			}
		}
		return s.commit(ctx, tx, plan)
	}
	if err := s.watch(ctx, txf); err != nil {
		return err
	}

	s.publish(ctx, plan)
	return nil
}

// watch runs txf under WATCH on the tree, retrying when EXEC reports a conflict
func (s *Store) watch(ctx context.Context, txf func(*redis.Tx) error) error {
	for attempt := 0; attempt < realtime.MaxTransactionRetries; attempt++ {
		err := s.client.Watch(ctx, txf, s.keys.tree())
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return realtime.ErrTxnConflict
}

// commit queues the plan's leaf changes in a MULTI/EXEC on the watched connection
func (s *Store) commit(ctx context.Context, tx *redis.Tx, plan *realtime.WritePlan) error {
	tree := s.keys.tree()
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(plan.Delete) > 0 {
			pipe.HDel(ctx, tree, plan.Delete...)
		}
		if len(plan.Put) > 0 {
			values := make([]any, 0, 2*len(plan.Put))
			for k, v := range plan.Put {
				values = append(values, k, string(v))
			}
			pipe.HSet(ctx, tree, values...)
		}
		// Keeps EXEC meaningful for writes that change nothing
		pipe.Exists(ctx, tree)
		return nil
	})
	return err
}

// publish announces the written paths. The write is already committed, so a failed
// publish only delays listeners until the next change.
func (s *Store) publish(ctx context.Context, plan *realtime.WritePlan) {
	if len(plan.Delete) == 0 && len(plan.Put) == 0 {
		return
	}
	payload, err := json.Marshal(plan.Paths)
	if err != nil {
		return
	}
	if err := s.client.Publish(ctx, s.keys.changes(), payload).Err(); err != nil {
		s.logger.Warn("failed to publish change notification", "paths", plan.Paths, "error", err)
	}
}
