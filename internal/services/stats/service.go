// Package stats records finished games: an immutable history entry, the per-user
// aggregate and the per-mode leaderboard.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mcoot/basequiz/internal/dependencies/clock"
	"github.com/mcoot/basequiz/internal/metrics"
	"github.com/mcoot/basequiz/internal/model"
	"github.com/mcoot/basequiz/internal/realtime"
	"github.com/mcoot/basequiz/internal/services/identity"
)

// maxHistoryAttempts bounds how many later ids are tried when two results share a millisecond
const maxHistoryAttempts = 10

// ErrHistoryCollision is returned when no free history id was found
var ErrHistoryCollision = errors.New("no free game history id")

// HistoryID returns the history key for a timestamp: decimal millis, zero-padded to
// 13 digits so key order is time order
func HistoryID(timestamp int64) string {
	return fmt.Sprintf("%013d", timestamp)
}

// Service records and reads game results for the acting user
type Service struct {
	store    realtime.Store
	identity identity.Provider
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a new stats Service
func New(store realtime.Store, ident identity.Provider, clock clock.Clock, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		identity: ident,
		clock:    clock,
		metrics:  m,
		logger:   logger.With(slog.String("component", "stats")),
	}
}

// RecordResult persists one finished game for the acting user. It returns once the
// history entry and the stats aggregate are written; a failed leaderboard
// promotion is only logged since the next higher score corrects it.
func (s *Service) RecordResult(ctx context.Context, result model.GameResult) error {
	me, err := s.identity.Current()
	if err != nil {
		return err
	}

	ts := result.Timestamp
	if ts == 0 {
		ts = model.Millis(s.clock.Now())
	}

	entry := model.GameHistoryEntry{
		Score:      result.Score,
		Duration:   result.Duration,
		GameModeID: result.GameModeID,
		Timestamp:  ts,
	}
	if _, err := s.writeHistory(ctx, me.UID, entry); err != nil {
		return fmt.Errorf("write game history: %w", err)
	}

	if err := s.applyStats(ctx, me.UID, result.Score, ts); err != nil {
		return fmt.Errorf("update stats: %w", err)
	}

	if result.GameModeID == "" || me.IsGuest {
		return nil
	}
	if err := s.promote(ctx, me, result.GameModeID, result.Score, ts); err != nil {
		level := slog.LevelWarn
		if realtime.IsPermissionDenied(err) {
			level = slog.LevelDebug
		}
		s.logger.Log(ctx, level, "leaderboard promotion failed",
			"uid", me.UID, "mode", result.GameModeID, "error", err)
	}
	return nil
}

// writeHistory creates the entry at the first free id from its timestamp onwards.
// Entries are never overwritten.
func (s *Service) writeHistory(ctx context.Context, uid model.UserID, entry model.GameHistoryEntry) (string, error) {
	for i := int64(0); i < maxHistoryAttempts; i++ {
		id := HistoryID(entry.Timestamp + i)
		_, err := s.store.Transaction(ctx, model.HistoryPath(uid, id), func(current json.RawMessage) (any, error) {
			if current != nil {
				return nil, realtime.ErrAbortTransaction
			}
			return entry, nil
		})
		if errors.Is(err, realtime.ErrAbortTransaction) {
			continue
		}
		if err != nil {
			return "", err
		}
		return id, nil
	}
	return "", ErrHistoryCollision
}

func (s *Service) applyStats(ctx context.Context, uid model.UserID, score int, ts int64) error {
	_, err := s.store.Transaction(ctx, model.StatsPath(uid), func(current json.RawMessage) (any, error) {
		return decodeStats(current).Apply(score, ts), nil
	})
	switch {
	case err == nil:
		s.metrics.RecordStatsTransaction(metrics.StatsCommitted)
	case errors.Is(err, realtime.ErrTxnConflict):
		s.metrics.RecordStatsTransaction(metrics.StatsConflict)
	default:
		s.metrics.RecordStatsTransaction(metrics.StatsFailed)
	}
	return err
}

// promote overwrites the leaderboard entry if the score is strictly higher. The
// read and write are not atomic; a lost race only drops a lower score.
func (s *Service) promote(ctx context.Context, me model.Identity, mode model.GameModeID, score int, ts int64) error {
	path := model.LeaderboardPath(mode, me.UID)
	snap, err := s.store.Get(ctx, path)
	if err != nil {
		return err
	}
	var current model.LeaderboardEntry
	if snap.Exists() && snap.Decode(&current) == nil && current.Score >= score {
		return nil
	}

	return s.store.Set(ctx, path, model.LeaderboardEntry{
		DisplayName: me.DisplayName,
		Score:       score,
		Timestamp:   ts,
		IsGuest:     false,
	})
}

// Stats returns the aggregate for uid. Missing or malformed stats read as zero.
func (s *Service) Stats(ctx context.Context, uid model.UserID) (model.UserStats, error) {
	snap, err := s.store.Get(ctx, model.StatsPath(uid))
	if err != nil {
		return model.UserStats{}, err
	}
	return decodeStats(snap.Value), nil
}

// History returns up to limit of uid's most recent games, newest first. A limit of
// zero returns them all.
func (s *Service) History(ctx context.Context, uid model.UserID, limit int) ([]model.GameHistoryEntry, error) {
	snaps, err := s.store.Query(ctx, model.HistoryRoot(uid), realtime.Query{LimitToLast: limit})
	if err != nil {
		return nil, err
	}
	entries := make([]model.GameHistoryEntry, 0, len(snaps))
	for i := len(snaps) - 1; i >= 0; i-- {
		var entry model.GameHistoryEntry
		if err := snaps[i].Decode(&entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Leaderboard returns up to limit entries for mode, highest score first; equal
// scores rank the earlier one higher. A limit of zero returns them all.
func (s *Service) Leaderboard(ctx context.Context, mode model.GameModeID, limit int) ([]model.LeaderboardEntry, error) {
	snaps, err := s.store.Children(ctx, model.LeaderboardRoot(mode))
	if err != nil {
		return nil, err
	}
	entries := make([]model.LeaderboardEntry, 0, len(snaps))
	for _, snap := range snaps {
		var entry model.LeaderboardEntry
		if err := snap.Decode(&entry); err != nil || entry.IsGuest {
			continue
		}
		entry.UID = model.UserID(snap.Key)
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Timestamp < entries[j].Timestamp
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func decodeStats(raw json.RawMessage) model.UserStats {
	var stats model.UserStats
	if len(raw) == 0 || json.Unmarshal(raw, &stats) != nil {
		return model.UserStats{}
	}
	return stats
}
