// Package reaper removes data that no live peer owns any more: guests that have
// been gone longer than the TTL, their entries in rooms, and rooms nobody can
// return to.
//
// Every sub-pass computes its deletions first and applies them as one multi-path
// update, so readers see all of a pass or none of it, and a pass that runs twice
// does no harm.
package reaper

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/mcoot/basequiz/internal/dependencies/clock"
	"github.com/mcoot/basequiz/internal/metrics"
	"github.com/mcoot/basequiz/internal/model"
	"github.com/mcoot/basequiz/internal/realtime"
)

// Config holds reaper settings
type Config struct {
	// GuestTTL is how long a guest may stay disconnected before it is deleted
	GuestTTL time.Duration
}

// DefaultConfig returns default reaper configuration
func DefaultConfig() Config {
	return Config{
		GuestTTL: 5 * time.Minute,
	}
}

// Result summarizes one cleanup pass
type Result struct {
	ExpiredGuests []model.UserID
	PurgedPlayers int
	DeletedRooms  []model.RoomID

	// Per sub-pass failures; a failed sub-pass is retried next cycle
	ExpireErr error
	PurgeErr  error
	DeleteErr error
}

// Err returns the first sub-pass failure, if any
func (r Result) Err() error {
	for _, err := range []error{r.ExpireErr, r.PurgeErr, r.DeleteErr} {
		if err != nil {
			return err
		}
	}
	return nil
}

// Reaper runs cleanup passes against the shared tree
type Reaper struct {
	store    realtime.Store
	clock    clock.Clock
	guestTTL time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a new Reaper
func New(store realtime.Store, clock clock.Clock, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Reaper {
	if cfg.GuestTTL <= 0 {
		cfg.GuestTTL = DefaultConfig().GuestTTL
	}
	return &Reaper{
		store:    store,
		clock:    clock,
		guestTTL: cfg.GuestTTL,
		metrics:  m,
		logger:   logger.With(slog.String("component", "reaper")),
	}
}

// RunCleanupPass runs the three sub-passes in order. A failing sub-pass is logged
// and does not stop the ones after it; if expiring guests fails, the purge has
// no uids to work on and the work waits for the next cycle.
func (r *Reaper) RunCleanupPass(ctx context.Context) Result {
	start := time.Now()
	var res Result

	res.ExpiredGuests, res.ExpireErr = r.ExpireGuests(ctx)
	if res.ExpireErr != nil {
		r.stepFailed(metrics.StepExpireGuests, res.ExpireErr)
		res.ExpiredGuests = nil
	}

	res.PurgedPlayers, res.PurgeErr = r.PurgeOrphanedPlayers(ctx, res.ExpiredGuests)
	if res.PurgeErr != nil {
		r.stepFailed(metrics.StepPurgePlayers, res.PurgeErr)
	}

	res.DeletedRooms, res.DeleteErr = r.DeleteEmptyRooms(ctx)
	if res.DeleteErr != nil {
		r.stepFailed(metrics.StepDeleteRooms, res.DeleteErr)
	}

	r.metrics.RecordPassDuration(time.Since(start))
	r.logger.Info("cleanup pass finished",
		"expired_guests", len(res.ExpiredGuests),
		"purged_players", res.PurgedPlayers,
		"deleted_rooms", len(res.DeletedRooms),
		"duration", time.Since(start),
	)
	return res
}

// ExpireGuests deletes every guest disconnected for strictly longer than the TTL,
// together with its presence record, and returns the deleted uids
func (r *Reaper) ExpireGuests(ctx context.Context) ([]model.UserID, error) {
	users, err := r.store.Children(ctx, model.UsersRoot)
	if err != nil {
		return nil, err
	}

	now := r.clock.Now()
	var expired []model.UserID
	updates := make(map[string]any)
	for _, snap := range users {
		var user model.User
		if err := snap.Decode(&user); err != nil {
			r.logger.Debug("skipping malformed user record", "uid", snap.Key, "error", err)
			continue
		}
		if !user.IsGuest {
			continue
		}
		gone, ok := user.DisconnectedFor(now)
		if !ok || gone <= r.guestTTL {
			continue
		}
		uid := model.UserID(snap.Key)
		expired = append(expired, uid)
		updates[model.UserPath(uid)] = nil
		updates[model.PresencePath(uid)] = nil
	}
	if len(expired) == 0 {
		return nil, nil
	}

	if err := r.store.Update(ctx, updates); err != nil {
		return nil, err
	}
	sortIDs(expired)
	r.metrics.RecordDeletions(metrics.KindGuest, len(expired))
	r.logger.Debug("expired guests", "uids", expired)
	return expired, nil
}

// PurgeOrphanedPlayers removes the given users from every room they are in and
// returns how many player entries were removed
func (r *Reaper) PurgeOrphanedPlayers(ctx context.Context, uids []model.UserID) (int, error) {
	if len(uids) == 0 {
		return 0, nil
	}
	gone := make(map[model.UserID]struct{}, len(uids))
	for _, uid := range uids {
		gone[uid] = struct{}{}
	}

	rooms, err := r.readRooms(ctx)
	if err != nil {
		return 0, err
	}

	updates := make(map[string]any)
	for _, room := range rooms {
		for uid := range room.Players {
			if _, ok := gone[uid]; ok {
				updates[model.PlayerPath(room.ID, uid)] = nil
			}
		}
	}
	if len(updates) == 0 {
		return 0, nil
	}

	if err := r.store.Update(ctx, updates); err != nil {
		return 0, err
	}
	r.metrics.RecordDeletions(metrics.KindPlayer, len(updates))
	return len(updates), nil
}

// DeleteEmptyRooms deletes rooms with no players, and waiting rooms whose players
// are all disconnected or kicked. A room without a known status counts as waiting.
// Playing and finished rooms are kept so players can come back to them.
func (r *Reaper) DeleteEmptyRooms(ctx context.Context) ([]model.RoomID, error) {
	rooms, err := r.readRooms(ctx)
	if err != nil {
		return nil, err
	}

	var deleted []model.RoomID
	updates := make(map[string]any)
	for _, room := range rooms {
		if !room.IsAbandoned() {
			continue
		}
		deleted = append(deleted, room.ID)
		updates[model.RoomPath(room.ID)] = nil
	}
	if len(deleted) == 0 {
		return nil, nil
	}

	if err := r.store.Update(ctx, updates); err != nil {
		return nil, err
	}
	r.metrics.RecordDeletions(metrics.KindRoom, len(deleted))
	r.logger.Debug("deleted rooms", "rooms", deleted)
	return deleted, nil
}

// readRooms reads every room, skipping malformed ones
func (r *Reaper) readRooms(ctx context.Context) ([]*model.Room, error) {
	children, err := r.store.Children(ctx, model.RoomsRoot)
	if err != nil {
		return nil, err
	}
	rooms := make([]*model.Room, 0, len(children))
	for _, snap := range children {
		var room model.Room
		if err := snap.Decode(&room); err != nil {
			r.logger.Debug("skipping malformed room", "room", snap.Key, "error", err)
			continue
		}
		room.ID = model.RoomID(snap.Key)
		rooms = append(rooms, &room)
	}
	return rooms, nil
}

func (r *Reaper) stepFailed(step string, err error) {
	r.metrics.RecordStepFailure(step)
	r.logger.Warn("cleanup step failed", "step", step, "error", err)
}

func sortIDs[T ~string](ids []T) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
