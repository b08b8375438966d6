package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mcoot/basequiz/internal/dependencies/clock"
	"github.com/mcoot/basequiz/internal/dependencies/random"
	"github.com/mcoot/basequiz/internal/model"
	"github.com/mcoot/basequiz/internal/realtime"
	"github.com/mcoot/basequiz/internal/services/identity"
)

const (
	// RoomCodeLength is the length of generated room codes
	RoomCodeLength = 6

	// maxCodeAttempts bounds how many codes are tried before giving up on a collision streak
	maxCodeAttempts = 10
)

// ErrNoFreeCode is returned when every generated room code was already taken
var ErrNoFreeCode = errors.New("could not find a free room code")

// Controller manages the room state machine and player membership
type Controller struct {
	store    realtime.Store
	identity identity.Provider
	clock    clock.Clock
	random   random.Random
	logger   *slog.Logger
}

// NewController creates a new room Controller
func NewController(
	store realtime.Store,
	identity identity.Provider,
	clock clock.Clock,
	random random.Random,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		store:    store,
		identity: identity,
		clock:    clock,
		random:   random,
		logger:   logger.With(slog.String("component", "rooms")),
	}
}

// Create opens a new waiting room with the acting user as host and only player
func (c *Controller) Create(ctx context.Context) (*model.Room, error) {
	me, err := c.identity.Current()
	if err != nil {
		return nil, err
	}
	now := model.Millis(c.clock.Now())

	room := &model.Room{
		Status:    model.RoomStatusWaiting,
		HostID:    me.UID,
		CreatedAt: now,
		Players: map[model.UserID]model.RoomPlayer{
			me.UID: {DisplayName: me.DisplayName, JoinedAt: now},
		},
	}

	// Claim a code that is not in use
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		id := model.RoomID(random.Code(c.random, RoomCodeLength))
		if len(id) != RoomCodeLength {
			continue
		}
		_, err := c.store.Transaction(ctx, model.RoomPath(id), func(current json.RawMessage) (any, error) {
			if current != nil {
				return nil, realtime.ErrAbortTransaction
			}
			return room, nil
		})
		if errors.Is(err, realtime.ErrAbortTransaction) {
			continue
		}
		if err != nil {
			return nil, err
		}
		room.ID = id
		c.logger.Info("room created", "room", id, "host", me.UID)
		return room, nil
	}
	return nil, ErrNoFreeCode
}

// Get reads a room
func (c *Controller) Get(ctx context.Context, id model.RoomID) (*model.Room, error) {
	snap, err := c.store.Get(ctx, model.RoomPath(id))
	if err != nil {
		return nil, err
	}
	room, ok := decodeRoom(snap)
	if !ok {
		return nil, model.ErrRoomNotFound
	}
	return room, nil
}

// List reads every room
func (c *Controller) List(ctx context.Context) ([]*model.Room, error) {
	children, err := c.store.Children(ctx, model.RoomsRoot)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Room, 0, len(children))
	for _, snap := range children {
		if room, ok := decodeRoom(snap); ok {
			out = append(out, room)
		}
	}
	return out, nil
}

// Join adds the acting user to a waiting room, or reconnects a player who
// dropped out of a room in any state
func (c *Controller) Join(ctx context.Context, id model.RoomID) error {
	me, err := c.identity.Current()
	if err != nil {
		return err
	}
	room, err := c.Get(ctx, id)
	if err != nil {
		return err
	}

	return c.updatePlayers(ctx, id, func(players map[model.UserID]model.RoomPlayer) error {
		if existing, ok := players[me.UID]; ok {
			switch {
			case existing.Kicked:
				return model.ErrRoomNotAcceptingUsers
			case existing.IsActive():
				return model.ErrAlreadyInRoom
			}
			existing.Disconnected = false
			players[me.UID] = existing
			return nil
		}
		if room.Status != model.RoomStatusWaiting {
			return model.ErrRoomNotAcceptingUsers
		}
		players[me.UID] = model.RoomPlayer{
			DisplayName: me.DisplayName,
			JoinedAt:    model.Millis(c.clock.Now()),
		}
		return nil
	})
}

// Leave marks the acting user as disconnected. The entry stays so the player can
// reconnect; cleanup decides when the room goes.
func (c *Controller) Leave(ctx context.Context, id model.RoomID) error {
	me, err := c.identity.Current()
	if err != nil {
		return err
	}
	if err := c.updatePlayer(ctx, id, me.UID, func(p *model.RoomPlayer) error {
		p.Disconnected = true
		return nil
	}); err != nil {
		return err
	}

	if err := c.store.OnDisconnect(disconnectedPath(id, me.UID)).Cancel(ctx); err != nil {
		c.logger.Warn("failed to cancel disconnect hook", "room", id, "error", err)
	}
	return nil
}

// Kick marks a player as kicked. Only the host may kick.
func (c *Controller) Kick(ctx context.Context, id model.RoomID, target model.UserID) error {
	me, err := c.identity.Current()
	if err != nil {
		return err
	}
	room, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	if room.HostID != me.UID {
		return model.ErrNotHost
	}
	return c.updatePlayer(ctx, id, target, func(p *model.RoomPlayer) error {
		p.Kicked = true
		return nil
	})
}

// SetStatus moves the room along waiting -> playing -> finished. Any player in the
// room may advance it; the transition is checked against the stored status.
func (c *Controller) SetStatus(ctx context.Context, id model.RoomID, next model.RoomStatus) error {
	me, err := c.identity.Current()
	if err != nil {
		return err
	}
	room, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, ok := room.Players[me.UID]; !ok {
		return model.ErrNotInRoom
	}

	_, err = c.store.Transaction(ctx, model.RoomStatusPath(id), func(current json.RawMessage) (any, error) {
		var status model.RoomStatus
		if current == nil || json.Unmarshal(current, &status) != nil {
			return nil, model.ErrRoomNotFound
		}
		if !status.CanTransitionTo(next) {
			return nil, fmt.Errorf("%w: %s to %s", model.ErrInvalidTransition, status, next)
		}
		return next, nil
	})
	if err != nil {
		return err
	}
	c.logger.Info("room status changed", "room", id, "status", next)
	return nil
}

// TrackConnection marks the acting player connected and registers a disconnect
// hook that marks them disconnected if this peer goes away
func (c *Controller) TrackConnection(ctx context.Context, id model.RoomID) error {
	me, err := c.identity.Current()
	if err != nil {
		return err
	}
	hook := c.store.OnDisconnect(disconnectedPath(id, me.UID))
	if err := hook.Set(ctx, true); err != nil {
		return fmt.Errorf("register disconnect hook: %w", err)
	}
	err = c.updatePlayer(ctx, id, me.UID, func(p *model.RoomPlayer) error {
		if p.Kicked {
			return model.ErrRoomNotAcceptingUsers
		}
		p.Disconnected = false
		return nil
	})
	if err != nil {
		// The hook would otherwise recreate a player entry that is gone
		if cancelErr := hook.Cancel(ctx); cancelErr != nil {
			c.logger.Warn("failed to cancel disconnect hook", "room", id, "error", cancelErr)
		}
		return err
	}
	return nil
}

// updatePlayers rewrites a room's player map in one transaction. A room that no
// longer exists is never recreated.
func (c *Controller) updatePlayers(ctx context.Context, id model.RoomID, fn func(map[model.UserID]model.RoomPlayer) error) error {
	_, err := c.store.Transaction(ctx, model.PlayersRoot(id), func(current json.RawMessage) (any, error) {
		var players map[model.UserID]model.RoomPlayer
		if current == nil || json.Unmarshal(current, &players) != nil || players == nil {
			return nil, model.ErrRoomNotFound
		}
		if err := fn(players); err != nil {
			return nil, err
		}
		return players, nil
	})
	return err
}

// updatePlayer rewrites one existing player entry in a transaction. A player who
// is not in the room, or whose room is gone, gets ErrNotInRoom.
func (c *Controller) updatePlayer(ctx context.Context, id model.RoomID, uid model.UserID, fn func(*model.RoomPlayer) error) error {
	_, err := c.store.Transaction(ctx, model.PlayerPath(id, uid), func(current json.RawMessage) (any, error) {
		var player model.RoomPlayer
		if current == nil || json.Unmarshal(current, &player) != nil {
			return nil, model.ErrNotInRoom
		}
		if err := fn(&player); err != nil {
			return nil, err
		}
		return player, nil
	})
	return err
}

func disconnectedPath(id model.RoomID, uid model.UserID) string {
	return realtime.Join(model.PlayerPath(id, uid), "disconnected")
}

// decodeRoom decodes a room snapshot. Missing or malformed rooms report false.
func decodeRoom(snap realtime.Snapshot) (*model.Room, bool) {
	if !snap.Exists() {
		return nil, false
	}
	var room model.Room
	if err := snap.Decode(&room); err != nil {
		return nil, false
	}
	room.ID = model.RoomID(snap.Key)
	return &room, true
}
