package model

// RoomID is a human-readable identifier for joining rooms
type RoomID string

// RoomStatus represents the lifecycle state of a room
type RoomStatus string

const (
	RoomStatusWaiting  RoomStatus = "waiting"  // Players gathering, no game yet
	RoomStatusPlaying  RoomStatus = "playing"  // Game in progress
	RoomStatusFinished RoomStatus = "finished" // Result preserved for reconnection
)

// CanTransitionTo reports whether the room may move from s to next
func (s RoomStatus) CanTransitionTo(next RoomStatus) bool {
	switch s {
	case RoomStatusWaiting:
		return next == RoomStatusPlaying
	case RoomStatusPlaying:
		return next == RoomStatusFinished
	default:
		return false
	}
}

// RoomPlayer is a room-scoped participant stored at rooms/{roomId}/players/{uid}
type RoomPlayer struct {
	DisplayName  string `json:"displayName,omitempty"`
	Disconnected bool   `json:"disconnected"`
	Kicked       bool   `json:"kicked"`
	JoinedAt     int64  `json:"joinedAt,omitempty"`
}

// IsActive reports whether the player is neither disconnected nor kicked
func (p RoomPlayer) IsActive() bool {
	return !p.Disconnected && !p.Kicked
}

// Room is the record stored at rooms/{roomId}
// Chat lives under the same node but is read separately
type Room struct {
	ID        RoomID                `json:"-"`
	Status    RoomStatus            `json:"status"`
	HostID    UserID                `json:"hostId,omitempty"`
	CreatedAt int64                 `json:"createdAt,omitempty"`
	Players   map[UserID]RoomPlayer `json:"players,omitempty"`
}

// ActivePlayerCount returns the number of active players
func (r *Room) ActivePlayerCount() int {
	count := 0
	for _, p := range r.Players {
		if p.IsActive() {
			count++
		}
	}
	return count
}

// IsAbandoned reports whether the room should be deleted by cleanup: either it has no
// players at all, or nobody in it is active and it is not mid-game or finished. Those
// are kept so players can reconnect. A missing or unknown status counts as waiting.
func (r *Room) IsAbandoned() bool {
	if len(r.Players) == 0 {
		return true
	}
	switch r.Status {
	case RoomStatusPlaying, RoomStatusFinished:
		return false
	}
	return r.ActivePlayerCount() == 0
}
