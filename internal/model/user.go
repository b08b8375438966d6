package model

import "time"

// UserID uniquely identifies a user (guest or registered) across the system
type UserID string

// User is the record stored at users/{uid}
type User struct {
	DisplayName string `json:"displayName,omitempty"`
	IsGuest     bool   `json:"isGuest"`
	CreatedAt   int64  `json:"createdAt,omitempty"`

	// LastDisconnected is set by presence when a guest goes offline, nil while connected
	LastDisconnected *int64 `json:"lastDisconnected,omitempty"`
}

// DisconnectedFor reports how long the user has been offline at now.
// The second return value is false if the user is not marked disconnected.
func (u *User) DisconnectedFor(now time.Time) (time.Duration, bool) {
	if u.LastDisconnected == nil {
		return 0, false
	}
	return now.Sub(FromMillis(*u.LastDisconnected)), true
}

// RegisteredUser holds credentials for a non-guest account
// Stored under usernames/{username} so the user record never carries the hash
type RegisteredUser struct {
	UserID       UserID `json:"uid"`
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
	CreatedAt    int64  `json:"createdAt"`
}

// Identity is the ambient identity of the acting peer
type Identity struct {
	UID         UserID
	DisplayName string
	IsGuest     bool
}

// Presence is the record stored at presence/{uid}
type Presence struct {
	Online      bool  `json:"online"`
	LastChanged int64 `json:"lastChanged"`
}

// Millis converts a time to Unix milliseconds, the timestamp format used in the store
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts Unix milliseconds back to a time
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
