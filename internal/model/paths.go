package model

// Top-level nodes of the shared tree
const (
	UsersRoot        = "users"
	UsernamesRoot    = "usernames"
	RoomsRoot        = "rooms"
	LeaderboardsRoot = "leaderboards"
	PresenceRoot     = "presence"
	CleanupLockPath  = "cleanup/lock"
)

// UserPath returns users/{uid}
func UserPath(uid UserID) string {
	return UsersRoot + "/" + string(uid)
}

// LastDisconnectedPath returns users/{uid}/lastDisconnected
func LastDisconnectedPath(uid UserID) string {
	return UserPath(uid) + "/lastDisconnected"
}

// StatsPath returns users/{uid}/stats
func StatsPath(uid UserID) string {
	return UserPath(uid) + "/stats"
}

// HistoryRoot returns users/{uid}/gameHistory
func HistoryRoot(uid UserID) string {
	return UserPath(uid) + "/gameHistory"
}

// HistoryPath returns users/{uid}/gameHistory/{gameId}
func HistoryPath(uid UserID, gameID string) string {
	return HistoryRoot(uid) + "/" + gameID
}

// UsernamePath returns usernames/{username}
func UsernamePath(username string) string {
	return UsernamesRoot + "/" + username
}

// PresencePath returns presence/{uid}
func PresencePath(uid UserID) string {
	return PresenceRoot + "/" + string(uid)
}

// RoomPath returns rooms/{roomId}
func RoomPath(id RoomID) string {
	return RoomsRoot + "/" + string(id)
}

// RoomStatusPath returns rooms/{roomId}/status
func RoomStatusPath(id RoomID) string {
	return RoomPath(id) + "/status"
}

// PlayersRoot returns rooms/{roomId}/players
func PlayersRoot(id RoomID) string {
	return RoomPath(id) + "/players"
}

// PlayerPath returns rooms/{roomId}/players/{uid}
func PlayerPath(id RoomID, uid UserID) string {
	return PlayersRoot(id) + "/" + string(uid)
}

// ChatRoot returns rooms/{roomId}/chat
func ChatRoot(id RoomID) string {
	return RoomPath(id) + "/chat"
}

// ChatPath returns rooms/{roomId}/chat/{messageId}
func ChatPath(id RoomID, msgID MessageID) string {
	return ChatRoot(id) + "/" + string(msgID)
}

// LeaderboardRoot returns leaderboards/{gameModeId}
func LeaderboardRoot(mode GameModeID) string {
	return LeaderboardsRoot + "/" + string(mode)
}

// LeaderboardPath returns leaderboards/{gameModeId}/{uid}
func LeaderboardPath(mode GameModeID, uid UserID) string {
	return LeaderboardRoot(mode) + "/" + string(uid)
}
