package model

// MessageID identifies a chat message within a room
type MessageID string

// ChatMessage is stored at rooms/{roomId}/chat/{messageId}
type ChatMessage struct {
	ID          MessageID `json:"-"`
	UID         UserID    `json:"uid"`
	DisplayName string    `json:"displayName,omitempty"`
	Text        string    `json:"text"`
	Timestamp   int64     `json:"timestamp"`
}

// CleanupLock is the singleton advisory lock at cleanup/lock
type CleanupLock struct {
	Timestamp  int64  `json:"timestamp"`
	AcquiredBy string `json:"acquiredBy"`
}
