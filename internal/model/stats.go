package model

import "math"

// GameModeID identifies a quiz game mode with its own leaderboard
type GameModeID string

// GameResult is what a finished game reports to the stats aggregator
type GameResult struct {
	Score      int
	Duration   int64 // milliseconds
	GameModeID GameModeID
	Timestamp  int64 // Unix millis, zero means now
}

// UserStats is the aggregate stored at users/{uid}/stats
type UserStats struct {
	GamesPlayed  int     `json:"gamesPlayed"`
	TotalScore   int     `json:"totalScore"`
	HighScore    int     `json:"highScore"`
	AverageScore float64 `json:"averageScore"`
	LastPlayed   int64   `json:"lastPlayed"`
}

// Apply folds one game score into the stats
func (s UserStats) Apply(score int, timestamp int64) UserStats {
	s.GamesPlayed++
	s.TotalScore += score
	if score > s.HighScore {
		s.HighScore = score
	}
	s.AverageScore = RoundTo2(float64(s.TotalScore) / float64(s.GamesPlayed))
	s.LastPlayed = timestamp
	return s
}

// RoundTo2 rounds to two decimal places, halves away from zero
func RoundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}

// GameHistoryEntry is an immutable record at users/{uid}/gameHistory/{gameId}
type GameHistoryEntry struct {
	Score      int        `json:"score"`
	Duration   int64      `json:"duration"`
	GameModeID GameModeID `json:"gameModeId,omitempty"`
	Timestamp  int64      `json:"timestamp"`
}

// LeaderboardEntry is the per-mode best score at leaderboards/{gameModeId}/{uid}
type LeaderboardEntry struct {
	UID         UserID `json:"-"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
	Timestamp   int64  `json:"timestamp"`
	IsGuest     bool   `json:"isGuest"`
}
