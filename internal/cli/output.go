package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcoot/basequiz/internal/model"
)

// Output handles formatting output based on the configured format
type Output struct {
	w      io.Writer
	format string
}

// NewOutput creates a new Output formatter writing to w
func NewOutput(w io.Writer, format string) *Output {
	return &Output{w: w, format: format}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	switch o.format {
	case "json":
		o.printJSON(data)
	case "yaml":
		o.printYAML(data)
	default:
		o.printText(data)
	}
}

// PrintError outputs an error
func (o *Output) PrintError(err error) {
	switch o.format {
	case "json":
		data, _ := json.Marshal(map[string]any{
			"error": map[string]string{"message": err.Error()},
		})
		fmt.Fprintln(o.w, string(data))
	default:
		fmt.Fprintf(o.w, "Error: %s\n", err)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	o.Print(Message{Message: msg})
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printYAML(data any) {
	enc := yaml.NewEncoder(o.w)
	enc.SetIndent(2)
	_ = enc.Encode(data)
	_ = enc.Close()
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case Message:
		fmt.Fprintln(o.w, v.Message)
	case User:
		o.printUser(v)
	case Room:
		o.printRoom(v)
	case []Room:
		if len(v) == 0 {
			fmt.Fprintln(o.w, "No rooms")
		}
		for _, r := range v {
			fmt.Fprintf(o.w, "%s  %-8s  %d/%d active  host %s\n", r.ID, r.Status, r.Active, len(r.Players), r.HostID)
		}
	case Stats:
		o.printStats(v)
	case []HistoryEntry:
		if len(v) == 0 {
			fmt.Fprintln(o.w, "No games played")
		}
		for _, h := range v {
			fmt.Fprintf(o.w, "%s  %5d pts  %s  %s\n", formatMillis(h.Timestamp), h.Score, time.Duration(h.DurationMillis)*time.Millisecond, h.Mode)
		}
	case []LeaderboardRow:
		if len(v) == 0 {
			fmt.Fprintln(o.w, "No entries")
		}
		for _, r := range v {
			fmt.Fprintf(o.w, "%3d. %-20s %6d  (%s)\n", r.Rank, r.DisplayName, r.Score, formatMillis(r.Timestamp))
		}
	case ChatLine:
		fmt.Fprintf(o.w, "[%s] %s: %s\n", formatMillis(v.Timestamp), v.DisplayName, v.Text)
	case []ChatLine:
		for _, l := range v {
			o.printText(l)
		}
	case Presence:
		state := "offline"
		if v.Online {
			state = "online"
		}
		fmt.Fprintf(o.w, "%s is %s since %s\n", v.UID, state, formatMillis(v.LastChanged))
	case Cycle:
		fmt.Fprintf(o.w, "Cleanup cycle: %s\n", v.Outcome)
	case Health:
		fmt.Fprintf(o.w, "Status: %s\n", v.Status)
		fmt.Fprintf(o.w, "Storage: %s\n", v.Storage)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

// Message is a one-line confirmation
type Message struct {
	Message string `json:"message" yaml:"message"`
}

// User is the signed-in identity
type User struct {
	UID         string `json:"uid" yaml:"uid"`
	DisplayName string `json:"displayName" yaml:"displayName"`
	IsGuest     bool   `json:"isGuest" yaml:"isGuest"`
}

func newUser(id model.Identity) User {
	return User{UID: string(id.UID), DisplayName: id.DisplayName, IsGuest: id.IsGuest}
}

// Room is a room with its players
type Room struct {
	ID        string       `json:"id" yaml:"id"`
	Status    string       `json:"status" yaml:"status"`
	HostID    string       `json:"hostId" yaml:"hostId"`
	CreatedAt int64        `json:"createdAt" yaml:"createdAt"`
	Active    int          `json:"activePlayers" yaml:"activePlayers"`
	Players   []RoomMember `json:"players" yaml:"players"`
}

// RoomMember is one player entry of a room
type RoomMember struct {
	UID          string `json:"uid" yaml:"uid"`
	DisplayName  string `json:"displayName" yaml:"displayName"`
	Disconnected bool   `json:"disconnected" yaml:"disconnected"`
	Kicked       bool   `json:"kicked" yaml:"kicked"`
}

func newRoom(r *model.Room) Room {
	out := Room{
		ID:        string(r.ID),
		Status:    string(r.Status),
		HostID:    string(r.HostID),
		CreatedAt: r.CreatedAt,
		Active:    r.ActivePlayerCount(),
		Players:   make([]RoomMember, 0, len(r.Players)),
	}
	for uid, p := range r.Players {
		out.Players = append(out.Players, RoomMember{
			UID:          string(uid),
			DisplayName:  p.DisplayName,
			Disconnected: p.Disconnected,
			Kicked:       p.Kicked,
		})
	}
	sort.Slice(out.Players, func(i, j int) bool { return out.Players[i].UID < out.Players[j].UID })
	return out
}

// Stats is a user's aggregate
type Stats struct {
	UID          string  `json:"uid" yaml:"uid"`
	GamesPlayed  int     `json:"gamesPlayed" yaml:"gamesPlayed"`
	TotalScore   int     `json:"totalScore" yaml:"totalScore"`
	HighScore    int     `json:"highScore" yaml:"highScore"`
	AverageScore float64 `json:"averageScore" yaml:"averageScore"`
	LastPlayed   int64   `json:"lastPlayed" yaml:"lastPlayed"`
}

func newStats(uid model.UserID, s model.UserStats) Stats {
	return Stats{
		UID:          string(uid),
		GamesPlayed:  s.GamesPlayed,
		TotalScore:   s.TotalScore,
		HighScore:    s.HighScore,
		AverageScore: s.AverageScore,
		LastPlayed:   s.LastPlayed,
	}
}

// HistoryEntry is one played game
type HistoryEntry struct {
	Score          int    `json:"score" yaml:"score"`
	DurationMillis int64  `json:"duration" yaml:"duration"`
	Mode           string `json:"gameModeId,omitempty" yaml:"gameModeId,omitempty"`
	Timestamp      int64  `json:"timestamp" yaml:"timestamp"`
}

// LeaderboardRow is one ranked entry of a mode's leaderboard
type LeaderboardRow struct {
	Rank        int    `json:"rank" yaml:"rank"`
	UID         string `json:"uid" yaml:"uid"`
	DisplayName string `json:"displayName" yaml:"displayName"`
	Score       int    `json:"score" yaml:"score"`
	Timestamp   int64  `json:"timestamp" yaml:"timestamp"`
}

// ChatLine is one chat message
type ChatLine struct {
	ID          string `json:"id" yaml:"id"`
	UID         string `json:"uid" yaml:"uid"`
	DisplayName string `json:"displayName" yaml:"displayName"`
	Text        string `json:"text" yaml:"text"`
	Timestamp   int64  `json:"timestamp" yaml:"timestamp"`
}

func newChatLine(m model.ChatMessage) ChatLine {
	return ChatLine{
		ID:          string(m.ID),
		UID:         string(m.UID),
		DisplayName: m.DisplayName,
		Text:        m.Text,
		Timestamp:   m.Timestamp,
	}
}

// Presence is a user's online state
type Presence struct {
	UID         string `json:"uid" yaml:"uid"`
	Online      bool   `json:"online" yaml:"online"`
	LastChanged int64  `json:"lastChanged" yaml:"lastChanged"`
}

// Cycle is the outcome of a triggered cleanup cycle
type Cycle struct {
	Outcome string `json:"outcome" yaml:"outcome"`
}

// Health reports whether this peer reaches the store
type Health struct {
	Status    string `json:"status" yaml:"status"`
	Connected bool   `json:"connected" yaml:"connected"`
	Storage   string `json:"storage" yaml:"storage"`
}

func (o *Output) printUser(u User) {
	guest := "no"
	if u.IsGuest {
		guest = "yes"
	}
	fmt.Fprintf(o.w, "User: %s (%s)\n", u.DisplayName, u.UID)
	fmt.Fprintf(o.w, "Guest: %s\n", guest)
}

func (o *Output) printRoom(r Room) {
	fmt.Fprintf(o.w, "Room: %s\n", r.ID)
	fmt.Fprintf(o.w, "Status: %s\n", r.Status)
	fmt.Fprintf(o.w, "Host: %s\n", r.HostID)
	fmt.Fprintf(o.w, "Players (%d active of %d):\n", r.Active, len(r.Players))
	for _, p := range r.Players {
		state := ""
		switch {
		case p.Kicked:
			state = " [kicked]"
		case p.Disconnected:
			state = " [disconnected]"
		}
		host := ""
		if p.UID == r.HostID {
			host = " [host]"
		}
		fmt.Fprintf(o.w, "  - %s (%s)%s%s\n", p.DisplayName, p.UID, host, state)
	}
}

func (o *Output) printStats(s Stats) {
	fmt.Fprintf(o.w, "Games played: %d\n", s.GamesPlayed)
	fmt.Fprintf(o.w, "Total score: %d\n", s.TotalScore)
	fmt.Fprintf(o.w, "High score: %d\n", s.HighScore)
	fmt.Fprintf(o.w, "Average score: %.2f\n", s.AverageScore)
	if s.LastPlayed > 0 {
		fmt.Fprintf(o.w, "Last played: %s\n", formatMillis(s.LastPlayed))
	}
}

func formatMillis(ms int64) string {
	return model.FromMillis(ms).UTC().Format(time.DateTime)
}
