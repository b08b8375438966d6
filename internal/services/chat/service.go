// Package chat sends room chat messages and keeps live, bounded views of a room's
// recent messages.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mcoot/basequiz/internal/dependencies/clock"
	"github.com/mcoot/basequiz/internal/model"
	"github.com/mcoot/basequiz/internal/realtime"
	"github.com/mcoot/basequiz/internal/services/identity"
)

// DefaultLimit is how many recent messages a feed keeps
const DefaultLimit = 50

// Service sends and reads chat for the acting user
type Service struct {
	store    realtime.Store
	identity identity.Provider
	clock    clock.Clock
	limit    int
	logger   *slog.Logger
}

// New creates a new chat Service. A limit of zero or less uses DefaultLimit.
func New(store realtime.Store, ident identity.Provider, clock clock.Clock, limit int, logger *slog.Logger) *Service {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Service{
		store:    store,
		identity: ident,
		clock:    clock,
		limit:    limit,
		logger:   logger.With(slog.String("component", "chat")),
	}
}

// Send posts a message to a room as the acting user. Failures are returned so the
// caller can offer a retry.
func (s *Service) Send(ctx context.Context, roomID model.RoomID, text string) (model.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.ChatMessage{}, model.ErrEmptyMessage
	}
	me, err := s.identity.Current()
	if err != nil {
		return model.ChatMessage{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return model.ChatMessage{}, fmt.Errorf("generate message id: %w", err)
	}
	msg := model.ChatMessage{
		ID:          model.MessageID(id.String()),
		UID:         me.UID,
		DisplayName: me.DisplayName,
		Text:        text,
		Timestamp:   model.Millis(s.clock.Now()),
	}
	if err := s.store.Set(ctx, model.ChatPath(roomID, msg.ID), msg); err != nil {
		return model.ChatMessage{}, fmt.Errorf("send message: %w", err)
	}
	return msg, nil
}

// Recent reads the room's latest messages once, oldest first
func (s *Service) Recent(ctx context.Context, roomID model.RoomID) ([]model.ChatMessage, error) {
	snaps, err := s.store.Query(ctx, model.ChatRoot(roomID), s.query())
	if err != nil {
		return nil, err
	}
	return decodeMessages(snaps), nil
}

// Subscribe calls fn with the room's latest messages, oldest first, now and after
// every change. The returned func detaches the feed and may be called any number
// of times.
func (s *Service) Subscribe(ctx context.Context, roomID model.RoomID, fn func([]model.ChatMessage)) (realtime.Unsubscribe, error) {
	root := model.ChatRoot(roomID)
	unsubscribe, err := s.store.Subscribe(ctx, root, func(snap realtime.Snapshot) {
		fn(decodeMessages(realtime.ApplyQuery(children(root, snap), s.query())))
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to chat: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(unsubscribe)
	}, nil
}

func (s *Service) query() realtime.Query {
	return realtime.Query{OrderBy: "timestamp", LimitToLast: s.limit}
}

// children splits a subtree snapshot into its immediate children
func children(root string, snap realtime.Snapshot) []realtime.Snapshot {
	var fields map[string]json.RawMessage
	if err := snap.Decode(&fields); err != nil {
		return nil
	}
	out := make([]realtime.Snapshot, 0, len(fields))
	for key, value := range fields {
		out = append(out, realtime.Snapshot{Path: realtime.Join(root, key), Key: key, Value: value})
	}
	return out
}

// decodeMessages drops malformed entries and sorts by timestamp, then id. Store
// ordering is not relied on.
func decodeMessages(snaps []realtime.Snapshot) []model.ChatMessage {
	msgs := make([]model.ChatMessage, 0, len(snaps))
	for _, snap := range snaps {
		var msg model.ChatMessage
		if err := snap.Decode(&msg); err != nil {
			continue
		}
		msg.ID = model.MessageID(snap.Key)
		msgs = append(msgs, msg)
	}
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].ID < msgs[j].ID
	})
	return msgs
}
