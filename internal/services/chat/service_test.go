package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/basequiz/internal/dependencies/mocks"
	"github.com/mcoot/basequiz/internal/model"
	"github.com/mcoot/basequiz/internal/realtime"
	"github.com/mcoot/basequiz/internal/realtime/memory"
	"github.com/mcoot/basequiz/internal/testutil"
)

type staticIdentity struct {
	id  model.Identity
	err error
}

func (s staticIdentity) Current() (model.Identity, error) {
	return s.id, s.err
}

// feed records every delivery of a subscription
type feed struct {
	mu         sync.Mutex
	deliveries [][]model.ChatMessage
}

func (f *feed) deliver(msgs []model.ChatMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, msgs)
}

func (f *feed) latest() []model.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.deliveries) == 0 {
		return nil
	}
	return f.deliveries[len(f.deliveries)-1]
}

func (f *feed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deliveries)
}

func texts(msgs []model.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

type ChatSuite struct {
	suite.Suite
	server *memory.Server
	conn   *memory.Conn
	clock  *mocks.MockClock
	chat   *Service
	ctx    context.Context
}

func TestChatSuite(t *testing.T) {
	suite.Run(t, new(ChatSuite))
}

func (s *ChatSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.server = memory.NewServer(memory.WithClock(s.clock))
	s.conn = s.server.Connect()
	s.conn.Auth("u1")
	s.chat = New(s.conn, staticIdentity{id: model.Identity{UID: "u1", DisplayName: "Alice"}}, s.clock, 0, testutil.NopLogger())
}

func (s *ChatSuite) TearDownTest() {
	_ = s.conn.Close()
}

func (s *ChatSuite) insert(id string, ts int64, text string) {
	s.Require().NoError(s.conn.Set(s.ctx, model.ChatPath("R1", model.MessageID(id)), model.ChatMessage{UID: "u1", Text: text, Timestamp: ts}))
}

// Send tests

func (s *ChatSuite) TestSendStoresMessage() {
	msg, err := s.chat.Send(s.ctx, "R1", "  hello  ")
	s.Require().NoError(err)

	s.Equal("hello", msg.Text)
	s.Equal(model.UserID("u1"), msg.UID)
	s.Equal("Alice", msg.DisplayName)
	s.Equal(model.Millis(s.clock.Now()), msg.Timestamp)
	s.NotEmpty(msg.ID)

	recent, err := s.chat.Recent(s.ctx, "R1")
	s.Require().NoError(err)
	s.Require().Len(recent, 1)
	s.Equal(msg, recent[0])
}

func (s *ChatSuite) TestSendIDsAreTimeOrdered() {
	first, err := s.chat.Send(s.ctx, "R1", "one")
	s.Require().NoError(err)
	second, err := s.chat.Send(s.ctx, "R1", "two")
	s.Require().NoError(err)

	s.Less(string(first.ID), string(second.ID))
	recent, _ := s.chat.Recent(s.ctx, "R1")
	s.Equal([]string{"one", "two"}, texts(recent))
}

func (s *ChatSuite) TestSendRejectsEmptyMessage() {
	_, err := s.chat.Send(s.ctx, "R1", "   ")
	s.ErrorIs(err, model.ErrEmptyMessage)
}

func (s *ChatSuite) TestSendRequiresIdentity() {
	svc := New(s.conn, staticIdentity{err: model.ErrNotAuthenticated}, s.clock, 0, testutil.NopLogger())

	_, err := svc.Send(s.ctx, "R1", "hi")
	s.ErrorIs(err, model.ErrNotAuthenticated)
}

func (s *ChatSuite) TestSendPropagatesStoreFailure() {
	s.conn.Disconnect()

	_, err := s.chat.Send(s.ctx, "R1", "hi")
	s.ErrorIs(err, realtime.ErrOffline)
}

// Recent tests

func (s *ChatSuite) TestRecentKeepsLatestWithinLimit() {
	svc := New(s.conn, staticIdentity{}, s.clock, 3, testutil.NopLogger())
	for i, text := range []string{"a", "b", "c", "d", "e"} {
		s.insert("m"+text, int64(i+1), text)
	}

	recent, err := svc.Recent(s.ctx, "R1")
	s.Require().NoError(err)
	s.Equal([]string{"c", "d", "e"}, texts(recent))
}

// Subscribe tests

func (s *ChatSuite) TestSubscribeSortsByTimestamp() {
	s.insert("x", 3, "three")
	s.insert("y", 1, "one")
	s.insert("z", 2, "two")

	var f feed
	unsubscribe, err := s.chat.Subscribe(s.ctx, "R1", f.deliver)
	s.Require().NoError(err)
	defer unsubscribe()

	s.Eventually(func() bool { return len(f.latest()) == 3 }, time.Second, 5*time.Millisecond)
	s.Equal([]string{"one", "two", "three"}, texts(f.latest()))
}

func (s *ChatSuite) TestSubscribeTieBreaksOnID() {
	s.insert("b", 5, "second")
	s.insert("a", 5, "first")

	var f feed
	unsubscribe, err := s.chat.Subscribe(s.ctx, "R1", f.deliver)
	s.Require().NoError(err)
	defer unsubscribe()

	s.Eventually(func() bool { return len(f.latest()) == 2 }, time.Second, 5*time.Millisecond)
	s.Equal([]string{"first", "second"}, texts(f.latest()))
}

func (s *ChatSuite) TestSubscribeDeliversUpdates() {
	var f feed
	unsubscribe, err := s.chat.Subscribe(s.ctx, "R1", f.deliver)
	s.Require().NoError(err)
	defer unsubscribe()

	s.Eventually(func() bool { return f.count() >= 1 }, time.Second, 5*time.Millisecond)
	s.Empty(f.latest())

	s.insert("late", 10, "late")
	s.insert("early", 5, "early")

	s.Eventually(func() bool { return len(f.latest()) == 2 }, time.Second, 5*time.Millisecond)
	s.Equal([]string{"early", "late"}, texts(f.latest()))
}

func (s *ChatSuite) TestSubscribeBoundsToLimit() {
	svc := New(s.conn, staticIdentity{}, s.clock, 2, testutil.NopLogger())
	s.insert("m1", 1, "a")
	s.insert("m2", 2, "b")
	s.insert("m3", 3, "c")

	var f feed
	unsubscribe, err := svc.Subscribe(s.ctx, "R1", f.deliver)
	s.Require().NoError(err)
	defer unsubscribe()

	s.Eventually(func() bool { return len(f.latest()) == 2 }, time.Second, 5*time.Millisecond)
	s.Equal([]string{"b", "c"}, texts(f.latest()))
}

func (s *ChatSuite) TestSubscribeIgnoresMalformedMessages() {
	s.insert("ok", 1, "fine")
	s.Require().NoError(s.conn.Set(s.ctx, model.ChatPath("R1", "bad"), "not a message"))

	var f feed
	unsubscribe, err := s.chat.Subscribe(s.ctx, "R1", f.deliver)
	s.Require().NoError(err)
	defer unsubscribe()

	s.Eventually(func() bool { return f.count() >= 1 }, time.Second, 5*time.Millisecond)
	s.Equal([]string{"fine"}, texts(f.latest()))
}

func (s *ChatSuite) TestUnsubscribeIsIdempotentAndDetaches() {
	var f feed
	unsubscribe, err := s.chat.Subscribe(s.ctx, "R1", f.deliver)
	s.Require().NoError(err)
	s.Equal(1, s.server.ListenerCount())

	unsubscribe()
	unsubscribe()
	s.Equal(0, s.server.ListenerCount())

	time.Sleep(20 * time.Millisecond)
	before := f.count()
	s.insert("after", 1, "after")
	time.Sleep(20 * time.Millisecond)
	s.Equal(before, f.count())
}

func (s *ChatSuite) TestRoomDeletionEmptiesFeed() {
	s.insert("m1", 1, "a")

	var f feed
	unsubscribe, err := s.chat.Subscribe(s.ctx, "R1", f.deliver)
	s.Require().NoError(err)
	defer unsubscribe()
	s.Eventually(func() bool { return len(f.latest()) == 1 }, time.Second, 5*time.Millisecond)

	s.Require().NoError(s.conn.Remove(s.ctx, model.RoomPath("R1")))

	s.Eventually(func() bool { return f.count() >= 2 && len(f.latest()) == 0 }, time.Second, 5*time.Millisecond)
}
