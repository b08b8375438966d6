package memory

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/basequiz/internal/realtime"
)

type MemorySuite struct {
	suite.Suite
	server *Server
	conn   *Conn
	ctx    context.Context
}

func TestMemorySuite(t *testing.T) {
	suite.Run(t, new(MemorySuite))
}

func (s *MemorySuite) SetupTest() {
	s.server = NewServer()
	s.conn = s.server.Connect()
	s.ctx = context.Background()
}

func (s *MemorySuite) TearDownTest() {
	_ = s.conn.Close()
}

func (s *MemorySuite) TestSetAndGet() {
	err := s.conn.Set(s.ctx, "users/u1", map[string]any{"displayName": "Alice", "isGuest": true})
	s.Require().NoError(err)

	snap, err := s.conn.Get(s.ctx, "users/u1")
	s.Require().NoError(err)
	s.True(snap.Exists())
	s.Equal("u1", snap.Key)
	s.JSONEq(`{"displayName":"Alice","isGuest":true}`, string(snap.Value))

	snap, err = s.conn.Get(s.ctx, "users/u1/displayName")
	s.Require().NoError(err)
	s.JSONEq(`"Alice"`, string(snap.Value))
}

func (s *MemorySuite) TestGetMissing() {
	snap, err := s.conn.Get(s.ctx, "users/nobody")
	s.Require().NoError(err)
	s.False(snap.Exists())
}

func (s *MemorySuite) TestSetReplacesSubtree() {
	s.Require().NoError(s.conn.Set(s.ctx, "rooms/A", map[string]any{"status": "waiting", "hostId": "u1"}))
	s.Require().NoError(s.conn.Set(s.ctx, "rooms/A", map[string]any{"status": "playing"}))

	snap, err := s.conn.Get(s.ctx, "rooms/A")
	s.Require().NoError(err)
	s.JSONEq(`{"status":"playing"}`, string(snap.Value))
}

func (s *MemorySuite) TestWriteBelowScalarReplacesIt() {
	s.Require().NoError(s.conn.Set(s.ctx, "rooms/R1", "garbage"))
	s.Require().NoError(s.conn.Set(s.ctx, "rooms/R1/players/u1/kicked", true))

	snap, err := s.conn.Get(s.ctx, "rooms/R1")
	s.Require().NoError(err)
	s.JSONEq(`{"players":{"u1":{"kicked":true}}}`, string(snap.Value))
}

func (s *MemorySuite) TestUpdateIsMultiPath() {
	s.Require().NoError(s.conn.Set(s.ctx, "rooms/A/status", "waiting"))
	s.Require().NoError(s.conn.Set(s.ctx, "rooms/B/status", "waiting"))

	err := s.conn.Update(s.ctx, map[string]any{
		"rooms/A":        nil,
		"rooms/B/status": "playing",
		"users/u1":       map[string]any{"isGuest": true},
	})
	s.Require().NoError(err)

	rooms, err := s.conn.Children(s.ctx, "rooms")
	s.Require().NoError(err)
	s.Require().Len(rooms, 1)
	s.Equal("B", rooms[0].Key)
	s.JSONEq(`{"status":"playing"}`, string(rooms[0].Value))
}

func (s *MemorySuite) TestUpdateRejectsOverlapWithoutWriting() {
	err := s.conn.Update(s.ctx, map[string]any{
		"rooms/A":        map[string]any{"status": "waiting"},
		"rooms/A/status": "playing",
	})
	s.ErrorIs(err, realtime.ErrInvalidPath)
	s.Empty(s.server.Leaves())
}

func (s *MemorySuite) TestRemoveMissingIsNotAnError() {
	s.NoError(s.conn.Remove(s.ctx, "rooms/nothing"))
}

func (s *MemorySuite) TestRootWriteRejected() {
	s.ErrorIs(s.conn.Set(s.ctx, "", 1), realtime.ErrInvalidPath)
}

func (s *MemorySuite) TestQueryOrdersByField() {
	for i, ts := range []int{3, 1, 2} {
		key := "rooms/A/chat/m" + strconv.Itoa(i)
		s.Require().NoError(s.conn.Set(s.ctx, key, map[string]any{"timestamp": ts}))
	}

	out, err := s.conn.Query(s.ctx, "rooms/A/chat", realtime.Query{OrderBy: "timestamp", LimitToLast: 2})
	s.Require().NoError(err)
	s.Require().Len(out, 2)
	s.Equal("m2", out[0].Key)
	s.Equal("m0", out[1].Key)
}

func (s *MemorySuite) TestTransactionIncrementsConcurrently() {
	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := s.server.Connect()
			defer func() { _ = conn.Close() }()
			_, err := conn.Transaction(s.ctx, "counter", func(current json.RawMessage) (any, error) {
				var n int
				if current != nil {
					if err := json.Unmarshal(current, &n); err != nil {
						return nil, err
					}
				}
				return n + 1, nil
			})
			s.NoError(err)
		}()
	}
	wg.Wait()

	snap, err := s.conn.Get(s.ctx, "counter")
	s.Require().NoError(err)
	s.Equal(strconv.Itoa(writers), string(snap.Value))
}

func (s *MemorySuite) TestTransactionRetriesOnConflict() {
	other := s.server.Connect()
	defer func() { _ = other.Close() }()

	calls := 0
	snap, err := s.conn.Transaction(s.ctx, "counter", func(current json.RawMessage) (any, error) {
		calls++
		if calls == 1 {
			s.Require().NoError(other.Set(s.ctx, "counter", 10))
			return 1, nil
		}
		var n int
		s.Require().NoError(json.Unmarshal(current, &n))
		return n + 1, nil
	})
	s.Require().NoError(err)
	s.Equal(2, calls)
	s.Equal("11", string(snap.Value))
}

func (s *MemorySuite) TestTransactionGivesUpAfterMaxRetries() {
	other := s.server.Connect()
	defer func() { _ = other.Close() }()

	calls := 0
	_, err := s.conn.Transaction(s.ctx, "counter", func(current json.RawMessage) (any, error) {
		calls++
		s.Require().NoError(other.Set(s.ctx, "counter", calls))
		return 0, nil
	})
	s.ErrorIs(err, realtime.ErrTxnConflict)
	s.Equal(realtime.MaxTransactionRetries, calls)
}

func (s *MemorySuite) TestTransactionAbort() {
	s.Require().NoError(s.conn.Set(s.ctx, "counter", 5))
	_, err := s.conn.Transaction(s.ctx, "counter", func(json.RawMessage) (any, error) {
		return nil, realtime.ErrAbortTransaction
	})
	s.ErrorIs(err, realtime.ErrAbortTransaction)

	snap, err := s.conn.Get(s.ctx, "counter")
	s.Require().NoError(err)
	s.Equal("5", string(snap.Value))
}

func (s *MemorySuite) TestUnrelatedWriteDoesNotConflict() {
	other := s.server.Connect()
	defer func() { _ = other.Close() }()

	calls := 0
	_, err := s.conn.Transaction(s.ctx, "users/u1/stats", func(json.RawMessage) (any, error) {
		calls++
		s.Require().NoError(other.Set(s.ctx, "users/u2/stats", 1))
		return map[string]any{"gamesPlayed": 1}, nil
	})
	s.Require().NoError(err)
	s.Equal(1, calls)
}

func (s *MemorySuite) TestRulesEvaluatedInsideWrite() {
	denied := errors.New("nope")
	server := NewServer(WithRules(realtime.RulesFunc(func(req realtime.WriteRequest) error {
		if req.Auth == "" {
			return realtime.ErrPermissionDenied
		}
		if req.Current != nil && req.Next != nil {
			return denied
		}
		return nil
	})))
	conn := server.Connect()
	defer func() { _ = conn.Close() }()

	s.ErrorIs(conn.Set(s.ctx, "x", 1), realtime.ErrPermissionDenied)

	conn.Auth("u1")
	s.Require().NoError(conn.Set(s.ctx, "x", 1))
	s.ErrorIs(conn.Set(s.ctx, "x", 2), denied)
}

func (s *MemorySuite) TestSubscribeDeliversCurrentAndChanges() {
	var mu sync.Mutex
	var seen []string
	unsub, err := s.conn.Subscribe(s.ctx, "rooms/A", func(snap realtime.Snapshot) {
		mu.Lock()
		seen = append(seen, string(snap.Value))
		mu.Unlock()
	})
	s.Require().NoError(err)
	defer unsub()

	last := func() string {
		mu.Lock()
		defer mu.Unlock()
		if len(seen) == 0 {
			return "<none>"
		}
		return seen[len(seen)-1]
	}
	s.Eventually(func() bool { return last() == "" }, time.Second, 5*time.Millisecond)

	s.Require().NoError(s.conn.Set(s.ctx, "rooms/A/players/u1/kicked", false))
	s.Eventually(func() bool { return last() == `{"players":{"u1":{"kicked":false}}}` }, time.Second, 5*time.Millisecond)

	s.Require().NoError(s.conn.Remove(s.ctx, "rooms"))
	s.Eventually(func() bool { return last() == "" }, time.Second, 5*time.Millisecond)
}

func (s *MemorySuite) TestUnsubscribeDetachesOnce() {
	var calls atomic.Int32
	unsub, err := s.conn.Subscribe(s.ctx, "rooms", func(realtime.Snapshot) { calls.Add(1) })
	s.Require().NoError(err)
	s.Equal(1, s.server.ListenerCount())

	unsub()
	unsub()
	s.Equal(0, s.server.ListenerCount())

	// Let a delivery already in flight finish
	time.Sleep(20 * time.Millisecond)
	before := calls.Load()
	s.Require().NoError(s.conn.Set(s.ctx, "rooms/A/status", "waiting"))
	time.Sleep(20 * time.Millisecond)
	s.Equal(before, calls.Load())
}

func (s *MemorySuite) TestDisconnectFiresHooks() {
	peer := s.server.Connect()
	s.Require().NoError(peer.Set(s.ctx, "presence/u1", map[string]any{"online": true}))
	s.Require().NoError(peer.OnDisconnect("presence/u1").Set(s.ctx, map[string]any{"online": false}))
	s.Require().NoError(peer.OnDisconnect("cleanup/lock").Remove(s.ctx))
	s.Require().NoError(s.conn.Set(s.ctx, "cleanup/lock", map[string]any{"acquiredBy": "x"}))

	peer.Disconnect()

	snap, err := s.conn.Get(s.ctx, "presence/u1")
	s.Require().NoError(err)
	s.JSONEq(`{"online":false}`, string(snap.Value))

	snap, err = s.conn.Get(s.ctx, "cleanup/lock")
	s.Require().NoError(err)
	s.False(snap.Exists())

	s.False(peer.Connected())
	_, err = peer.Get(s.ctx, "presence/u1")
	s.ErrorIs(err, realtime.ErrOffline)
}

func (s *MemorySuite) TestHooksFireOnce() {
	peer := s.server.Connect()
	s.Require().NoError(peer.OnDisconnect("counter").Set(s.ctx, 1))

	peer.Disconnect()
	s.Require().NoError(s.conn.Set(s.ctx, "counter", 2))
	s.Require().NoError(peer.Close())

	snap, err := s.conn.Get(s.ctx, "counter")
	s.Require().NoError(err)
	s.Equal("2", string(snap.Value))
}

func (s *MemorySuite) TestCancelDropsHooks() {
	peer := s.server.Connect()
	s.Require().NoError(peer.OnDisconnect("presence/u1/online").Set(s.ctx, false))
	s.Require().NoError(peer.OnDisconnect("presence/u1").Cancel(s.ctx))
	s.Require().NoError(peer.Close())

	snap, err := s.conn.Get(s.ctx, "presence/u1")
	s.Require().NoError(err)
	s.False(snap.Exists())
}

func (s *MemorySuite) TestWatchConnected() {
	var mu sync.Mutex
	var states []bool
	stop := s.conn.WatchConnected(func(online bool) {
		mu.Lock()
		states = append(states, online)
		mu.Unlock()
	})

	s.conn.Disconnect()
	s.conn.Reconnect()
	stop()
	stop()
	s.conn.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	s.Equal([]bool{true, false, true}, states)
}

func (s *MemorySuite) TestClosedConnRejectsOperations() {
	s.Require().NoError(s.conn.Close())
	s.Require().NoError(s.conn.Close())

	_, err := s.conn.Get(s.ctx, "x")
	s.ErrorIs(err, realtime.ErrStoreClosed)
	s.ErrorIs(s.conn.Set(s.ctx, "x", 1), realtime.ErrStoreClosed)
	s.Equal(0, s.server.ConnectionCount())
}
