package rules

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/basequiz/internal/model"
	"github.com/mcoot/basequiz/internal/realtime"
)

type RulesSuite struct {
	suite.Suite
	rules *Rules
	now   time.Time
}

func TestRulesSuite(t *testing.T) {
	suite.Run(t, new(RulesSuite))
}

func (s *RulesSuite) SetupTest() {
	s.rules = Default(time.Minute)
	s.now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

func (s *RulesSuite) raw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	s.Require().NoError(err)
	return b
}

func (s *RulesSuite) lock(owner string, age time.Duration) json.RawMessage {
	return s.raw(model.CleanupLock{Timestamp: model.Millis(s.now.Add(-age)), AcquiredBy: owner})
}

func (s *RulesSuite) TestUnauthenticatedWriteDenied() {
	err := s.rules.CheckWrite(realtime.WriteRequest{Path: "rooms/ABC", Next: s.raw("x"), Now: s.now})
	s.ErrorIs(err, realtime.ErrPermissionDenied)
}

func (s *RulesSuite) TestAuthenticatedWriteAllowed() {
	err := s.rules.CheckWrite(realtime.WriteRequest{Auth: "u1", Path: "rooms/ABC", Next: s.raw("x"), Now: s.now})
	s.NoError(err)
}

func (s *RulesSuite) TestLockFreeWhenAbsent() {
	err := s.rules.CheckWrite(realtime.WriteRequest{
		Auth: "u1",
		Path: model.CleanupLockPath,
		Next: s.lock("owner-b", 0),
		Now:  s.now,
	})
	s.NoError(err)
}

func (s *RulesSuite) TestLockTakeoverDeniedWhileValid() {
	err := s.rules.CheckWrite(realtime.WriteRequest{
		Auth:    "u1",
		Path:    model.CleanupLockPath,
		Current: s.lock("owner-a", 30*time.Second),
		Next:    s.lock("owner-b", 0),
		Now:     s.now,
	})
	s.ErrorIs(err, realtime.ErrPermissionDenied)
}

func (s *RulesSuite) TestLockTakeoverAllowedAtTimeout() {
	err := s.rules.CheckWrite(realtime.WriteRequest{
		Auth:    "u1",
		Path:    model.CleanupLockPath,
		Current: s.lock("owner-a", time.Minute),
		Next:    s.lock("owner-b", 0),
		Now:     s.now,
	})
	s.NoError(err)
}

func (s *RulesSuite) TestLockRefreshBySameOwnerAllowed() {
	err := s.rules.CheckWrite(realtime.WriteRequest{
		Auth:    "u1",
		Path:    model.CleanupLockPath,
		Current: s.lock("owner-a", 10*time.Second),
		Next:    s.lock("owner-a", 0),
		Now:     s.now,
	})
	s.NoError(err)
}

func (s *RulesSuite) TestLockReleaseAlwaysAllowed() {
	err := s.rules.CheckWrite(realtime.WriteRequest{
		Auth:    "u1",
		Path:    model.CleanupLockPath,
		Current: s.lock("owner-a", 0),
		Now:     s.now,
	})
	s.NoError(err)
}

func (s *RulesSuite) TestMalformedLockIsFree() {
	err := s.rules.CheckWrite(realtime.WriteRequest{
		Auth:    "u1",
		Path:    model.CleanupLockPath,
		Current: json.RawMessage(`"garbage"`),
		Next:    s.lock("owner-b", 0),
		Now:     s.now,
	})
	s.NoError(err)
}

func (s *RulesSuite) TestPartialLockWriteDenied() {
	err := s.rules.CheckWrite(realtime.WriteRequest{
		Auth: "u1",
		Path: model.CleanupLockPath + "/timestamp",
		Next: s.raw(1),
		Now:  s.now,
	})
	s.ErrorIs(err, realtime.ErrPermissionDenied)
}

func (s *RulesSuite) TestGuestLeaderboardEntryDenied() {
	err := s.rules.CheckWrite(realtime.WriteRequest{
		Auth: "u1",
		Path: model.LeaderboardPath("classic", "u1"),
		Next: s.raw(model.LeaderboardEntry{DisplayName: "A", Score: 10, IsGuest: true}),
		Now:  s.now,
	})
	s.ErrorIs(err, realtime.ErrPermissionDenied)
}

func (s *RulesSuite) TestRegisteredLeaderboardEntryAllowed() {
	err := s.rules.CheckWrite(realtime.WriteRequest{
		Auth: "u1",
		Path: model.LeaderboardPath("classic", "u1"),
		Next: s.raw(model.LeaderboardEntry{DisplayName: "A", Score: 10}),
		Now:  s.now,
	})
	s.NoError(err)
}

func (s *RulesSuite) TestLeaderboardEntryOfAnotherUserDenied() {
	err := s.rules.CheckWrite(realtime.WriteRequest{
		Auth: "u2",
		Path: model.LeaderboardPath("classic", "u1"),
		Next: s.raw(model.LeaderboardEntry{DisplayName: "A", Score: 10}),
		Now:  s.now,
	})
	s.ErrorIs(err, realtime.ErrPermissionDenied)
}

func (s *RulesSuite) TestStatsOnlyWritableByOwner() {
	err := s.rules.CheckWrite(realtime.WriteRequest{Auth: "u2", Path: model.StatsPath("u1"), Next: s.raw(1), Now: s.now})
	s.ErrorIs(err, realtime.ErrPermissionDenied)

	err = s.rules.CheckWrite(realtime.WriteRequest{Auth: "u1", Path: model.StatsPath("u1"), Next: s.raw(1), Now: s.now})
	s.NoError(err)

	err = s.rules.CheckWrite(realtime.WriteRequest{Auth: "u2", Path: model.HistoryPath("u1", "0000000000001"), Next: s.raw(1), Now: s.now})
	s.ErrorIs(err, realtime.ErrPermissionDenied)
}

func (s *RulesSuite) TestAnyoneMayDeleteAnotherUserRecord() {
	// The reaper removes expired guests it does not own
	err := s.rules.CheckWrite(realtime.WriteRequest{Auth: "u2", Path: model.UserPath("u1"), Now: s.now})
	s.NoError(err)
}
