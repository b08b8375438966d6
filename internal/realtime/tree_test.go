package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/suite"
)

type TreeSuite struct {
	suite.Suite
}

func TestTreeSuite(t *testing.T) {
	suite.Run(t, new(TreeSuite))
}

func (s *TreeSuite) TestCleanPath() {
	clean, err := CleanPath("/rooms/ABC/")
	s.Require().NoError(err)
	s.Equal("rooms/ABC", clean)

	clean, err = CleanPath("")
	s.Require().NoError(err)
	s.Equal("", clean)

	for _, bad := range []string{"rooms//ABC", "rooms/*", "rooms/../x", "a/[b]"} {
		_, err := CleanPath(bad)
		s.ErrorIs(err, ErrInvalidPath, bad)
	}

	_, err = CleanWritePath("/")
	s.ErrorIs(err, ErrInvalidPath)
}

func (s *TreeSuite) TestTouches() {
	s.True(Touches("rooms/A/players/u1", "rooms/A"))
	s.True(Touches("rooms", "rooms/A/chat"))
	s.True(Touches("rooms/A", "rooms/A"))
	s.False(Touches("rooms/AB", "rooms/A"))
	s.False(Touches("users/u1", "rooms"))
}

func (s *TreeSuite) TestFlattenAndAssemble() {
	leaves, err := Flatten("users/u1", map[string]any{
		"displayName": "Alice",
		"isGuest":     true,
		"stats":       map[string]any{"gamesPlayed": 2},
		"empty":       map[string]any{},
	})
	s.Require().NoError(err)
	s.Len(leaves, 3)
	s.JSONEq(`"Alice"`, string(leaves["users/u1/displayName"]))
	s.JSONEq(`2`, string(leaves["users/u1/stats/gamesPlayed"]))

	value, err := Assemble("users/u1", leaves)
	s.Require().NoError(err)
	s.JSONEq(`{"displayName":"Alice","isGuest":true,"stats":{"gamesPlayed":2}}`, string(value))

	value, err = Assemble("users/u1/stats", leaves)
	s.Require().NoError(err)
	s.JSONEq(`{"gamesPlayed":2}`, string(value))

	value, err = Assemble("users/u2", leaves)
	s.Require().NoError(err)
	s.Nil(value)
}

func (s *TreeSuite) TestFlattenKeepsLargeIntegersExact() {
	leaves, err := Flatten("n", json.RawMessage(`{"ts":1704067200123}`))
	s.Require().NoError(err)
	s.Equal("1704067200123", string(leaves["n/ts"]))
}

func (s *TreeSuite) TestFlattenRejectsSlashInKey() {
	_, err := Flatten("rooms", map[string]any{"a/b": 1})
	s.ErrorIs(err, ErrInvalidPath)
}

func (s *TreeSuite) TestFlattenNull() {
	leaves, err := Flatten("x", json.RawMessage(`null`))
	s.Require().NoError(err)
	s.Empty(leaves)
}

func (s *TreeSuite) TestPlanWriteReplacesSubtree() {
	current := Leaves{
		"rooms/A/status":            json.RawMessage(`"waiting"`),
		"rooms/A/players/u1/kicked": json.RawMessage(`false`),
		"rooms/B/status":            json.RawMessage(`"playing"`),
	}
	plan, err := PlanWrite(current, map[string]any{
		"rooms/A": map[string]any{"status": "finished"},
		"rooms/C": nil,
	})
	s.Require().NoError(err)
	s.Equal([]string{"rooms/A", "rooms/C"}, plan.Paths)
	s.Equal([]string{"rooms/A/players/u1/kicked", "rooms/A/status"}, plan.Delete)
	s.JSONEq(`"finished"`, string(plan.Put["rooms/A/status"]))
	s.Nil(plan.Next["rooms/C"])
	s.JSONEq(`{"status":"finished"}`, string(plan.Next["rooms/A"]))
}

func (s *TreeSuite) TestPlanWriteBelowLeafReplacesIt() {
	current := Leaves{
		"rooms/R1":       json.RawMessage(`"garbage"`),
		"rooms/R2/extra": json.RawMessage(`1`),
	}
	plan, err := PlanWrite(current, map[string]any{
		"rooms/R1/players/u1": map[string]any{"kicked": false},
	})
	s.Require().NoError(err)
	s.Equal([]string{"rooms/R1"}, plan.Delete)

	after := Leaves{"rooms/R2/extra": current["rooms/R2/extra"]}
	for k, v := range plan.Put {
		after[k] = v
	}
	room, err := Assemble("rooms/R1", after.Subtree("rooms/R1"))
	s.Require().NoError(err)
	s.JSONEq(`{"players":{"u1":{"kicked":false}}}`, string(room))
}

func (s *TreeSuite) TestPlanRemoveBelowLeafKeepsIt() {
	current := Leaves{"rooms/R1": json.RawMessage(`"garbage"`)}
	plan, err := PlanWrite(current, map[string]any{"rooms/R1/players": nil})
	s.Require().NoError(err)
	s.Empty(plan.Delete)
	s.Empty(plan.Put)
}

func (s *TreeSuite) TestAncestors() {
	s.Nil(Ancestors("rooms"))
	s.Equal([]string{"rooms", "rooms/R1"}, Ancestors("rooms/R1/players"))
}

func (s *TreeSuite) TestPlanWriteRejectsOverlap() {
	_, err := PlanWrite(Leaves{}, map[string]any{
		"rooms/A":         nil,
		"rooms/A/players": nil,
	})
	s.ErrorIs(err, ErrInvalidPath)

	_, err = PlanWrite(Leaves{}, map[string]any{"rooms/A": 1, "/rooms/A/": 2})
	s.ErrorIs(err, ErrInvalidPath)
}

func (s *TreeSuite) TestChildSnapshots() {
	leaves := Leaves{
		"rooms/B/status":            json.RawMessage(`"waiting"`),
		"rooms/A/status":            json.RawMessage(`"playing"`),
		"rooms/A/players/u1/kicked": json.RawMessage(`false`),
	}
	children, err := ChildSnapshots("rooms", leaves)
	s.Require().NoError(err)
	s.Require().Len(children, 2)
	s.Equal("A", children[0].Key)
	s.Equal("rooms/A", children[0].Path)
	s.Equal("B", children[1].Key)
	s.JSONEq(`{"status":"waiting"}`, string(children[1].Value))
}

func (s *TreeSuite) TestApplyQuery() {
	children := []Snapshot{
		{Key: "a", Value: json.RawMessage(`{"timestamp":3}`)},
		{Key: "b", Value: json.RawMessage(`{"timestamp":1}`)},
		{Key: "c", Value: json.RawMessage(`{"timestamp":2}`)},
		{Key: "d", Value: json.RawMessage(`{"timestamp":2}`)},
	}
	out := ApplyQuery(children, Query{OrderBy: "timestamp", LimitToLast: 3})
	keys := make([]string, 0, len(out))
	for _, c := range out {
		keys = append(keys, c.Key)
	}
	s.Equal([]string{"c", "d", "a"}, keys)
}

func (s *TreeSuite) TestSnapshotDecode() {
	var v struct {
		Score int `json:"score"`
	}
	s.Require().NoError(Snapshot{}.Decode(&v))
	s.Equal(0, v.Score)

	s.Require().NoError(Snapshot{Value: json.RawMessage(`{"score":7}`)}.Decode(&v))
	s.Equal(7, v.Score)
	s.Error(Snapshot{Value: json.RawMessage(`"nope"`)}.Decode(&v))
}
