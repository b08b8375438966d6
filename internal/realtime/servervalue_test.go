package realtime

import (
	"encoding/json"
	"time"
)

func (s *TreeSuite) TestResolveServerValues() {
	now := time.UnixMilli(1700000000000)
	raw, err := json.Marshal(map[string]any{
		"online":      false,
		"lastChanged": ServerTimestamp,
		"nested":      map[string]any{"at": ServerTimestamp, "keep": "x"},
	})
	s.Require().NoError(err)

	out, err := ResolveServerValues(raw, now)
	s.Require().NoError(err)
	s.JSONEq(`{"online":false,"lastChanged":1700000000000,"nested":{"at":1700000000000,"keep":"x"}}`, string(out))
}

func (s *TreeSuite) TestResolveServerValuesBareTimestamp() {
	raw, _ := json.Marshal(ServerTimestamp)

	out, err := ResolveServerValues(raw, time.UnixMilli(42))
	s.Require().NoError(err)
	s.Equal("42", string(out))
}

func (s *TreeSuite) TestResolveServerValuesLeavesPlainValues() {
	raw := json.RawMessage(`{"a":1,"b":12345678901234567890}`)

	out, err := ResolveServerValues(raw, time.Now())
	s.Require().NoError(err)
	s.Equal(string(raw), string(out))
}
