// Package rules holds the access rules the shared tree enforces on every write.
package rules

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcoot/basequiz/internal/model"
	"github.com/mcoot/basequiz/internal/realtime"
)

// Rules is the deployment's rule set
type Rules struct {
	// LockTimeout is the age after which a cleanup lock no longer blocks other owners
	LockTimeout time.Duration
}

// Ensure Rules implements the interface
var _ realtime.Rules = (*Rules)(nil)

// Default returns the standard rules with the given cleanup lock timeout
func Default(lockTimeout time.Duration) *Rules {
	return &Rules{LockTimeout: lockTimeout}
}

// CheckWrite rejects unauthenticated writes, takeovers of a live cleanup lock,
// guest leaderboard rows and writes to another user's stats or history.
func (r *Rules) CheckWrite(req realtime.WriteRequest) error {
	if req.Auth == "" {
		return deny("unauthenticated write to %s", req.Path)
	}

	segs := realtime.Segments(req.Path)
	switch segs[0] {
	case "cleanup":
		if realtime.IsWithin(req.Path, model.CleanupLockPath) {
			return r.checkLock(req)
		}
	case model.LeaderboardsRoot:
		return checkLeaderboard(req, segs)
	case model.UsersRoot:
		if len(segs) >= 3 && (segs[2] == "stats" || segs[2] == "gameHistory") && segs[1] != req.Auth {
			return deny("%s belongs to another user", req.Path)
		}
	}
	return nil
}

func (r *Rules) checkLock(req realtime.WriteRequest) error {
	if req.Path != model.CleanupLockPath {
		return deny("the cleanup lock is written as a whole")
	}
	if req.Next == nil {
		return nil
	}

	var held model.CleanupLock
	if req.Current == nil || json.Unmarshal(req.Current, &held) != nil || held.AcquiredBy == "" {
		return nil
	}
	var next model.CleanupLock
	if err := json.Unmarshal(req.Next, &next); err != nil {
		return deny("malformed cleanup lock")
	}
	if next.AcquiredBy == held.AcquiredBy {
		return nil
	}
	age := req.Now.Sub(model.FromMillis(held.Timestamp))
	if age < r.LockTimeout {
		return deny("cleanup lock held by %s", held.AcquiredBy)
	}
	return nil
}

func checkLeaderboard(req realtime.WriteRequest, segs []string) error {
	if len(segs) < 3 {
		if req.Next != nil {
			return deny("leaderboards are written one entry at a time")
		}
		return nil
	}
	if segs[2] != req.Auth {
		return deny("%s belongs to another user", req.Path)
	}
	if req.Next == nil {
		return nil
	}

	var isGuest bool
	switch len(segs) {
	case 3:
		var entry model.LeaderboardEntry
		if err := json.Unmarshal(req.Next, &entry); err != nil {
			return deny("malformed leaderboard entry")
		}
		isGuest = entry.IsGuest
	case 4:
		if segs[3] == "isGuest" {
			_ = json.Unmarshal(req.Next, &isGuest)
		}
	}
	if isGuest {
		return deny("guests cannot appear on leaderboards")
	}
	return nil
}

func deny(format string, args ...any) error {
	return fmt.Errorf("%w: %s", realtime.ErrPermissionDenied, fmt.Sprintf(format, args...))
}
