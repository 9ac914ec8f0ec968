package models

import (
	"time"

	"github.com/presence-engine/internal/types"
)

// LeaderboardPublication is a previously rendered leaderboard snapshot living
// at an external target. Rows are created when a view is first requested,
// refreshed on every points change for the house, and deleted once the target
// no longer resolves.
type LeaderboardPublication struct {
	ID        int64           `json:"id" db:"id"`
	House     types.House     `json:"house" db:"house"`
	TargetRef types.TargetRef `json:"targetRef" db:"target_ref"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}
