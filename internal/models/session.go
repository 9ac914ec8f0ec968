package models

import (
	"time"

	"github.com/presence-engine/internal/types"
)

// Session represents one presence interval for a user. EndedAt nil means the
// session is open. Under normal operation at most one session per user is open
// at a time; violations are resolved by the reconciliation scan.
type Session struct {
	ID              string          `json:"id" db:"id"`
	UserID          types.UserID    `json:"userId" db:"user_id"`
	ChannelID       types.ChannelID `json:"channelId" db:"channel_id"`
	ChannelName     string          `json:"channelName" db:"channel_name"`
	StartedAt       time.Time       `json:"startedAt" db:"started_at"`
	EndedAt         *time.Time      `json:"endedAt,omitempty" db:"ended_at"`
	Tracked         bool            `json:"tracked" db:"tracked"`
	DurationSeconds int64           `json:"durationSeconds" db:"duration_seconds"`
	PointsAwarded   int64           `json:"pointsAwarded" db:"points_awarded"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
}

// Open reports whether the session has no end time yet.
func (s *Session) Open() bool {
	return s.EndedAt == nil
}

// Age returns how long ago the session started.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}
