package models

import (
	"time"

	"github.com/presence-engine/internal/types"
)

// PointAdjustment records a manual admin point change. Adjustments route
// through the same counter-update path as session settlement and are replayed
// by the integrity audit.
type PointAdjustment struct {
	ID        string       `json:"id" db:"id"`
	UserID    types.UserID `json:"userId" db:"user_id"`
	Delta     int64        `json:"delta" db:"delta"`
	Reason    string       `json:"reason" db:"reason"`
	CreatedAt time.Time    `json:"createdAt" db:"created_at"`
}

// BonusSubmission is an approved-or-pending bonus claim. Only approved rows
// count toward a user's expected totals; the approval workflow itself lives
// outside the engine.
type BonusSubmission struct {
	ID        string                 `json:"id" db:"id"`
	UserID    types.UserID           `json:"userId" db:"user_id"`
	Points    int64                  `json:"points" db:"points"`
	Status    types.SubmissionStatus `json:"status" db:"status"`
	DecidedAt *time.Time             `json:"decidedAt,omitempty" db:"decided_at"`
	CreatedAt time.Time              `json:"createdAt" db:"created_at"`
}
