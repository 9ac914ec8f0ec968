// Package models provides data models for the presence engine.
package models

import (
	"time"

	"github.com/presence-engine/internal/types"
)

// User represents a community member and their settled counters.
// A row is created lazily on first observed activity and lives indefinitely;
// only the counters are zeroed by resets.
type User struct {
	ID                     types.UserID `json:"id" db:"id"`
	DisplayName            string       `json:"displayName" db:"display_name"`
	House                  types.House  `json:"house" db:"house"`
	Timezone               string       `json:"timezone" db:"timezone"` // IANA name, default UTC
	DailyPoints            int64        `json:"dailyPoints" db:"daily_points"`
	MonthlyPoints          int64        `json:"monthlyPoints" db:"monthly_points"`
	TotalPoints            int64        `json:"totalPoints" db:"total_points"`
	DailyPresenceSeconds   int64        `json:"dailyPresenceSeconds" db:"daily_presence_seconds"`
	MonthlyPresenceSeconds int64        `json:"monthlyPresenceSeconds" db:"monthly_presence_seconds"`
	TotalPresenceSeconds   int64        `json:"totalPresenceSeconds" db:"total_presence_seconds"`
	DailyMessageCount      int          `json:"dailyMessageCount" db:"daily_message_count"`
	MessageStreak          int          `json:"messageStreak" db:"message_streak"`
	StreakCreditedToday    bool         `json:"streakCreditedToday" db:"streak_credited_today"`
	StreakShielded         bool         `json:"streakShielded" db:"streak_shielded"`
	LastDailyReset         time.Time    `json:"lastDailyReset" db:"last_daily_reset"`
	CreatedAt              time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt              time.Time    `json:"updatedAt" db:"updated_at"`
}

// Location resolves the user's IANA timezone, falling back to UTC when the
// stored name is empty or invalid.
func (u *User) Location() *time.Location {
	if u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
