// Package types provides common type definitions for the presence engine.
package types

import "time"

// UserID identifies a community member.
type UserID string

// House represents the group a user belongs to.
type House string

// ChannelID identifies a tracked presence channel.
type ChannelID string

// ChannelUnknown is the sentinel used when the channel of a closing session
// cannot be determined (e.g. the originating event carried no channel).
const ChannelUnknown ChannelID = "unknown"

// TargetRef identifies an external publication target (a previously rendered
// leaderboard message owned by a collaborator).
type TargetRef string

// SessionCloseMode controls whether a closed session contributes to counters.
type SessionCloseMode string

const (
	// CloseTracked settles the session: points and presence time are awarded.
	CloseTracked SessionCloseMode = "tracked"
	// CloseUntracked discards the interval without touching counters.
	CloseUntracked SessionCloseMode = "untracked"
)

// SubmissionStatus represents the review state of a bonus submission.
type SubmissionStatus string

const (
	// SubmissionPending represents a submission awaiting review
	SubmissionPending SubmissionStatus = "pending"
	// SubmissionApproved represents an approved submission whose points count
	SubmissionApproved SubmissionStatus = "approved"
	// SubmissionRejected represents a rejected submission
	SubmissionRejected SubmissionStatus = "rejected"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// PresenceChange is the sole trigger for session transitions. From and To are
// nil when the user was not, or is no longer, in a tracked channel.
type PresenceChange struct {
	UserID      UserID     `json:"userId"`
	DisplayName string     `json:"displayName"`
	House       House      `json:"house"`
	From        *ChannelID `json:"from,omitempty"`
	FromName    string     `json:"fromName,omitempty"`
	To          *ChannelID `json:"to,omitempty"`
	ToName      string     `json:"toName,omitempty"`
}

// UserStats is the read-path view of a user's counters.
type UserStats struct {
	UserID                 UserID    `json:"userId"`
	DisplayName            string    `json:"displayName"`
	House                  House     `json:"house"`
	DailyPoints            int64     `json:"dailyPoints"`
	MonthlyPoints          int64     `json:"monthlyPoints"`
	TotalPoints            int64     `json:"totalPoints"`
	DailyPresenceSeconds   int64     `json:"dailyPresenceSeconds"`
	MonthlyPresenceSeconds int64     `json:"monthlyPresenceSeconds"`
	TotalPresenceSeconds   int64     `json:"totalPresenceSeconds"`
	MessageStreak          int       `json:"messageStreak"`
	LastDailyReset         time.Time `json:"lastDailyReset"`
}

// LeaderboardRow is one ranked entry of a house leaderboard.
type LeaderboardRow struct {
	Rank        int    `json:"rank"`
	UserID      UserID `json:"userId"`
	DisplayName string `json:"displayName"`
	TotalPoints int64  `json:"totalPoints"`
}

// Leaderboard is the ranked view for one house.
type Leaderboard struct {
	House      House            `json:"house"`
	Rows       []LeaderboardRow `json:"rows"`
	ComputedAt time.Time        `json:"computedAt"`
}
