package service

import (
	"context"
	"fmt"
	"time"

	"github.com/presence-engine/internal/logging"
	"github.com/presence-engine/internal/models"
	"github.com/presence-engine/internal/storage"
	"github.com/presence-engine/internal/types"
)

// AuditService recomputes every user's expected counters from the immutable
// records (tracked closed sessions, the adjustment ledger, approved bonus
// submissions) and reports where the stored counters drifted. It only ever
// reads; fixing a discrepancy is an operator decision.
type AuditService struct {
	users       UserStore
	sessions    SessionStore
	settings    SettingsStore
	adjustments AdjustmentStore
	submissions SubmissionStore
	now         func() time.Time
}

// NewAuditService creates a new audit service
func NewAuditService(
	users UserStore,
	sessions SessionStore,
	settings SettingsStore,
	adjustments AdjustmentStore,
	submissions SubmissionStore,
) *AuditService {
	return &AuditService{
		users:       users,
		sessions:    sessions,
		settings:    settings,
		adjustments: adjustments,
		submissions: submissions,
		now:         time.Now,
	}
}

// SetNow overrides the clock, for tests
func (s *AuditService) SetNow(now func() time.Time) {
	s.now = now
}

// Discrepancy is one stored counter that disagrees with its recomputation
type Discrepancy struct {
	UserID   types.UserID `json:"userId"`
	Field    string       `json:"field"`
	Stored   int64        `json:"stored"`
	Expected int64        `json:"expected"`
}

// AuditReport is the outcome of one full audit pass
type AuditReport struct {
	UsersAudited  int           `json:"usersAudited"`
	Discrepancies []Discrepancy `json:"discrepancies"`
	StartedAt     time.Time     `json:"startedAt"`
	FinishedAt    time.Time     `json:"finishedAt"`
}

// Audit recomputes expected counters for every user and diffs them against
// the stored values. Open sessions are not part of expected values; their
// points do not exist until settlement.
func (s *AuditService) Audit(ctx context.Context) (*AuditReport, error) {
	logger := logging.FromContext(ctx)
	report := &AuditReport{StartedAt: s.now()}

	monthStart, ok, err := s.settings.GetTime(ctx, storage.SettingMonthStart)
	if err != nil {
		return nil, fmt.Errorf("failed to read month start: %w", err)
	}
	if !ok {
		monthStart = time.Time{}
	}

	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	for _, user := range users {
		report.UsersAudited++

		found, err := s.auditUser(ctx, user, monthStart)
		if err != nil {
			return nil, fmt.Errorf("failed to audit user %s: %w", user.ID, err)
		}
		report.Discrepancies = append(report.Discrepancies, found...)
	}

	report.FinishedAt = s.now()

	logger.WithFields(map[string]interface{}{
		"usersAudited":  report.UsersAudited,
		"discrepancies": len(report.Discrepancies),
	}).Info("Integrity audit complete")

	return report, nil
}

// auditUser recomputes one user's six counters over the three windows: since
// the last daily reset, since the month start, and over all history. Window
// starts are exclusive: a session closed at the reset instant was settled
// into the old day, so it must not count toward the new window.
func (s *AuditService) auditUser(ctx context.Context, user *models.User, monthStart time.Time) ([]Discrepancy, error) {
	type window struct {
		since         time.Time
		pointsField   string
		secondsField  string
		storedPoints  int64
		storedSeconds int64
	}

	windows := []window{
		{user.LastDailyReset, "dailyPoints", "dailyPresenceSeconds", user.DailyPoints, user.DailyPresenceSeconds},
		{monthStart, "monthlyPoints", "monthlyPresenceSeconds", user.MonthlyPoints, user.MonthlyPresenceSeconds},
		{time.Time{}, "totalPoints", "totalPresenceSeconds", user.TotalPoints, user.TotalPresenceSeconds},
	}

	var found []Discrepancy
	for _, w := range windows {
		totals, err := s.sessions.SumTrackedClosed(ctx, user.ID, w.since)
		if err != nil {
			return nil, err
		}
		adjusted, err := s.adjustments.SumByUser(ctx, user.ID, w.since)
		if err != nil {
			return nil, err
		}
		bonus, err := s.submissions.SumApprovedByUser(ctx, user.ID, w.since)
		if err != nil {
			return nil, err
		}

		// Debits below the zero floor are rejected at award time, so the
		// plain sum replays the stored counter exactly. A negative expected
		// value can only come from rows the engine never applied.
		expectedPoints := totals.Points + adjusted + bonus

		if w.storedPoints != expectedPoints {
			found = append(found, Discrepancy{
				UserID:   user.ID,
				Field:    w.pointsField,
				Stored:   w.storedPoints,
				Expected: expectedPoints,
			})
		}
		if w.storedSeconds != totals.DurationSeconds {
			found = append(found, Discrepancy{
				UserID:   user.ID,
				Field:    w.secondsField,
				Stored:   w.storedSeconds,
				Expected: totals.DurationSeconds,
			})
		}
	}

	return found, nil
}
