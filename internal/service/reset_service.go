package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jackc/pgx/v5"

	"github.com/presence-engine/internal/errors"
	"github.com/presence-engine/internal/gateway"
	"github.com/presence-engine/internal/keymutex"
	"github.com/presence-engine/internal/logging"
	"github.com/presence-engine/internal/models"
	"github.com/presence-engine/internal/points"
	"github.com/presence-engine/internal/storage"
	"github.com/presence-engine/internal/types"
)

// ResetService rolls daily counters at each user's local midnight and monthly
// counters at the stored month boundary. One hourly trigger catches every
// timezone's midnight without per-user timers; a user needs a reset iff their
// current local time and their last reset fall on different calendar days.
type ResetService struct {
	locks     *keymutex.KeyedMutex
	txRunner  TxRunner
	users     UserStore
	sessions  SessionStore
	settings  SettingsStore
	presence  gateway.PresenceGateway
	calc      *points.Calculator
	refresh   RefreshEnqueuer
	notifier  gateway.OperatorNotifier
	interval  time.Duration
	scheduler gocron.Scheduler
	now       func() time.Time
}

// NewResetService creates a new scheduled reset service
func NewResetService(
	locks *keymutex.KeyedMutex,
	txRunner TxRunner,
	users UserStore,
	sessions SessionStore,
	settings SettingsStore,
	presence gateway.PresenceGateway,
	calc *points.Calculator,
	refresh RefreshEnqueuer,
	notifier gateway.OperatorNotifier,
	interval time.Duration,
) *ResetService {
	return &ResetService{
		locks:    locks,
		txRunner: txRunner,
		users:    users,
		sessions: sessions,
		settings: settings,
		presence: presence,
		calc:     calc,
		refresh:  refresh,
		notifier: notifier,
		interval: interval,
		now:      time.Now,
	}
}

// SetNow overrides the clock, for tests
func (s *ResetService) SetNow(now func() time.Time) {
	s.now = now
}

// Start registers and starts the periodic jobs. The service assumes exactly
// one running engine instance; two would double-fire resets.
func (s *ResetService) Start() error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() { s.runJob("daily-reset", s.dailyJob) }),
	)
	if err != nil {
		return fmt.Errorf("failed to register daily reset job: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() { s.runJob("monthly-reset", s.monthlyJob) }),
	)
	if err != nil {
		return fmt.Errorf("failed to register monthly reset job: %w", err)
	}

	scheduler.Start()
	s.scheduler = scheduler
	return nil
}

// Stop shuts the scheduler down
func (s *ResetService) Stop() error {
	if s.scheduler == nil {
		return nil
	}
	return s.scheduler.Shutdown()
}

// runJob wraps a job with operator alerting: a reset that throws mid-run
// fails loudly, never silently.
func (s *ResetService) runJob(name string, job func(ctx context.Context) error) {
	ctx := context.Background()
	if err := job(ctx); err != nil {
		wrapped := errors.NewScheduledJobError(name, err)
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"job":   name,
			"error": err.Error(),
		}).Error("Scheduled job failed")
		s.notifier.NotifyOperator(wrapped.Error())
	}
}

func (s *ResetService) dailyJob(ctx context.Context) error {
	_, err := s.RunDailyResets(ctx, s.now())
	return err
}

func (s *ResetService) monthlyJob(ctx context.Context) error {
	return s.RunMonthlyReset(ctx, s.now())
}

// ResetSummary reports what one daily firing did
type ResetSummary struct {
	UsersReset     int `json:"usersReset"`
	SessionsCycled int `json:"sessionsCycled"`
	Skipped        int `json:"skipped"`
	Errors         int `json:"errors"`
}

// reopenRecord remembers a session closed at the boundary so it can be
// reopened afterwards.
type reopenRecord struct {
	userID      types.UserID
	channel     types.ChannelID
	channelName string
}

// RunDailyResets settles and zeroes daily figures for every user whose local
// day has advanced since their last reset. The whole batch commits as one
// transaction; the reopen step runs afterwards on all paths, so a failed
// batch never leaves a user permanently without an open session.
func (s *ResetService) RunDailyResets(ctx context.Context, now time.Time) (*ResetSummary, error) {
	logger := logging.FromContext(ctx)
	summary := &ResetSummary{}

	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	var due []*models.User
	for _, user := range users {
		if !needsDailyReset(user, now) {
			continue
		}

		// Skip users who left the community; their counters stay frozen.
		member, err := s.presence.IsMember(ctx, user.ID)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"userId": string(user.ID),
				"error":  err.Error(),
			}).Error("Failed to check membership, skipping user this firing")
			summary.Errors++
			continue
		}
		if !member {
			summary.Skipped++
			continue
		}

		due = append(due, user)
	}

	if len(due) == 0 {
		return summary, nil
	}

	var reopen []reopenRecord
	touchedHouses := make(map[types.House]struct{})

	// Reopen on all paths: a transient failure inside the batch must never
	// leave a still-present user without an open session.
	defer func() {
		s.reopenSessions(ctx, reopen, now)
		for house := range touchedHouses {
			s.refresh.EnqueueRefresh(house)
		}
	}()

	err = s.txRunner.InTx(ctx, func(tx pgx.Tx) error {
		for _, user := range due {
			locked, err := s.users.GetByIDTx(ctx, tx, user.ID)
			if err != nil {
				return err
			}
			if !needsDailyReset(locked, now) {
				// Already reset since we listed; firing twice in the same
				// local day is a no-op.
				continue
			}

			open, err := s.sessions.FindOpenByUserTx(ctx, tx, user.ID)
			if err != nil {
				return err
			}

			// Close sessions spanning the boundary, settling everything up to
			// now into the old day.
			dailySeconds := locked.DailyPresenceSeconds
			settledPoints := int64(0)
			settledSeconds := int64(0)
			for _, session := range open {
				duration := int64(now.Sub(session.StartedAt) / time.Second)
				if duration < 0 {
					duration = 0
				}

				delta := s.calc.Delta(dailySeconds, dailySeconds+duration)
				dailySeconds += duration
				settledPoints += delta
				settledSeconds += duration

				if err := s.sessions.CloseTx(ctx, tx, session.ID, now, types.CloseTracked, duration, delta); err != nil {
					return err
				}

				reopen = append(reopen, reopenRecord{
					userID:      user.ID,
					channel:     session.ChannelID,
					channelName: session.ChannelName,
				})
				summary.SessionsCycled++
			}

			if settledSeconds > 0 || settledPoints > 0 {
				if err := s.users.ApplySettlementTx(ctx, tx, user.ID, settledPoints, settledSeconds); err != nil {
					return err
				}
				touchedHouses[locked.House] = struct{}{}
			}

			newStreak, consumeShield := advanceStreak(locked)
			if err := s.users.ResetDailyTx(ctx, tx, user.ID, newStreak, consumeShield, now); err != nil {
				return err
			}
			summary.UsersReset++
		}
		return nil
	})
	if err != nil {
		return summary, err
	}

	logger.WithFields(map[string]interface{}{
		"usersReset":     summary.UsersReset,
		"sessionsCycled": summary.SessionsCycled,
		"skipped":        summary.Skipped,
	}).Info("Daily reset firing complete")

	return summary, nil
}

// reopenSessions opens fresh sessions for users whose presence spanned the
// reset boundary. Each reopen is its own transaction so one failure cannot
// take the others down.
func (s *ResetService) reopenSessions(ctx context.Context, reopen []reopenRecord, now time.Time) {
	logger := logging.FromContext(ctx)

	for _, record := range reopen {
		err := s.locks.WithLock(string(record.userID), func() error {
			return s.txRunner.InTx(ctx, func(tx pgx.Tx) error {
				open, err := s.sessions.FindOpenByUserTx(ctx, tx, record.userID)
				if err != nil {
					return err
				}
				if len(open) > 0 {
					return nil
				}

				return s.sessions.InsertOpenTx(ctx, tx, &models.Session{
					UserID:      record.userID,
					ChannelID:   record.channel,
					ChannelName: record.channelName,
					StartedAt:   now,
					Tracked:     true,
				})
			})
		})
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"userId": string(record.userID),
				"error":  err.Error(),
			}).Error("Failed to reopen session after reset")
			s.notifier.NotifyOperator(fmt.Sprintf(
				"failed to reopen session for user %s after daily reset: %v", record.userID, err))
		}
	}
}

// RunMonthlyReset zeroes monthly figures once the stored month-start timestamp
// is a month in the past. Keying off the stored timestamp instead of the
// calendar means a manual or delayed reset shifts the whole period instead of
// skewing it.
func (s *ResetService) RunMonthlyReset(ctx context.Context, now time.Time) error {
	logger := logging.FromContext(ctx)

	monthStart, ok, err := s.settings.GetTime(ctx, storage.SettingMonthStart)
	if err != nil {
		return fmt.Errorf("failed to read month start: %w", err)
	}
	if !ok {
		// First run: anchor the period, nothing to zero yet.
		if err := s.settings.Set(ctx, storage.SettingMonthStart, now.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("failed to anchor month start: %w", err)
		}
		logger.Info("Month start anchored")
		return nil
	}

	if now.Before(monthStart.AddDate(0, 1, 0)) {
		return nil
	}

	var affected int64
	err = s.txRunner.InTx(ctx, func(tx pgx.Tx) error {
		affected, err = s.users.ResetMonthlyAllTx(ctx, tx)
		if err != nil {
			return err
		}
		return s.settings.SetTimeTx(ctx, tx, storage.SettingMonthStart, now)
	})
	if err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"usersReset": affected,
	}).Info("Monthly reset complete")

	return nil
}

// needsDailyReset reports whether the user's current local day differs from
// the local day of their last reset.
func needsDailyReset(user *models.User, now time.Time) bool {
	loc := user.Location()

	y1, m1, d1 := now.In(loc).Date()
	y2, m2, d2 := user.LastDailyReset.In(loc).Date()
	return y1 != y2 || m1 != m2 || d1 != d2
}

// advanceStreak computes the streak value after a day boundary. The streak
// was already credited intra-day when the message threshold was crossed, so
// a credited day simply carries its value over; a missed day resets the
// streak to zero unless a streak shield absorbs the miss.
func advanceStreak(user *models.User) (newStreak int, consumeShield bool) {
	if user.StreakCreditedToday {
		return user.MessageStreak, false
	}
	if user.StreakShielded {
		return user.MessageStreak, true
	}
	return 0, false
}
