package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/presence-engine/internal/errors"
	"github.com/presence-engine/internal/gateway"
	"github.com/presence-engine/internal/keymutex"
	"github.com/presence-engine/internal/logging"
	"github.com/presence-engine/internal/models"
	"github.com/presence-engine/internal/points"
	"github.com/presence-engine/internal/types"
)

// LifecycleService opens, closes and transitions presence sessions. All
// transitions for one user run serialized through the keyed mutex; each full
// transition commits as one transaction.
type LifecycleService struct {
	locks           *keymutex.KeyedMutex
	txRunner        TxRunner
	users           UserStore
	sessions        SessionStore
	calc            *points.Calculator
	refresh         RefreshEnqueuer
	notifier        gateway.OperatorNotifier
	streakThreshold int
	now             func() time.Time
}

// NewLifecycleService creates a new session lifecycle service
func NewLifecycleService(
	txRunner TxRunner,
	users UserStore,
	sessions SessionStore,
	calc *points.Calculator,
	refresh RefreshEnqueuer,
	notifier gateway.OperatorNotifier,
	streakThreshold int,
) *LifecycleService {
	return &LifecycleService{
		locks:           keymutex.New(),
		txRunner:        txRunner,
		users:           users,
		sessions:        sessions,
		calc:            calc,
		refresh:         refresh,
		notifier:        notifier,
		streakThreshold: streakThreshold,
		now:             time.Now,
	}
}

// SetNow overrides the clock, for tests
func (s *LifecycleService) SetNow(now func() time.Time) {
	s.now = now
}

// Locks exposes the per-user serializer so the reconciliation scan can
// coordinate with in-flight transitions.
func (s *LifecycleService) Locks() *keymutex.KeyedMutex {
	return s.locks
}

// HandlePresenceChange is the sole entry point for presence events. It
// upserts the user row, then dispatches Enter, Exit or Switch under the
// user's lock.
func (s *LifecycleService) HandlePresenceChange(ctx context.Context, change *types.PresenceChange) error {
	if change.UserID == "" {
		return errors.NewValidationError("userId", "must not be empty")
	}
	if change.From == nil && change.To == nil {
		return errors.NewValidationError("change", "neither a joined nor a left channel")
	}

	if err := s.users.EnsureUser(ctx, change.UserID, change.DisplayName, change.House); err != nil {
		return fmt.Errorf("failed to ensure user %s: %w", change.UserID, err)
	}

	return s.locks.WithLock(string(change.UserID), func() error {
		switch {
		case change.From == nil:
			return s.enter(ctx, change.UserID, *change.To, change.ToName)
		case change.To == nil:
			return s.exit(ctx, change.UserID, *change.From)
		case *change.From != *change.To:
			// A switch is exit-then-enter back to back, not one atomic unit;
			// the exit's settlement still applies.
			if err := s.exit(ctx, change.UserID, *change.From); err != nil {
				return err
			}
			return s.enter(ctx, change.UserID, *change.To, change.ToName)
		default:
			// Same channel on both sides: mute/deafen style updates, nothing to do.
			return nil
		}
	})
}

// enter inserts a new open session. An already-open session at this point
// should not exist; when one does it is closed untracked first and the
// operator is alerted.
func (s *LifecycleService) enter(ctx context.Context, userID types.UserID, channel types.ChannelID, channelName string) error {
	logger := logging.FromContext(ctx)
	now := s.now()

	return s.txRunner.InTx(ctx, func(tx pgx.Tx) error {
		stale, err := s.sessions.FindOpenByUserTx(ctx, tx, userID)
		if err != nil {
			return err
		}

		for _, session := range stale {
			logger.WithFields(map[string]interface{}{
				"userId":    string(userID),
				"sessionId": session.ID,
			}).Error("Open session found on enter, closing untracked")
			s.notifier.NotifyOperator(fmt.Sprintf(
				"duplicate open session %s for user %s discarded on enter", session.ID, userID))

			duration := int64(now.Sub(session.StartedAt) / time.Second)
			if err := s.sessions.CloseTx(ctx, tx, session.ID, now, types.CloseUntracked, duration, 0); err != nil {
				return err
			}
		}

		return s.sessions.InsertOpenTx(ctx, tx, &models.Session{
			UserID:      userID,
			ChannelID:   channel,
			ChannelName: channelName,
			StartedAt:   now,
			Tracked:     true,
		})
	})
}

// exit closes the matching open session and settles it: duration derived,
// points delta computed against the user's daily totals, counters incremented
// and the delta persisted on the session row, all in one transaction. If the
// matching open-session count is not exactly one, the operation fails closed.
func (s *LifecycleService) exit(ctx context.Context, userID types.UserID, channel types.ChannelID) error {
	logger := logging.FromContext(ctx)
	now := s.now()

	var house types.House
	err := s.txRunner.InTx(ctx, func(tx pgx.Tx) error {
		user, err := s.users.GetByIDTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		house = user.House

		open, err := s.sessions.FindOpenForCloseTx(ctx, tx, userID, channel)
		if err != nil {
			return err
		}
		if len(open) != 1 {
			logger.WithFields(map[string]interface{}{
				"userId":       string(userID),
				"channel":      string(channel),
				"openSessions": len(open),
			}).Error("Open session count mismatch on exit, aborting settlement")
			s.notifier.NotifyOperator(fmt.Sprintf(
				"settlement aborted for user %s: found %d open sessions in channel %s", userID, len(open), channel))
			return errors.NewInvariantViolationError(userID, len(open))
		}

		session := open[0]
		duration := int64(now.Sub(session.StartedAt) / time.Second)
		if duration < 0 {
			duration = 0
		}

		oldDaily := user.DailyPresenceSeconds
		newDaily := oldDaily + duration
		delta := s.calc.Delta(oldDaily, newDaily)

		if err := s.sessions.CloseTx(ctx, tx, session.ID, now, types.CloseTracked, duration, delta); err != nil {
			return err
		}

		return s.users.ApplySettlementTx(ctx, tx, userID, delta, duration)
	})
	if err != nil {
		return err
	}

	s.refresh.EnqueueRefresh(house)
	return nil
}

// RecordMessage bumps the user's daily message counter. The message that
// crosses the streak threshold credits the streak on the spot; the reset only
// handles the missed-day side.
func (s *LifecycleService) RecordMessage(ctx context.Context, userID types.UserID) error {
	return s.users.IncrementMessageCount(ctx, userID, s.streakThreshold)
}

// Stats returns the user's current counters for the read path
func (s *LifecycleService) Stats(ctx context.Context, userID types.UserID) (*types.UserStats, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &types.UserStats{
		UserID:                 user.ID,
		DisplayName:            user.DisplayName,
		House:                  user.House,
		DailyPoints:            user.DailyPoints,
		MonthlyPoints:          user.MonthlyPoints,
		TotalPoints:            user.TotalPoints,
		DailyPresenceSeconds:   user.DailyPresenceSeconds,
		MonthlyPresenceSeconds: user.MonthlyPresenceSeconds,
		TotalPresenceSeconds:   user.TotalPresenceSeconds,
		MessageStreak:          user.MessageStreak,
		LastDailyReset:         user.LastDailyReset,
	}, nil
}
