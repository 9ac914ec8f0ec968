package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/presence-engine/internal/gateway"
	"github.com/presence-engine/internal/keymutex"
	"github.com/presence-engine/internal/logging"
	"github.com/presence-engine/internal/models"
	"github.com/presence-engine/internal/points"
	"github.com/presence-engine/internal/types"
)

// ReconcileService restores a consistent open-session state after a restart:
// the in-memory serializer is gone, so whatever the store says is reconciled
// against who is actually present right now. Safe to re-invoke; a second run
// with no presence changes in between mutates nothing.
type ReconcileService struct {
	locks        *keymutex.KeyedMutex
	txRunner     TxRunner
	users        UserStore
	sessions     SessionStore
	presence     gateway.PresenceGateway
	calc         *points.Calculator
	refresh      RefreshEnqueuer
	notifier     gateway.OperatorNotifier
	resumableAge time.Duration
	now          func() time.Time
}

// NewReconcileService creates a new reconciliation service. It shares the
// lifecycle service's keyed mutex so re-invocations cannot race live
// transitions for the same user.
func NewReconcileService(
	locks *keymutex.KeyedMutex,
	txRunner TxRunner,
	users UserStore,
	sessions SessionStore,
	presence gateway.PresenceGateway,
	calc *points.Calculator,
	refresh RefreshEnqueuer,
	notifier gateway.OperatorNotifier,
	resumableAge time.Duration,
) *ReconcileService {
	return &ReconcileService{
		locks:        locks,
		txRunner:     txRunner,
		users:        users,
		sessions:     sessions,
		presence:     presence,
		calc:         calc,
		refresh:      refresh,
		notifier:     notifier,
		resumableAge: resumableAge,
		now:          time.Now,
	}
}

// SetNow overrides the clock, for tests
func (s *ReconcileService) SetNow(now func() time.Time) {
	s.now = now
}

// ReconcileSummary reports what a scan did
type ReconcileSummary struct {
	UsersScanned    int `json:"usersScanned"`
	Resumed         int `json:"resumed"`
	ClosedTracked   int `json:"closedTracked"`
	ClosedUntracked int `json:"closedUntracked"`
	Opened          int `json:"opened"`
	Errors          int `json:"errors"`
}

// Reconcile scans every open session and every currently-present user and
// reestablishes the one-open-session-per-present-user mapping. Failures on one
// channel or one user are isolated: the scan continues and tallies them.
func (s *ReconcileService) Reconcile(ctx context.Context) (*ReconcileSummary, error) {
	logger := logging.FromContext(ctx)
	summary := &ReconcileSummary{}

	present, err := s.observePresence(ctx, summary)
	if err != nil {
		return nil, err
	}

	open, err := s.sessions.ListAllOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load open sessions: %w", err)
	}

	openByUser := make(map[types.UserID][]*models.Session)
	for _, session := range open {
		openByUser[session.UserID] = append(openByUser[session.UserID], session)
	}

	touchedHouses := make(map[types.House]struct{})

	// Users with open sessions: resume, close, or both.
	for userID := range openByUser {
		summary.UsersScanned++
		channel, isPresent := present[userID]
		if err := s.reconcileUser(ctx, userID, isPresent, channel, summary, touchedHouses); err != nil {
			logger.WithFields(map[string]interface{}{
				"userId": string(userID),
				"error":  err.Error(),
			}).Error("Failed to reconcile user, continuing scan")
			summary.Errors++
		}
	}

	// Present users with no open session at all get a fresh one.
	for userID, channel := range present {
		if _, ok := openByUser[userID]; ok {
			continue
		}
		summary.UsersScanned++
		if err := s.openFresh(ctx, userID, channel); err != nil {
			logger.WithFields(map[string]interface{}{
				"userId": string(userID),
				"error":  err.Error(),
			}).Error("Failed to open session for present user, continuing scan")
			summary.Errors++
			continue
		}
		summary.Opened++
	}

	for house := range touchedHouses {
		s.refresh.EnqueueRefresh(house)
	}

	logger.WithFields(map[string]interface{}{
		"usersScanned":    summary.UsersScanned,
		"resumed":         summary.Resumed,
		"closedTracked":   summary.ClosedTracked,
		"closedUntracked": summary.ClosedUntracked,
		"opened":          summary.Opened,
		"errors":          summary.Errors,
	}).Info("Reconciliation scan complete")

	if summary.Errors > 0 {
		s.notifier.NotifyOperator(fmt.Sprintf(
			"reconciliation scan finished with %d errors (%d users scanned)", summary.Errors, summary.UsersScanned))
	}

	return summary, nil
}

// observePresence builds the live userID -> channel map from the gateway.
// A channel that fails to list is counted and skipped, not fatal.
func (s *ReconcileService) observePresence(ctx context.Context, summary *ReconcileSummary) (map[types.UserID]types.ChannelID, error) {
	logger := logging.FromContext(ctx)

	channels, err := s.presence.ListTrackedChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked channels: %w", err)
	}

	present := make(map[types.UserID]types.ChannelID)
	for _, channel := range channels {
		users, err := s.presence.ListPresentUsers(ctx, channel)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"channel": string(channel),
				"error":   err.Error(),
			}).Error("Failed to list present users, skipping channel")
			summary.Errors++
			continue
		}
		for _, userID := range users {
			present[userID] = channel
		}
	}

	return present, nil
}

// reconcileUser resolves one user's open sessions inside one transaction,
// under that user's lock.
func (s *ReconcileService) reconcileUser(
	ctx context.Context,
	userID types.UserID,
	isPresent bool,
	channel types.ChannelID,
	summary *ReconcileSummary,
	touchedHouses map[types.House]struct{},
) error {
	now := s.now()

	return s.locks.WithLock(string(userID), func() error {
		return s.txRunner.InTx(ctx, func(tx pgx.Tx) error {
			user, err := s.users.GetByIDTx(ctx, tx, userID)
			if err != nil {
				return err
			}

			// Re-read under lock; the snapshot taken before may be stale.
			sessions, err := s.sessions.FindOpenByUserTx(ctx, tx, userID)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				return nil
			}

			if len(sessions) > 1 {
				s.notifier.NotifyOperator(fmt.Sprintf(
					"found %d open sessions for user %s during reconciliation", len(sessions), userID))
			}

			// Newest session inside the resumable window survives if the user
			// is still observed present.
			resumeID := ""
			if isPresent {
				for _, session := range sessions {
					if session.Age(now) <= s.resumableAge {
						resumeID = session.ID
						break
					}
				}
			}

			dailySeconds := user.DailyPresenceSeconds
			settledPoints := int64(0)
			settledSeconds := int64(0)

			for _, session := range sessions {
				if session.ID == resumeID {
					summary.Resumed++
					continue
				}

				duration := int64(now.Sub(session.StartedAt) / time.Second)
				if duration < 0 {
					duration = 0
				}

				if session.Age(now) > s.resumableAge {
					// Too old to trust; discard without stats.
					if err := s.sessions.CloseTx(ctx, tx, session.ID, now, types.CloseUntracked, duration, 0); err != nil {
						return err
					}
					summary.ClosedUntracked++
					continue
				}

				// Within the window but not the chosen one (or the user left):
				// settle normally.
				delta := s.calc.Delta(dailySeconds, dailySeconds+duration)
				dailySeconds += duration
				settledPoints += delta
				settledSeconds += duration

				if err := s.sessions.CloseTx(ctx, tx, session.ID, now, types.CloseTracked, duration, delta); err != nil {
					return err
				}
				summary.ClosedTracked++
			}

			if settledSeconds > 0 || settledPoints > 0 {
				if err := s.users.ApplySettlementTx(ctx, tx, userID, settledPoints, settledSeconds); err != nil {
					return err
				}
				touchedHouses[user.House] = struct{}{}
			}

			// Present but nothing resumable: start over.
			if isPresent && resumeID == "" {
				if err := s.sessions.InsertOpenTx(ctx, tx, &models.Session{
					UserID:      userID,
					ChannelID:   channel,
					ChannelName: s.presence.ChannelName(ctx, channel),
					StartedAt:   now,
					Tracked:     true,
				}); err != nil {
					return err
				}
				summary.Opened++
			}

			return nil
		})
	})
}

// openFresh creates a user row if needed and opens a session for a user who
// is present but has no open session.
func (s *ReconcileService) openFresh(ctx context.Context, userID types.UserID, channel types.ChannelID) error {
	if err := s.users.EnsureUser(ctx, userID, "", ""); err != nil {
		return err
	}

	now := s.now()
	return s.locks.WithLock(string(userID), func() error {
		return s.txRunner.InTx(ctx, func(tx pgx.Tx) error {
			// Another transition may have opened one while we waited.
			sessions, err := s.sessions.FindOpenByUserTx(ctx, tx, userID)
			if err != nil {
				return err
			}
			if len(sessions) > 0 {
				return nil
			}

			return s.sessions.InsertOpenTx(ctx, tx, &models.Session{
				UserID:      userID,
				ChannelID:   channel,
				ChannelName: s.presence.ChannelName(ctx, channel),
				StartedAt:   now,
				Tracked:     true,
			})
		})
	})
}
