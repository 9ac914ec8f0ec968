package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/presence-engine/internal/errors"
	"github.com/presence-engine/internal/keymutex"
	"github.com/presence-engine/internal/logging"
	"github.com/presence-engine/internal/models"
	"github.com/presence-engine/internal/types"
)

// AdjustmentService applies manual admin point changes. Every adjustment
// lands in the same counter columns as session settlement and leaves a
// ledger row behind so the integrity audit can replay it.
type AdjustmentService struct {
	locks       *keymutex.KeyedMutex
	txRunner    TxRunner
	users       UserStore
	adjustments AdjustmentStore
	refresh     RefreshEnqueuer
	now         func() time.Time
}

// NewAdjustmentService creates a new adjustment service
func NewAdjustmentService(
	locks *keymutex.KeyedMutex,
	txRunner TxRunner,
	users UserStore,
	adjustments AdjustmentStore,
	refresh RefreshEnqueuer,
) *AdjustmentService {
	return &AdjustmentService{
		locks:       locks,
		txRunner:    txRunner,
		users:       users,
		adjustments: adjustments,
		refresh:     refresh,
		now:         time.Now,
	}
}

// SetNow overrides the clock, for tests
func (s *AdjustmentService) SetNow(now func() time.Time) {
	s.now = now
}

// AwardAdjustment credits or debits points for a user and records the reason.
// Counters never go below zero: a debit that would cross the floor on any
// counter is rejected outright, so every ledger row was applied in full and
// the integrity audit can replay the ledger by plain summation.
func (s *AdjustmentService) AwardAdjustment(ctx context.Context, userID types.UserID, delta int64, reason string) (*models.PointAdjustment, error) {
	if userID == "" {
		return nil, errors.NewValidationError("userId", "must not be empty")
	}
	if delta == 0 {
		return nil, errors.NewValidationError("delta", "must not be zero")
	}
	if reason == "" {
		return nil, errors.NewValidationError("reason", "must not be empty")
	}

	adjustment := &models.PointAdjustment{
		UserID:    userID,
		Delta:     delta,
		Reason:    reason,
		CreatedAt: s.now(),
	}

	var house types.House
	err := s.locks.WithLock(string(userID), func() error {
		return s.txRunner.InTx(ctx, func(tx pgx.Tx) error {
			user, err := s.users.GetByIDTx(ctx, tx, userID)
			if err != nil {
				return err
			}
			house = user.House

			if user.DailyPoints+delta < 0 || user.MonthlyPoints+delta < 0 || user.TotalPoints+delta < 0 {
				return errors.NewValidationError("delta", "debit exceeds the user's points")
			}

			if err := s.users.ApplyAdjustmentTx(ctx, tx, userID, delta); err != nil {
				return err
			}
			return s.adjustments.InsertTx(ctx, tx, adjustment)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply adjustment for user %s: %w", userID, err)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"userId": string(userID),
		"delta":  delta,
		"reason": reason,
	}).Info("Manual adjustment applied")

	s.refresh.EnqueueRefresh(house)
	return adjustment, nil
}
