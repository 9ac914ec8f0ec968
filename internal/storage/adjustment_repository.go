package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/presence-engine/internal/models"
	"github.com/presence-engine/internal/types"
)

// AdjustmentRepository handles manual point adjustment rows
type AdjustmentRepository struct {
	db *PostgresDB
}

// NewAdjustmentRepository creates a new adjustment repository
func NewAdjustmentRepository(db *PostgresDB) *AdjustmentRepository {
	return &AdjustmentRepository{db: db}
}

// InsertTx records an adjustment inside the transaction that also bumps the
// user's counters, so the ledger and the counters cannot drift apart.
func (r *AdjustmentRepository) InsertTx(ctx context.Context, tx pgx.Tx, adjustment *models.PointAdjustment) error {
	if adjustment.ID == "" {
		adjustment.ID = uuid.New().String()
	}
	adjustment.CreatedAt = time.Now()

	query := `
		INSERT INTO point_adjustments (id, user_id, delta, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := tx.Exec(ctx, query,
		adjustment.ID,
		adjustment.UserID,
		adjustment.Delta,
		adjustment.Reason,
		adjustment.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert adjustment: %w", err)
	}

	return nil
}

// SumByUser sums adjustment deltas for a user created strictly after since,
// matching the session window convention. A zero since covers all history.
func (r *AdjustmentRepository) SumByUser(ctx context.Context, userID types.UserID, since time.Time) (int64, error) {
	var sum int64
	query := `
		SELECT COALESCE(SUM(delta), 0)
		FROM point_adjustments
		WHERE user_id = $1 AND created_at > $2
	`

	if err := r.db.Pool().QueryRow(ctx, query, userID, since).Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to sum adjustments: %w", err)
	}

	return sum, nil
}

// ListByUser returns a user's adjustments, newest first
func (r *AdjustmentRepository) ListByUser(ctx context.Context, userID types.UserID, limit int) ([]*models.PointAdjustment, error) {
	query := `
		SELECT id, user_id, delta, reason, created_at
		FROM point_adjustments
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list adjustments: %w", err)
	}
	defer rows.Close()

	var adjustments []*models.PointAdjustment
	for rows.Next() {
		var a models.PointAdjustment
		if err := rows.Scan(&a.ID, &a.UserID, &a.Delta, &a.Reason, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan adjustment: %w", err)
		}
		adjustments = append(adjustments, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating adjustments: %w", err)
	}

	return adjustments, nil
}
