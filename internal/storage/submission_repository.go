package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/presence-engine/internal/types"
)

// SubmissionRepository reads the bonus submission ledger. The approval
// workflow lives outside the engine; only approved rows matter here, as an
// input to the integrity audit.
type SubmissionRepository struct {
	db *PostgresDB
}

// NewSubmissionRepository creates a new submission repository
func NewSubmissionRepository(db *PostgresDB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// SumApprovedByUser sums approved submission points for a user decided
// strictly after since, matching the session window convention.
func (r *SubmissionRepository) SumApprovedByUser(ctx context.Context, userID types.UserID, since time.Time) (int64, error) {
	var sum int64
	query := `
		SELECT COALESCE(SUM(points), 0)
		FROM bonus_submissions
		WHERE user_id = $1 AND status = $2 AND decided_at IS NOT NULL AND decided_at > $3
	`

	if err := r.db.Pool().QueryRow(ctx, query, userID, types.SubmissionApproved, since).Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to sum approved submissions: %w", err)
	}

	return sum, nil
}
