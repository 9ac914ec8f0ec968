package storage

import (
	"context"
	"fmt"

	"github.com/presence-engine/internal/models"
	"github.com/presence-engine/internal/types"
)

// PublicationRepository handles leaderboard publication rows: the external
// targets previously rendered leaderboards were pushed to.
type PublicationRepository struct {
	db *PostgresDB
}

// NewPublicationRepository creates a new publication repository
func NewPublicationRepository(db *PostgresDB) *PublicationRepository {
	return &PublicationRepository{db: db}
}

// Register records a publication target for a house, ignoring duplicates
func (r *PublicationRepository) Register(ctx context.Context, house types.House, target types.TargetRef) error {
	query := `
		INSERT INTO leaderboard_publications (house, target_ref, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (house, target_ref) DO NOTHING
	`

	if _, err := r.db.Pool().Exec(ctx, query, house, target); err != nil {
		return fmt.Errorf("failed to register publication: %w", err)
	}

	return nil
}

// ListByHouse returns the publication targets for one house
func (r *PublicationRepository) ListByHouse(ctx context.Context, house types.House) ([]*models.LeaderboardPublication, error) {
	query := `
		SELECT id, house, target_ref, created_at
		FROM leaderboard_publications
		WHERE house = $1
		ORDER BY id
	`

	rows, err := r.db.Pool().Query(ctx, query, house)
	if err != nil {
		return nil, fmt.Errorf("failed to list publications: %w", err)
	}
	defer rows.Close()

	var publications []*models.LeaderboardPublication
	for rows.Next() {
		var p models.LeaderboardPublication
		if err := rows.Scan(&p.ID, &p.House, &p.TargetRef, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan publication: %w", err)
		}
		publications = append(publications, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating publications: %w", err)
	}

	return publications, nil
}

// DeleteBatch removes a set of publication rows in one statement. Used to
// discard targets that no longer resolve after a sync pass.
func (r *PublicationRepository) DeleteBatch(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `DELETE FROM leaderboard_publications WHERE id = ANY($1)`

	result, err := r.db.Pool().Exec(ctx, query, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete publications: %w", err)
	}

	return result.RowsAffected(), nil
}
