package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/presence-engine/internal/models"
	"github.com/presence-engine/internal/types"
)

// UserRepository handles user rows and their settled counters
type UserRepository struct {
	db *PostgresDB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *PostgresDB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `
	id, display_name, house, timezone,
	daily_points, monthly_points, total_points,
	daily_presence_seconds, monthly_presence_seconds, total_presence_seconds,
	daily_message_count, message_streak, streak_credited_today, streak_shielded,
	last_daily_reset, created_at, updated_at
`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.DisplayName, &u.House, &u.Timezone,
		&u.DailyPoints, &u.MonthlyPoints, &u.TotalPoints,
		&u.DailyPresenceSeconds, &u.MonthlyPresenceSeconds, &u.TotalPresenceSeconds,
		&u.DailyMessageCount, &u.MessageStreak, &u.StreakCreditedToday, &u.StreakShielded,
		&u.LastDailyReset, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// EnsureUser lazily creates a user row on first observed activity. Idempotent:
// an existing row only has its display name and house refreshed.
func (r *UserRepository) EnsureUser(ctx context.Context, id types.UserID, displayName string, house types.House) error {
	now := time.Now()

	// Empty name/house means the caller (e.g. the reconciliation scan) only
	// knows the id; keep whatever the row already has.
	query := `
		INSERT INTO users (id, display_name, house, last_daily_reset, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4, $4)
		ON CONFLICT (id) DO UPDATE
		SET display_name = CASE WHEN EXCLUDED.display_name = '' THEN users.display_name ELSE EXCLUDED.display_name END,
		    house = CASE WHEN EXCLUDED.house = '' THEN users.house ELSE EXCLUDED.house END,
		    updated_at = EXCLUDED.updated_at
	`

	if _, err := r.db.Pool().Exec(ctx, query, id, displayName, house, now); err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id types.UserID) (*models.User, error) {
	query := `SELECT` + userColumns + `FROM users WHERE id = $1`

	user, err := scanUser(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// GetByIDTx retrieves a user inside a transaction, locking the row for update
func (r *UserRepository) GetByIDTx(ctx context.Context, tx pgx.Tx, id types.UserID) (*models.User, error) {
	query := `SELECT` + userColumns + `FROM users WHERE id = $1 FOR UPDATE`

	user, err := scanUser(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// List retrieves all users
func (r *UserRepository) List(ctx context.Context) ([]*models.User, error) {
	query := `SELECT` + userColumns + `FROM users ORDER BY id`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

// HouseRanking returns all members of a house ordered for the leaderboard:
// total points descending, user id ascending for stable ties.
func (r *UserRepository) HouseRanking(ctx context.Context, house types.House) ([]*models.User, error) {
	query := `SELECT` + userColumns + `
		FROM users
		WHERE house = $1
		ORDER BY total_points DESC, id ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, house)
	if err != nil {
		return nil, fmt.Errorf("failed to rank house %s: %w", house, err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating house ranking: %w", err)
	}

	return users, nil
}

// ApplySettlementTx atomically increments the daily/monthly/total points and
// presence-second counters as part of a session close or reset settlement.
func (r *UserRepository) ApplySettlementTx(ctx context.Context, tx pgx.Tx, id types.UserID, pointsDelta, secondsDelta int64) error {
	query := `
		UPDATE users
		SET daily_points = daily_points + $2,
		    monthly_points = monthly_points + $2,
		    total_points = total_points + $2,
		    daily_presence_seconds = daily_presence_seconds + $3,
		    monthly_presence_seconds = monthly_presence_seconds + $3,
		    total_presence_seconds = total_presence_seconds + $3,
		    updated_at = NOW()
		WHERE id = $1
	`

	result, err := tx.Exec(ctx, query, id, pointsDelta, secondsDelta)
	if err != nil {
		return fmt.Errorf("failed to apply settlement: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %s", id)
	}

	return nil
}

// ApplyAdjustmentTx increments points counters for a manual adjustment. The
// caller rejects debits below the zero floor while holding the row lock, so
// the ledger delta always equals the applied delta; the schema CHECK
// constraints backstop that.
func (r *UserRepository) ApplyAdjustmentTx(ctx context.Context, tx pgx.Tx, id types.UserID, delta int64) error {
	query := `
		UPDATE users
		SET daily_points = daily_points + $2,
		    monthly_points = monthly_points + $2,
		    total_points = total_points + $2,
		    updated_at = NOW()
		WHERE id = $1
	`

	result, err := tx.Exec(ctx, query, id, delta)
	if err != nil {
		return fmt.Errorf("failed to apply adjustment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %s", id)
	}

	return nil
}

// ResetDailyTx zeroes the daily counters, installs the advanced streak value
// and stamps the reset time. Part of the reset firing's transaction.
func (r *UserRepository) ResetDailyTx(ctx context.Context, tx pgx.Tx, id types.UserID, newStreak int, consumeShield bool, resetAt time.Time) error {
	query := `
		UPDATE users
		SET daily_points = 0,
		    daily_presence_seconds = 0,
		    daily_message_count = 0,
		    message_streak = $2,
		    streak_credited_today = FALSE,
		    streak_shielded = CASE WHEN $3 THEN FALSE ELSE streak_shielded END,
		    last_daily_reset = $4,
		    updated_at = NOW()
		WHERE id = $1
	`

	result, err := tx.Exec(ctx, query, id, newStreak, consumeShield, resetAt)
	if err != nil {
		return fmt.Errorf("failed to reset daily counters: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %s", id)
	}

	return nil
}

// ResetMonthlyAllTx zeroes monthly counters for every user
func (r *UserRepository) ResetMonthlyAllTx(ctx context.Context, tx pgx.Tx) (int64, error) {
	query := `
		UPDATE users
		SET monthly_points = 0,
		    monthly_presence_seconds = 0,
		    updated_at = NOW()
	`

	result, err := tx.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to reset monthly counters: %w", err)
	}

	return result.RowsAffected(), nil
}

// IncrementMessageCount bumps the user's daily message counter and, when this
// message crosses the streak threshold for the first time today, credits the
// streak immediately and marks it credited so it cannot double-count.
func (r *UserRepository) IncrementMessageCount(ctx context.Context, id types.UserID, streakThreshold int) error {
	query := `
		UPDATE users
		SET daily_message_count = daily_message_count + 1,
		    message_streak = CASE
		        WHEN daily_message_count + 1 >= $2 AND NOT streak_credited_today
		        THEN message_streak + 1
		        ELSE message_streak
		    END,
		    streak_credited_today = streak_credited_today OR daily_message_count + 1 >= $2,
		    updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.Pool().Exec(ctx, query, id, streakThreshold)
	if err != nil {
		return fmt.Errorf("failed to increment message count: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %s", id)
	}

	return nil
}

// SetStreakShield marks or clears the streak-preserving perk for a user
func (r *UserRepository) SetStreakShield(ctx context.Context, id types.UserID, shielded bool) error {
	query := `UPDATE users SET streak_shielded = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.Pool().Exec(ctx, query, id, shielded)
	if err != nil {
		return fmt.Errorf("failed to set streak shield: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %s", id)
	}

	return nil
}

// BeginTx starts a new transaction
func (r *UserRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.db.Pool().Begin(ctx)
}
