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

// SessionRepository handles presence session rows
type SessionRepository struct {
	db *PostgresDB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *PostgresDB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `
	id, user_id, channel_id, channel_name, started_at, ended_at,
	tracked, duration_seconds, points_awarded, created_at
`

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(
		&s.ID, &s.UserID, &s.ChannelID, &s.ChannelName, &s.StartedAt, &s.EndedAt,
		&s.Tracked, &s.DurationSeconds, &s.PointsAwarded, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// InsertOpenTx inserts a fresh open session inside a transaction
func (r *SessionRepository) InsertOpenTx(ctx context.Context, tx pgx.Tx, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	session.CreatedAt = time.Now()

	query := `
		INSERT INTO sessions (id, user_id, channel_id, channel_name, started_at, tracked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := tx.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.ChannelID,
		session.ChannelName,
		session.StartedAt,
		session.Tracked,
		session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert open session: %w", err)
	}

	return nil
}

// CloseTx finalizes a session row: end time, tracked flag, derived duration and
// the points delta settled for it. A session is mutated once on close and
// never after.
func (r *SessionRepository) CloseTx(ctx context.Context, tx pgx.Tx, sessionID string, endedAt time.Time, mode types.SessionCloseMode, durationSeconds, pointsAwarded int64) error {
	query := `
		UPDATE sessions
		SET ended_at = $2,
		    tracked = $3,
		    duration_seconds = $4,
		    points_awarded = $5
		WHERE id = $1 AND ended_at IS NULL
	`

	result, err := tx.Exec(ctx, query, sessionID, endedAt, mode == types.CloseTracked, durationSeconds, pointsAwarded)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("open session not found: %s", sessionID)
	}

	return nil
}

// FindOpenByUserTx returns all open sessions for a user, newest first, locked
// for the duration of the transaction.
func (r *SessionRepository) FindOpenByUserTx(ctx context.Context, tx pgx.Tx, userID types.UserID) ([]*models.Session, error) {
	query := `SELECT` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND ended_at IS NULL
		ORDER BY started_at DESC
		FOR UPDATE
	`

	rows, err := tx.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find open sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

// FindOpenForCloseTx returns the open sessions matching a close event: same
// user, and either the channel of the event or the unknown-channel sentinel.
func (r *SessionRepository) FindOpenForCloseTx(ctx context.Context, tx pgx.Tx, userID types.UserID, channel types.ChannelID) ([]*models.Session, error) {
	query := `SELECT` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND ended_at IS NULL AND channel_id IN ($2, $3)
		ORDER BY started_at DESC
		FOR UPDATE
	`

	rows, err := tx.Query(ctx, query, userID, channel, types.ChannelUnknown)
	if err != nil {
		return nil, fmt.Errorf("failed to find open session for close: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

// ListAllOpen returns every open session in the store, newest first. Used by
// the reconciliation scan.
func (r *SessionRepository) ListAllOpen(ctx context.Context) ([]*models.Session, error) {
	query := `SELECT` + sessionColumns + `
		FROM sessions
		WHERE ended_at IS NULL
		ORDER BY user_id, started_at DESC
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list open sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

// TrackedTotals holds summed duration and points of tracked closed sessions
type TrackedTotals struct {
	DurationSeconds int64
	Points          int64
}

// SumTrackedClosed sums duration and settled points over the user's tracked
// closed sessions that ended strictly after since; a session closed at the
// reset instant itself was settled into the old day and belongs to the old
// window. A zero since covers all history. Used by the integrity audit.
func (r *SessionRepository) SumTrackedClosed(ctx context.Context, userID types.UserID, since time.Time) (*TrackedTotals, error) {
	query := `
		SELECT COALESCE(SUM(duration_seconds), 0), COALESCE(SUM(points_awarded), 0)
		FROM sessions
		WHERE user_id = $1 AND tracked AND ended_at IS NOT NULL AND ended_at > $2
	`

	var totals TrackedTotals
	err := r.db.Pool().QueryRow(ctx, query, userID, since).Scan(&totals.DurationSeconds, &totals.Points)
	if err != nil {
		return nil, fmt.Errorf("failed to sum tracked sessions: %w", err)
	}

	return &totals, nil
}

// CountOpenByUser returns the number of open sessions a user currently holds
func (r *SessionRepository) CountOpenByUser(ctx context.Context, userID types.UserID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM sessions WHERE user_id = $1 AND ended_at IS NULL`

	if err := r.db.Pool().QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count open sessions: %w", err)
	}

	return count, nil
}

// BeginTx starts a new transaction
func (r *SessionRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.db.Pool().Begin(ctx)
}

func collectSessions(rows pgx.Rows) ([]*models.Session, error) {
	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}
