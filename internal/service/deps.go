// Package service implements the presence engine: session lifecycle,
// startup reconciliation, scheduled resets, leaderboard sync and the
// integrity audit.
package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/presence-engine/internal/models"
	"github.com/presence-engine/internal/storage"
	"github.com/presence-engine/internal/types"
)

// Store interfaces kept small so tests can mock them by hand. The storage
// repositories satisfy these.

// TxRunner executes a function inside one storage transaction
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// UserStore is the user/counter persistence surface the services need
type UserStore interface {
	EnsureUser(ctx context.Context, id types.UserID, displayName string, house types.House) error
	GetByID(ctx context.Context, id types.UserID) (*models.User, error)
	GetByIDTx(ctx context.Context, tx pgx.Tx, id types.UserID) (*models.User, error)
	List(ctx context.Context) ([]*models.User, error)
	HouseRanking(ctx context.Context, house types.House) ([]*models.User, error)
	ApplySettlementTx(ctx context.Context, tx pgx.Tx, id types.UserID, pointsDelta, secondsDelta int64) error
	ApplyAdjustmentTx(ctx context.Context, tx pgx.Tx, id types.UserID, delta int64) error
	ResetDailyTx(ctx context.Context, tx pgx.Tx, id types.UserID, newStreak int, consumeShield bool, resetAt time.Time) error
	ResetMonthlyAllTx(ctx context.Context, tx pgx.Tx) (int64, error)
	IncrementMessageCount(ctx context.Context, id types.UserID, streakThreshold int) error
}

// SessionStore is the session persistence surface the services need
type SessionStore interface {
	InsertOpenTx(ctx context.Context, tx pgx.Tx, session *models.Session) error
	CloseTx(ctx context.Context, tx pgx.Tx, sessionID string, endedAt time.Time, mode types.SessionCloseMode, durationSeconds, pointsAwarded int64) error
	FindOpenByUserTx(ctx context.Context, tx pgx.Tx, userID types.UserID) ([]*models.Session, error)
	FindOpenForCloseTx(ctx context.Context, tx pgx.Tx, userID types.UserID, channel types.ChannelID) ([]*models.Session, error)
	ListAllOpen(ctx context.Context) ([]*models.Session, error)
	SumTrackedClosed(ctx context.Context, userID types.UserID, since time.Time) (*storage.TrackedTotals, error)
}

// SettingsStore is the key/value settings surface
type SettingsStore interface {
	GetTime(ctx context.Context, key string) (time.Time, bool, error)
	SetTimeTx(ctx context.Context, tx pgx.Tx, key string, t time.Time) error
	Set(ctx context.Context, key, value string) error
}

// PublicationStore is the leaderboard publication surface
type PublicationStore interface {
	Register(ctx context.Context, house types.House, target types.TargetRef) error
	ListByHouse(ctx context.Context, house types.House) ([]*models.LeaderboardPublication, error)
	DeleteBatch(ctx context.Context, ids []int64) (int64, error)
}

// AdjustmentStore is the manual adjustment ledger surface
type AdjustmentStore interface {
	InsertTx(ctx context.Context, tx pgx.Tx, adjustment *models.PointAdjustment) error
	SumByUser(ctx context.Context, userID types.UserID, since time.Time) (int64, error)
}

// SubmissionStore is the bonus submission ledger surface
type SubmissionStore interface {
	SumApprovedByUser(ctx context.Context, userID types.UserID, since time.Time) (int64, error)
}

// RefreshEnqueuer accepts leaderboard refresh requests without blocking.
// Settlement fires and forgets; the publish worker does the pushing.
type RefreshEnqueuer interface {
	EnqueueRefresh(house types.House)
}
