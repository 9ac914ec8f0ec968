package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// SettingMonthStart is the key holding the current month-period start. The
// monthly reset is keyed off this timestamp rather than the calendar so a
// manual or delayed reset shifts the whole period consistently.
const SettingMonthStart = "month_start"

// SettingsRepository handles the generic key/value settings table
type SettingsRepository struct {
	db *PostgresDB
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db *PostgresDB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get retrieves a setting value; the second return is false when the key is unset
func (r *SettingsRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	query := `SELECT value FROM settings WHERE key = $1`

	err := r.db.Pool().QueryRow(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get setting %s: %w", key, err)
	}

	return value, true, nil
}

// Set upserts a setting value
func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`

	if _, err := r.db.Pool().Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}

	return nil
}

// SetTx upserts a setting value inside a transaction
func (r *SettingsRepository) SetTx(ctx context.Context, tx pgx.Tx, key, value string) error {
	query := `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`

	if _, err := tx.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}

	return nil
}

// GetTime retrieves a setting parsed as an RFC3339 timestamp
func (r *SettingsRepository) GetTime(ctx context.Context, key string) (time.Time, bool, error) {
	value, ok, err := r.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, ok, err
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("setting %s is not a timestamp: %w", key, err)
	}

	return t, true, nil
}

// SetTimeTx stores a timestamp setting in RFC3339 inside a transaction
func (r *SettingsRepository) SetTimeTx(ctx context.Context, tx pgx.Tx, key string, t time.Time) error {
	return r.SetTx(ctx, tx, key, t.UTC().Format(time.RFC3339))
}
