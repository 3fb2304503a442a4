package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/outreach/internal/domain"
)

const quotaColumns = `id, plan, daily_extract_quota, extracts_used_today, daily_dm_quota, dms_used_today, last_quota_reset`

// EnsureUser creates the user row with plan defaults on first sight.
func (r *Repository) EnsureUser(ctx context.Context, userID string, extractQuota, dmQuota int) error {
	query := `
		INSERT INTO users (id, daily_extract_quota, daily_dm_quota, last_quota_reset)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, userID, extractQuota, dmQuota); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}

	return nil
}

func (r *Repository) GetQuota(ctx context.Context, userID string) (*domain.Quota, error) {
	var quota domain.Quota
	query := `SELECT ` + quotaColumns + ` FROM users WHERE id = $1`

	if err := r.db.GetContext(ctx, &quota, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get quota: %w", err)
	}

	return &quota, nil
}

// ReserveExtracts adds n to the extract counter only if the result stays within
// quota. The check and increment are one statement, so concurrent admissions
// cannot jointly overshoot. It reports false when the quota would be exceeded.
func (r *Repository) ReserveExtracts(ctx context.Context, userID string, n int) (bool, error) {
	query := `
		UPDATE users
		SET extracts_used_today = extracts_used_today + $2, updated_at = NOW()
		WHERE id = $1 AND extracts_used_today + $2 <= daily_extract_quota`

	err := r.execExpectOneRow(ctx, query, userID, n)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reserve extracts: %w", err)
	}

	return true, nil
}

// IncrementUsage adds to both daily counters without a quota check.
func (r *Repository) IncrementUsage(ctx context.Context, userID string, extractsUsed, dmsUsed int) error {
	query := `
		UPDATE users
		SET extracts_used_today = extracts_used_today + $2,
		    dms_used_today = dms_used_today + $3,
		    updated_at = NOW()
		WHERE id = $1`

	if err := r.execExpectOneRow(ctx, query, userID, extractsUsed, dmsUsed); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("increment usage: %w", err)
	}

	return nil
}

// ResetDailyQuota zeroes the user's counters if the last reset predates today.
// Repeating it on the same day changes nothing.
func (r *Repository) ResetDailyQuota(ctx context.Context, userID string, today time.Time) (bool, error) {
	query := `
		UPDATE users
		SET extracts_used_today = 0, dms_used_today = 0, last_quota_reset = $2, updated_at = NOW()
		WHERE id = $1 AND (last_quota_reset IS NULL OR last_quota_reset < $2)`

	result, err := r.db.ExecContext(ctx, query, userID, domain.StartOfDay(today))
	if err != nil {
		return false, fmt.Errorf("reset daily quota: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return rows > 0, nil
}

// ResetStaleQuotas is the bulk form of ResetDailyQuota used by the nightly sweep.
func (r *Repository) ResetStaleQuotas(ctx context.Context, today time.Time) (int64, error) {
	query := `
		UPDATE users
		SET extracts_used_today = 0, dms_used_today = 0, last_quota_reset = $1, updated_at = NOW()
		WHERE last_quota_reset IS NULL OR last_quota_reset < $1`

	result, err := r.db.ExecContext(ctx, query, domain.StartOfDay(today))
	if err != nil {
		return 0, fmt.Errorf("reset stale quotas: %w", err)
	}

	return result.RowsAffected()
}

// ReleaseExtracts returns n reserved extracts, for a job that never started.
func (r *Repository) ReleaseExtracts(ctx context.Context, userID string, n int) error {
	query := `
		UPDATE users
		SET extracts_used_today = GREATEST(extracts_used_today - $2, 0), updated_at = NOW()
		WHERE id = $1`

	if err := r.execExpectOneRow(ctx, query, userID, n); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("release extracts: %w", err)
	}

	return nil
}
