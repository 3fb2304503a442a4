package database

import (
	"context"
	"fmt"

	"github.com/jonesrussell/north-cloud/outreach/internal/domain"
)

// CreateResult appends one extraction result.
func (r *Repository) CreateResult(ctx context.Context, result *domain.Result) error {
	result.ID = r.newID()

	query := `
		INSERT INTO results (id, job_id, domain, ig_handle, confidence, source_url, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	err := r.db.QueryRowxContext(ctx, query,
		result.ID, result.JobID, result.Domain, result.Handle, result.Confidence, result.SourceURL, result.Outcome,
	).Scan(&result.CreatedAt)
	if err != nil {
		return fmt.Errorf("create result: %w", err)
	}

	return nil
}

// ListResultsByJob returns results in the order they were written.
func (r *Repository) ListResultsByJob(ctx context.Context, jobID string) ([]domain.Result, error) {
	results := []domain.Result{}
	query := `
		SELECT id, job_id, domain, ig_handle, confidence, source_url, status, created_at
		FROM results
		WHERE job_id = $1
		ORDER BY seq`

	if err := r.db.SelectContext(ctx, &results, query, jobID); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}

	return results, nil
}

// ListRecentResultsByUser returns the newest results across all of the user's jobs.
func (r *Repository) ListRecentResultsByUser(ctx context.Context, userID string, limit int) ([]domain.Result, error) {
	results := []domain.Result{}
	query := `
		SELECT r.id, r.job_id, r.domain, r.ig_handle, r.confidence, r.source_url, r.status, r.created_at
		FROM results r
		JOIN jobs j ON j.id = r.job_id
		WHERE j.user_id = $1
		ORDER BY r.created_at DESC, r.seq DESC
		LIMIT $2`

	if err := r.db.SelectContext(ctx, &results, query, userID, limit); err != nil {
		return nil, fmt.Errorf("list recent results: %w", err)
	}

	return results, nil
}
