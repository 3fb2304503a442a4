package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jonesrussell/north-cloud/outreach/internal/domain"
)

const jobColumns = `id, user_id, type, status, total, completed, failed, meta, created_at, updated_at`

// CreateJob inserts job and fills in its id and timestamps.
func (r *Repository) CreateJob(ctx context.Context, job *domain.Job) error {
	job.ID = r.newID()

	query := `
		INSERT INTO jobs (id, user_id, type, status, total, completed, failed, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		job.ID, job.UserID, job.Kind, job.Status, job.Total, job.Completed, job.Failed, job.Meta,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	return nil
}

// GetJob returns domain.ErrNotFound for an unknown id.
func (r *Repository) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}

	return &job, nil
}

// ListJobsByUser returns the user's jobs, newest first.
func (r *Repository) ListJobsByUser(ctx context.Context, userID string) ([]domain.Job, error) {
	jobs := []domain.Job{}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = $1 ORDER BY created_at DESC`

	if err := r.db.SelectContext(ctx, &jobs, query, userID); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	return jobs, nil
}

// UpdateJobProgress overwrites the cumulative counters.
func (r *Repository) UpdateJobProgress(ctx context.Context, id string, completed, failed int) error {
	query := `UPDATE jobs SET completed = $2, failed = $3, updated_at = NOW() WHERE id = $1`

	if err := r.execExpectOneRow(ctx, query, id, completed, failed); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("update job progress: %w", err)
	}

	return nil
}

func (r *Repository) UpdateJobStatus(ctx context.Context, id string, status domain.JobStatus) error {
	query := `UPDATE jobs SET status = $2, updated_at = NOW() WHERE id = $1`

	if err := r.execExpectOneRow(ctx, query, id, status); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("update job status: %w", err)
	}

	return nil
}
