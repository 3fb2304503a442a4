package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/outreach/internal/domain"
)

// Repository implements every gateway operation the runners and handlers use.
// No call spans a transaction except campaign creation.
type Repository struct {
	db    *sqlx.DB
	newID func() string
}

// NewRepository wraps an open connection pool.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db:    db,
		newID: func() string { return uuid.New().String() },
	}
}

// Ping checks connectivity for the health endpoint.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// execExpectOneRow runs an UPDATE and maps zero affected rows to domain.ErrNotFound.
func (r *Repository) execExpectOneRow(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}
