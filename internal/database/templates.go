package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jonesrussell/north-cloud/outreach/internal/domain"
)

func (r *Repository) CreateTemplate(ctx context.Context, tpl *domain.Template) error {
	tpl.ID = r.newID()

	query := `
		INSERT INTO templates (id, user_id, name, content, send_rate)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	if err := r.db.QueryRowxContext(ctx, query,
		tpl.ID, tpl.UserID, tpl.Name, tpl.Content, tpl.SendRate,
	).Scan(&tpl.CreatedAt); err != nil {
		return fmt.Errorf("create template: %w", err)
	}

	return nil
}

// GetTemplate returns an active template. Deleted templates are reported as
// domain.ErrNotFound.
func (r *Repository) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	var tpl domain.Template
	query := `SELECT id, user_id, name, content, send_rate, created_at FROM templates WHERE id = $1 AND is_active`

	if err := r.db.GetContext(ctx, &tpl, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get template: %w", err)
	}

	return &tpl, nil
}

func (r *Repository) ListTemplatesByUser(ctx context.Context, userID string) ([]domain.Template, error) {
	templates := []domain.Template{}
	query := `
		SELECT id, user_id, name, content, send_rate, created_at
		FROM templates WHERE user_id = $1 AND is_active ORDER BY created_at DESC`

	if err := r.db.SelectContext(ctx, &templates, query, userID); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	return templates, nil
}

// UpdateTemplate overwrites name, content and send rate of an active template.
// Queues already rendered from it keep their messages.
func (r *Repository) UpdateTemplate(ctx context.Context, tpl *domain.Template) error {
	query := `
		UPDATE templates
		SET name = $2, content = $3, send_rate = $4, updated_at = NOW()
		WHERE id = $1 AND is_active`

	if err := r.execExpectOneRow(ctx, query, tpl.ID, tpl.Name, tpl.Content, tpl.SendRate); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("update template: %w", err)
	}

	return nil
}

// DeleteTemplate hides the template from listings and new campaigns. The row
// stays because existing campaigns reference it.
func (r *Repository) DeleteTemplate(ctx context.Context, id string) error {
	query := `UPDATE templates SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active`

	if err := r.execExpectOneRow(ctx, query, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete template: %w", err)
	}

	return nil
}
