package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/jonesrussell/north-cloud/outreach/internal/domain"
)

const campaignSelect = `
	SELECT c.id, c.user_id, c.template_id, c.name, c.status, c.total_handles,
	       COALESCE(t.send_rate, 'moderate') AS send_rate,
	       c.sent, c.replied, c.interested, c.failed,
	       c.scheduled_at, c.started_at, c.completed_at, c.created_at
	FROM campaigns c
	LEFT JOIN templates t ON t.id = c.template_id`

// CreateCampaign inserts the campaign together with its pending queue items.
func (r *Repository) CreateCampaign(ctx context.Context, campaign *domain.Campaign, items []domain.QueueItem) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin campaign tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	campaign.ID = r.newID()
	campaign.TotalHandles = len(items)

	insertCampaign := `
		INSERT INTO campaigns (id, user_id, template_id, name, status, total_handles, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	if scanErr := tx.QueryRowxContext(ctx, insertCampaign,
		campaign.ID, campaign.UserID, campaign.TemplateID, campaign.Name,
		campaign.Status, campaign.TotalHandles, campaign.ScheduledAt,
	).Scan(&campaign.CreatedAt); scanErr != nil {
		return fmt.Errorf("insert campaign: %w", scanErr)
	}

	insertItem := `
		INSERT INTO dm_queue (id, campaign_id, ig_handle, message, status)
		VALUES ($1, $2, $3, $4, 'pending')`

	for i := range items {
		items[i].ID = r.newID()
		items[i].CampaignID = campaign.ID
		items[i].Status = domain.QueueStatusPending
		if _, execErr := tx.ExecContext(ctx, insertItem,
			items[i].ID, campaign.ID, items[i].Handle, items[i].Message,
		); execErr != nil {
			return fmt.Errorf("insert queue item: %w", execErr)
		}
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("commit campaign tx: %w", commitErr)
	}

	return nil
}

// GetCampaign returns the campaign with its template's send rate.
func (r *Repository) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	var campaign domain.Campaign

	if err := r.db.GetContext(ctx, &campaign, campaignSelect+` WHERE c.id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get campaign: %w", err)
	}

	return &campaign, nil
}

func (r *Repository) ListCampaignsByUser(ctx context.Context, userID string) ([]domain.Campaign, error) {
	campaigns := []domain.Campaign{}

	query := campaignSelect + ` WHERE c.user_id = $1 ORDER BY c.created_at DESC`
	if err := r.db.SelectContext(ctx, &campaigns, query, userID); err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}

	return campaigns, nil
}

// ListDueCampaigns returns scheduled campaigns whose start time has passed.
func (r *Repository) ListDueCampaigns(ctx context.Context, now time.Time) ([]domain.Campaign, error) {
	campaigns := []domain.Campaign{}

	query := campaignSelect + `
		WHERE c.status = 'scheduled' AND c.scheduled_at IS NOT NULL AND c.scheduled_at <= $1
		ORDER BY c.scheduled_at`
	if err := r.db.SelectContext(ctx, &campaigns, query, now); err != nil {
		return nil, fmt.Errorf("list due campaigns: %w", err)
	}

	return campaigns, nil
}

const statusTimestamps = `
	started_at = CASE WHEN $2::text = 'running' AND started_at IS NULL THEN NOW() ELSE started_at END,
	completed_at = CASE WHEN $2::text = 'completed' THEN NOW() ELSE completed_at END,
	updated_at = NOW()`

// UpdateCampaignStatus sets status unconditionally.
func (r *Repository) UpdateCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	query := `UPDATE campaigns SET status = $2::text,` + statusTimestamps + ` WHERE id = $1`

	if err := r.execExpectOneRow(ctx, query, id, string(status)); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("update campaign status: %w", err)
	}

	return nil
}

// PauseOrphanedCampaigns pauses campaigns left running by a previous process.
// No runner drives them any more, and a paused campaign can be started again.
// It must run before any campaign run starts.
func (r *Repository) PauseOrphanedCampaigns(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET status = 'paused', updated_at = NOW() WHERE status = 'running'`)
	if err != nil {
		return 0, fmt.Errorf("pause orphaned campaigns: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	return rows, nil
}

// TransitionCampaignStatus moves the campaign to status only if it is currently
// in one of from. It returns domain.ErrInvalidStatus otherwise, which keeps two
// concurrent start requests from launching two runners.
func (r *Repository) TransitionCampaignStatus(
	ctx context.Context,
	id string,
	status domain.CampaignStatus,
	from ...domain.CampaignStatus,
) error {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	query := `UPDATE campaigns SET status = $2::text,` + statusTimestamps +
		` WHERE id = $1 AND status = ANY($3)`

	err := r.execExpectOneRow(ctx, query, id, string(status), pq.Array(allowed))
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("campaign %s to %s: %w", id, status, domain.ErrInvalidStatus)
	}
	if err != nil {
		return fmt.Errorf("transition campaign status: %w", err)
	}

	return nil
}

// UpdateCampaignProgress recomputes sent and failed from the campaign's queue
// rows and returns the stored counters. Deriving the totals from the rows keeps
// them exact when more than one run has touched the queue.
func (r *Repository) UpdateCampaignProgress(ctx context.Context, id string) (domain.CampaignCounters, error) {
	var counters domain.CampaignCounters

	query := `
		UPDATE campaigns c
		SET sent = (SELECT COUNT(*) FROM dm_queue q WHERE q.campaign_id = c.id AND q.status = 'sent'),
		    failed = (SELECT COUNT(*) FROM dm_queue q WHERE q.campaign_id = c.id AND q.status = 'failed'),
		    updated_at = NOW()
		WHERE c.id = $1
		RETURNING c.sent, c.replied, c.interested, c.failed`

	if err := r.db.GetContext(ctx, &counters, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return counters, domain.ErrNotFound
		}
		return counters, fmt.Errorf("update campaign progress: %w", err)
	}

	return counters, nil
}
