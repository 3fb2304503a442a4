package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonesrussell/north-cloud/outreach/internal/domain"
)

// GetQueueItems returns the campaign's pending items in insertion order.
func (r *Repository) GetQueueItems(ctx context.Context, campaignID string) ([]domain.QueueItem, error) {
	items := []domain.QueueItem{}
	query := `
		SELECT id, campaign_id, ig_handle, message, status, error_message, sent_at, created_at
		FROM dm_queue
		WHERE campaign_id = $1 AND status = 'pending'
		ORDER BY seq`

	if err := r.db.SelectContext(ctx, &items, query, campaignID); err != nil {
		return nil, fmt.Errorf("get queue items: %w", err)
	}

	return items, nil
}

// ClaimQueueItem moves a pending item to sending. It reports false when
// another run already claimed or finished the item.
func (r *Repository) ClaimQueueItem(ctx context.Context, id string) (bool, error) {
	query := `UPDATE dm_queue SET status = 'sending' WHERE id = $1 AND status = 'pending'`

	err := r.execExpectOneRow(ctx, query, id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim queue item: %w", err)
	}

	return true, nil
}

// UpdateQueueItemStatus moves a claimed item to sent or failed. An item that
// is not in sending is left untouched and domain.ErrNotFound is returned.
func (r *Repository) UpdateQueueItemStatus(
	ctx context.Context,
	id string,
	status domain.QueueStatus,
	errorMessage *string,
) error {
	query := `
		UPDATE dm_queue
		SET status = $2::text,
		    error_message = $3,
		    sent_at = CASE WHEN $2::text = 'sent' THEN NOW() ELSE sent_at END
		WHERE id = $1 AND status = 'sending'`

	if err := r.execExpectOneRow(ctx, query, id, string(status), errorMessage); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("update queue item status: %w", err)
	}

	return nil
}

// FailInterruptedDeliveries marks items left in sending by a previous process
// as failed and adds them to their campaigns' failed counters. It must run
// before any campaign run starts.
func (r *Repository) FailInterruptedDeliveries(ctx context.Context) (int64, error) {
	query := `
		WITH interrupted AS (
			UPDATE dm_queue
			SET status = 'failed', error_message = 'delivery interrupted'
			WHERE status = 'sending'
			RETURNING campaign_id
		), per_campaign AS (
			SELECT campaign_id, COUNT(*) AS n FROM interrupted GROUP BY campaign_id
		)
		UPDATE campaigns c
		SET failed = c.failed + p.n, updated_at = NOW()
		FROM per_campaign p
		WHERE c.id = p.campaign_id
		RETURNING p.n`

	var counts []int64
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return 0, fmt.Errorf("fail interrupted deliveries: %w", err)
	}

	var total int64
	for _, n := range counts {
		total += n
	}

	return total, nil
}

// ListQueueItems returns every item of the campaign, whatever its status, in insertion order.
func (r *Repository) ListQueueItems(ctx context.Context, campaignID string) ([]domain.QueueItem, error) {
	items := []domain.QueueItem{}
	query := `
		SELECT id, campaign_id, ig_handle, message, status, error_message, sent_at, created_at
		FROM dm_queue
		WHERE campaign_id = $1
		ORDER BY seq`

	if err := r.db.SelectContext(ctx, &items, query, campaignID); err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}

	return items, nil
}
