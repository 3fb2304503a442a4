package domain

import "time"

type QueueStatus string

const (
	QueueStatusPending QueueStatus = "pending"
	// QueueStatusSending marks an item claimed by a run whose delivery has not finished.
	QueueStatusSending QueueStatus = "sending"
	QueueStatusSent    QueueStatus = "sent"
	QueueStatusFailed  QueueStatus = "failed"
)

// QueueItem is one outreach message waiting in a campaign's queue.
type QueueItem struct {
	ID           string      `db:"id"            json:"id"`
	CampaignID   string      `db:"campaign_id"   json:"campaign_id"`
	Handle       string      `db:"ig_handle"     json:"ig_handle"`
	Message      string      `db:"message"       json:"message"`
	Status       QueueStatus `db:"status"        json:"status"`
	ErrorMessage *string     `db:"error_message" json:"error_message,omitempty"`
	SentAt       *time.Time  `db:"sent_at"       json:"sent_at,omitempty"`
	CreatedAt    time.Time   `db:"created_at"    json:"created_at"`
}
