package domain

import "time"

type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
)

// CanStart reports whether a start request may move the campaign to running.
func (s CampaignStatus) CanStart() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusPaused:
		return true
	default:
		return false
	}
}

// SendRate sets how aggressively a campaign drains its queue.
type SendRate string

const (
	SendRateConservative SendRate = "conservative"
	SendRateModerate     SendRate = "moderate"
	SendRateAggressive   SendRate = "aggressive"
)

// ParseSendRate falls back to moderate for unknown values.
func ParseSendRate(s string) SendRate {
	switch SendRate(s) {
	case SendRateConservative, SendRateAggressive:
		return SendRate(s)
	default:
		return SendRateModerate
	}
}

// CampaignCounters are the aggregate delivery numbers of a campaign.
type CampaignCounters struct {
	Sent       int `db:"sent"       json:"sent"`
	Replied    int `db:"replied"    json:"replied"`
	Interested int `db:"interested" json:"interested"`
	Failed     int `db:"failed"     json:"failed"`
}

// Processed is the number of queue items that reached a terminal state.
func (c CampaignCounters) Processed() int {
	return c.Sent + c.Failed
}

type Campaign struct {
	ID           string         `db:"id"            json:"id"`
	UserID       string         `db:"user_id"       json:"user_id"`
	TemplateID   string         `db:"template_id"   json:"template_id"`
	Name         string         `db:"name"          json:"name"`
	Status       CampaignStatus `db:"status"        json:"status"`
	TotalHandles int            `db:"total_handles" json:"total_handles"`
	SendRate     SendRate       `db:"send_rate"     json:"send_rate"`
	ScheduledAt  *time.Time     `db:"scheduled_at"  json:"scheduled_at,omitempty"`
	StartedAt    *time.Time     `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time     `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time      `db:"created_at"    json:"created_at"`
	CampaignCounters
}
