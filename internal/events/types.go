// Package events publishes job and campaign lifecycle events to a Redis stream
// so other services can react without polling the database.
package events

import (
	"time"

	"github.com/google/uuid"
)

// StreamName is the Redis stream lifecycle events are appended to.
const StreamName = "outreach:events"

// EventType names a lifecycle transition.
type EventType string

const (
	ExtractionStarted   EventType = "extraction.started"
	ExtractionCompleted EventType = "extraction.completed"
	CampaignStarted     EventType = "campaign.started"
	CampaignPaused      EventType = "campaign.paused"
	CampaignCompleted   EventType = "campaign.completed"
)

// LifecycleEvent is the stream envelope. Counts holds the cumulative totals at
// the moment of the transition.
type LifecycleEvent struct {
	EventID    uuid.UUID      `json:"event_id"`
	EventType  EventType      `json:"event_type"`
	UserID     string         `json:"user_id"`
	JobID      string         `json:"job_id,omitempty"`
	CampaignID string         `json:"campaign_id,omitempty"`
	Counts     map[string]int `json:"counts,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}
