package domain

// Event is a progress notification pushed to a user's live connections.
type Event interface {
	EventType() string
}

const (
	EventJobProgress       = "job_progress"
	EventJobCompleted      = "job_completed"
	EventCampaignProgress  = "campaign_progress"
	EventCampaignCompleted = "campaign_completed"
)

// JobEvent is the wire shape of job_progress and job_completed.
type JobEvent struct {
	Type      string `json:"type"`
	JobID     string `json:"jobId"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Total     int    `json:"total"`
}

func (e JobEvent) EventType() string { return e.Type }

// CampaignEvent is the wire shape of campaign_progress and campaign_completed.
type CampaignEvent struct {
	Type       string `json:"type"`
	CampaignID string `json:"campaignId"`
	Sent       int    `json:"sent"`
	Replied    int    `json:"replied"`
	Interested int    `json:"interested"`
	Failed     int    `json:"failed"`
}

func (e CampaignEvent) EventType() string { return e.Type }

// NewCampaignEvent snapshots counters into an event.
func NewCampaignEvent(eventType, campaignID string, c CampaignCounters) CampaignEvent {
	return CampaignEvent{
		Type:       eventType,
		CampaignID: campaignID,
		Sent:       c.Sent,
		Replied:    c.Replied,
		Interested: c.Interested,
		Failed:     c.Failed,
	}
}
