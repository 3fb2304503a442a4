package domain

import "time"

// Outcome classifies a single domain's extraction.
type Outcome string

const (
	OutcomeFound    Outcome = "found"
	OutcomeNotFound Outcome = "not_found"
	OutcomeError    Outcome = "error"
)

// Result is written once per processed domain and never updated.
type Result struct {
	ID         string    `db:"id"          json:"id"`
	JobID      string    `db:"job_id"      json:"job_id"`
	Domain     string    `db:"domain"      json:"domain"`
	Handle     *string   `db:"ig_handle"   json:"ig_handle"`
	Confidence *float64  `db:"confidence"  json:"confidence"`
	SourceURL  string    `db:"source_url"  json:"source_url"`
	Outcome    Outcome   `db:"status"      json:"status"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
}
