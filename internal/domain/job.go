// Package domain holds the outreach engine's core types.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type JobKind string

const (
	JobKindExtraction JobKind = "extraction"
	JobKindCampaign   JobKind = "campaign"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job tracks one extraction batch.
type Job struct {
	ID        string    `db:"id"         json:"id"`
	UserID    string    `db:"user_id"    json:"user_id"`
	Kind      JobKind   `db:"type"       json:"type"`
	Status    JobStatus `db:"status"     json:"status"`
	Total     int       `db:"total"      json:"total"`
	Completed int       `db:"completed"  json:"completed"`
	Failed    int       `db:"failed"     json:"failed"`
	Meta      JobMeta   `db:"meta"       json:"meta"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// JobMeta is persisted as JSONB.
type JobMeta struct {
	Domains []string `json:"domains,omitempty"`
}

// Value implements driver.Valuer.
func (m JobMeta) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal job meta: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner.
func (m *JobMeta) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = JobMeta{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("job meta: unsupported source type")
	}
	return json.Unmarshal(data, m)
}
