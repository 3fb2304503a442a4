package dispatch

import (
	"context"
	"sync"

	"github.com/jonesrussell/north-cloud/outreach/internal/domain"
)

// ExtractionRunner processes an admitted extraction job.
type ExtractionRunner interface {
	Run(ctx context.Context, job *domain.Job, domains []string) error
}

// CampaignRunner drains a running campaign's queue.
type CampaignRunner interface {
	Run(ctx context.Context, campaignID string) error
}

// Submitter queues background work.
type Submitter interface {
	Submit(name string, fn Task) (string, error)
}

// Launcher hands runs to the pool. The caller gets the task id back
// immediately; nothing is shared between the request and the task.
// At most one run per campaign is queued or executing at a time.
type Launcher struct {
	pool       Submitter
	extraction ExtractionRunner
	campaigns  CampaignRunner

	mu     sync.Mutex
	active map[string]struct{}
}

func NewLauncher(pool Submitter, extraction ExtractionRunner, campaigns CampaignRunner) *Launcher {
	return &Launcher{
		pool:       pool,
		extraction: extraction,
		campaigns:  campaigns,
		active:     make(map[string]struct{}),
	}
}

func (l *Launcher) LaunchExtraction(job domain.Job, domains []string) (string, error) {
	list := append([]string(nil), domains...)
	return l.pool.Submit("extraction:"+job.ID, func(ctx context.Context) error {
		return l.extraction.Run(ctx, &job, list)
	})
}

func (l *Launcher) LaunchCampaign(campaignID string) (string, error) {
	if !l.acquire(campaignID) {
		return "", domain.ErrCampaignActive
	}

	taskID, err := l.pool.Submit("campaign:"+campaignID, func(ctx context.Context) error {
		defer l.release(campaignID)
		return l.campaigns.Run(ctx, campaignID)
	})
	if err != nil {
		l.release(campaignID)
		return "", err
	}

	return taskID, nil
}

// CampaignActive reports whether a run of the campaign is queued or executing.
func (l *Launcher) CampaignActive(campaignID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.active[campaignID]
	return ok
}

func (l *Launcher) acquire(campaignID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.active[campaignID]; ok {
		return false
	}
	l.active[campaignID] = struct{}{}
	return true
}

func (l *Launcher) release(campaignID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, campaignID)
}
