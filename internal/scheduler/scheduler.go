// Package scheduler runs the periodic housekeeping of the outreach service:
// promoting due scheduled campaigns and the nightly quota sweep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/north-cloud/outreach/internal/domain"
	"github.com/jonesrussell/north-cloud/outreach/internal/logger"
)

const (
	defaultPromotionSpec  = "@every 1m"
	defaultQuotaSweepSpec = "0 0 * * *"
	tickTimeout           = 30 * time.Second
)

// CampaignStore is what promotion needs from persistence.
type CampaignStore interface {
	ListDueCampaigns(ctx context.Context, now time.Time) ([]domain.Campaign, error)
	TransitionCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus, from ...domain.CampaignStatus) error
}

// QuotaService admits campaign starts and resets stale counters.
type QuotaService interface {
	CheckDMs(ctx context.Context, userID string) error
	ResetStale(ctx context.Context) (int64, error)
}

// CampaignLauncher submits a campaign run in the background.
type CampaignLauncher interface {
	LaunchCampaign(campaignID string) (string, error)
	CampaignActive(campaignID string) bool
}

type Config struct {
	PromotionSpec  string
	QuotaSweepSpec string
}

type Scheduler struct {
	cron      *cron.Cron
	campaigns CampaignStore
	quotas    QuotaService
	launcher  CampaignLauncher
	log       logger.Logger
	cfg       Config
	now       func() time.Time
}

func New(cfg Config, campaigns CampaignStore, quotas QuotaService, launcher CampaignLauncher, log logger.Logger) *Scheduler {
	if cfg.PromotionSpec == "" {
		cfg.PromotionSpec = defaultPromotionSpec
	}
	if cfg.QuotaSweepSpec == "" {
		cfg.QuotaSweepSpec = defaultQuotaSweepSpec
	}

	cronLog := newCronLogger(log)

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		campaigns: campaigns,
		quotas:    quotas,
		launcher:  launcher,
		log:       log,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Start registers both entries and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.PromotionSpec, s.promotionTick); err != nil {
		return fmt.Errorf("schedule campaign promotion %q: %w", s.cfg.PromotionSpec, err)
	}
	if _, err := s.cron.AddFunc(s.cfg.QuotaSweepSpec, s.sweepTick); err != nil {
		return fmt.Errorf("schedule quota sweep %q: %w", s.cfg.QuotaSweepSpec, err)
	}

	s.cron.Start()
	s.log.Info("Scheduler started",
		logger.String("promotion", s.cfg.PromotionSpec),
		logger.String("quota_sweep", s.cfg.QuotaSweepSpec),
	)

	return nil
}

// Stop waits for running entries or until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (s *Scheduler) promotionTick() {
	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	if _, err := s.PromoteDue(ctx); err != nil {
		s.log.Error("Campaign promotion failed", logger.Error(err))
	}
}

func (s *Scheduler) sweepTick() {
	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	if _, err := s.quotas.ResetStale(ctx); err != nil {
		s.log.Error("Quota sweep failed", logger.Error(err))
	}
}

// PromoteDue moves every due scheduled campaign to running and launches it.
// Campaigns whose owner has no messages left, or whose previous run is still
// finishing, stay scheduled for a later tick.
func (s *Scheduler) PromoteDue(ctx context.Context) (int, error) {
	due, err := s.campaigns.ListDueCampaigns(ctx, s.now())
	if err != nil {
		return 0, err
	}

	launched := 0
	for _, c := range due {
		log := s.log.With(logger.CampaignID(c.ID), logger.UserID(c.UserID))

		if s.launcher.CampaignActive(c.ID) {
			log.Info("Scheduled campaign held back, previous run still active")
			continue
		}

		if err := s.quotas.CheckDMs(ctx, c.UserID); err != nil {
			log.Info("Scheduled campaign held back", logger.Error(err))
			continue
		}

		err := s.campaigns.TransitionCampaignStatus(ctx, c.ID, domain.CampaignStatusRunning, domain.CampaignStatusScheduled)
		if errors.Is(err, domain.ErrInvalidStatus) {
			// Started or cancelled by its owner in the meantime.
			continue
		}
		if err != nil {
			log.Error("Failed to promote campaign", logger.Error(err))
			continue
		}

		taskID, err := s.launcher.LaunchCampaign(c.ID)
		if err != nil {
			log.Error("Failed to launch campaign, returning it to scheduled", logger.Error(err))
			if revertErr := s.campaigns.TransitionCampaignStatus(
				ctx, c.ID, domain.CampaignStatusScheduled, domain.CampaignStatusRunning,
			); revertErr != nil {
				log.Error("Failed to revert campaign status", logger.Error(revertErr))
			}
			continue
		}

		launched++
		fields := []logger.Field{logger.TaskID(taskID)}
		if c.ScheduledAt != nil {
			fields = append(fields, logger.Time("scheduled_at", *c.ScheduledAt))
		}
		log.Info("Scheduled campaign launched", fields...)
	}

	return launched, nil
}
