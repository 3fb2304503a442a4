package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jonesrussell/north-cloud/outreach/internal/campaign"
	"github.com/jonesrussell/north-cloud/outreach/internal/config"
	"github.com/jonesrussell/north-cloud/outreach/internal/database"
	"github.com/jonesrussell/north-cloud/outreach/internal/dispatch"
	"github.com/jonesrussell/north-cloud/outreach/internal/events"
	"github.com/jonesrussell/north-cloud/outreach/internal/extraction"
	"github.com/jonesrussell/north-cloud/outreach/internal/logger"
	"github.com/jonesrussell/north-cloud/outreach/internal/notify"
	"github.com/jonesrussell/north-cloud/outreach/internal/quota"
	"github.com/jonesrussell/north-cloud/outreach/internal/retry"
	"github.com/jonesrussell/north-cloud/outreach/internal/scheduler"
	"github.com/jonesrussell/north-cloud/outreach/internal/telemetry"
)

// Services is the wired engine: persistence, runners, dispatcher and scheduler.
type Services struct {
	Repo      *database.Repository
	Bus       *notify.Bus
	Telemetry *telemetry.Provider
	Quotas    *quota.Service
	Pool      *dispatch.Pool
	Launcher  *dispatch.Launcher
	Scheduler *scheduler.Scheduler
	log       logger.Logger
}

// SetupServices wires every engine component. Nothing is started.
func SetupServices(cfg *config.Config, db *sqlx.DB, publisher *events.Publisher, log logger.Logger) *Services {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tel := telemetry.NewProvider(reg)

	repo := database.NewRepository(db)
	bus := notify.NewBus(log)

	var emitter events.Emitter
	if publisher != nil {
		emitter = publisher
	}

	fetcher := extraction.NewHTTPFetcher(extraction.FetcherConfig{
		Timeout:      cfg.Extraction.FetchTimeout,
		UserAgent:    cfg.Extraction.UserAgent,
		MaxBodyBytes: cfg.Extraction.MaxBodyBytes,
	})
	extractionRunner := extraction.NewRunner(repo, fetcher, bus, log, extraction.Config{
		Concurrency:      cfg.Extraction.Concurrency,
		ProgressInterval: cfg.Extraction.ProgressInterval,
		Checkpoint:       retry.DefaultConfig(),
	},
		extraction.WithEmitter(emitter),
		extraction.WithMetrics(tel.Metrics),
		extraction.WithTracer(tel.Tracer),
	)

	gateway := campaign.NewGatewayClient(campaign.GatewayConfig{
		BaseURL:          cfg.Delivery.GatewayURL,
		Token:            cfg.Delivery.Token,
		Timeout:          cfg.Delivery.Timeout,
		FailureThreshold: cfg.Delivery.FailureThreshold,
		OpenTimeout:      cfg.Delivery.OpenTimeout,
	}, log)
	campaignRunner := campaign.NewRunner(repo, gateway, bus, log, campaign.Config{
		Intervals: campaign.Intervals{
			Conservative: cfg.Campaign.ConservativeInterval,
			Moderate:     cfg.Campaign.ModerateInterval,
			Aggressive:   cfg.Campaign.AggressiveInterval,
		},
		Checkpoint: retry.DefaultConfig(),
	},
		campaign.WithEmitter(emitter),
		campaign.WithMetrics(tel.Metrics),
		campaign.WithTracer(tel.Tracer),
	)

	pool := dispatch.NewPool(dispatch.Config{
		Workers:   cfg.Dispatch.Workers,
		QueueSize: cfg.Dispatch.QueueSize,
	}, log, dispatch.WithMetrics(tel.Metrics))
	launcher := dispatch.NewLauncher(pool, extractionRunner, campaignRunner)

	quotas := quota.NewService(repo, quota.Limits{
		DailyExtractQuota: cfg.Quota.DailyExtractQuota,
		DailyDMQuota:      cfg.Quota.DailyDMQuota,
	}, log, quota.WithMetrics(tel.Metrics))

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(scheduler.Config{
			PromotionSpec:  cfg.Scheduler.PromotionSpec,
			QuotaSweepSpec: cfg.Scheduler.QuotaSweepSpec,
		}, repo, quotas, launcher, log)
	}

	return &Services{
		Repo:      repo,
		Bus:       bus,
		Telemetry: tel,
		Quotas:    quotas,
		Pool:      pool,
		Launcher:  launcher,
		Scheduler: sched,
		log:       log,
	}
}

// Start settles what a previous process left in flight, then launches the
// dispatcher and the scheduler that feeds it.
func (s *Services) Start(ctx context.Context) error {
	interrupted, err := s.Repo.FailInterruptedDeliveries(ctx)
	if err != nil {
		return fmt.Errorf("recover interrupted deliveries: %w", err)
	}
	if interrupted > 0 {
		s.log.Warn("Marked interrupted deliveries as failed", logger.Int64("items", interrupted))
	}

	orphaned, err := s.Repo.PauseOrphanedCampaigns(ctx)
	if err != nil {
		return fmt.Errorf("pause orphaned campaigns: %w", err)
	}
	if orphaned > 0 {
		s.log.Warn("Paused campaigns left running by a previous process", logger.Int64("campaigns", orphaned))
	}

	if err := s.Pool.Start(); err != nil {
		return fmt.Errorf("start dispatch pool: %w", err)
	}

	if s.Scheduler != nil {
		if err := s.Scheduler.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	s.log.Info("Engine started")
	return nil
}

// Stop halts the scheduler, then drains the dispatcher within ctx. Campaign
// runs observe the cancellation and pause themselves.
func (s *Services) Stop(ctx context.Context) error {
	var errs []error

	if s.Scheduler != nil {
		if err := s.Scheduler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
		}
	}

	if err := s.Pool.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop dispatch pool: %w", err))
	}

	return errors.Join(errs...)
}
