// Package campaign drains campaign message queues at a throttled pace.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonesrussell/north-cloud/outreach/internal/domain"
	"github.com/jonesrussell/north-cloud/outreach/internal/events"
	"github.com/jonesrussell/north-cloud/outreach/internal/logger"
	"github.com/jonesrussell/north-cloud/outreach/internal/notify"
	"github.com/jonesrussell/north-cloud/outreach/internal/retry"
	"github.com/jonesrussell/north-cloud/outreach/internal/telemetry"
)

const (
	progressSentEvery   = 3
	progressFailedEvery = 2
)

// Store is the slice of the persistence gateway the runner uses.
type Store interface {
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	GetQueueItems(ctx context.Context, campaignID string) ([]domain.QueueItem, error)
	ClaimQueueItem(ctx context.Context, id string) (bool, error)
	UpdateQueueItemStatus(ctx context.Context, id string, status domain.QueueStatus, errorMessage *string) error
	UpdateCampaignProgress(ctx context.Context, id string) (domain.CampaignCounters, error)
	UpdateCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus) error
	TransitionCampaignStatus(ctx context.Context, id string, status domain.CampaignStatus, from ...domain.CampaignStatus) error
	IncrementUsage(ctx context.Context, userID string, extractsUsed, dmsUsed int) error
}

type Config struct {
	Intervals  Intervals
	Checkpoint retry.Config
}

// Runner executes campaign runs. One Runner serves any number of campaigns.
type Runner struct {
	store    Store
	delivery DeliveryClient
	bus      notify.Publisher
	emitter  events.Emitter
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
	log      logger.Logger
	cfg      Config
}

type Option func(*Runner)

func WithEmitter(e events.Emitter) Option     { return func(r *Runner) { r.emitter = e } }
func WithMetrics(m *telemetry.Metrics) Option { return func(r *Runner) { r.metrics = m } }
func WithTracer(t trace.Tracer) Option        { return func(r *Runner) { r.tracer = t } }

func NewRunner(store Store, delivery DeliveryClient, bus notify.Publisher, log logger.Logger, cfg Config, opts ...Option) *Runner {
	if cfg.Checkpoint.MaxAttempts == 0 {
		cfg.Checkpoint = retry.DefaultConfig()
	}

	r := &Runner{
		store:    store,
		delivery: delivery,
		bus:      bus,
		log:      log,
		cfg:      cfg,
		tracer:   otel.Tracer("outreach-campaign"),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

type stopReason int

const (
	stopExhausted stopReason = iota
	stopPaused
	stopShutdown
	stopInactive
)

// Run drains the pending queue of a running campaign. The campaign status is
// re-read before every item; anything other than running stops the loop and
// leaves the remaining items pending. Each item is claimed before delivery, so
// an item another run already took is skipped. Cancelling ctx also stops
// between items and pauses the campaign so a later start resumes it.
func (r *Runner) Run(ctx context.Context, campaignID string) error {
	log := r.log.With(logger.CampaignID(campaignID))

	// Persistence must finish even when ctx is cancelled mid-item; ctx is only
	// consulted between items.
	work := context.WithoutCancel(ctx)

	campaign, err := r.store.GetCampaign(work, campaignID)
	if err != nil {
		return fmt.Errorf("load campaign %s: %w", campaignID, err)
	}
	if campaign.Status != domain.CampaignStatusRunning {
		log.Info("Campaign not running, nothing to do", logger.String("status", string(campaign.Status)))
		return nil
	}

	var items []domain.QueueItem
	err = r.checkpoint(work, func(ctx context.Context) error {
		var loadErr error
		items, loadErr = r.store.GetQueueItems(ctx, campaignID)
		return loadErr
	})
	if err != nil {
		r.pauseUnloadable(work, log, campaign)
		return fmt.Errorf("load queue for campaign %s: %w", campaignID, err)
	}

	work, span := r.tracer.Start(work, "campaign.run", trace.WithAttributes(
		attribute.String("campaign.id", campaignID),
		attribute.Int("campaign.pending", len(items)),
		attribute.String("campaign.send_rate", string(campaign.SendRate)),
	))
	defer span.End()
	defer r.metrics.RunStarted(telemetry.KindCampaign)()

	log = log.With(logger.UserID(campaign.UserID))
	log.Info("Campaign run started",
		logger.Int("pending", len(items)),
		logger.String("send_rate", string(campaign.SendRate)),
	)
	r.emit(events.CampaignStarted, campaign, campaign.CampaignCounters)

	counters := campaign.CampaignCounters
	limiter := newLimiter(r.cfg.Intervals.For(campaign.SendRate))
	reason := stopExhausted

	for _, item := range items {
		current, err := r.currentCampaign(ctx, work, campaignID)
		if err != nil {
			if ctx.Err() != nil {
				reason = stopShutdown
				break
			}
			span.RecordError(err)
			return fmt.Errorf("re-read campaign %s: %w", campaignID, err)
		}
		if current.Status == domain.CampaignStatusPaused {
			reason = stopPaused
			break
		}
		if current.Status != domain.CampaignStatusRunning {
			log.Info("Campaign no longer running", logger.String("status", string(current.Status)))
			reason = stopInactive
			break
		}

		if err := limiter.Wait(ctx); err != nil {
			reason = stopShutdown
			break
		}

		claimed, err := r.claim(work, item.ID)
		if err != nil {
			log.Error("Failed to claim queue item", logger.QueueItemID(item.ID), logger.Error(err))
			continue
		}
		if !claimed {
			log.Debug("Queue item already claimed", logger.QueueItemID(item.ID))
			continue
		}

		counters.Replied = current.Replied
		counters.Interested = current.Interested

		r.process(work, log, campaign, item, &counters)
	}

	span.SetAttributes(attribute.Int("campaign.sent", counters.Sent), attribute.Int("campaign.failed", counters.Failed))

	switch reason {
	case stopShutdown:
		r.pauseForShutdown(work, log, campaign, counters)
		return nil
	case stopPaused:
		log.Info("Campaign paused", logger.Int("sent", counters.Sent), logger.Int("failed", counters.Failed))
		r.emit(events.CampaignPaused, campaign, counters)
		return nil
	case stopInactive:
		return nil
	}

	err = r.checkpoint(work, func(ctx context.Context) error {
		return r.store.TransitionCampaignStatus(ctx, campaignID, domain.CampaignStatusCompleted, domain.CampaignStatusRunning)
	})
	if errors.Is(err, domain.ErrInvalidStatus) {
		// Paused after the last item; the queue is drained either way.
		log.Info("Campaign paused before completion")
		r.emit(events.CampaignPaused, campaign, counters)
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("complete campaign %s: %w", campaignID, err)
	}

	r.publish(campaign.UserID, domain.NewCampaignEvent(domain.EventCampaignCompleted, campaignID, counters))
	r.emit(events.CampaignCompleted, campaign, counters)
	log.Info("Campaign completed", logger.Int("sent", counters.Sent), logger.Int("failed", counters.Failed))

	return nil
}

func (r *Runner) claim(ctx context.Context, itemID string) (bool, error) {
	var claimed bool
	err := r.checkpoint(ctx, func(ctx context.Context) error {
		var claimErr error
		claimed, claimErr = r.store.ClaimQueueItem(ctx, itemID)
		return claimErr
	})

	return claimed, err
}

// pauseUnloadable parks a campaign whose queue cannot be read so that a later
// start can retry it. Nothing has been sent by this run at that point.
func (r *Runner) pauseUnloadable(ctx context.Context, log logger.Logger, campaign *domain.Campaign) {
	if err := r.store.UpdateCampaignStatus(ctx, campaign.ID, domain.CampaignStatusPaused); err != nil {
		log.Error("Failed to pause campaign after queue load failure", logger.Error(err))
		return
	}
	r.emit(events.CampaignPaused, campaign, campaign.CampaignCounters)
}

func (r *Runner) currentCampaign(ctx, work context.Context, id string) (*domain.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var current *domain.Campaign
	err := r.checkpoint(work, func(ctx context.Context) error {
		var getErr error
		current, getErr = r.store.GetCampaign(ctx, id)
		return getErr
	})

	return current, err
}

// process delivers a claimed item and records its terminal state. It never
// panics. counters is refreshed from the stored totals when they can be read.
func (r *Runner) process(
	ctx context.Context,
	log logger.Logger,
	campaign *domain.Campaign,
	item domain.QueueItem,
	counters *domain.CampaignCounters,
) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "campaign.send", trace.WithAttributes(attribute.String("queue_item.id", item.ID)))
	defer span.End()

	outcome := r.attempt(ctx, log, item)

	status := domain.QueueStatusSent
	var errorMessage *string
	if outcome.Sent {
		counters.Sent++
	} else {
		status = domain.QueueStatusFailed
		reason := outcome.Reason
		errorMessage = &reason
		counters.Failed++
	}
	span.SetAttributes(attribute.String("outcome", string(status)))
	r.metrics.ObserveDelivery(string(status), time.Since(start))

	if err := r.checkpoint(ctx, func(ctx context.Context) error {
		return r.store.UpdateQueueItemStatus(ctx, item.ID, status, errorMessage)
	}); err != nil {
		log.Error("Failed to record queue item status", logger.QueueItemID(item.ID), logger.Error(err))
	}

	if outcome.Sent {
		if err := r.checkpoint(ctx, func(ctx context.Context) error {
			return r.store.IncrementUsage(ctx, campaign.UserID, 0, 1)
		}); err != nil {
			log.Error("Failed to record DM usage", logger.Error(err))
		}
	}

	err := r.checkpoint(ctx, func(ctx context.Context) error {
		stored, progressErr := r.store.UpdateCampaignProgress(ctx, campaign.ID)
		if progressErr == nil {
			*counters = stored
		}
		return progressErr
	})
	if err != nil {
		log.Error("Failed to persist campaign counters", logger.Error(err))
	}

	if counters.Sent%progressSentEvery == 0 || counters.Failed%progressFailedEvery == 0 {
		r.publish(campaign.UserID, domain.NewCampaignEvent(domain.EventCampaignProgress, campaign.ID, *counters))
	}
}

// attempt turns errors and panics from the delivery client into rejections.
func (r *Runner) attempt(ctx context.Context, log logger.Logger, item domain.QueueItem) (outcome Outcome) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("Panic during delivery", logger.QueueItemID(item.ID), logger.Any("panic", p))
			outcome = Rejected(fmt.Sprintf("internal error: %v", p))
		}
	}()

	outcome, err := r.delivery.AttemptSend(ctx, item.Handle, item.Message)
	if err != nil {
		log.Warn("Delivery attempt failed", logger.QueueItemID(item.ID), logger.Error(err))
		return Rejected(err.Error())
	}

	return outcome
}

func (r *Runner) pauseForShutdown(ctx context.Context, log logger.Logger, campaign *domain.Campaign, counters domain.CampaignCounters) {
	err := r.store.TransitionCampaignStatus(ctx, campaign.ID, domain.CampaignStatusPaused, domain.CampaignStatusRunning)
	if err != nil && !errors.Is(err, domain.ErrInvalidStatus) {
		log.Error("Failed to pause campaign on shutdown", logger.Error(err))
		return
	}
	log.Info("Campaign paused for shutdown", logger.Int("sent", counters.Sent), logger.Int("failed", counters.Failed))
	r.emit(events.CampaignPaused, campaign, counters)
}

func (r *Runner) publish(userID string, event domain.CampaignEvent) {
	r.bus.Publish(userID, event)
	r.metrics.EventPublished(event.Type)
}

func (r *Runner) emit(eventType events.EventType, campaign *domain.Campaign, c domain.CampaignCounters) {
	if r.emitter == nil {
		return
	}
	r.emitter.PublishAsync(events.LifecycleEvent{
		EventType:  eventType,
		UserID:     campaign.UserID,
		CampaignID: campaign.ID,
		Counts: map[string]int{
			"sent":       c.Sent,
			"replied":    c.Replied,
			"interested": c.Interested,
			"failed":     c.Failed,
		},
	})
}

func (r *Runner) checkpoint(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, r.cfg.Checkpoint, fn)
}
