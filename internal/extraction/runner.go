package extraction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonesrussell/north-cloud/outreach/internal/domain"
	"github.com/jonesrussell/north-cloud/outreach/internal/events"
	"github.com/jonesrussell/north-cloud/outreach/internal/logger"
	"github.com/jonesrussell/north-cloud/outreach/internal/notify"
	"github.com/jonesrussell/north-cloud/outreach/internal/retry"
	"github.com/jonesrussell/north-cloud/outreach/internal/telemetry"
)

const (
	defaultConcurrency      = 4
	defaultProgressInterval = 5
)

// Store is the slice of the persistence gateway the runner writes to.
type Store interface {
	UpdateJobStatus(ctx context.Context, id string, status domain.JobStatus) error
	UpdateJobProgress(ctx context.Context, id string, completed, failed int) error
	CreateResult(ctx context.Context, result *domain.Result) error
}

// Config tunes a Runner.
type Config struct {
	// Concurrency bounds simultaneous fetches within one job.
	Concurrency int
	// ProgressInterval is how many processed domains trigger a flush.
	ProgressInterval int
	// Checkpoint retries persistence writes.
	Checkpoint retry.Config
}

// Runner executes extraction jobs. One Runner serves any number of jobs.
type Runner struct {
	store   Store
	fetcher Fetcher
	bus     notify.Publisher
	emitter events.Emitter
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	log     logger.Logger
	cfg     Config
}

// Option customizes a Runner.
type Option func(*Runner)

func WithEmitter(e events.Emitter) Option     { return func(r *Runner) { r.emitter = e } }
func WithMetrics(m *telemetry.Metrics) Option { return func(r *Runner) { r.metrics = m } }
func WithTracer(t trace.Tracer) Option        { return func(r *Runner) { r.tracer = t } }

func NewRunner(store Store, fetcher Fetcher, bus notify.Publisher, log logger.Logger, cfg Config, opts ...Option) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = defaultProgressInterval
	}
	if cfg.Checkpoint.MaxAttempts == 0 {
		cfg.Checkpoint = retry.DefaultConfig()
	}

	r := &Runner{
		store:   store,
		fetcher: fetcher,
		bus:     bus,
		log:     log,
		cfg:     cfg,
		tracer:  otel.Tracer("outreach-extraction"),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

type counts struct {
	completed int
	failed    int
	total     int
}

func (c counts) processed() int { return c.completed + c.failed }

func (c counts) event(eventType, jobID string) domain.JobEvent {
	return domain.JobEvent{Type: eventType, JobID: jobID, Completed: c.completed, Failed: c.failed, Total: c.total}
}

// Run processes every domain of an admitted job and marks it completed.
// Per-domain failures become error results; the run itself is not cancellable,
// so ctx cancellation is ignored and only per-fetch timeouts apply.
func (r *Runner) Run(ctx context.Context, job *domain.Job, domains []string) error {
	ctx = context.WithoutCancel(ctx)
	ctx, span := r.tracer.Start(ctx, "extraction.run", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.Int("job.total", len(domains)),
	))
	defer span.End()
	defer r.metrics.RunStarted(telemetry.KindExtraction)()

	log := r.log.With(logger.JobID(job.ID), logger.UserID(job.UserID))
	log.Info("Extraction job started", logger.Int("total", len(domains)))

	if err := r.checkpoint(ctx, func(ctx context.Context) error {
		return r.store.UpdateJobStatus(ctx, job.ID, domain.JobStatusRunning)
	}); err != nil {
		log.Error("Failed to mark job running", logger.Error(err))
	}
	r.emit(events.ExtractionStarted, job, counts{total: len(domains)})

	c := counts{total: len(domains)}
	for result := range r.extractAll(ctx, log, domains) {
		r.record(ctx, log, job, result, &c)
	}

	if c.total == 0 {
		r.flush(ctx, log, job, c)
	}

	if err := r.checkpoint(ctx, func(ctx context.Context) error {
		return r.store.UpdateJobStatus(ctx, job.ID, domain.JobStatusCompleted)
	}); err != nil {
		span.SetStatus(codes.Error, "mark completed")
		log.Error("Failed to mark job completed", logger.Error(err))
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}

	r.publish(job.UserID, c.event(domain.EventJobCompleted, job.ID))
	r.emit(events.ExtractionCompleted, job, c)

	log.Info("Extraction job completed",
		logger.Int("completed", c.completed),
		logger.Int("failed", c.failed),
	)

	return nil
}

type indexed struct {
	index  int
	result domain.Result
}

// extractAll fans domains out to a bounded set of workers and yields results
// in list order through a single channel.
func (r *Runner) extractAll(ctx context.Context, log logger.Logger, domains []string) <-chan domain.Result {
	workers := min(r.cfg.Concurrency, max(len(domains), 1))
	indexes := make(chan int)
	done := make(chan indexed, workers)
	ordered := make(chan domain.Result)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				done <- indexed{index: i, result: r.extractOne(ctx, log, domains[i])}
			}
		}()
	}

	go func() {
		for i := range domains {
			indexes <- i
		}
		close(indexes)
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	go func() {
		defer close(ordered)

		pending := make(map[int]domain.Result)
		next := 0
		for item := range done {
			pending[item.index] = item.result
			for {
				res, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				ordered <- res
				next++
			}
		}
	}()

	return ordered
}

// extractOne never fails: every problem becomes an error outcome.
func (r *Runner) extractOne(ctx context.Context, log logger.Logger, name string) (res domain.Result) {
	start := time.Now()
	res = domain.Result{Domain: name, SourceURL: SourceURL(name)}

	ctx, span := r.tracer.Start(ctx, "extraction.domain", trace.WithAttributes(attribute.String("domain", name)))
	defer func() {
		if p := recover(); p != nil {
			log.Error("Panic while extracting domain", logger.TargetDomain(name), logger.Any("panic", p))
			res = errorResult(res)
		}
		span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
		span.End()
		r.metrics.ObserveExtraction(string(res.Outcome), time.Since(start))
	}()

	body, err := r.fetcher.Fetch(ctx, res.SourceURL)
	if err != nil {
		log.Debug("Fetch failed", logger.TargetDomain(name), logger.Error(err))
		return errorResult(res)
	}

	detection, err := Detect(body)
	if err != nil {
		log.Debug("Parse failed", logger.TargetDomain(name), logger.Error(err))
		return errorResult(res)
	}

	if !detection.Found() {
		res.Outcome = domain.OutcomeNotFound
		res.Confidence = confidence(0)
		return res
	}

	handle := detection.Handle
	res.Handle = &handle
	res.Confidence = confidence(detection.Confidence)
	res.Outcome = domain.OutcomeFound

	return res
}

func errorResult(res domain.Result) domain.Result {
	res.Handle = nil
	res.Confidence = confidence(0)
	res.Outcome = domain.OutcomeError
	return res
}

func confidence(v float64) *float64 { return &v }

// record persists one result immediately and flushes progress on boundaries.
func (r *Runner) record(ctx context.Context, log logger.Logger, job *domain.Job, res domain.Result, c *counts) {
	res.JobID = job.ID
	if err := r.checkpoint(ctx, func(ctx context.Context) error {
		return r.store.CreateResult(ctx, &res)
	}); err != nil {
		log.Error("Failed to persist result", logger.TargetDomain(res.Domain), logger.Error(err))
	}

	if res.Outcome == domain.OutcomeError {
		c.failed++
	} else {
		c.completed++
	}

	if c.processed()%r.cfg.ProgressInterval == 0 || c.processed() == c.total {
		r.flush(ctx, log, job, *c)
	}
}

func (r *Runner) flush(ctx context.Context, log logger.Logger, job *domain.Job, c counts) {
	if err := r.checkpoint(ctx, func(ctx context.Context) error {
		return r.store.UpdateJobProgress(ctx, job.ID, c.completed, c.failed)
	}); err != nil {
		log.Error("Failed to flush job progress", logger.Error(err))
	}
	r.publish(job.UserID, c.event(domain.EventJobProgress, job.ID))
}

func (r *Runner) publish(userID string, event domain.JobEvent) {
	r.bus.Publish(userID, event)
	r.metrics.EventPublished(event.Type)
}

func (r *Runner) emit(eventType events.EventType, job *domain.Job, c counts) {
	if r.emitter == nil {
		return
	}
	r.emitter.PublishAsync(events.LifecycleEvent{
		EventType: eventType,
		UserID:    job.UserID,
		JobID:     job.ID,
		Counts:    map[string]int{"completed": c.completed, "failed": c.failed, "total": c.total},
	})
}

func (r *Runner) checkpoint(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, r.cfg.Checkpoint, fn)
}
