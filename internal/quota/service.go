// Package quota enforces the per-user daily extraction and message limits.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/outreach/internal/domain"
	"github.com/jonesrussell/north-cloud/outreach/internal/logger"
	"github.com/jonesrussell/north-cloud/outreach/internal/telemetry"
)

// Store is the persistence the service needs.
type Store interface {
	EnsureUser(ctx context.Context, userID string, extractQuota, dmQuota int) error
	GetQuota(ctx context.Context, userID string) (*domain.Quota, error)
	ReserveExtracts(ctx context.Context, userID string, n int) (bool, error)
	ResetDailyQuota(ctx context.Context, userID string, today time.Time) (bool, error)
	ResetStaleQuotas(ctx context.Context, today time.Time) (int64, error)
}

// Limits are the plan defaults given to users seen for the first time.
type Limits struct {
	DailyExtractQuota int
	DailyDMQuota      int
}

type Service struct {
	store   Store
	limits  Limits
	metrics *telemetry.Metrics
	log     logger.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithMetrics(m *telemetry.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store Store, limits Limits, log logger.Logger, opts ...Option) *Service {
	if limits.DailyExtractQuota <= 0 {
		limits.DailyExtractQuota = domain.DefaultDailyExtractQuota
	}
	if limits.DailyDMQuota <= 0 {
		limits.DailyDMQuota = domain.DefaultDailyDMQuota
	}

	s := &Service{store: store, limits: limits, log: log, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Current returns the user's quota, creating the user on first sight and
// applying the daily reset when the last one happened before today.
func (s *Service) Current(ctx context.Context, userID string) (*domain.Quota, error) {
	if err := s.store.EnsureUser(ctx, userID, s.limits.DailyExtractQuota, s.limits.DailyDMQuota); err != nil {
		return nil, err
	}

	q, err := s.store.GetQuota(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !q.NeedsReset(now) {
		return q, nil
	}

	reset, err := s.store.ResetDailyQuota(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if reset {
		s.log.Debug("Daily quota reset", logger.UserID(userID))
	}

	return s.store.GetQuota(ctx, userID)
}

// AdmitExtraction reserves n extracts atomically. On rejection it returns a
// *domain.QuotaExceededError carrying what was required and what is left.
func (s *Service) AdmitExtraction(ctx context.Context, userID string, n int) error {
	if _, err := s.Current(ctx, userID); err != nil {
		return fmt.Errorf("load quota: %w", err)
	}

	ok, err := s.store.ReserveExtracts(ctx, userID, n)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	// The reservation lost; report the numbers as they are now.
	q, err := s.store.GetQuota(ctx, userID)
	if err != nil {
		return fmt.Errorf("load quota after rejection: %w", err)
	}

	s.metrics.QuotaRejected(string(domain.QuotaExtract))
	s.log.Info("Extraction rejected by quota",
		logger.UserID(userID),
		logger.Int("required", n),
		logger.Int("remaining", q.ExtractsRemaining()),
	)

	return &domain.QuotaExceededError{Kind: domain.QuotaExtract, Required: n, Remaining: q.ExtractsRemaining()}
}

// CheckDMs rejects a campaign start when no messages are left for today.
func (s *Service) CheckDMs(ctx context.Context, userID string) error {
	q, err := s.Current(ctx, userID)
	if err != nil {
		return fmt.Errorf("load quota: %w", err)
	}

	if q.DMsRemaining() > 0 {
		return nil
	}

	s.metrics.QuotaRejected(string(domain.QuotaDM))
	return &domain.QuotaExceededError{Kind: domain.QuotaDM, Required: 1, Remaining: 0}
}

// ResetStale zeroes every user whose counters date from an earlier day.
func (s *Service) ResetStale(ctx context.Context) (int64, error) {
	n, err := s.store.ResetStaleQuotas(ctx, s.now())
	if err != nil {
		return 0, err
	}
	s.log.Info("Stale quotas reset", logger.Int64("users", n))
	return n, nil
}
