package campaign

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/jonesrussell/north-cloud/outreach/internal/domain"
)

// Intervals is the minimum spacing between two sends for each send rate.
type Intervals struct {
	Conservative time.Duration
	Moderate     time.Duration
	Aggressive   time.Duration
}

// For returns the spacing for r. Unknown rates use the moderate spacing.
func (i Intervals) For(r domain.SendRate) time.Duration {
	switch r {
	case domain.SendRateConservative:
		return i.Conservative
	case domain.SendRateAggressive:
		return i.Aggressive
	default:
		return i.Moderate
	}
}

// newLimiter allows one send per interval with no burst. The first send is not delayed.
func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}
