package circuitbreaker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/outreach/internal/circuitbreaker"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

var errGateway = errors.New("gateway down")

func failing(context.Context) error { return errGateway }
func passing(context.Context) error { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(0, 0)}
	b := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
		Now:              clock.Now,
	})
	ctx := context.Background()

	require.ErrorIs(t, b.Execute(ctx, failing), errGateway)
	assert.Equal(t, circuitbreaker.StateClosed, b.State())
	require.ErrorIs(t, b.Execute(ctx, failing), errGateway)
	assert.Equal(t, circuitbreaker.StateOpen, b.State())

	called := false
	err := b.Execute(ctx, func(context.Context) error { called = true; return nil })
	require.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_HalfOpenTrialCall(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(0, 0)}
	var transitions []string
	b := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 1,
		OpenTimeout:      time.Second,
		Now:              clock.Now,
		OnStateChange: func(from, to circuitbreaker.State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	ctx := context.Background()

	_ = b.Execute(ctx, failing)
	clock.now = clock.now.Add(2 * time.Second)

	require.NoError(t, b.Execute(ctx, passing))
	assert.Equal(t, circuitbreaker.StateClosed, b.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreaker_IgnoresNonFailures(t *testing.T) {
	t.Parallel()

	rejected := errors.New("recipient rejected")
	b := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return err != nil && !errors.Is(err, rejected) },
	})

	for range 3 {
		_ = b.Execute(context.Background(), func(context.Context) error { return rejected })
	}
	assert.Equal(t, circuitbreaker.StateClosed, b.State())
}
