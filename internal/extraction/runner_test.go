package extraction_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/outreach/internal/domain"
	"github.com/jonesrussell/north-cloud/outreach/internal/events"
	"github.com/jonesrussell/north-cloud/outreach/internal/extraction"
	"github.com/jonesrussell/north-cloud/outreach/internal/logger"
)

type progressCall struct {
	completed int
	failed    int
}

type fakeStore struct {
	mu       sync.Mutex
	statuses []domain.JobStatus
	progress []progressCall
	results  []domain.Result
	failNext error
}

func (s *fakeStore) UpdateJobStatus(_ context.Context, _ string, status domain.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *fakeStore) UpdateJobProgress(_ context.Context, _ string, completed, failed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, progressCall{completed: completed, failed: failed})
	return nil
}

func (s *fakeStore) CreateResult(_ context.Context, result *domain.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.results = append(s.results, *result)
	return nil
}

type page struct {
	body  string
	err   error
	delay time.Duration
	panic bool
}

type fakeFetcher struct {
	pages map[string]page
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	p, ok := f.pages[url]
	if !ok {
		return nil, fmt.Errorf("no such host: %s", url)
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.panic {
		panic("fetcher exploded")
	}
	return []byte(p.body), p.err
}

type recordingBus struct {
	mu     sync.Mutex
	events []domain.JobEvent
	users  []string
}

func (b *recordingBus) Publish(userID string, event domain.Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users = append(b.users, userID)
	b.events = append(b.events, event.(domain.JobEvent))
	return 1
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.LifecycleEvent
}

func (e *recordingEmitter) PublishAsync(ev events.LifecycleEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func anchorPage(handle string) page {
	return page{body: `<a href="https://instagram.com/` + handle + `">IG</a>`}
}

func newTestJob(total int) *domain.Job {
	return &domain.Job{ID: "job-1", UserID: "user-1", Kind: domain.JobKindExtraction, Total: total}
}

func TestRunner_MixedOutcomes(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	bus := &recordingBus{}
	emitter := &recordingEmitter{}
	fetcher := &fakeFetcher{pages: map[string]page{
		"https://a.com": anchorPage("alpha_shop"),
		"https://b.com": anchorPage("bravo_shop"),
		"https://c.com": {err: context.DeadlineExceeded},
	}}

	r := extraction.NewRunner(store, fetcher, bus, logger.NewNop(), extraction.Config{Concurrency: 2},
		extraction.WithEmitter(emitter))

	err := r.Run(context.Background(), newTestJob(3), []string{"a.com", "b.com", "c.com"})
	require.NoError(t, err)

	require.Len(t, store.results, 3)
	assert.Equal(t, domain.OutcomeFound, store.results[0].Outcome)
	assert.Equal(t, "@alpha_shop", *store.results[0].Handle)
	assert.InDelta(t, 95.0, *store.results[0].Confidence, 0.001)
	assert.Equal(t, domain.OutcomeFound, store.results[1].Outcome)
	assert.Equal(t, domain.OutcomeError, store.results[2].Outcome)
	assert.Nil(t, store.results[2].Handle)
	assert.InDelta(t, 0.0, *store.results[2].Confidence, 0.001)
	assert.Equal(t, "https://c.com", store.results[2].SourceURL)
	assert.Equal(t, "job-1", store.results[2].JobID)

	assert.Equal(t, []domain.JobStatus{domain.JobStatusRunning, domain.JobStatusCompleted}, store.statuses)

	last := bus.events[len(bus.events)-1]
	assert.Equal(t, domain.JobEvent{
		Type: domain.EventJobCompleted, JobID: "job-1", Completed: 2, Failed: 1, Total: 3,
	}, last)
	for _, u := range bus.users {
		assert.Equal(t, "user-1", u)
	}

	require.Len(t, emitter.events, 2)
	assert.Equal(t, events.ExtractionStarted, emitter.events[0].EventType)
	assert.Equal(t, events.ExtractionCompleted, emitter.events[1].EventType)
	assert.Equal(t, 2, emitter.events[1].Counts["completed"])
}

func TestRunner_ResultsPersistInListOrder(t *testing.T) {
	t.Parallel()

	domains := make([]string, 12)
	pages := make(map[string]page, len(domains))
	for i := range domains {
		domains[i] = fmt.Sprintf("site%02d.com", i)
		p := anchorPage(fmt.Sprintf("handle_%02d", i))
		// Earlier domains are slower so completions arrive out of order.
		p.delay = time.Duration(len(domains)-i) * 2 * time.Millisecond
		pages[extraction.SourceURL(domains[i])] = p
	}

	store := &fakeStore{}
	bus := &recordingBus{}
	r := extraction.NewRunner(store, &fakeFetcher{pages: pages}, bus, logger.NewNop(),
		extraction.Config{Concurrency: 4, ProgressInterval: 5})

	require.NoError(t, r.Run(context.Background(), newTestJob(len(domains)), domains))

	require.Len(t, store.results, len(domains))
	for i, res := range store.results {
		assert.Equal(t, domains[i], res.Domain)
	}

	assert.Equal(t, []progressCall{{5, 0}, {10, 0}, {12, 0}}, store.progress)

	var progress []int
	for _, ev := range bus.events {
		if ev.Type == domain.EventJobProgress {
			progress = append(progress, ev.Completed+ev.Failed)
		}
	}
	assert.Equal(t, []int{5, 10, 12}, progress)
}

func TestRunner_PanicBecomesErrorResult(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	bus := &recordingBus{}
	fetcher := &fakeFetcher{pages: map[string]page{
		"https://boom.com": {panic: true},
		"https://fine.com": {body: `<p>@fine_shop</p>`},
	}}

	r := extraction.NewRunner(store, fetcher, bus, logger.NewNop(), extraction.Config{Concurrency: 1})

	require.NoError(t, r.Run(context.Background(), newTestJob(2), []string{"boom.com", "fine.com"}))

	require.Len(t, store.results, 2)
	assert.Equal(t, domain.OutcomeError, store.results[0].Outcome)
	assert.Equal(t, domain.OutcomeFound, store.results[1].Outcome)
	assert.InDelta(t, 85.0, *store.results[1].Confidence, 0.001)

	last := bus.events[len(bus.events)-1]
	assert.Equal(t, 1, last.Completed)
	assert.Equal(t, 1, last.Failed)
}

func TestRunner_NotFoundCountsAsCompleted(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	bus := &recordingBus{}
	fetcher := &fakeFetcher{pages: map[string]page{
		"https://empty.com": {body: `<h1>nothing</h1>`},
	}}

	r := extraction.NewRunner(store, fetcher, bus, logger.NewNop(), extraction.Config{})

	require.NoError(t, r.Run(context.Background(), newTestJob(1), []string{"empty.com"}))

	require.Len(t, store.results, 1)
	assert.Equal(t, domain.OutcomeNotFound, store.results[0].Outcome)
	assert.Nil(t, store.results[0].Handle)

	last := bus.events[len(bus.events)-1]
	assert.Equal(t, domain.JobEvent{Type: domain.EventJobCompleted, JobID: "job-1", Completed: 1, Total: 1}, last)
}

func TestRunner_IgnoresCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := &fakeStore{}
	fetcher := &fakeFetcher{pages: map[string]page{"https://a.com": anchorPage("alpha_shop")}}
	r := extraction.NewRunner(store, fetcher, &recordingBus{}, logger.NewNop(), extraction.Config{})

	require.NoError(t, r.Run(ctx, newTestJob(1), []string{"a.com"}))
	require.Len(t, store.results, 1)
	assert.Equal(t, domain.JobStatusCompleted, store.statuses[len(store.statuses)-1])
}

func TestRunner_ResultWriteFailureStillCounts(t *testing.T) {
	t.Parallel()

	store := &fakeStore{failNext: errors.New("constraint violation")}
	bus := &recordingBus{}
	fetcher := &fakeFetcher{pages: map[string]page{
		"https://a.com": anchorPage("alpha_shop"),
		"https://b.com": anchorPage("bravo_shop"),
	}}

	r := extraction.NewRunner(store, fetcher, bus, logger.NewNop(), extraction.Config{Concurrency: 1})

	require.NoError(t, r.Run(context.Background(), newTestJob(2), []string{"a.com", "b.com"}))

	assert.Len(t, store.results, 1)
	last := bus.events[len(bus.events)-1]
	assert.Equal(t, 2, last.Completed)
}
