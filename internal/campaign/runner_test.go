package campaign_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/outreach/internal/campaign"
	"github.com/jonesrussell/north-cloud/outreach/internal/domain"
	"github.com/jonesrussell/north-cloud/outreach/internal/events"
	"github.com/jonesrussell/north-cloud/outreach/internal/logger"
)

type fakeStore struct {
	mu        sync.Mutex
	campaign  domain.Campaign
	items     []domain.QueueItem
	progress  []domain.CampaignCounters
	dmsUsed   int
	processed int
	onProcess func(processed int)
	loadErr   error
}

func newFakeStore(n int, rate domain.SendRate) *fakeStore {
	s := &fakeStore{
		campaign: domain.Campaign{
			ID:           "camp-1",
			UserID:       "user-1",
			Status:       domain.CampaignStatusRunning,
			TotalHandles: n,
			SendRate:     rate,
		},
	}
	for i := range n {
		s.items = append(s.items, domain.QueueItem{
			ID:         fmt.Sprintf("item-%d", i+1),
			CampaignID: "camp-1",
			Handle:     fmt.Sprintf("@handle%d", i+1),
			Message:    fmt.Sprintf("Hi @handle%d", i+1),
			Status:     domain.QueueStatusPending,
		})
	}
	return s
}

func (s *fakeStore) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != s.campaign.ID {
		return nil, domain.ErrNotFound
	}
	c := s.campaign
	return &c, nil
}

func (s *fakeStore) GetQueueItems(_ context.Context, _ string) ([]domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	var pending []domain.QueueItem
	for _, it := range s.items {
		if it.Status == domain.QueueStatusPending {
			pending = append(pending, it)
		}
	}
	return pending, nil
}

func (s *fakeStore) ClaimQueueItem(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id && s.items[i].Status == domain.QueueStatusPending {
			s.items[i].Status = domain.QueueStatusSending
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) UpdateQueueItemStatus(_ context.Context, id string, status domain.QueueStatus, msg *string) error {
	s.mu.Lock()
	for i := range s.items {
		if s.items[i].ID == id && s.items[i].Status == domain.QueueStatusSending {
			s.items[i].Status = status
			s.items[i].ErrorMessage = msg
		}
	}
	s.processed++
	processed := s.processed
	hook := s.onProcess
	s.mu.Unlock()

	if hook != nil {
		hook(processed)
	}
	return nil
}

func (s *fakeStore) UpdateCampaignProgress(_ context.Context, _ string) (domain.CampaignCounters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sent, failed := 0, 0
	for _, it := range s.items {
		switch it.Status {
		case domain.QueueStatusSent:
			sent++
		case domain.QueueStatusFailed:
			failed++
		}
	}
	s.campaign.Sent = sent
	s.campaign.Failed = failed
	s.progress = append(s.progress, s.campaign.CampaignCounters)
	return s.campaign.CampaignCounters, nil
}

func (s *fakeStore) UpdateCampaignStatus(_ context.Context, _ string, status domain.CampaignStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaign.Status = status
	return nil
}

func (s *fakeStore) TransitionCampaignStatus(
	_ context.Context, _ string, to domain.CampaignStatus, from ...domain.CampaignStatus,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range from {
		if s.campaign.Status == f {
			s.campaign.Status = to
			return nil
		}
	}
	return domain.ErrInvalidStatus
}

func (s *fakeStore) IncrementUsage(_ context.Context, _ string, _, dms int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dmsUsed += dms
	return nil
}

func (s *fakeStore) setStatus(status domain.CampaignStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaign.Status = status
}

func (s *fakeStore) statuses() []domain.QueueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.QueueStatus, len(s.items))
	for i, it := range s.items {
		out[i] = it.Status
	}
	return out
}

type scriptedDelivery struct {
	mu       sync.Mutex
	handles  []string
	outcomes map[string]campaign.Outcome
	errs     map[string]error
	panics   map[string]bool
}

func (d *scriptedDelivery) AttemptSend(_ context.Context, handle, _ string) (campaign.Outcome, error) {
	d.mu.Lock()
	d.handles = append(d.handles, handle)
	d.mu.Unlock()

	if d.panics[handle] {
		panic("delivery exploded")
	}
	if err := d.errs[handle]; err != nil {
		return campaign.Outcome{}, err
	}
	if o, ok := d.outcomes[handle]; ok {
		return o, nil
	}
	return campaign.Sent(), nil
}

// gatedDelivery blocks a send for a handle until its gate is closed and
// announces every send it starts on entered.
type gatedDelivery struct {
	mu      sync.Mutex
	gates   map[string]chan struct{}
	entered chan string
	counts  map[string]int
}

func newGatedDelivery(gated ...string) *gatedDelivery {
	d := &gatedDelivery{
		gates:   make(map[string]chan struct{}),
		entered: make(chan string, 16),
		counts:  make(map[string]int),
	}
	for _, h := range gated {
		d.gates[h] = make(chan struct{})
	}
	return d
}

func (d *gatedDelivery) AttemptSend(_ context.Context, handle, _ string) (campaign.Outcome, error) {
	d.mu.Lock()
	d.counts[handle]++
	gate := d.gates[handle]
	d.mu.Unlock()

	d.entered <- handle
	if gate != nil {
		<-gate
	}
	return campaign.Sent(), nil
}

func (d *gatedDelivery) sends(handle string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[handle]
}

func waitForSend(t *testing.T, d *gatedDelivery, handle string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case h := <-d.entered:
			if h == handle {
				return
			}
		case <-timeout:
			t.Fatalf("delivery to %s never started", handle)
		}
	}
}

type recordingBus struct {
	mu     sync.Mutex
	events []domain.CampaignEvent
}

func (b *recordingBus) Publish(_ string, event domain.Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event.(domain.CampaignEvent))
	return 1
}

func (b *recordingBus) ofType(t string) []domain.CampaignEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.CampaignEvent
	for _, e := range b.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type recordingEmitter struct {
	mu    sync.Mutex
	types []events.EventType
}

func (e *recordingEmitter) PublishAsync(ev events.LifecycleEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.types = append(e.types, ev.EventType)
}

func fastConfig() campaign.Config {
	return campaign.Config{Intervals: campaign.Intervals{}}
}

func TestRunner_DrainsQueue(t *testing.T) {
	t.Parallel()

	store := newFakeStore(4, domain.SendRateModerate)
	delivery := &scriptedDelivery{outcomes: map[string]campaign.Outcome{
		"@handle3": campaign.Rejected("account restricted"),
	}}
	bus := &recordingBus{}
	emitter := &recordingEmitter{}

	r := campaign.NewRunner(store, delivery, bus, logger.NewNop(), fastConfig(), campaign.WithEmitter(emitter))
	require.NoError(t, r.Run(context.Background(), "camp-1"))

	assert.Equal(t, []string{"@handle1", "@handle2", "@handle3", "@handle4"}, delivery.handles)
	assert.Equal(t, []domain.QueueStatus{
		domain.QueueStatusSent, domain.QueueStatusSent, domain.QueueStatusFailed, domain.QueueStatusSent,
	}, store.statuses())
	assert.Equal(t, "account restricted", *store.items[2].ErrorMessage)

	assert.Equal(t, domain.CampaignStatusCompleted, store.campaign.Status)
	assert.Equal(t, 3, store.dmsUsed)
	require.Len(t, store.progress, 4)

	completed := bus.ofType(domain.EventCampaignCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, domain.CampaignEvent{
		Type: domain.EventCampaignCompleted, CampaignID: "camp-1", Sent: 3, Failed: 1,
	}, completed[0])

	assert.Equal(t, []events.EventType{events.CampaignStarted, events.CampaignCompleted}, emitter.types)
}

func TestRunner_PausedAfterSecondItem(t *testing.T) {
	t.Parallel()

	store := newFakeStore(5, domain.SendRateModerate)
	store.onProcess = func(processed int) {
		if processed == 2 {
			store.setStatus(domain.CampaignStatusPaused)
		}
	}
	bus := &recordingBus{}
	emitter := &recordingEmitter{}

	r := campaign.NewRunner(store, &scriptedDelivery{}, bus, logger.NewNop(), fastConfig(), campaign.WithEmitter(emitter))
	require.NoError(t, r.Run(context.Background(), "camp-1"))

	assert.Equal(t, []domain.QueueStatus{
		domain.QueueStatusSent, domain.QueueStatusSent,
		domain.QueueStatusPending, domain.QueueStatusPending, domain.QueueStatusPending,
	}, store.statuses())
	assert.Equal(t, domain.CampaignStatusPaused, store.campaign.Status)
	assert.Empty(t, bus.ofType(domain.EventCampaignCompleted))
	assert.Equal(t, []events.EventType{events.CampaignStarted, events.CampaignPaused}, emitter.types)

	// Resuming picks up only the pending items and keeps the earlier counts.
	store.onProcess = nil
	store.setStatus(domain.CampaignStatusRunning)
	require.NoError(t, r.Run(context.Background(), "camp-1"))

	for _, s := range store.statuses() {
		assert.Equal(t, domain.QueueStatusSent, s)
	}
	completed := bus.ofType(domain.EventCampaignCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, 5, completed[0].Sent)
}

func TestRunner_PanicAndErrorBecomeFailures(t *testing.T) {
	t.Parallel()

	store := newFakeStore(3, domain.SendRateAggressive)
	delivery := &scriptedDelivery{
		panics: map[string]bool{"@handle1": true},
		errs:   map[string]error{"@handle2": errors.New("connection reset by peer")},
	}
	bus := &recordingBus{}

	r := campaign.NewRunner(store, delivery, bus, logger.NewNop(), fastConfig())
	require.NoError(t, r.Run(context.Background(), "camp-1"))

	assert.Equal(t, []domain.QueueStatus{
		domain.QueueStatusFailed, domain.QueueStatusFailed, domain.QueueStatusSent,
	}, store.statuses())
	assert.Contains(t, *store.items[0].ErrorMessage, "delivery exploded")
	assert.Contains(t, *store.items[1].ErrorMessage, "connection reset")
	assert.Equal(t, 1, store.dmsUsed)

	completed := bus.ofType(domain.EventCampaignCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, 1, completed[0].Sent)
	assert.Equal(t, 2, completed[0].Failed)
}

func TestRunner_ProgressEventsAreMonotonic(t *testing.T) {
	t.Parallel()

	store := newFakeStore(7, domain.SendRateModerate)
	delivery := &scriptedDelivery{outcomes: map[string]campaign.Outcome{
		"@handle2": campaign.Rejected("x"),
		"@handle5": campaign.Rejected("y"),
	}}
	bus := &recordingBus{}

	r := campaign.NewRunner(store, delivery, bus, logger.NewNop(), fastConfig())
	require.NoError(t, r.Run(context.Background(), "camp-1"))

	progress := bus.ofType(domain.EventCampaignProgress)
	require.NotEmpty(t, progress)
	for i, ev := range progress {
		assert.True(t, ev.Sent%3 == 0 || ev.Failed%2 == 0, "event %d published off boundary: %+v", i, ev)
		if i > 0 {
			assert.GreaterOrEqual(t, ev.Sent+ev.Failed, progress[i-1].Sent+progress[i-1].Failed)
		}
	}
}

func TestRunner_NotRunningDoesNothing(t *testing.T) {
	t.Parallel()

	store := newFakeStore(2, domain.SendRateModerate)
	store.setStatus(domain.CampaignStatusDraft)
	delivery := &scriptedDelivery{}

	r := campaign.NewRunner(store, delivery, &recordingBus{}, logger.NewNop(), fastConfig())
	require.NoError(t, r.Run(context.Background(), "camp-1"))

	assert.Empty(t, delivery.handles)
	assert.Equal(t, domain.CampaignStatusDraft, store.campaign.Status)
}

func TestRunner_CancelledContextPauses(t *testing.T) {
	t.Parallel()

	store := newFakeStore(3, domain.SendRateModerate)
	ctx, cancel := context.WithCancel(context.Background())
	store.onProcess = func(processed int) {
		if processed == 1 {
			cancel()
		}
	}

	r := campaign.NewRunner(store, &scriptedDelivery{}, &recordingBus{}, logger.NewNop(), fastConfig())
	require.NoError(t, r.Run(ctx, "camp-1"))

	assert.Equal(t, []domain.QueueStatus{
		domain.QueueStatusSent, domain.QueueStatusPending, domain.QueueStatusPending,
	}, store.statuses())
	assert.Equal(t, domain.CampaignStatusPaused, store.campaign.Status)
}

func TestRunner_UnknownCampaign(t *testing.T) {
	t.Parallel()

	store := newFakeStore(1, domain.SendRateModerate)
	r := campaign.NewRunner(store, &scriptedDelivery{}, &recordingBus{}, logger.NewNop(), fastConfig())

	err := r.Run(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunner_RestartDuringBlockedDeliverySendsEachHandleOnce(t *testing.T) {
	t.Parallel()

	store := newFakeStore(3, domain.SendRateModerate)
	delivery := newGatedDelivery("@handle1", "@handle2")
	r := campaign.NewRunner(store, delivery, &recordingBus{}, logger.NewNop(), fastConfig())

	firstDone := make(chan error, 1)
	go func() { firstDone <- r.Run(context.Background(), "camp-1") }()
	waitForSend(t, delivery, "@handle1")

	// Pause and start again while the first run is stuck on its send.
	store.setStatus(domain.CampaignStatusPaused)
	store.setStatus(domain.CampaignStatusRunning)

	secondDone := make(chan error, 1)
	go func() { secondDone <- r.Run(context.Background(), "camp-1") }()
	waitForSend(t, delivery, "@handle2")

	close(delivery.gates["@handle1"])
	require.NoError(t, <-firstDone)

	close(delivery.gates["@handle2"])
	require.NoError(t, <-secondDone)

	for _, h := range []string{"@handle1", "@handle2", "@handle3"} {
		assert.Equal(t, 1, delivery.sends(h), "sends to %s", h)
	}
	for _, st := range store.statuses() {
		assert.Equal(t, domain.QueueStatusSent, st)
	}
	assert.Equal(t, 3, store.campaign.Sent)
	assert.Equal(t, 0, store.campaign.Failed)
	assert.Equal(t, 3, store.dmsUsed)
	assert.Equal(t, domain.CampaignStatusCompleted, store.campaign.Status)
}

func TestRunner_SkipsItemClaimedElsewhere(t *testing.T) {
	t.Parallel()

	store := newFakeStore(3, domain.SendRateModerate)
	store.onProcess = func(processed int) {
		if processed == 1 {
			// Another run takes the second item before this one reaches it.
			claimed, err := store.ClaimQueueItem(context.Background(), "item-2")
			assert.NoError(t, err)
			assert.True(t, claimed)
		}
	}
	delivery := &scriptedDelivery{}

	r := campaign.NewRunner(store, delivery, &recordingBus{}, logger.NewNop(), fastConfig())
	require.NoError(t, r.Run(context.Background(), "camp-1"))

	assert.Equal(t, []string{"@handle1", "@handle3"}, delivery.handles)
	assert.Equal(t, []domain.QueueStatus{
		domain.QueueStatusSent, domain.QueueStatusSending, domain.QueueStatusSent,
	}, store.statuses())
	assert.Equal(t, 2, store.campaign.Sent)
}

func TestRunner_QueueLoadFailurePausesCampaign(t *testing.T) {
	t.Parallel()

	store := newFakeStore(2, domain.SendRateModerate)
	store.loadErr = errors.New("relation dm_queue does not exist")
	delivery := &scriptedDelivery{}

	cfg := fastConfig()
	cfg.Checkpoint.MaxAttempts = 1
	emitter := &recordingEmitter{}
	r := campaign.NewRunner(store, delivery, &recordingBus{}, logger.NewNop(), cfg, campaign.WithEmitter(emitter))

	err := r.Run(context.Background(), "camp-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load queue")
	assert.Empty(t, delivery.handles)
	assert.Equal(t, domain.CampaignStatusPaused, store.campaign.Status)
	assert.Equal(t, []events.EventType{events.CampaignPaused}, emitter.types)

	// Once the queue is readable again the campaign can run to completion.
	store.loadErr = nil
	store.setStatus(domain.CampaignStatusRunning)
	require.NoError(t, r.Run(context.Background(), "camp-1"))
	assert.Equal(t, domain.CampaignStatusCompleted, store.campaign.Status)
}
