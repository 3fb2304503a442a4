package dispatch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/outreach/internal/dispatch"
	"github.com/jonesrussell/north-cloud/outreach/internal/domain"
)

type inlineSubmitter struct {
	names []string
}

func (s *inlineSubmitter) Submit(name string, fn dispatch.Task) (string, error) {
	s.names = append(s.names, name)
	return "task-" + name, fn(context.Background())
}

// heldSubmitter keeps tasks until run is called.
type heldSubmitter struct {
	tasks []dispatch.Task
	err   error
}

func (s *heldSubmitter) Submit(name string, fn dispatch.Task) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.tasks = append(s.tasks, fn)
	return "task-" + name, nil
}

func (s *heldSubmitter) run() {
	for _, fn := range s.tasks {
		_ = fn(context.Background())
	}
	s.tasks = nil
}

type extractionSpy struct {
	job     *domain.Job
	domains []string
}

func (e *extractionSpy) Run(_ context.Context, job *domain.Job, domains []string) error {
	e.job = job
	e.domains = domains
	return nil
}

type campaignSpy struct {
	ids []string
}

func (c *campaignSpy) Run(_ context.Context, id string) error {
	c.ids = append(c.ids, id)
	return nil
}

func TestLauncher(t *testing.T) {
	t.Parallel()

	sub := &inlineSubmitter{}
	ext := &extractionSpy{}
	camp := &campaignSpy{}
	l := dispatch.NewLauncher(sub, ext, camp)

	domains := []string{"a.com", "b.com"}
	taskID, err := l.LaunchExtraction(domain.Job{ID: "job-1", UserID: "u"}, domains)
	require.NoError(t, err)
	assert.Equal(t, "task-extraction:job-1", taskID)
	assert.Equal(t, "job-1", ext.job.ID)
	assert.Equal(t, domains, ext.domains)

	// The task owns its own copy of the list.
	domains[0] = "changed.com"
	assert.Equal(t, "a.com", ext.domains[0])

	taskID, err = l.LaunchCampaign("camp-1")
	require.NoError(t, err)
	assert.Equal(t, "task-campaign:camp-1", taskID)
	assert.Equal(t, []string{"camp-1"}, camp.ids)
}

func TestLauncher_OneRunPerCampaign(t *testing.T) {
	t.Parallel()

	sub := &heldSubmitter{}
	camp := &campaignSpy{}
	l := dispatch.NewLauncher(sub, &extractionSpy{}, camp)

	_, err := l.LaunchCampaign("camp-1")
	require.NoError(t, err)
	assert.True(t, l.CampaignActive("camp-1"))

	_, err = l.LaunchCampaign("camp-1")
	require.ErrorIs(t, err, domain.ErrCampaignActive)

	// Other campaigns are independent.
	_, err = l.LaunchCampaign("camp-2")
	require.NoError(t, err)

	sub.run()
	assert.Equal(t, []string{"camp-1", "camp-2"}, camp.ids)
	assert.False(t, l.CampaignActive("camp-1"))
	assert.False(t, l.CampaignActive("camp-2"))

	_, err = l.LaunchCampaign("camp-1")
	require.NoError(t, err)
}

func TestLauncher_SubmitFailureReleasesCampaign(t *testing.T) {
	t.Parallel()

	sub := &heldSubmitter{err: errors.New("dispatch queue is full")}
	l := dispatch.NewLauncher(sub, &extractionSpy{}, &campaignSpy{})

	_, err := l.LaunchCampaign("camp-1")
	require.Error(t, err)
	assert.False(t, l.CampaignActive("camp-1"))

	sub.err = nil
	_, err = l.LaunchCampaign("camp-1")
	require.NoError(t, err)
	assert.True(t, l.CampaignActive("camp-1"))
}
