package telemetry_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/outreach/internal/telemetry"
)

func TestMetrics_Record(t *testing.T) {
	t.Parallel()

	provider := telemetry.NewProvider(prometheus.NewRegistry())
	m := provider.Metrics

	m.ObserveExtraction("found", 200*time.Millisecond)
	m.ObserveExtraction("found", 300*time.Millisecond)
	m.ObserveDelivery("sent", time.Second)
	done := m.RunStarted(telemetry.KindCampaign)

	assert.InDelta(t, 2, testutil.ToFloat64(m.DomainsProcessed.WithLabelValues("found")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ActiveRuns.WithLabelValues(telemetry.KindCampaign)), 0)
	done()
	assert.InDelta(t, 0, testutil.ToFloat64(m.ActiveRuns.WithLabelValues(telemetry.KindCampaign)), 0)

	rec := httptest.NewRecorder()
	provider.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "outreach_messages_total")
}

func TestMetrics_NilIsSafe(t *testing.T) {
	t.Parallel()

	var m *telemetry.Metrics
	m.ObserveExtraction("error", time.Second)
	m.ObserveDelivery("failed", time.Second)
	m.SetQueueDepth(3)
	m.QuotaRejected("extract")
	m.EventPublished("job_progress")
	m.RunStarted(telemetry.KindExtraction)()
}
