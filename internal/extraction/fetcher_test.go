package extraction_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/outreach/internal/extraction"
)

func TestHTTPFetcher_Fetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "outreach-test/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := extraction.NewHTTPFetcher(extraction.FetcherConfig{Timeout: time.Second, UserAgent: "outreach-test/1.0"})

	body, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", string(body))
}

func TestHTTPFetcher_NonSuccessStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := extraction.NewHTTPFetcher(extraction.FetcherConfig{Timeout: time.Second})

	_, err := f.Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, extraction.ErrUnexpectedStatus)
}

func TestHTTPFetcher_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := extraction.NewHTTPFetcher(extraction.FetcherConfig{Timeout: 50 * time.Millisecond})

	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestHTTPFetcher_BodyLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 1024)))
	}))
	defer srv.Close()

	f := extraction.NewHTTPFetcher(extraction.FetcherConfig{Timeout: time.Second, MaxBodyBytes: 100})

	body, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, body, 100)
}
