package extraction_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/outreach/internal/extraction"
)

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		html       string
		handle     string
		confidence float64
	}{
		{
			name:       "profile link",
			html:       `<html><body><a href="https://www.instagram.com/acme_co/">IG</a></body></html>`,
			handle:     "@acme_co",
			confidence: extraction.ConfidenceProfileLink,
		},
		{
			name:       "profile link wins over earlier text mention",
			html:       `<p>@textmention</p><a href="https://instagram.com/linked.brand">IG</a>`,
			handle:     "@linked.brand",
			confidence: extraction.ConfidenceProfileLink,
		},
		{
			name:       "reserved link segment skipped",
			html:       `<a href="https://instagram.com/explore/">x</a><a href="https://instagram.com/realshop">y</a>`,
			handle:     "@realshop",
			confidence: extraction.ConfidenceProfileLink,
		},
		{
			name:       "url in script text",
			html:       `<script>var u = "https://instagram.com/ScriptShop";</script>`,
			handle:     "@scriptshop",
			confidence: extraction.ConfidencePatternMatch,
		},
		{
			name:       "at mention",
			html:       `<p>Follow us @bakery_life for updates</p>`,
			handle:     "@bakery_life",
			confidence: extraction.ConfidencePatternMatch,
		},
		{
			name:       "app deep link",
			html:       `<meta content="ig://user?username=deeplinked">`,
			handle:     "@deeplinked",
			confidence: extraction.ConfidencePatternMatch,
		},
		{
			name:       "url pattern outranks earlier mention",
			html:       `<p>@firstmention</p><p>instagram.com/urlbrand</p>`,
			handle:     "@urlbrand",
			confidence: extraction.ConfidencePatternMatch,
		},
		{
			name:       "too short handle rejected",
			html:       `<p>hi @ab there</p>`,
			handle:     "",
			confidence: 0,
		},
		{
			name:       "stylesheet at-rules ignored",
			html:       `<style>@media screen { body { color: red } }</style><p>nothing here</p>`,
			handle:     "",
			confidence: 0,
		},
		{
			name:       "no handle",
			html:       `<html><body><h1>Welcome</h1></body></html>`,
			handle:     "",
			confidence: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := extraction.Detect([]byte(tt.html))
			require.NoError(t, err)

			assert.Equal(t, tt.handle, got.Handle)
			assert.InDelta(t, tt.confidence, got.Confidence, 0.001)
			assert.Equal(t, tt.handle != "", got.Found())
		})
	}
}

func TestDetect_HandleLengthBounds(t *testing.T) {
	t.Parallel()

	longest := "abcdefghijklmnopqrstuvwxyz012" // 29
	tooLong := longest + "3"

	got, err := extraction.Detect([]byte(`<a href="https://instagram.com/` + longest + `">x</a>`))
	require.NoError(t, err)
	assert.Equal(t, "@"+longest, got.Handle)

	got, err = extraction.Detect([]byte(`<a href="https://instagram.com/` + tooLong + `">x</a>`))
	require.NoError(t, err)
	assert.False(t, got.Found())
}
