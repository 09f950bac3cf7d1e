package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://CDN.example.com/path", "cdn.example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, SanitizeHost(tc.input))
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	require.NotNil(t, tasksTotal)
	require.NotNil(t, httpRequestsTotal)
}

func TestObserveHelpers(t *testing.T) {
	ObserveTask("catch_up", "succeeded", time.Second)
	ObserveTask("catch_up", "succeeded", 0)
	require.InDelta(t, 2, testutil.ToFloat64(tasksTotal.WithLabelValues("catch_up", "succeeded")), 0)

	ObservePostIngested("sidecar")
	require.InDelta(t, 1, testutil.ToFloat64(postsIngestedTotal.WithLabelValues("sidecar")), 0)

	ObserveMediaBytes("thumb", 0)
	ObserveMediaBytes("thumb", 512)
	require.InDelta(t, 512, testutil.ToFloat64(mediaBytesTotal.WithLabelValues("thumb")), 0)

	ObserveAutoArchiveRun("archived")
	require.InDelta(t, 1, testutil.ToFloat64(autoArchiveRunsTotal.WithLabelValues("archived")), 0)

	IncActiveTasks()
	IncActiveTasks()
	DecActiveTasks()
	require.InDelta(t, 1, testutil.ToFloat64(activeTasks), 0)
	DecActiveTasks()
}
