package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLimiter struct {
	calls atomic.Int32
}

func (l *countingLimiter) Acquire(ctx context.Context) error {
	l.calls.Add(1)
	return ctx.Err()
}

func newTestFetcher(limiter Acquirer) (*Fetcher, *[]time.Duration) {
	fetcher := New(limiter, Options{MaxRetries: 3, RateLimitPause: time.Minute})
	waits := &[]time.Duration{}
	fetcher.sleep = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return fetcher, waits
}

func statusSequence(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(requests.Add(1))
		status := statuses[len(statuses)-1]
		if n <= len(statuses) {
			status = statuses[n-1]
		}
		w.WriteHeader(status)
		if status == http.StatusOK {
			w.Write([]byte("<html>ok</html>"))
		}
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func TestFetchRecoversAfterServerErrors(t *testing.T) {
	server, requests := statusSequence(t, 500, 500, 200)
	limiter := &countingLimiter{}
	fetcher, waits := newTestFetcher(limiter)

	body, err := fetcher.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", string(body))
	assert.Equal(t, int32(3), requests.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *waits)
	assert.Equal(t, int32(1), limiter.calls.Load())
}

func TestFetchRealBackoff(t *testing.T) {
	if testing.Short() {
		t.Skip("sleeps for the real backoff intervals")
	}
	server, _ := statusSequence(t, 500, 500, 200)
	fetcher := New(&countingLimiter{}, Options{MaxRetries: 3})

	start := time.Now()
	_, err := fetcher.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 3*time.Second)
}

func TestFetchExhaustsRetries(t *testing.T) {
	server, requests := statusSequence(t, 503)
	fetcher, waits := newTestFetcher(&countingLimiter{})

	_, err := fetcher.Fetch(context.Background(), server.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTargetUnreachable))
	assert.Contains(t, err.Error(), "all 3 attempts failed")
	assert.Equal(t, int32(3), requests.Load())
	assert.Len(t, *waits, 2)
}

func TestFetchNotFound(t *testing.T) {
	server, requests := statusSequence(t, 404)
	fetcher, _ := newTestFetcher(&countingLimiter{})

	_, err := fetcher.Fetch(context.Background(), server.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTargetRejected))
	assert.Contains(t, err.Error(), "invalid search criteria")
	assert.Equal(t, int32(3), requests.Load())
}

func TestFetchForbidden(t *testing.T) {
	server, _ := statusSequence(t, 403)
	fetcher, _ := newTestFetcher(&countingLimiter{})

	_, err := fetcher.Fetch(context.Background(), server.URL)
	assert.True(t, errors.Is(err, ErrTargetRejected))
	assert.Equal(t, "target_rejected", Kind(err))
}

func TestFetchRateLimitedPauses(t *testing.T) {
	server, _ := statusSequence(t, 429, 200)
	fetcher, waits := newTestFetcher(&countingLimiter{})

	_, err := fetcher.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Minute + time.Second}, *waits)
}

func TestFetchRateLimitedOnLastAttempt(t *testing.T) {
	server, _ := statusSequence(t, 429)
	fetcher, waits := newTestFetcher(&countingLimiter{})

	_, err := fetcher.Fetch(context.Background(), server.URL)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, []time.Duration{time.Minute + time.Second, time.Minute + 2*time.Second}, *waits)
}

func TestFetchUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	address := server.URL
	server.Close()
	fetcher, _ := newTestFetcher(&countingLimiter{})

	_, err := fetcher.Fetch(context.Background(), address)
	assert.True(t, errors.Is(err, ErrTargetUnreachable))
}

func TestFetchSendsBrowserHeaders(t *testing.T) {
	var header http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
	}))
	defer server.Close()
	fetcher := New(&countingLimiter{}, Options{UserAgents: []string{"test-agent"}})

	_, err := fetcher.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "test-agent", header.Get("User-Agent"))
	assert.Equal(t, "de-DE,de;q=0.9,en-US;q=0.8,en;q=0.7", header.Get("Accept-Language"))
	assert.Equal(t, "navigate", header.Get("Sec-Fetch-Mode"))
}

func TestFetchCancelledContext(t *testing.T) {
	server, requests := statusSequence(t, 200)
	fetcher, _ := newTestFetcher(&countingLimiter{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fetcher.Fetch(ctx, server.URL)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), requests.Load())
}

func TestResolveURL(t *testing.T) {
	resolved, err := ResolveURL("https://www.example.de/", "/s-fahrraeder/c217")
	require.NoError(t, err)
	assert.Equal(t, "https://www.example.de/s-fahrraeder/c217", resolved)

	resolved, err = ResolveURL("http://localhost:8080/base", "s-laptop/c278?page=2")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/base/s-laptop/c278?page=2", resolved)

	resolved, err = ResolveURL("", "https://other.example/s-x")
	require.NoError(t, err)
	assert.Equal(t, "https://other.example/s-x", resolved)

	_, err = ResolveURL("not a url", "s-x")
	assert.True(t, errors.Is(err, ErrTargetRejected))
}

func TestResolveReference(t *testing.T) {
	page := "https://www.example.de/s-fahrraeder/c217?page=2"
	assert.Equal(t, "https://www.example.de/s-anzeige/rad/3101", ResolveReference(page, "/s-anzeige/rad/3101"))
	assert.Equal(t, "https://cdn.example.de/a", ResolveReference(page, "https://cdn.example.de/a"))
}
