package provider_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/concerthall/reservations/internal/config"
	"github.com/concerthall/reservations/internal/observability"
	"github.com/concerthall/reservations/internal/provider"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) config.Provider {
	return config.Provider{
		Enabled:      true,
		BaseURL:      baseURL,
		APIKey:       "test-key",
		Timeout:      time.Second,
		MaxAttempts:  3,
		BackoffDelay: time.Millisecond,
	}
}

type memoryGate struct {
	remaining time.Duration
	blockedAt time.Duration
}

func (g *memoryGate) Blocked(ctx context.Context) (time.Duration, error) {
	return g.remaining, nil
}

func (g *memoryGate) Block(ctx context.Context, d time.Duration) error {
	g.blockedAt = d
	return nil
}

func TestClient_RetriesConnectionFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"eventId":"evt-1","availableTickets":7,"capacity":100,"status":"AVAILABLE"}`))
	}))
	defer srv.Close()

	client := provider.NewClient(testConfig(srv.URL), nil, observability.NewLogger())

	avail, err := client.CheckAvailability(context.Background(), "evt-1")
	require.NoError(t, err)
	require.EqualValues(t, 7, avail.AvailableTickets)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestClient_ConnectionFailureAfterBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		hj := w.(http.Hijacker)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		conn.Close()
	}))
	defer srv.Close()

	client := provider.NewClient(testConfig(srv.URL), nil, observability.NewLogger())

	_, err := client.GetEvent(context.Background(), "evt-1")
	var connErr *provider.ConnectionError
	require.ErrorAs(t, err, &connErr)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestClient_APIErrorsAreNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"EVENT_NOT_FOUND","message":"no such event"}`))
	}))
	defer srv.Close()

	client := provider.NewClient(testConfig(srv.URL), nil, observability.NewLogger())

	_, err := client.GetEvent(context.Background(), "missing")
	var apiErr *provider.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "EVENT_NOT_FOUND", apiErr.Code)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestClient_RateLimitBlocksGate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"RATE_LIMITED","message":"slow down"}`))
	}))
	defer srv.Close()

	gate := &memoryGate{}
	client := provider.NewClient(testConfig(srv.URL), gate, observability.NewLogger())

	_, err := client.ListEvents(context.Background(), nil)
	var rlErr *provider.RateLimitError
	require.ErrorAs(t, err, &rlErr)
	require.Equal(t, 2*time.Minute, rlErr.RetryAfter)
	require.Equal(t, 2*time.Minute, gate.blockedAt)
}

func TestClient_RateLimitDefaultsToOneHour(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := provider.NewClient(testConfig(srv.URL), nil, observability.NewLogger())

	_, err := client.ListVenues(context.Background(), nil)
	var rlErr *provider.RateLimitError
	require.ErrorAs(t, err, &rlErr)
	require.Equal(t, time.Hour, rlErr.RetryAfter)
}

func TestClient_ActiveCooldownFailsFast(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	gate := &memoryGate{remaining: 10 * time.Minute}
	client := provider.NewClient(testConfig(srv.URL), gate, observability.NewLogger())

	_, err := client.ListEvents(context.Background(), nil)
	var rlErr *provider.RateLimitError
	require.ErrorAs(t, err, &rlErr)
	require.Equal(t, 10*time.Minute, rlErr.RetryAfter)
	require.Zero(t, atomic.LoadInt32(&calls), "gated call must not reach the provider")
}

func TestClient_SendsAuthAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.Equal(t, "/events", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"id":"evt-1","venueId":"ven-1","name":"Jazz Night","eventDateTime":"2026-10-01T20:00:00Z","price":{"amount":"49.90","currency":"USD"},"capacity":300,"availableTickets":12,"status":"AVAILABLE"}]}`))
	}))
	defer srv.Close()

	client := provider.NewClient(testConfig(srv.URL), nil, observability.NewLogger())

	events, err := client.ListEvents(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "evt-1", events[0].ID)
	require.Equal(t, "49.9", events[0].Price.Amount.String())
	require.Equal(t, provider.StatusAvailable, events[0].Status)
}
