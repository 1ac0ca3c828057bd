package dataapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polyCopyBot/internal/ports"
	"polyCopyBot/internal/ratelimit"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	limiter, err := ratelimit.New(time.Millisecond, 4)
	require.NoError(t, err)
	c, err := New(Config{BaseURL: baseURL, Limiter: limiter, Logger: &mockLogger{}})
	require.NoError(t, err)
	return c
}

func TestNewValidation(t *testing.T) {
	limiter, err := ratelimit.New(time.Millisecond, 1)
	require.NoError(t, err)

	_, err = New(Config{Limiter: limiter})
	assert.Error(t, err)

	_, err = New(Config{Logger: &mockLogger{}})
	assert.Error(t, err)
}

func TestRecentActivityMapsEntries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/activity", r.URL.Path)
		assert.Equal(t, "0xtrader", r.URL.Query().Get("user"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"type":"TRADE","timestamp":1756600000,"conditionId":"m1","asset":"t1",
			 "size":200,"usdcSize":104,"price":0.52,"side":"BUY","outcomeIndex":0,
			 "transactionHash":"0xaaa"},
			{"type":"REDEEM","timestamp":"1756600010","conditionId":"m2","asset":"t2",
			 "size":10,"usdcSize":0,"price":0.1,"side":"SELL","outcomeIndex":1,
			 "transactionHash":"0xbbb"}
		]`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	entries, err := c.RecentActivity(context.Background(), "0xtrader")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	first := entries[0]
	assert.Equal(t, ports.ActivityTypeTrade, first.Type)
	assert.Equal(t, "m1", first.MarketID)
	assert.Equal(t, "t1", first.TokenID)
	assert.InDelta(t, 104, first.SizeUSD, 1e-9)
	assert.InDelta(t, 0.52, first.Price, 1e-9)
	assert.Equal(t, "0xaaa", first.TxHash)
	assert.Equal(t, time.Unix(1756600000, 0).UTC(), first.Timestamp)

	// Numeric-string timestamps parse the same as numbers.
	assert.Equal(t, time.Unix(1756600010, 0).UTC(), entries[1].Timestamp)
	// Feed omitted the notional; Notional derives it.
	assert.InDelta(t, 1, entries[1].Notional(), 1e-9)
}

func TestRecentActivityRFC3339Timestamp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"type":"TRADE","timestamp":"2026-08-30T12:00:00Z",
			"conditionId":"m1","asset":"t1","size":1,"usdcSize":1,"price":0.5,
			"side":"BUY","outcomeIndex":0,"transactionHash":"0xaaa"}]`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	entries, err := c.RecentActivity(context.Background(), "0xtrader")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC), entries[0].Timestamp)
}

func TestRecentActivityNotFoundIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	entries, err := c.RecentActivity(context.Background(), "0xnobody")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRecentActivityRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.RecentActivity(context.Background(), "0xtrader")
	assert.ErrorIs(t, err, ports.ErrRateLimited)
}

func TestRecentActivityServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.RecentActivity(context.Background(), "0xtrader")
	assert.Error(t, err)
}
