package clob

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polyCopyBot/internal/domain"
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
	c, err := New(Config{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Limiter: limiter,
		Logger:  &mockLogger{},
		NonceFetch: func(ctx context.Context) (uint64, error) {
			return 5, nil
		},
	})
	require.NoError(t, err)
	return c
}

func TestGetOrderBookSortsLevels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/book", r.URL.Path)
		assert.Equal(t, "t1", r.URL.Query().Get("token_id"))
		// Levels arrive unsorted and as strings.
		_, _ = w.Write([]byte(`{
			"bids":[{"price":"0.48","size":"10"},{"price":"0.49","size":"20"}],
			"asks":[{"price":"0.53","size":"30"},{"price":"0.51","size":"40"},
			        {"price":"bogus","size":"1"},{"price":"0.52","size":"0"}]
		}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	book, err := c.GetOrderBook(context.Background(), "t1")
	require.NoError(t, err)

	require.Len(t, book.Bids, 2)
	assert.InDelta(t, 0.49, book.Bids[0].Price, 1e-9, "highest bid first")

	// Unparseable and zero-size levels are dropped.
	require.Len(t, book.Asks, 2)
	assert.InDelta(t, 0.51, book.Asks[0].Price, 1e-9, "lowest ask first")

	best, ok := book.BestAsk()
	require.True(t, ok)
	assert.InDelta(t, 40, best.Size, 1e-9)
}

func TestGetOrderBookNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "No orderbook exists for this token", http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.GetOrderBook(context.Background(), "t1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrNotFound)
	assert.Contains(t, err.Error(), "No orderbook exists")
}

func TestPlaceOrderSuccess(t *testing.T) {
	var payloads []orderPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/order", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var p orderPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		payloads = append(payloads, p)

		_, _ = w.Write([]byte(`{"success":true,"orderID":"o1","status":"matched"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	req := ports.OrderRequest{TokenID: "t1", Side: domain.Buy, Quantity: 100, Price: 0.5}

	res, err := c.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "o1", res.OrderID)

	_, err = c.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, payloads, 2)
	assert.Equal(t, "FAK", payloads[0].OrderType)
	assert.Equal(t, "BUY", payloads[0].Side)
	// Nonce sequence seeded from the fetcher and strictly increasing.
	assert.Equal(t, uint64(5), payloads[0].Nonce)
	assert.Equal(t, uint64(6), payloads[1].Nonce)
}

func TestPlaceOrderRejectionCarriesVenueMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"errorMsg":"market is not accepting orders"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	res, err := c.PlaceOrder(context.Background(), ports.OrderRequest{
		TokenID: "t1", Side: domain.Buy, Quantity: 100, Price: 0.5,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrOrderPlacementFailed)
	assert.Contains(t, err.Error(), "not accepting orders")
	require.NotNil(t, res)
	assert.False(t, res.Success)
}

func TestPlaceOrderValidatesRequest(t *testing.T) {
	c := newTestClient(t, "http://unused")

	_, err := c.PlaceOrder(context.Background(), ports.OrderRequest{TokenID: "t1", Side: domain.Buy, Quantity: 0, Price: 0.5})
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)

	_, err = c.PlaceOrder(context.Background(), ports.OrderRequest{TokenID: "t1", Side: domain.Buy, Quantity: 1, Price: 0})
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestPlaceOrderRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.PlaceOrder(context.Background(), ports.OrderRequest{
		TokenID: "t1", Side: domain.Buy, Quantity: 100, Price: 0.5,
	})
	assert.ErrorIs(t, err, ports.ErrRateLimited)
}
