// Package clob talks to the prediction-market central limit order book:
// order-book snapshots and immediate-or-cancel order submission.
package clob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"polyCopyBot/internal/domain"
	"polyCopyBot/internal/noncemgr"
	"polyCopyBot/internal/ports"
	"polyCopyBot/internal/ratelimit"
)

const defaultBaseURL = "https://clob.polymarket.com"

// Client implements ports.VenueClient over the CLOB REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	logger     ports.Logger
	apiKey     string
	nonces     *noncemgr.Sequencer
}

// Config holds configuration for the CLOB client.
type Config struct {
	BaseURL string
	APIKey  string        // Venue API credential; required for order submission
	Timeout time.Duration // Per-request timeout; default 10s
	Limiter *ratelimit.Limiter
	Logger  ports.Logger

	// NonceFetch seeds the order nonce sequence, typically from the chain
	// node's pending transaction count. Nil starts the sequence at zero.
	NonceFetch noncemgr.FetchFunc
}

// New creates a CLOB client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for CLOB client")
	}
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("rate limiter is required for CLOB client")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cfg.APIKey == "" {
		cfg.Logger.Warn(context.Background(), "CLOB API key is empty; order submission will be rejected by the venue")
	}
	fetch := cfg.NonceFetch
	if fetch == nil {
		fetch = func(ctx context.Context) (uint64, error) { return 0, nil }
	}
	nonces, err := noncemgr.NewSequencer(fetch)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    cfg.Limiter,
		logger:     cfg.Logger,
		apiKey:     cfg.APIKey,
		nonces:     nonces,
	}, nil
}

// bookLevel is one price level as the venue serializes it.
type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookResponse struct {
	Bids []bookLevel `json:"bids"`
	Asks []bookLevel `json:"asks"`
}

// GetOrderBook fetches the book for an outcome token and normalizes both
// sides to best price first.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*domain.OrderBook, error) {
	reqURL := fmt.Sprintf("%s/book?token_id=%s", c.baseURL, url.QueryEscape(tokenID))

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var raw bookResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding order book response: %w", err)
	}

	book := &domain.OrderBook{
		TokenID:   tokenID,
		Bids:      parseLevels(raw.Bids),
		Asks:      parseLevels(raw.Asks),
		Timestamp: time.Now().UTC(),
	}
	// The venue's level ordering is not part of its contract; enforce ours.
	sort.Slice(book.Bids, func(i, j int) bool { return book.Bids[i].Price > book.Bids[j].Price })
	sort.Slice(book.Asks, func(i, j int) bool { return book.Asks[i].Price < book.Asks[j].Price })
	return book, nil
}

func parseLevels(raw []bookLevel) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, l := range raw {
		price, err := strconv.ParseFloat(l.Price, 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseFloat(l.Size, 64)
		if err != nil {
			continue
		}
		if price <= 0 || size <= 0 {
			continue
		}
		levels = append(levels, domain.PriceLevel{Price: price, Size: size})
	}
	return levels
}

// orderPayload is the submission body. FAK (fill-and-kill) gives the
// immediate-or-cancel semantics the fill loop relies on.
type orderPayload struct {
	TokenID   string  `json:"token_id"`
	Side      string  `json:"side"`
	Size      float64 `json:"size"`
	Price     float64 `json:"price"`
	OrderType string  `json:"order_type"`
	Nonce     uint64  `json:"nonce"`
}

type orderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
}

// PlaceOrder submits an immediate-or-cancel order. Venue rejections come
// back as an error carrying the venue's message so the caller can classify
// it.
func (c *Client) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResult, error) {
	op := "PlaceOrder"
	if req.Quantity <= 0 || req.Price <= 0 {
		return nil, fmt.Errorf("%w: order quantity and price must be positive", ports.ErrInvalidRequest)
	}

	nonce, err := c.nonces.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("claiming order nonce: %w", err)
	}

	payload, err := json.Marshal(orderPayload{
		TokenID:   req.TokenID,
		Side:      string(req.Side),
		Size:      req.Quantity,
		Price:     req.Price,
		OrderType: "FAK",
		Nonce:     nonce,
	})
	if err != nil {
		c.nonces.MarkFailed()
		return nil, fmt.Errorf("encoding order payload: %w", err)
	}

	var body []byte
	err = c.limiter.Do(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/order", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("%w: building order request: %v", ports.ErrInvalidRequest, err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("%w: order request failed: %v", ports.ErrConnectionFailed, err)
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading order response: %w", err)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: order endpoint throttled us", ports.ErrRateLimited)
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("order endpoint returned status %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		c.nonces.MarkFailed()
		return nil, err
	}

	var raw orderResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		c.nonces.MarkFailed()
		return nil, fmt.Errorf("decoding order response: %w", err)
	}

	result := &ports.OrderResult{Success: raw.Success, OrderID: raw.OrderID, Status: raw.Status}
	if !raw.Success {
		c.nonces.MarkFailed()
		msg := raw.ErrorMsg
		if msg == "" {
			msg = "order rejected without message"
		}
		return result, fmt.Errorf("%w: %s", ports.ErrOrderPlacementFailed, msg)
	}
	c.nonces.MarkCompleted()

	c.logger.Debug(ctx, op+" accepted", map[string]interface{}{
		"tokenID": req.TokenID,
		"side":    req.Side,
		"size":    req.Quantity,
		"price":   req.Price,
		"orderID": raw.OrderID,
	})
	return result, nil
}

// get performs a rate-limited GET returning the raw body.
func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	var body []byte
	err := c.limiter.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return fmt.Errorf("%w: building request: %v", ports.ErrInvalidRequest, err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: request failed: %v", ports.ErrConnectionFailed, err)
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ports.ErrNotFound, strings.TrimSpace(string(body)))
		}
		if resp.StatusCode != http.StatusOK {
			// Error payloads carry the venue's message ("No orderbook
			// exists", ...); keep it for classification upstream.
			return fmt.Errorf("venue returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}
