// Package dataapi reads a counterparty's recent trade activity from the
// Polymarket data API.
package dataapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"polyCopyBot/internal/ports"
	"polyCopyBot/internal/ratelimit"
)

const defaultBaseURL = "https://data-api.polymarket.com"

// Client implements ports.ActivityFeed against the data API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	logger     ports.Logger
}

// Config holds configuration for the data-API client.
type Config struct {
	BaseURL string        // Default: the public data API
	Timeout time.Duration // Per-request timeout; default 10s
	Limiter *ratelimit.Limiter
	Logger  ports.Logger
}

// New creates a data-API client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for data-api client")
	}
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("rate limiter is required for data-api client")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    cfg.Limiter,
		logger:     cfg.Logger,
	}, nil
}

// activityResponse mirrors one entry of the upstream activity payload.
type activityResponse struct {
	Type            string        `json:"type"`
	Timestamp       flexTimestamp `json:"timestamp"`
	ConditionID     string        `json:"conditionId"`
	Asset           string        `json:"asset"`
	Size            float64       `json:"size"`
	UsdcSize        float64       `json:"usdcSize"`
	Price           float64       `json:"price"`
	Side            string        `json:"side"`
	OutcomeIndex    int           `json:"outcomeIndex"`
	TransactionHash string        `json:"transactionHash"`
}

// flexTimestamp accepts the two shapes the feed emits: epoch seconds as a
// number (or numeric string) and an ISO-8601 string.
type flexTimestamp struct {
	time.Time
}

func (t *flexTimestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		t.Time = time.Unix(int64(secs), 0).UTC()
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("unrecognized timestamp %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}

// RecentActivity fetches the trader's recent activity. A 404 means the feed
// has no data for this trader yet and yields an empty result, not an error.
func (c *Client) RecentActivity(ctx context.Context, trader string) ([]ports.ActivityEntry, error) {
	op := "RecentActivity"
	reqURL := fmt.Sprintf("%s/activity?user=%s", c.baseURL, url.QueryEscape(trader))

	var body []byte
	err := c.limiter.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return fmt.Errorf("%w: building activity request: %v", ports.ErrInvalidRequest, err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: activity request failed: %v", ports.ErrConnectionFailed, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			body = nil
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: activity endpoint throttled us", ports.ErrRateLimited)
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("activity endpoint returned status %d", resp.StatusCode)
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading activity response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if body == nil {
		c.logger.Debug(ctx, op+": no activity data for trader yet", map[string]interface{}{"trader": trader})
		return []ports.ActivityEntry{}, nil
	}

	var raw []activityResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding activity response: %w", err)
	}

	entries := make([]ports.ActivityEntry, 0, len(raw))
	for _, a := range raw {
		entries = append(entries, ports.ActivityEntry{
			Type:         a.Type,
			Timestamp:    a.Timestamp.Time,
			MarketID:     a.ConditionID,
			TokenID:      a.Asset,
			Size:         a.Size,
			SizeUSD:      a.UsdcSize,
			Price:        a.Price,
			Side:         a.Side,
			OutcomeIndex: a.OutcomeIndex,
			TxHash:       a.TransactionHash,
		})
	}
	return entries, nil
}
