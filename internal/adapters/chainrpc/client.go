// Package chainrpc implements the chain client over JSON-RPC: balance and
// transaction reads over HTTP, pending-transaction notifications over a
// websocket subscription.
package chainrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"polyCopyBot/internal/ports"
	"polyCopyBot/internal/ratelimit"
)

const (
	defaultTimeout              = 10 * time.Second
	defaultReconnectDelay       = 5 * time.Second
	defaultMaxReconnectAttempts = 10

	nativeDecimals = 1e18
	tokenDecimals  = 1e6 // USDC on Polygon

	// balanceOf(address) selector.
	balanceOfSelector = "0x70a08231"
)

// Client implements ports.ChainClient against an EVM JSON-RPC node.
type Client struct {
	httpURL    string
	wsURL      string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	logger     ports.Logger

	reconnectDelay       time.Duration
	maxReconnectAttempts int

	mu              sync.Mutex
	nextID          int
	defaultGasPrice *big.Int
}

// Config holds configuration for the chain client.
type Config struct {
	HTTPURL string
	WSURL   string // Optional; empty disables the pending-tx subscription
	Timeout time.Duration
	Limiter *ratelimit.Limiter
	Logger  ports.Logger

	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// New creates a chain client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for chain client")
	}
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("rate limiter is required for chain client")
	}
	if cfg.HTTPURL == "" {
		return nil, fmt.Errorf("%w: chain RPC HTTP URL is required", ports.ErrConfigurationError)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxReconnectAttempts
	}
	return &Client{
		httpURL:              cfg.HTTPURL,
		wsURL:                cfg.WSURL,
		httpClient:           &http.Client{Timeout: timeout},
		limiter:              cfg.Limiter,
		logger:               cfg.Logger,
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
		nextID:               1,
	}, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one rate-limited JSON-RPC request and unmarshals the result.
func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.mu.Unlock()

	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id})
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}

	var body []byte
	err = c.limiter.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.httpURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("%w: building %s request: %v", ports.ErrInvalidRequest, method, err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %s request failed: %v", ports.ErrConnectionFailed, method, err)
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading %s response: %w", method, err)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: node throttled %s", ports.ErrRateLimited, method)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("node returned status %d for %s", resp.StatusCode, method)
		}
		return nil
	})
	if err != nil {
		return err
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("node error for %s (code %d): %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
	}
	return nil
}

// rpcTransaction is the subset of eth_getTransactionByHash we read.
type rpcTransaction struct {
	Hash         string `json:"hash"`
	To           string `json:"to"`
	GasPrice     string `json:"gasPrice"`
	MaxFeePerGas string `json:"maxFeePerGas"`
}

// TransactionByHash resolves a transaction by hash. A null result means the
// node does not know the hash.
func (c *Client) TransactionByHash(ctx context.Context, txHash string) (*ports.PendingTransaction, error) {
	var raw *rpcTransaction
	if err := c.call(ctx, "eth_getTransactionByHash", []interface{}{txHash}, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: transaction %s unknown to node", ports.ErrNotFound, txHash)
	}

	tx := &ports.PendingTransaction{
		Hash: raw.Hash,
		To:   strings.ToLower(raw.To),
	}
	// Typed transactions report maxFeePerGas instead of gasPrice.
	if gas, ok := parseHexBig(raw.GasPrice); ok {
		tx.GasPrice = gas
	} else if gas, ok := parseHexBig(raw.MaxFeePerGas); ok {
		tx.GasPrice = gas
	}
	return tx, nil
}

// TransactionConfirmed reports whether a receipt exists for the hash.
func (c *Client) TransactionConfirmed(ctx context.Context, txHash string) (bool, error) {
	var receipt *struct {
		BlockNumber string `json:"blockNumber"`
	}
	if err := c.call(ctx, "eth_getTransactionReceipt", []interface{}{txHash}, &receipt); err != nil {
		return false, err
	}
	return receipt != nil && receipt.BlockNumber != "", nil
}

// NativeBalance returns the address's gas-currency balance in whole units.
func (c *Client) NativeBalance(ctx context.Context, address string) (float64, error) {
	var hexBalance string
	if err := c.call(ctx, "eth_getBalance", []interface{}{address, "latest"}, &hexBalance); err != nil {
		return 0, err
	}
	wei, ok := parseHexBig(hexBalance)
	if !ok {
		return 0, fmt.Errorf("unparseable balance %q for %s", hexBalance, address)
	}
	return bigToFloat(wei, nativeDecimals), nil
}

// TokenBalance returns the address's ERC-20 balance in whole token units.
func (c *Client) TokenBalance(ctx context.Context, tokenContract, address string) (float64, error) {
	data := balanceOfSelector + leftPadAddress(address)
	callObj := map[string]string{"to": tokenContract, "data": data}

	var hexBalance string
	if err := c.call(ctx, "eth_call", []interface{}{callObj, "latest"}, &hexBalance); err != nil {
		return 0, err
	}
	raw, ok := parseHexBig(hexBalance)
	if !ok {
		return 0, fmt.Errorf("unparseable token balance %q for %s", hexBalance, address)
	}
	return bigToFloat(raw, tokenDecimals), nil
}

// PendingNonce returns the next sequence number for the address, counting
// pending transactions.
func (c *Client) PendingNonce(ctx context.Context, address string) (uint64, error) {
	var hexNonce string
	if err := c.call(ctx, "eth_getTransactionCount", []interface{}{address, "pending"}, &hexNonce); err != nil {
		return 0, err
	}
	nonce, ok := parseHexBig(hexNonce)
	if !ok {
		return 0, fmt.Errorf("unparseable nonce %q for %s", hexNonce, address)
	}
	return nonce.Uint64(), nil
}

// SetDefaultGasPrice overrides the gas price used for subsequent
// submissions.
func (c *Client) SetDefaultGasPrice(ctx context.Context, wei *big.Int) error {
	if wei == nil || wei.Sign() <= 0 {
		return fmt.Errorf("%w: gas price must be positive", ports.ErrInvalidRequest)
	}
	c.mu.Lock()
	c.defaultGasPrice = new(big.Int).Set(wei)
	c.mu.Unlock()
	c.logger.Debug(ctx, "Default gas price updated", map[string]interface{}{"wei": wei.String()})
	return nil
}

// DefaultGasPrice returns the current gas price override, or nil when the
// node's own estimate applies.
func (c *Client) DefaultGasPrice() *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.defaultGasPrice == nil {
		return nil
	}
	return new(big.Int).Set(c.defaultGasPrice)
}

// subscriptionNotification carries one eth_subscription push.
type subscriptionNotification struct {
	Method string `json:"method"`
	Params struct {
		Result string `json:"result"`
	} `json:"params"`
}

// SubscribePendingTransactions opens a websocket subscription to the node's
// pending transaction feed. Dropped connections are retried with a fixed
// delay up to the attempt bound; after that errHandler gets the final error.
func (c *Client) SubscribePendingTransactions(ctx context.Context, handler func(txHash string), errHandler func(error)) (func(), error) {
	if c.wsURL == "" {
		return nil, fmt.Errorf("%w: no websocket RPC URL configured", ports.ErrConfigurationError)
	}

	conn, err := c.dialAndSubscribe(ctx)
	if err != nil {
		return nil, err
	}

	sub := &subscription{conn: conn}
	stopCh := make(chan struct{})
	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			close(stopCh)
			// Unblock any in-flight read.
			sub.close()
		})
	}

	go c.readLoop(ctx, sub, handler, errHandler, stopCh)
	return stop, nil
}

// subscription tracks the live websocket connection across reconnects so the
// stop function can close it from another goroutine.
type subscription struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *subscription) current() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *subscription) set(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (c *Client) dialAndSubscribe(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", ports.ErrConnectionFailed, c.wsURL, err)
	}

	sub := rpcRequest{JSONRPC: "2.0", Method: "eth_subscribe", Params: []interface{}{"newPendingTransactions"}, ID: 1}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: subscribing to pending transactions: %v", ports.ErrConnectionFailed, err)
	}

	// The first frame acknowledges the subscription.
	var ack rpcResponse
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: reading subscription ack: %v", ports.ErrConnectionFailed, err)
	}
	if ack.Error != nil {
		conn.Close()
		return nil, fmt.Errorf("node refused subscription (code %d): %s", ack.Error.Code, ack.Error.Message)
	}
	return conn, nil
}

// readLoop pumps notifications until stop. On read failure it reconnects
// with a fixed delay up to the attempt bound; only consecutive failures
// exhaust it.
func (c *Client) readLoop(ctx context.Context, sub *subscription, handler func(string), errHandler func(error), stopCh <-chan struct{}) {
	defer sub.close()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		conn := sub.current()
		if conn == nil {
			return
		}

		var note subscriptionNotification
		if err := conn.ReadJSON(&note); err != nil {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}

			sub.close()
			c.logger.Warn(ctx, "Pending-tx stream dropped, reconnecting", map[string]interface{}{
				"error": err.Error(),
			})
			next, ok := c.reconnect(ctx, errHandler, stopCh)
			if !ok {
				return
			}
			sub.set(next)
			continue
		}

		if note.Method != "eth_subscription" || note.Params.Result == "" {
			continue
		}
		handler(note.Params.Result)
	}
}

// reconnect redials until a subscription is re-established, a stop arrives,
// or the attempt bound is exhausted.
func (c *Client) reconnect(ctx context.Context, errHandler func(error), stopCh <-chan struct{}) (*websocket.Conn, bool) {
	for attempt := 1; attempt <= c.maxReconnectAttempts; attempt++ {
		select {
		case <-stopCh:
			return nil, false
		case <-ctx.Done():
			return nil, false
		case <-time.After(c.reconnectDelay):
		}

		conn, err := c.dialAndSubscribe(ctx)
		if err == nil {
			c.logger.Info(ctx, "Pending-tx stream reconnected", map[string]interface{}{"attempt": attempt})
			return conn, true
		}
		c.logger.Warn(ctx, "Pending-tx stream reconnect failed", map[string]interface{}{
			"attempt": attempt,
			"error":   err.Error(),
		})
	}
	errHandler(fmt.Errorf("%w: pending-tx stream gave up after %d reconnect attempts",
		ports.ErrConnectionFailed, c.maxReconnectAttempts))
	return nil, false
}

// parseHexBig parses a 0x-prefixed hex quantity.
func parseHexBig(s string) (*big.Int, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return nil, false
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, false
	}
	return v, true
}

// bigToFloat converts a raw integer amount to whole units.
func bigToFloat(raw *big.Int, decimals float64) float64 {
	f, _ := new(big.Float).SetInt(raw).Float64()
	return f / decimals
}

// leftPadAddress ABI-encodes an address argument: 32 bytes, left padded.
func leftPadAddress(address string) string {
	addr := strings.ToLower(strings.TrimPrefix(address, "0x"))
	return strings.Repeat("0", 64-len(addr)) + addr
}
