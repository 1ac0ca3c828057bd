// Package health exposes the process's operational state over HTTP:
// liveness on /health, counters and balances on /metrics.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"polyCopyBot/internal/ports"
)

const errorRingSize = 20

// Server tracks run-time counters and serves them.
type Server struct {
	logger ports.Logger
	server *http.Server

	mu             sync.Mutex
	startedAt      time.Time
	tradesExecuted int64
	tradesFailed   int64
	lastTradeAt    time.Time
	quoteBalance   float64
	nativeBalance  float64
	recentErrors   []errorRecord

	now func() time.Time
}

type errorRecord struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

type healthPayload struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

type metricsPayload struct {
	Uptime         string        `json:"uptime"`
	TradesExecuted int64         `json:"tradesExecuted"`
	TradesFailed   int64         `json:"tradesFailed"`
	LastTradeAt    *time.Time    `json:"lastTradeAt,omitempty"`
	QuoteBalance   float64       `json:"quoteBalance"`
	NativeBalance  float64       `json:"nativeBalance"`
	RecentErrors   []errorRecord `json:"recentErrors"`
}

// NewServer creates a health server listening on the given port.
func NewServer(port int, logger ports.Logger) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for health server")
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: invalid health port %d", ports.ErrConfigurationError, port)
	}

	s := &Server{
		logger:    logger,
		startedAt: time.Now(),
		now:       time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s, nil
}

// Start serves in the background until Stop.
func (s *Server) Start(ctx context.Context) {
	go func() {
		s.logger.Info(ctx, "Health server listening", map[string]interface{}{"addr": s.server.Addr})
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error(ctx, err, "Health server failed")
		}
	}()
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// RecordTrade counts one trade attempt.
func (s *Server) RecordTrade(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if success {
		s.tradesExecuted++
		s.lastTradeAt = s.now()
	} else {
		s.tradesFailed++
	}
}

// RecordError appends to the bounded recent-error ring.
func (s *Server) RecordError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recentErrors = append(s.recentErrors, errorRecord{At: s.now(), Message: err.Error()})
	if len(s.recentErrors) > errorRingSize {
		s.recentErrors = s.recentErrors[len(s.recentErrors)-errorRingSize:]
	}
}

// SetBalances records the latest observed wallet balances.
func (s *Server) SetBalances(quote, native float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quoteBalance = quote
	s.nativeBalance = native
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	uptime := s.now().Sub(s.startedAt)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, healthPayload{
		Status: "ok",
		Uptime: uptime.Round(time.Second).String(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	payload := metricsPayload{
		Uptime:         s.now().Sub(s.startedAt).Round(time.Second).String(),
		TradesExecuted: s.tradesExecuted,
		TradesFailed:   s.tradesFailed,
		QuoteBalance:   s.quoteBalance,
		NativeBalance:  s.nativeBalance,
		RecentErrors:   append([]errorRecord(nil), s.recentErrors...),
	}
	if !s.lastTradeAt.IsZero() {
		t := s.lastTradeAt
		payload.LastTradeAt = &t
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, payload)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
