// Package monitor merges a periodic poll of counterparty activity with a
// pending-transaction stream and emits deduplicated trade signals.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"polyCopyBot/internal/dedup"
	"polyCopyBot/internal/domain"
	"polyCopyBot/internal/ports"
)

const (
	defaultPollInterval = time.Second
	defaultCutoffWindow = 60 * time.Second
	defaultMinTradeUSD  = 100.0
)

// SignalHandler consumes one deduplicated trade signal.
type SignalHandler func(ctx context.Context, signal *domain.TradeSignal)

// Config holds construction parameters for the signal source.
type Config struct {
	Traders         []string      // Counterparty addresses to track
	MarketContracts []string      // Known market contract addresses (pending-tx match)
	PollInterval    time.Duration // Activity poll interval; default 1s
	CutoffWindow    time.Duration // Ignore activity older than this; default 60s
	MinTradeSizeUSD float64       // Ignore trades below this notional; default 100
	Mode            domain.Mode   // Frontrun adds the pending-receipt gate and gas capture
}

// Source is the signal producer. Two independent flows feed it: the fixed
// interval activity poll and the pending-transaction subscription. Both
// dedup through the same ledger.
type Source struct {
	cfg      Config
	logger   ports.Logger
	feed     ports.ActivityFeed
	chain    ports.ChainClient
	ledger   *dedup.Ledger
	onSignal SignalHandler

	contracts map[string]struct{}

	mu          sync.Mutex
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	unsubscribe func()
	lastSeen    map[string]time.Time // per-trader watermark; only advances

	now func() time.Time
}

// New creates a signal source.
func New(cfg Config, logger ports.Logger, feed ports.ActivityFeed, chain ports.ChainClient, ledger *dedup.Ledger, onSignal SignalHandler) (*Source, error) {
	if logger == nil || feed == nil || chain == nil || ledger == nil || onSignal == nil {
		return nil, fmt.Errorf("missing required dependencies for signal source")
	}
	if len(cfg.Traders) == 0 {
		return nil, fmt.Errorf("%w: at least one tracked trader is required", ports.ErrConfigurationError)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.CutoffWindow <= 0 {
		cfg.CutoffWindow = defaultCutoffWindow
	}
	if cfg.MinTradeSizeUSD <= 0 {
		cfg.MinTradeSizeUSD = defaultMinTradeUSD
	}

	contracts := make(map[string]struct{}, len(cfg.MarketContracts))
	for _, addr := range cfg.MarketContracts {
		contracts[strings.ToLower(addr)] = struct{}{}
	}

	return &Source{
		cfg:       cfg,
		logger:    logger,
		feed:      feed,
		chain:     chain,
		ledger:    ledger,
		onSignal:  onSignal,
		contracts: contracts,
		lastSeen:  make(map[string]time.Time),
		now:       time.Now,
	}, nil
}

// Start launches the poll loop and registers the pending-transaction
// subscription. It returns once both producers are running; signals are
// delivered on internal goroutines.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("signal source already started")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	unsubscribe, err := s.chain.SubscribePendingTransactions(ctx, s.handlePendingTx, s.handleSubscriptionError)
	if err != nil {
		// The poller alone still produces signals; pending-tx detection is
		// an early-warning enhancement.
		s.logger.Warn(ctx, "Pending-transaction subscription unavailable, polling only", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		s.mu.Lock()
		s.unsubscribe = unsubscribe
		s.mu.Unlock()
	}

	go s.pollLoop(ctx)

	s.logger.Info(ctx, "Signal source started", map[string]interface{}{
		"traders":      len(s.cfg.Traders),
		"pollInterval": s.cfg.PollInterval.String(),
		"mode":         string(s.cfg.Mode),
	})
	return nil
}

// Stop deregisters the pending-transaction subscription and cancels the
// poll timer. In-flight requests are not cancelled; their results are
// discarded.
func (s *Source) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	<-done
	s.logger.Info(context.Background(), "Signal source stopped")
}

func (s *Source) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// pollLoop runs the fixed-interval activity poll until Stop.
func (s *Source) pollLoop(ctx context.Context) {
	defer close(s.doneCh)

	// First pass immediately, then on the timer.
	s.pollOnce(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

// pollOnce checks every tracked trader. No single trader's failure disturbs
// the schedule.
func (s *Source) pollOnce(ctx context.Context) {
	for _, trader := range s.cfg.Traders {
		if !s.isRunning() {
			return
		}
		if err := s.checkRecentActivity(ctx, trader); err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				// No activity for this trader yet.
				continue
			}
			s.logger.Warn(ctx, "Activity check failed, continuing on schedule", map[string]interface{}{
				"trader": trader,
				"error":  err.Error(),
			})
		}
	}
}

// checkRecentActivity filters a trader's feed down to eligible trades and
// dispatches each as a signal. The dedup claim and the watermark advance
// both happen before the consumer callback runs, so a panicking or failing
// consumer cannot cause re-emission.
func (s *Source) checkRecentActivity(ctx context.Context, trader string) error {
	entries, err := s.feed.RecentActivity(ctx, trader)
	if err != nil {
		return err
	}

	cutoff := s.now().Add(-s.cfg.CutoffWindow)

	for _, entry := range entries {
		if !s.isRunning() {
			return nil
		}
		if entry.Type != ports.ActivityTypeTrade {
			continue
		}
		if entry.Timestamp.Before(cutoff) {
			continue
		}
		if !entry.Timestamp.After(s.watermark(trader)) {
			continue
		}
		if entry.Notional() < s.cfg.MinTradeSizeUSD {
			continue
		}
		if s.ledger.IsProcessed(ctx, entry.TxHash) {
			continue
		}

		signal := s.buildSignal(ctx, trader, entry)
		if signal == nil {
			continue
		}

		// Atomic claim: the losing flow of a race sees false here.
		if !s.ledger.Claim(ctx, entry.TxHash) {
			continue
		}
		s.advanceWatermark(trader, entry.Timestamp)

		s.logger.Info(ctx, "Trade signal detected", map[string]interface{}{
			"trader":   trader,
			"marketID": entry.MarketID,
			"side":     signal.Side,
			"sizeUSD":  signal.SizeUSD,
			"txHash":   entry.TxHash,
		})
		s.onSignal(ctx, signal)
	}
	return nil
}

// buildSignal converts an eligible activity entry into a TradeSignal. In
// frontrun mode a trade whose transaction already confirmed is marked
// processed and dropped: too late to race it.
func (s *Source) buildSignal(ctx context.Context, trader string, entry ports.ActivityEntry) *domain.TradeSignal {
	signal := &domain.TradeSignal{
		Trader:    strings.ToLower(trader),
		MarketID:  entry.MarketID,
		TokenID:   entry.TokenID,
		Outcome:   domain.OutcomeFromIndex(entry.OutcomeIndex),
		Side:      domain.OrderSide(strings.ToUpper(entry.Side)),
		SizeUSD:   entry.Notional(),
		Price:     entry.Price,
		Timestamp: entry.Timestamp,
		TxHash:    entry.TxHash,
	}

	if s.cfg.Mode != domain.ModeFrontrun {
		return signal
	}

	confirmed, err := s.chain.TransactionConfirmed(ctx, entry.TxHash)
	if err != nil {
		// Receipt lookup failures read as "still pending".
		s.logger.Debug(ctx, "Receipt lookup failed, treating transaction as pending", map[string]interface{}{
			"txHash": entry.TxHash,
			"error":  err.Error(),
		})
	} else if confirmed {
		s.ledger.MarkProcessed(ctx, entry.TxHash)
		s.logger.Debug(ctx, "Transaction already confirmed, too late to race", map[string]interface{}{
			"txHash": entry.TxHash,
		})
		return nil
	}

	tx, err := s.chain.TransactionByHash(ctx, entry.TxHash)
	if err != nil {
		s.logger.Debug(ctx, "Could not read gas price from pending transaction", map[string]interface{}{
			"txHash": entry.TxHash,
			"error":  err.Error(),
		})
	} else if tx != nil {
		signal.GasPrice = tx.GasPrice
	}
	return signal
}

// handlePendingTx resolves a pending transaction hash and, when it targets a
// known market contract, notes it as an early-detection trigger. Trade
// semantics still come from the activity poll, which can claim the hash
// first; resolution errors are expected (the transaction may vanish) and
// ignored.
func (s *Source) handlePendingTx(txHash string) {
	if !s.isRunning() {
		return
	}
	ctx := context.Background()
	if s.ledger.IsProcessed(ctx, txHash) {
		return
	}

	tx, err := s.chain.TransactionByHash(ctx, txHash)
	if err != nil || tx == nil || tx.To == "" {
		return
	}
	if _, ok := s.contracts[tx.To]; !ok {
		return
	}

	s.logger.Debug(ctx, "Pending transaction targets a market contract", map[string]interface{}{
		"txHash": txHash,
		"to":     tx.To,
	})
}

// handleSubscriptionError surfaces transport failures from the pending-tx
// stream without disturbing the poll loop.
func (s *Source) handleSubscriptionError(err error) {
	if !s.isRunning() {
		return
	}
	s.logger.Warn(context.Background(), "Pending-transaction stream error", map[string]interface{}{
		"error": err.Error(),
	})
}

func (s *Source) watermark(trader string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen[trader]
}

// advanceWatermark moves the trader's last-seen timestamp forward, never
// backward.
func (s *Source) advanceWatermark(trader string, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts.After(s.lastSeen[trader]) {
		s.lastSeen[trader] = ts
	}
}
