package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polyCopyBot/internal/domain"
	"polyCopyBot/internal/ports"
	"polyCopyBot/internal/positions"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// mockVenue implements ports.VenueClient with function fields.
type mockVenue struct {
	getOrderBookFunc func(tokenID string) (*domain.OrderBook, error)
	placeOrderFunc   func(req ports.OrderRequest) (*ports.OrderResult, error)
	orders           []ports.OrderRequest
}

func (m *mockVenue) GetOrderBook(ctx context.Context, tokenID string) (*domain.OrderBook, error) {
	if m.getOrderBookFunc != nil {
		return m.getOrderBookFunc(tokenID)
	}
	return &domain.OrderBook{TokenID: tokenID}, nil
}

func (m *mockVenue) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderResult, error) {
	m.orders = append(m.orders, req)
	if m.placeOrderFunc != nil {
		return m.placeOrderFunc(req)
	}
	return &ports.OrderResult{Success: true, Status: "matched"}, nil
}

// mockChain implements ports.ChainClient with function fields; zero value
// reports generous balances.
type mockChain struct {
	tokenBalanceFunc  func() (float64, error)
	nativeBalanceFunc func() (float64, error)
	setGasPriceFunc   func(wei *big.Int) error
	gasPricesSet      []*big.Int
}

func (m *mockChain) SubscribePendingTransactions(ctx context.Context, handler func(string), errHandler func(error)) (func(), error) {
	return func() {}, nil
}

func (m *mockChain) TransactionByHash(ctx context.Context, txHash string) (*ports.PendingTransaction, error) {
	return nil, fmt.Errorf("%w: %s", ports.ErrNotFound, txHash)
}

func (m *mockChain) TransactionConfirmed(ctx context.Context, txHash string) (bool, error) {
	return false, nil
}

func (m *mockChain) NativeBalance(ctx context.Context, address string) (float64, error) {
	if m.nativeBalanceFunc != nil {
		return m.nativeBalanceFunc()
	}
	return 10, nil
}

func (m *mockChain) TokenBalance(ctx context.Context, tokenContract, address string) (float64, error) {
	if m.tokenBalanceFunc != nil {
		return m.tokenBalanceFunc()
	}
	return 1e6, nil
}

func (m *mockChain) PendingNonce(ctx context.Context, address string) (uint64, error) {
	return 0, nil
}

func (m *mockChain) SetDefaultGasPrice(ctx context.Context, wei *big.Int) error {
	m.gasPricesSet = append(m.gasPricesSet, new(big.Int).Set(wei))
	if m.setGasPriceFunc != nil {
		return m.setGasPriceFunc(wei)
	}
	return nil
}

func frontrunSignal() *domain.TradeSignal {
	return &domain.TradeSignal{
		Trader:    "0xtrader",
		MarketID:  "m1",
		TokenID:   "t1",
		Outcome:   domain.OutcomeYes,
		Side:      domain.Buy,
		SizeUSD:   120,
		Price:     0.50,
		Timestamp: time.Now(),
		TxHash:    "0xhash",
	}
}

func bookWithAsks(asks ...domain.PriceLevel) *domain.OrderBook {
	return &domain.OrderBook{TokenID: "t1", Asks: asks, Timestamp: time.Now()}
}

func newTestEngine(t *testing.T, cfg Config, venue *mockVenue, chain *mockChain) (*Engine, *positions.Tracker) {
	t.Helper()
	tracker, err := positions.NewTracker(&mockLogger{})
	require.NoError(t, err)
	if cfg.Mode == "" {
		cfg.Mode = domain.ModeFrontrun
	}
	if cfg.WalletAddress == "" {
		cfg.WalletAddress = "0xwallet"
	}
	if cfg.QuoteToken == "" {
		cfg.QuoteToken = "0xusdc"
	}
	eng, err := New(cfg, &mockLogger{}, venue, chain, tracker)
	require.NoError(t, err)
	return eng, tracker
}

func TestNewValidation(t *testing.T) {
	tracker, err := positions.NewTracker(&mockLogger{})
	require.NoError(t, err)

	_, err = New(Config{Mode: domain.ModeCopy}, nil, &mockVenue{}, &mockChain{}, tracker)
	assert.Error(t, err)

	_, err = New(Config{Mode: "arbitrage"}, &mockLogger{}, &mockVenue{}, &mockChain{}, tracker)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = New(Config{Mode: domain.ModeCopy, SlippageTolerance: 1.5}, &mockLogger{}, &mockVenue{}, &mockChain{}, tracker)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestExecuteRejectsInvalidSignal(t *testing.T) {
	eng, _ := newTestEngine(t, Config{}, &mockVenue{}, &mockChain{})

	bad := frontrunSignal()
	bad.SizeUSD = 0
	_, err := eng.Execute(context.Background(), bad)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestExecuteWalksBookAcrossLevels(t *testing.T) {
	// Ratio 0.5 of a 120 USD signal: 60 USD target. The best level holds
	// 50 USD; the next absorbs the remaining 10.
	venue := &mockVenue{
		getOrderBookFunc: func(tokenID string) (*domain.OrderBook, error) {
			return bookWithAsks(
				domain.PriceLevel{Price: 0.50, Size: 100}, // 50 USD
				domain.PriceLevel{Price: 0.52, Size: 200}, // 104 USD
			), nil
		},
	}
	eng, tracker := newTestEngine(t, Config{FrontrunRatio: 0.5, SlippageTolerance: 0.10}, venue, &mockChain{})

	res, err := eng.Execute(context.Background(), frontrunSignal())
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.InDelta(t, 60, res.RequestedUSD, 1e-9)
	assert.InDelta(t, 60, res.FilledUSD, 1e-9)

	require.Len(t, venue.orders, 2)
	assert.InDelta(t, 100, venue.orders[0].Quantity, 1e-9)
	assert.InDelta(t, 0.50, venue.orders[0].Price, 1e-9)
	assert.InDelta(t, 10/0.52, venue.orders[1].Quantity, 1e-9)
	assert.InDelta(t, 0.52, venue.orders[1].Price, 1e-9)

	// The reservation stands as the position record.
	assert.InDelta(t, 60, tracker.TotalExposure(), 1e-9)
}

func TestExecuteSkipsClosedMarket(t *testing.T) {
	venue := &mockVenue{
		getOrderBookFunc: func(tokenID string) (*domain.OrderBook, error) {
			return nil, errors.New("venue returned status 404: No orderbook exists")
		},
	}
	eng, tracker := newTestEngine(t, Config{FrontrunRatio: 0.5}, venue, &mockChain{})

	res, err := eng.Execute(context.Background(), frontrunSignal())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, "market closed or resolved", res.SkipReason)
	assert.Zero(t, tracker.TotalExposure(), "no fill releases the reservation")
}

func TestExecuteStopsOnPriceProtection(t *testing.T) {
	venue := &mockVenue{
		getOrderBookFunc: func(tokenID string) (*domain.OrderBook, error) {
			// Best ask 0.60 against a 0.50 signal with 5% tolerance.
			return bookWithAsks(domain.PriceLevel{Price: 0.60, Size: 500}), nil
		},
	}
	eng, tracker := newTestEngine(t, Config{FrontrunRatio: 0.5, SlippageTolerance: 0.05}, venue, &mockChain{})

	res, err := eng.Execute(context.Background(), frontrunSignal())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, "price protection triggered", res.SkipReason)
	assert.Empty(t, venue.orders, "no order may cross the bound")
	assert.Zero(t, tracker.TotalExposure())
}

func TestExecuteGivesUpAfterConsecutiveFailures(t *testing.T) {
	venueErr := errors.New("internal venue error")
	venue := &mockVenue{
		getOrderBookFunc: func(tokenID string) (*domain.OrderBook, error) {
			return bookWithAsks(domain.PriceLevel{Price: 0.50, Size: 1000}), nil
		},
		placeOrderFunc: func(req ports.OrderRequest) (*ports.OrderResult, error) {
			return nil, venueErr
		},
	}
	eng, tracker := newTestEngine(t, Config{FrontrunRatio: 0.5, SlippageTolerance: 0.10, RetryLimit: 3}, venue, &mockChain{})

	res, err := eng.Execute(context.Background(), frontrunSignal())
	require.Error(t, err)
	assert.ErrorIs(t, err, venueErr)
	assert.Len(t, venue.orders, 3)
	assert.Zero(t, res.FilledUSD)
	assert.Zero(t, tracker.TotalExposure())
}

func TestExecuteSuccessResetsFailureCount(t *testing.T) {
	attempt := 0
	venue := &mockVenue{
		getOrderBookFunc: func(tokenID string) (*domain.OrderBook, error) {
			return bookWithAsks(domain.PriceLevel{Price: 0.50, Size: 60}), nil // 30 USD per level
		},
		placeOrderFunc: func(req ports.OrderRequest) (*ports.OrderResult, error) {
			attempt++
			// Fail twice before every success; never three in a row.
			if attempt%3 != 0 {
				return nil, errors.New("transient venue error")
			}
			return &ports.OrderResult{Success: true}, nil
		},
	}
	eng, _ := newTestEngine(t, Config{FrontrunRatio: 0.5, SlippageTolerance: 0.10, RetryLimit: 3}, venue, &mockChain{})

	res, err := eng.Execute(context.Background(), frontrunSignal())
	require.NoError(t, err)
	assert.InDelta(t, 60, res.FilledUSD, 1e-9)
}

func TestExecutePartialFillStands(t *testing.T) {
	calls := 0
	venue := &mockVenue{
		getOrderBookFunc: func(tokenID string) (*domain.OrderBook, error) {
			calls++
			if calls == 1 {
				return bookWithAsks(domain.PriceLevel{Price: 0.50, Size: 100}), nil // 50 USD
			}
			return bookWithAsks(), nil // Book drained.
		},
	}
	eng, tracker := newTestEngine(t, Config{FrontrunRatio: 0.5, SlippageTolerance: 0.10}, venue, &mockChain{})

	res, err := eng.Execute(context.Background(), frontrunSignal())
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.InDelta(t, 50, res.FilledUSD, 1e-9)
	assert.InDelta(t, 60, tracker.TotalExposure(), 1e-9, "partial fill keeps its reservation")
}

func TestExecuteInsufficientQuoteBalance(t *testing.T) {
	chain := &mockChain{
		tokenBalanceFunc: func() (float64, error) { return 10, nil },
	}
	eng, tracker := newTestEngine(t, Config{FrontrunRatio: 0.5}, &mockVenue{}, chain)

	_, err := eng.Execute(context.Background(), frontrunSignal())
	assert.ErrorIs(t, err, ports.ErrInsufficientFunds)
	assert.Zero(t, tracker.TotalExposure())
}

func TestExecuteInsufficientGasReserve(t *testing.T) {
	chain := &mockChain{
		nativeBalanceFunc: func() (float64, error) { return 0.01, nil },
	}
	eng, _ := newTestEngine(t, Config{FrontrunRatio: 0.5, MinGasReserve: 0.1}, &mockVenue{}, chain)

	_, err := eng.Execute(context.Background(), frontrunSignal())
	assert.ErrorIs(t, err, ports.ErrInsufficientFunds)
}

func TestExecuteExposureCapSkips(t *testing.T) {
	eng, tracker := newTestEngine(t, Config{FrontrunRatio: 0.5, TotalExposureCap: 50}, &mockVenue{}, &mockChain{})

	res, err := eng.Execute(context.Background(), frontrunSignal())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, "exposure cap reached", res.SkipReason)
	assert.Zero(t, tracker.TotalExposure())
}

func TestExecuteCopyModeSizing(t *testing.T) {
	// Own balance 1000, trade 1000 against the x20 balance proxy: ratio
	// 0.05, multiplied by 2 for a 100 USD target.
	chain := &mockChain{
		tokenBalanceFunc: func() (float64, error) { return 1000, nil },
	}
	venue := &mockVenue{
		getOrderBookFunc: func(tokenID string) (*domain.OrderBook, error) {
			return bookWithAsks(domain.PriceLevel{Price: 0.50, Size: 1000}), nil
		},
	}
	eng, _ := newTestEngine(t, Config{Mode: domain.ModeCopy, Multiplier: 2.0, SlippageTolerance: 0.10}, venue, chain)

	sig := frontrunSignal()
	sig.SizeUSD = 1000
	res, err := eng.Execute(context.Background(), sig)
	require.NoError(t, err)
	assert.InDelta(t, 100, res.RequestedUSD, 1e-9)
	assert.InDelta(t, 100, res.FilledUSD, 1e-9)
}

func TestExecuteAppliesGasPriority(t *testing.T) {
	venue := &mockVenue{
		getOrderBookFunc: func(tokenID string) (*domain.OrderBook, error) {
			return bookWithAsks(domain.PriceLevel{Price: 0.50, Size: 1000}), nil
		},
	}
	chain := &mockChain{}
	eng, _ := newTestEngine(t, Config{FrontrunRatio: 0.5, SlippageTolerance: 0.10, GasPriceMultiplier: 1.25}, venue, chain)

	sig := frontrunSignal()
	sig.GasPrice = big.NewInt(100_000_000_000) // 100 gwei
	_, err := eng.Execute(context.Background(), sig)
	require.NoError(t, err)

	require.Len(t, chain.gasPricesSet, 1)
	assert.Equal(t, "125000000000", chain.gasPricesSet[0].String())
}

func TestExecuteGasPriorityFailureDoesNotAbort(t *testing.T) {
	venue := &mockVenue{
		getOrderBookFunc: func(tokenID string) (*domain.OrderBook, error) {
			return bookWithAsks(domain.PriceLevel{Price: 0.50, Size: 1000}), nil
		},
	}
	chain := &mockChain{
		setGasPriceFunc: func(wei *big.Int) error { return errors.New("node rejected") },
	}
	eng, _ := newTestEngine(t, Config{FrontrunRatio: 0.5, SlippageTolerance: 0.10, GasPriceMultiplier: 1.25}, venue, chain)

	sig := frontrunSignal()
	sig.GasPrice = big.NewInt(100)
	res, err := eng.Execute(context.Background(), sig)
	require.NoError(t, err, "trading proceeds at default gas")
	assert.InDelta(t, 60, res.FilledUSD, 1e-9)
}

func TestExecuteConsumesLevelsInOrder(t *testing.T) {
	// Buy 60 against asks 50 notional at 1.00 then 102 notional at 1.02:
	// the first level is taken fully, the second for the remaining 10
	// notional (~9.80 quantity).
	venue := &mockVenue{
		getOrderBookFunc: func(tokenID string) (*domain.OrderBook, error) {
			return bookWithAsks(
				domain.PriceLevel{Price: 1.00, Size: 50},
				domain.PriceLevel{Price: 1.02, Size: 100},
			), nil
		},
	}
	eng, _ := newTestEngine(t, Config{FrontrunRatio: 0.5, SlippageTolerance: 0.05}, venue, &mockChain{})

	sig := frontrunSignal()
	sig.Price = 1.00
	res, err := eng.Execute(context.Background(), sig)
	require.NoError(t, err)
	assert.InDelta(t, 60, res.FilledUSD, 1e-9)

	require.Len(t, venue.orders, 2)
	assert.InDelta(t, 50, venue.orders[0].Quantity, 1e-9)
	assert.InDelta(t, 60.0/1.02-50.0/1.02, venue.orders[1].Quantity, 0.01)
	assert.InDelta(t, 9.80, venue.orders[1].Quantity, 0.01)
}

func TestExecuteFillsFromOneSnapshot(t *testing.T) {
	// A target covered by one snapshot's depth walks that snapshot's
	// levels in sequence; the book is not re-fetched between levels.
	fetches := 0
	venue := &mockVenue{
		getOrderBookFunc: func(tokenID string) (*domain.OrderBook, error) {
			fetches++
			return bookWithAsks(
				domain.PriceLevel{Price: 0.50, Size: 40}, // 20 USD
				domain.PriceLevel{Price: 0.51, Size: 40}, // 20.4 USD
				domain.PriceLevel{Price: 0.52, Size: 100},
			), nil
		},
	}
	eng, _ := newTestEngine(t, Config{FrontrunRatio: 0.5, SlippageTolerance: 0.10}, venue, &mockChain{})

	res, err := eng.Execute(context.Background(), frontrunSignal())
	require.NoError(t, err)
	assert.InDelta(t, 60, res.FilledUSD, 1e-9)

	assert.Equal(t, 1, fetches)
	require.Len(t, venue.orders, 3)
	assert.InDelta(t, 0.50, venue.orders[0].Price, 1e-9)
	assert.InDelta(t, 0.51, venue.orders[1].Price, 1e-9)
	assert.InDelta(t, 0.52, venue.orders[2].Price, 1e-9)
	assert.InDelta(t, (60-40.4)/0.52, venue.orders[2].Quantity, 1e-9)
}

func TestEscalateGasPriceMonotonic(t *testing.T) {
	base := big.NewInt(100_000_000_000)
	prev := EscalateGasPrice(base, 1.0)
	for _, factor := range []float64{1.01, 1.1, 1.25, 1.5, 2.0, 3.0} {
		next := EscalateGasPrice(base, factor)
		assert.GreaterOrEqual(t, next.Cmp(prev), 0,
			"larger multiplier must never produce a smaller gas price")
		prev = next
	}
}

func TestEscalateGasPrice(t *testing.T) {
	tests := []struct {
		name   string
		wei    string
		factor float64
		want   string
	}{
		{"25 percent bump", "100", 1.25, "125"},
		{"factor one is identity", "1000", 1.0, "1000"},
		{"factor truncated to two decimals", "100", 1.119, "111"},
		{"large value stays exact", "100000000000000000000", 1.5, "150000000000000000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, ok := new(big.Int).SetString(tt.wei, 10)
			require.True(t, ok)
			out := EscalateGasPrice(in, tt.factor)
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestClassifyVenueError(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"venue returned status 404: No orderbook exists for this token", ports.ErrMarketClosed},
		{"order placement failed: market closed", ports.ErrMarketClosed},
		{"order placement failed: market resolved", ports.ErrMarketClosed},
		{"order placement failed: market is not accepting orders", ports.ErrMarketClosed},
		{"order placement failed: slippage limit hit", ports.ErrSlippageExceeded},
		{"order placement failed: price changed", ports.ErrSlippageExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.ErrorIs(t, classifyVenueError(errors.New(tt.msg)), tt.want)
		})
	}

	plain := errors.New("connection reset")
	assert.Equal(t, plain, classifyVenueError(plain))
	assert.NoError(t, classifyVenueError(nil))
}

func TestSellSidePriceProtection(t *testing.T) {
	venue := &mockVenue{
		getOrderBookFunc: func(tokenID string) (*domain.OrderBook, error) {
			// Best bid 0.40 against a 0.50 sell with 5% tolerance.
			return &domain.OrderBook{
				TokenID: "t1",
				Bids:    []domain.PriceLevel{{Price: 0.40, Size: 500}},
			}, nil
		},
	}
	eng, _ := newTestEngine(t, Config{FrontrunRatio: 0.5, SlippageTolerance: 0.05}, venue, &mockChain{})

	sig := frontrunSignal()
	sig.Side = domain.Sell
	res, err := eng.Execute(context.Background(), sig)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, "price protection triggered", res.SkipReason)
}
