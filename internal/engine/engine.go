// Package engine decides whether to trade on a signal, sizes the order, and
// executes it against the venue with fill-loop retry and price protection.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"polyCopyBot/internal/cache"
	"polyCopyBot/internal/domain"
	"polyCopyBot/internal/ports"
	"polyCopyBot/internal/positions"
	"polyCopyBot/internal/sizing"
)

const (
	// fillEpsilon is the remaining notional below which a fill loop is done.
	fillEpsilon = 0.01

	// traderBalanceFactor approximates a counterparty's balance from their
	// trade notional when no balance source is available.
	traderBalanceFactor = 20.0

	defaultRetryLimit    = 3
	defaultFrontrunRatio = 0.5
	defaultBookTTL       = time.Second
)

// Config parameterizes the single engine over both strategy profiles.
type Config struct {
	Mode domain.Mode

	// Copy-mode sizing.
	Multiplier float64 // Scaling multiplier for proportional sizing

	// Frontrun-mode sizing and priority.
	FrontrunRatio      float64 // Fraction of the observed trade size; default 0.5
	GasPriceMultiplier float64 // Gas escalation factor; 0 disables the override

	RetryLimit        int     // Consecutive venue failures before giving up; default 3
	SlippageTolerance float64 // Price protection band as a fraction, e.g. 0.05
	TotalExposureCap  float64 // Cap on summed open notional; 0 disables
	MarketExposureCap float64 // Cap per (market, instrument) key; 0 disables
	MinGasReserve     float64 // Minimum native balance required to trade

	OrderBookTTL time.Duration // Cache TTL for order-book snapshots; default 1s

	WalletAddress string // Operator wallet
	QuoteToken    string // Quote-currency token contract (USDC)
}

// Result summarizes one execution attempt.
type Result struct {
	RequestedUSD float64 // Target notional after sizing
	FilledUSD    float64 // Notional actually filled
	Skipped      bool    // True when the signal was deliberately not traded
	SkipReason   string  // Why, when Skipped
}

// Engine is the risk gate and order-book-walking executor.
type Engine struct {
	cfg     Config
	logger  ports.Logger
	venue   ports.VenueClient
	chain   ports.ChainClient
	tracker *positions.Tracker
	books   *cache.TTL[*domain.OrderBook]
}

// New creates an execution engine.
func New(cfg Config, logger ports.Logger, venue ports.VenueClient, chain ports.ChainClient, tracker *positions.Tracker) (*Engine, error) {
	if logger == nil || venue == nil || chain == nil || tracker == nil {
		return nil, fmt.Errorf("missing required dependencies for engine")
	}
	if cfg.Mode != domain.ModeCopy && cfg.Mode != domain.ModeFrontrun {
		return nil, fmt.Errorf("%w: unknown mode %q", ports.ErrConfigurationError, cfg.Mode)
	}
	if cfg.SlippageTolerance < 0 || cfg.SlippageTolerance >= 1 {
		return nil, fmt.Errorf("%w: slippage tolerance must be in [0,1)", ports.ErrConfigurationError)
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = defaultRetryLimit
	}
	if cfg.FrontrunRatio <= 0 {
		cfg.FrontrunRatio = defaultFrontrunRatio
	}
	if cfg.OrderBookTTL <= 0 {
		cfg.OrderBookTTL = defaultBookTTL
	}
	return &Engine{
		cfg:     cfg,
		logger:  logger,
		venue:   venue,
		chain:   chain,
		tracker: tracker,
		books:   cache.New[*domain.OrderBook](cfg.OrderBookTTL),
	}, nil
}

// Execute reacts to one trade signal. A deliberate skip (risk gate, closed
// market, price protection) returns a Result with Skipped set and a nil
// error; infrastructure and venue failures return an error. Partial fills
// from an aborted fill loop stand and are not rolled back.
func (e *Engine) Execute(ctx context.Context, signal *domain.TradeSignal) (*Result, error) {
	op := "Execute"

	if err := signal.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrInvalidRequest, err)
	}

	if e.tracker.ShouldExit(signal.Trader, signal.MarketID, signal.TokenID, signal.Side) {
		// Opposite-side trade by the same counterparty reads as a close-out
		// of their earlier entry. Positions are closed by an outer strategy,
		// not here.
		e.logger.Info(ctx, op+": counterparty appears to be closing an earlier entry", map[string]interface{}{
			"trader":   signal.Trader,
			"marketID": signal.MarketID,
			"side":     signal.Side,
		})
	}

	// Sizing precedes the risk gate: the per-key cap needs the proposed size.
	target, err := e.proposeSize(ctx, signal)
	if err != nil {
		return nil, err
	}
	if target <= fillEpsilon {
		e.logger.Warn(ctx, op+": proposed size too small, skipping", map[string]interface{}{
			"targetUSD": target,
			"txHash":    signal.TxHash,
		})
		return &Result{RequestedUSD: target, Skipped: true, SkipReason: "proposed size below minimum"}, nil
	}

	// Risk gate. The cap check and the position append are one atomic step;
	// the reservation is released if execution produces no fill.
	reserved, err := e.tracker.AddIfUnderCaps(ctx, signal, target, signal.Price, e.cfg.TotalExposureCap, e.cfg.MarketExposureCap)
	if err != nil {
		if errors.Is(err, ports.ErrExposureCapExceeded) {
			e.logger.Warn(ctx, op+": exposure cap reached, skipping signal", map[string]interface{}{
				"targetUSD": target,
				"marketID":  signal.MarketID,
				"reason":    err.Error(),
			})
			return &Result{RequestedUSD: target, Skipped: true, SkipReason: "exposure cap reached"}, nil
		}
		return nil, err
	}

	if err := e.checkBalances(ctx, signal.Side, target); err != nil {
		e.tracker.Remove(reserved)
		return nil, err
	}

	e.applyGasPriority(ctx, signal)

	res, err := e.fill(ctx, signal, target)
	if res == nil || res.FilledUSD <= fillEpsilon {
		// Nothing filled: the reservation must not count as exposure.
		// Partial fills stand and keep their reservation.
		e.tracker.Remove(reserved)
	}
	if err != nil {
		return res, err
	}

	if res.Skipped {
		return res, nil
	}

	e.logger.Info(ctx, op+": signal executed", map[string]interface{}{
		"marketID":     signal.MarketID,
		"tokenID":      signal.TokenID,
		"side":         signal.Side,
		"requestedUSD": res.RequestedUSD,
		"filledUSD":    res.FilledUSD,
		"entryPrice":   signal.Price,
	})
	return res, nil
}

// proposeSize computes the target notional for the configured strategy.
func (e *Engine) proposeSize(ctx context.Context, signal *domain.TradeSignal) (float64, error) {
	if e.cfg.Mode == domain.ModeFrontrun {
		return signal.SizeUSD * e.cfg.FrontrunRatio, nil
	}

	ownBalance, err := e.chain.TokenBalance(ctx, e.cfg.QuoteToken, e.cfg.WalletAddress)
	if err != nil {
		return 0, fmt.Errorf("failed to read quote balance for sizing: %w", err)
	}
	res := sizing.Proportional(sizing.Input{
		YourUSDBalance:   ownBalance,
		TraderUSDBalance: math.Max(1, signal.SizeUSD*traderBalanceFactor),
		TraderTradeUSD:   signal.SizeUSD,
		Multiplier:       e.cfg.Multiplier,
	})
	e.logger.Info(ctx, "Proportional sizing computed", map[string]interface{}{
		"ratio":     res.Ratio,
		"targetUSD": res.TargetUSDSize,
		"balance":   ownBalance,
	})
	return res.TargetUSDSize, nil
}

// checkBalances verifies the quote balance covers a buy and the native
// balance covers gas.
func (e *Engine) checkBalances(ctx context.Context, side domain.OrderSide, target float64) error {
	if side == domain.Buy {
		quote, err := e.chain.TokenBalance(ctx, e.cfg.QuoteToken, e.cfg.WalletAddress)
		if err != nil {
			return fmt.Errorf("failed to read quote balance: %w", err)
		}
		if quote < target {
			return fmt.Errorf("%w: quote balance %.2f below order notional %.2f", ports.ErrInsufficientFunds, quote, target)
		}
	}
	if e.cfg.MinGasReserve > 0 {
		native, err := e.chain.NativeBalance(ctx, e.cfg.WalletAddress)
		if err != nil {
			return fmt.Errorf("failed to read native balance: %w", err)
		}
		if native < e.cfg.MinGasReserve {
			return fmt.Errorf("%w: native balance %.4f below gas reserve %.4f", ports.ErrInsufficientFunds, native, e.cfg.MinGasReserve)
		}
	}
	return nil
}

// applyGasPriority escalates the default gas price over the observed target
// transaction. Failures here never abort execution; trading proceeds at
// default gas.
func (e *Engine) applyGasPriority(ctx context.Context, signal *domain.TradeSignal) {
	if e.cfg.Mode != domain.ModeFrontrun || !signal.HasGasPrice() || e.cfg.GasPriceMultiplier <= 0 {
		return
	}
	escalated := EscalateGasPrice(signal.GasPrice, e.cfg.GasPriceMultiplier)
	if err := e.chain.SetDefaultGasPrice(ctx, escalated); err != nil {
		e.logger.Warn(ctx, "Failed to set escalated gas price, continuing at default", map[string]interface{}{
			"targetGasWei": signal.GasPrice.String(),
			"error":        err.Error(),
		})
		return
	}
	e.logger.Debug(ctx, "Gas price escalated over target transaction", map[string]interface{}{
		"targetGasWei":    signal.GasPrice.String(),
		"escalatedGasWei": escalated.String(),
	})
}

// EscalateGasPrice multiplies a wei-denominated gas price by the configured
// factor using integer-scaled arithmetic (factor truncated to two decimals)
// so large values never round through a float.
func EscalateGasPrice(wei *big.Int, factor float64) *big.Int {
	scaled := big.NewInt(int64(math.Floor(factor * 100)))
	out := new(big.Int).Mul(wei, scaled)
	return out.Div(out, big.NewInt(100))
}

// maxAcceptablePrice bounds the level price a taker order may cross: buys
// tolerate up to +tolerance over the signal price, sells down to -tolerance.
func (e *Engine) maxAcceptablePrice(signal *domain.TradeSignal) float64 {
	if signal.Side == domain.Buy {
		return signal.Price * (1 + e.cfg.SlippageTolerance)
	}
	return signal.Price * (1 - e.cfg.SlippageTolerance)
}

// priceBreaches reports whether a level price falls outside the bound for
// the side.
func priceBreaches(side domain.OrderSide, levelPrice, bound float64) bool {
	if side == domain.Buy {
		return levelPrice > bound
	}
	return levelPrice < bound
}

// fill walks the opposing side of the book, submitting immediate-or-cancel
// orders level by level until the target notional is (nearly) consumed, the
// book runs out, price protection triggers, or the venue fails RetryLimit
// times in a row. Levels of one fetched snapshot are consumed in sequence,
// best price first; the book is only re-fetched after a submission failure
// or when a snapshot is exhausted with notional still remaining.
func (e *Engine) fill(ctx context.Context, signal *domain.TradeSignal, target float64) (*Result, error) {
	op := "fill"
	res := &Result{RequestedUSD: target}
	bound := e.maxAcceptablePrice(signal)

	remaining := target
	failures := 0
	var lastErr error

	skip := func(reason string) (*Result, error) {
		res.Skipped = true
		res.SkipReason = reason
		res.FilledUSD = target - remaining
		return res, nil
	}

	for remaining > fillEpsilon && failures < e.cfg.RetryLimit {
		// The book can move between snapshots; always re-fetch fresh.
		e.books.Delete(signal.TokenID)
		book, err := e.orderBook(ctx, signal.TokenID)
		if err != nil {
			if errors.Is(err, ports.ErrMarketClosed) {
				e.logger.Warn(ctx, op+": market closed or resolved, skipping signal", map[string]interface{}{
					"tokenID": signal.TokenID,
				})
				return skip("market closed or resolved")
			}
			failures++
			lastErr = err
			continue
		}

		levels := book.Levels(signal.Side)
		if len(levels) == 0 {
			// Book exhausted: partial or zero fill is final.
			e.logger.Warn(ctx, op+": no opposing levels left", map[string]interface{}{
				"tokenID":      signal.TokenID,
				"remainingUSD": remaining,
			})
			break
		}

		// Walk this snapshot's levels in order; a re-fetched book would
		// report the same prices until the venue registers our fills.
		consumedFromSnapshot := false
		retry := false
		for _, level := range levels {
			if remaining <= fillEpsilon {
				break
			}
			if priceBreaches(signal.Side, level.Price, bound) {
				e.logger.Warn(ctx, op+": level price breaches slippage bound, stopping", map[string]interface{}{
					"tokenID":     signal.TokenID,
					"levelPrice":  level.Price,
					"bound":       bound,
					"signalPrice": signal.Price,
				})
				return skip("price protection triggered")
			}

			fillValue := math.Min(remaining, level.Notional())
			quantity := fillValue / level.Price

			order, err := e.venue.PlaceOrder(ctx, ports.OrderRequest{
				TokenID:  signal.TokenID,
				Side:     signal.Side,
				Quantity: quantity,
				Price:    level.Price,
			})
			if err != nil || order == nil || !order.Success {
				if err == nil {
					err = fmt.Errorf("%w: venue reported failure", ports.ErrOrderPlacementFailed)
				}
				classified := classifyVenueError(err)
				switch {
				case errors.Is(classified, ports.ErrMarketClosed):
					e.logger.Warn(ctx, op+": venue reports market closed or resolved, skipping", map[string]interface{}{
						"tokenID": signal.TokenID,
						"error":   err.Error(),
					})
					return skip("market closed or resolved")
				case errors.Is(classified, ports.ErrSlippageExceeded):
					e.logger.Warn(ctx, op+": venue rejected on price movement, skipping", map[string]interface{}{
						"tokenID": signal.TokenID,
						"error":   err.Error(),
					})
					return skip("price protection triggered")
				}
				failures++
				lastErr = classified
				e.logger.Warn(ctx, op+": order submission failed", map[string]interface{}{
					"tokenID":  signal.TokenID,
					"failures": failures,
					"error":    err.Error(),
				})
				// The snapshot may be stale; re-fetch before retrying.
				retry = true
				break
			}

			remaining -= fillValue
			failures = 0
			consumedFromSnapshot = true
			e.logger.Debug(ctx, op+": level consumed", map[string]interface{}{
				"tokenID":      signal.TokenID,
				"levelPrice":   level.Price,
				"filledUSD":    fillValue,
				"remainingUSD": remaining,
			})
		}
		if retry {
			continue
		}
		if remaining > fillEpsilon && !consumedFromSnapshot {
			// Snapshot offered levels but nothing was consumable.
			break
		}
	}

	res.FilledUSD = target - remaining
	if failures >= e.cfg.RetryLimit {
		// Prior partial fills stand; the last error is the signal's verdict.
		return res, fmt.Errorf("fill loop gave up after %d consecutive failures: %w", failures, lastErr)
	}
	return res, nil
}

// orderBook reads the book through the short-lived cache, fetching live on a
// miss. A venue "no orderbook" error is reclassified as a closed market.
func (e *Engine) orderBook(ctx context.Context, tokenID string) (*domain.OrderBook, error) {
	if book, ok := e.books.Get(tokenID); ok {
		return book, nil
	}
	book, err := e.venue.GetOrderBook(ctx, tokenID)
	if err != nil {
		return nil, classifyVenueError(err)
	}
	e.books.Set(tokenID, book)
	return book, nil
}

// classifyVenueError maps venue error text onto the standard taxonomy:
// closed-or-resolved market and slippage rejections are later downgraded to
// deliberate skips; everything else stays an execution failure.
func classifyVenueError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ports.ErrMarketClosed) || errors.Is(err, ports.ErrSlippageExceeded) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no orderbook"),
		strings.Contains(msg, "market closed"),
		strings.Contains(msg, "market resolved"),
		strings.Contains(msg, "not accepting orders"):
		return fmt.Errorf("%w: %v", ports.ErrMarketClosed, err)
	case strings.Contains(msg, "slippage"),
		strings.Contains(msg, "price changed"):
		return fmt.Errorf("%w: %v", ports.ErrSlippageExceeded, err)
	default:
		return err
	}
}
