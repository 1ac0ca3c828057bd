// Package positions records the synthetic positions this engine has opened
// and answers the exposure queries used for risk gating.
package positions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"polyCopyBot/internal/domain"
	"polyCopyBot/internal/ports"
)

// Tracker keeps open positions per (market, instrument) key. Every operation
// is a single critical section; no read-modify-write spans a suspension
// point.
type Tracker struct {
	mu        sync.Mutex
	positions map[string][]*domain.Position
	logger    ports.Logger
	now       func() time.Time
}

// NewTracker creates an empty position tracker.
func NewTracker(logger ports.Logger) (*Tracker, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for position tracker")
	}
	return &Tracker{
		positions: make(map[string][]*domain.Position),
		logger:    logger,
		now:       time.Now,
	}, nil
}

// AddPosition appends a position for the signal with the given filled
// notional and entry price.
func (t *Tracker) AddPosition(ctx context.Context, signal *domain.TradeSignal, filledSize, fillPrice float64) *domain.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.appendLocked(ctx, signal, filledSize, fillPrice)
}

// AddIfUnderCaps atomically checks both exposure caps and appends the
// position, closing the check-then-act window between a cap query and the
// subsequent insert. A cap of 0 or below disables that cap. On breach it
// returns ErrExposureCapExceeded and records nothing.
func (t *Tracker) AddIfUnderCaps(ctx context.Context, signal *domain.TradeSignal, size, price, totalCap, keyCap float64) (*domain.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if totalCap > 0 {
		if total := t.totalExposureLocked(); total+size > totalCap {
			return nil, fmt.Errorf("%w: total exposure %.2f + %.2f exceeds cap %.2f",
				ports.ErrExposureCapExceeded, total, size, totalCap)
		}
	}
	if keyCap > 0 {
		if keyExp := t.keyExposureLocked(signal.MarketID, signal.TokenID); keyExp+size > keyCap {
			return nil, fmt.Errorf("%w: market exposure %.2f + %.2f exceeds cap %.2f",
				ports.ErrExposureCapExceeded, keyExp, size, keyCap)
		}
	}
	return t.appendLocked(ctx, signal, size, price), nil
}

// Remove deletes the given position by identity. Used to release a position
// reserved by AddIfUnderCaps when execution produced no fill.
func (t *Tracker) Remove(pos *domain.Position) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := domain.PositionKey(pos.MarketID, pos.TokenID)
	list := t.positions[key]
	for i, p := range list {
		if p == pos {
			t.removeAtLocked(key, i)
			return true
		}
	}
	return false
}

// RemovePosition removes the position at index within the (market,
// instrument) list. Remaining entries keep their order.
func (t *Tracker) RemovePosition(marketID, tokenID string, index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := domain.PositionKey(marketID, tokenID)
	list := t.positions[key]
	if index < 0 || index >= len(list) {
		return fmt.Errorf("%w: position index %d out of range for key %s", ports.ErrNotFound, index, key)
	}
	t.removeAtLocked(key, index)
	return nil
}

// GetPositions returns a copy of the position list for the key.
func (t *Tracker) GetPositions(marketID, tokenID string) []*domain.Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.positions[domain.PositionKey(marketID, tokenID)]
	out := make([]*domain.Position, len(list))
	copy(out, list)
	return out
}

// AllPositions returns a copy of every open position.
func (t *Tracker) AllPositions() []*domain.Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*domain.Position
	for _, list := range t.positions {
		out = append(out, list...)
	}
	return out
}

// TotalExposure returns the sum of open notional across all positions.
func (t *Tracker) TotalExposure() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalExposureLocked()
}

// KeyExposure returns the open notional for one (market, instrument) key.
func (t *Tracker) KeyExposure(marketID, tokenID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.keyExposureLocked(marketID, tokenID)
}

// ShouldExit reports whether an existing position at the key was opened by
// the same counterparty on the opposite side, indicating their new trade is
// a close-out rather than a fresh entry.
func (t *Tracker) ShouldExit(trader, marketID, tokenID string, side domain.OrderSide) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.positions[domain.PositionKey(marketID, tokenID)] {
		if p.Trader == trader && p.Side != side {
			return true
		}
	}
	return false
}

// --- internal, caller holds t.mu ---

func (t *Tracker) appendLocked(ctx context.Context, signal *domain.TradeSignal, size, price float64) *domain.Position {
	pos := &domain.Position{
		MarketID:   signal.MarketID,
		TokenID:    signal.TokenID,
		Outcome:    signal.Outcome,
		Side:       signal.Side,
		SizeUSD:    size,
		EntryPrice: price,
		EntryTime:  t.now().UTC(),
		Trader:     signal.Trader,
	}
	key := domain.PositionKey(signal.MarketID, signal.TokenID)
	t.positions[key] = append(t.positions[key], pos)

	t.logger.Info(ctx, "Position added", map[string]interface{}{
		"marketID": signal.MarketID,
		"tokenID":  signal.TokenID,
		"side":     signal.Side,
		"sizeUSD":  size,
		"price":    price,
	})
	return pos
}

func (t *Tracker) removeAtLocked(key string, index int) {
	list := t.positions[key]
	t.positions[key] = append(list[:index], list[index+1:]...)
	if len(t.positions[key]) == 0 {
		delete(t.positions, key)
	}
}

func (t *Tracker) totalExposureLocked() float64 {
	var sum float64
	for _, list := range t.positions {
		for _, p := range list {
			sum += p.SizeUSD
		}
	}
	return sum
}

func (t *Tracker) keyExposureLocked(marketID, tokenID string) float64 {
	var sum float64
	for _, p := range t.positions[domain.PositionKey(marketID, tokenID)] {
		sum += p.SizeUSD
	}
	return sum
}
