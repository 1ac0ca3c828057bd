package domain

import "time"

// PriceLevel is a single price+size entry on one side of an order book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// Notional returns the quote-currency value available at this level.
func (l PriceLevel) Notional() float64 {
	return l.Price * l.Size
}

// OrderBook is a snapshot of the venue's book for one outcome token.
// Bids and Asks are ordered best price first (highest bid, lowest ask).
type OrderBook struct {
	TokenID   string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// BestBid returns the top bid level, or false when the bid side is empty.
func (b *OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask level, or false when the ask side is empty.
func (b *OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// Levels returns the side of the book a taker order on the given side
// consumes: asks for a buy, bids for a sell.
func (b *OrderBook) Levels(side OrderSide) []PriceLevel {
	if side == Buy {
		return b.Asks
	}
	return b.Bids
}
