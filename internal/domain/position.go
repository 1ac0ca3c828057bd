package domain

import "time"

// Position records an order this engine has placed in response to a signal.
// Positions are append-only records; they are never mutated in place.
type Position struct {
	MarketID   string    // Market / condition identifier
	TokenID    string    // Outcome token identifier
	Outcome    Outcome   // YES or NO
	Side       OrderSide // Side of our order
	SizeUSD    float64   // Filled notional in quote currency
	EntryPrice float64   // Entry price (the signal's observed price)
	EntryTime  time.Time // When the position was recorded
	Trader     string    // Counterparty whose trade triggered this position
}

// PositionKey returns the tracking key for a (market, instrument) pair.
func PositionKey(marketID, tokenID string) string {
	return marketID + "-" + tokenID
}
