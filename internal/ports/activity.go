package ports

import (
	"context"
	"time"
)

// ActivityTypeTrade is the only activity entry type the engine consumes.
const ActivityTypeTrade = "TRADE"

// ActivityEntry is one row of a counterparty's activity feed.
type ActivityEntry struct {
	Type         string    // Entry type tag; only "TRADE" is consumed
	Timestamp    time.Time // Event time reported by the feed
	MarketID     string    // Market / condition identifier
	TokenID      string    // Outcome token identifier
	Size         float64   // Raw instrument quantity
	SizeUSD      float64   // Notional in quote currency; 0 when the feed omits it
	Price        float64   // Execution price
	Side         string    // "BUY" or "SELL" (case varies upstream)
	OutcomeIndex int       // 0 or 1
	TxHash       string    // Settlement transaction hash
}

// Notional returns the entry's quote-currency value, deriving it from
// size*price when the feed did not report it directly.
func (e ActivityEntry) Notional() float64 {
	if e.SizeUSD > 0 {
		return e.SizeUSD
	}
	return e.Size * e.Price
}

// ActivityFeed reads a counterparty's recent trade activity.
type ActivityFeed interface {
	// RecentActivity fetches the most recent activity entries for a trader,
	// newest data the feed has. A feed with no data for the trader yet
	// returns an empty slice, not an error.
	RecentActivity(ctx context.Context, trader string) ([]ActivityEntry, error)
}
