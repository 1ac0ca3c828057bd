package ports

import (
	"context"

	"polyCopyBot/internal/domain"
)

// OrderRequest describes one immediate-or-cancel order against the venue.
type OrderRequest struct {
	TokenID  string           // Outcome token to trade
	Side     domain.OrderSide // BUY or SELL
	Quantity float64          // Instrument quantity
	Price    float64          // Limit price for the IOC order
}

// OrderResult carries the venue's response to an order submission.
// The engine only requires the success flag; the remaining fields are
// informational.
type OrderResult struct {
	Success bool
	OrderID string
	Status  string
}

// VenueClient is the interface to the prediction-market CLOB.
type VenueClient interface {
	// GetOrderBook fetches the current book for an outcome token,
	// both sides ordered best price first.
	GetOrderBook(ctx context.Context, tokenID string) (*domain.OrderBook, error)

	// PlaceOrder submits an immediate-or-cancel order. A venue-side
	// rejection is reported as a non-nil error carrying the venue's
	// message; the OrderResult may still describe the rejection.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
}
