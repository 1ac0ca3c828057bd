package domain

import (
	"fmt"
	"math/big"
	"time"
)

// TradeSignal is an observed counterparty trade eligible for reaction.
// It is immutable once constructed; consumers must not modify it.
type TradeSignal struct {
	Trader    string    // Counterparty wallet address (lower-cased)
	MarketID  string    // Market / condition identifier
	TokenID   string    // Outcome token (instrument) identifier
	Outcome   Outcome   // YES or NO
	Side      OrderSide // Side of the observed trade
	SizeUSD   float64   // Notional in quote currency, must be > 0
	Price     float64   // Observed execution price, must be > 0
	Timestamp time.Time // Event time reported by the activity feed

	// TxHash is the settlement transaction hash of the observed trade.
	// Empty when the producer could not attach one.
	TxHash string

	// GasPrice is the gas price (wei) of the still-pending counterparty
	// transaction. Nil when unknown or when the trade already confirmed.
	GasPrice *big.Int
}

// Validate checks the invariants every signal must satisfy before it may
// reach order submission.
func (s *TradeSignal) Validate() error {
	if s.SizeUSD <= 0 {
		return fmt.Errorf("signal size must be positive, got %f", s.SizeUSD)
	}
	if s.Price <= 0 {
		return fmt.Errorf("signal price must be positive, got %f", s.Price)
	}
	if s.MarketID == "" || s.TokenID == "" {
		return fmt.Errorf("signal must carry market and token identifiers")
	}
	return nil
}

// HasGasPrice reports whether the originating transaction's gas price was
// observed.
func (s *TradeSignal) HasGasPrice() bool {
	return s.GasPrice != nil
}
