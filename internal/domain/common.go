package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Outcome identifies one of the two outcome tokens of a binary market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// OutcomeFromIndex maps the data-API outcome index (0 or 1) to an Outcome.
func OutcomeFromIndex(idx int) Outcome {
	if idx == 0 {
		return OutcomeYes
	}
	return OutcomeNo
}

// Mode selects the execution strategy profile.
type Mode string

const (
	// ModeCopy mirrors a counterparty's confirmed trade proportionally.
	ModeCopy Mode = "copy"
	// ModeFrontrun races a counterparty's still-pending trade with a fixed
	// fraction of its size and escalated gas.
	ModeFrontrun Mode = "frontrun"
)
