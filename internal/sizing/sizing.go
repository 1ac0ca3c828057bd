// Package sizing converts an observed counterparty trade into a target
// notional for our own order.
package sizing

// Input holds the balances and parameters for one sizing decision.
type Input struct {
	YourUSDBalance   float64 // Operator's available quote-currency balance
	TraderUSDBalance float64 // Counterparty balance (or a proxy for it)
	TraderTradeUSD   float64 // Notional of the observed trade
	Multiplier       float64 // Configured scaling multiplier
}

// Result reports both the ratio and the target size so callers can audit
// the decision.
type Result struct {
	Ratio         float64 // TraderTradeUSD / TraderUSDBalance
	TargetUSDSize float64 // YourUSDBalance * Ratio * Multiplier
}

// Proportional computes a target notional proportional to the share of the
// counterparty's balance their trade represents. A non-positive trader
// balance is floored at 1 to avoid division blow-up. Pure function, no side
// effects.
func Proportional(in Input) Result {
	traderBalance := in.TraderUSDBalance
	if traderBalance <= 0 {
		traderBalance = 1
	}
	ratio := in.TraderTradeUSD / traderBalance
	return Result{
		Ratio:         ratio,
		TargetUSDSize: in.YourUSDBalance * ratio * in.Multiplier,
	}
}
