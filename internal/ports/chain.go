package ports

import (
	"context"
	"math/big"
)

// PendingTransaction is the subset of a chain transaction the engine needs:
// enough to match a destination contract and to read the sender's gas bid.
type PendingTransaction struct {
	Hash string
	To   string // Destination address, lower-cased; empty for contract creation

	// GasPrice is the legacy gas price, or the max-fee field for typed
	// transactions. Nil when the node did not report either.
	GasPrice *big.Int
}

// ChainClient is the interface to the chain RPC node.
type ChainClient interface {
	// SubscribePendingTransactions subscribes to the node's pending
	// transaction feed. Each hash is delivered to handler; transport
	// failures go to errHandler. The returned stop function deregisters
	// the subscription and is safe to call more than once.
	SubscribePendingTransactions(ctx context.Context, handler func(txHash string), errHandler func(error)) (stop func(), err error)

	// TransactionByHash resolves a transaction. Returns ErrNotFound when
	// the node no longer (or does not yet) know the hash.
	TransactionByHash(ctx context.Context, txHash string) (*PendingTransaction, error)

	// TransactionConfirmed reports whether a receipt exists for the hash.
	// No receipt means the transaction is still pending.
	TransactionConfirmed(ctx context.Context, txHash string) (bool, error)

	// NativeBalance returns the address's gas-currency balance in whole units.
	NativeBalance(ctx context.Context, address string) (float64, error)

	// TokenBalance returns the address's balance of the quote-currency token
	// in whole units.
	TokenBalance(ctx context.Context, tokenContract, address string) (float64, error)

	// PendingNonce returns the next sequence number for the address,
	// counting pending transactions.
	PendingNonce(ctx context.Context, address string) (uint64, error)

	// SetDefaultGasPrice overrides the gas price (wei) used for subsequent
	// transaction submissions from this client's signing identity.
	SetDefaultGasPrice(ctx context.Context, wei *big.Int) error
}
