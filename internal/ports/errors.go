package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Venue / Chain Specific Errors
	ErrConnectionFailed     = errors.New("failed to connect to upstream endpoint")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrMarketClosed         = errors.New("market has no order book (closed or resolved)")
	ErrSlippageExceeded     = errors.New("best available price breaches slippage bound")
	ErrExposureCapExceeded  = errors.New("exposure cap would be exceeded")
	ErrOrderPlacementFailed = errors.New("failed to place order")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
)
