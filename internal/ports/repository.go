package ports

import (
	"context"
	"time"
)

// ProcessedRepository is the optional durable backing store for the dedup
// ledger: one row per processed event identifier with an expiry.
// Implementations purge expired rows so a past identifier can be claimed
// again after its TTL.
type ProcessedRepository interface {
	// IsProcessed reports whether a live (non-expired) record exists for
	// the identifier.
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	// MarkProcessed upserts the record for the identifier with the given
	// time to live.
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error
	// PurgeExpired removes records whose expiry has passed and returns the
	// number removed.
	PurgeExpired(ctx context.Context) (int64, error)
}
