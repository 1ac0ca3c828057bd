// Package dedup records processed event identifiers so the same observed
// trade is never acted on twice, even when the activity poller and the
// pending-transaction listener race on one transaction hash.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"polyCopyBot/internal/ports"
)

// DefaultTTL is how long a processed identifier stays claimed.
const DefaultTTL = 24 * time.Hour

// Ledger combines a fast in-memory set with an optional durable backing
// store. The in-memory set is authoritative for correctness; the store only
// widens dedup across restarts. Store failures never block the in-memory
// path.
type Ledger struct {
	mu     sync.Mutex
	seen   map[string]time.Time // identifier -> expiry
	store  ports.ProcessedRepository
	logger ports.Logger
	ttl    time.Duration
	now    func() time.Time
}

// Config holds construction parameters for the ledger.
type Config struct {
	// Store is the optional durable backing repository. Nil disables
	// persistence.
	Store  ports.ProcessedRepository
	Logger ports.Logger
	// TTL is the claim lifetime; DefaultTTL when zero.
	TTL time.Duration
}

// NewLedger creates a dedup ledger.
func NewLedger(cfg Config) (*Ledger, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for dedup ledger")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Ledger{
		seen:   make(map[string]time.Time),
		store:  cfg.Store,
		logger: cfg.Logger,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// IsProcessed reports whether the identifier holds a live claim.
func (l *Ledger) IsProcessed(ctx context.Context, id string) bool {
	l.mu.Lock()
	hit := l.memHitLocked(id)
	l.mu.Unlock()
	if hit {
		return true
	}

	if !l.storeHas(ctx, id) {
		return false
	}
	// Re-warm the in-memory set so later checks stay cheap.
	l.mu.Lock()
	l.seen[id] = l.now().Add(l.ttl)
	l.mu.Unlock()
	return true
}

// MarkProcessed claims the identifier unconditionally.
func (l *Ledger) MarkProcessed(ctx context.Context, id string) {
	l.mu.Lock()
	l.seen[id] = l.now().Add(l.ttl)
	l.mu.Unlock()
	l.storeWrite(ctx, id)
}

// Claim atomically checks and marks the identifier. It returns true exactly
// once per identifier per TTL window: two interleaved claims for the same
// identifier cannot both observe "not processed". The in-memory
// check-and-mark is the critical section; the durable store is consulted
// only by the winner, after the lock is released, so a slow store never
// stalls concurrent claims.
func (l *Ledger) Claim(ctx context.Context, id string) bool {
	l.mu.Lock()
	if l.memHitLocked(id) {
		l.mu.Unlock()
		return false
	}
	// Mark before the store consult so racing claimants lose immediately.
	// If the store turns out to already hold the identifier, the entry is
	// correct anyway.
	l.seen[id] = l.now().Add(l.ttl)
	l.mu.Unlock()

	if l.storeHas(ctx, id) {
		return false
	}
	l.storeWrite(ctx, id)
	return true
}

// memHitLocked reports a live in-memory claim, discarding an expired entry
// on the way. Caller must hold l.mu.
func (l *Ledger) memHitLocked(id string) bool {
	expiry, ok := l.seen[id]
	if !ok {
		return false
	}
	if l.now().Before(expiry) {
		return true
	}
	// Expired entries are logically absent.
	delete(l.seen, id)
	return false
}

// storeHas consults the durable store. Errors are logged and treated as
// "not found".
func (l *Ledger) storeHas(ctx context.Context, id string) bool {
	if l.store == nil {
		return false
	}
	processed, err := l.store.IsProcessed(ctx, id)
	if err != nil {
		l.logger.Warn(ctx, "Dedup store lookup failed, treating as not processed", map[string]interface{}{
			"eventID": id,
			"error":   err.Error(),
		})
		return false
	}
	return processed
}

// storeWrite persists the claim when a store is present.
func (l *Ledger) storeWrite(ctx context.Context, id string) {
	if l.store == nil {
		return
	}
	if err := l.store.MarkProcessed(ctx, id, l.ttl); err != nil {
		l.logger.Warn(ctx, "Dedup store write failed, in-memory claim stands", map[string]interface{}{
			"eventID": id,
			"error":   err.Error(),
		})
	}
}

// Len returns the number of in-memory entries, expired ones included.
// Entries are only purged lazily on lookup.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
