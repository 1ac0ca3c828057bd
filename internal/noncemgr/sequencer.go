// Package noncemgr serializes sequence-number assignment for concurrently
// submitted chain transactions from one signing identity.
package noncemgr

import (
	"context"
	"fmt"
	"sync"
)

// FetchFunc returns the next pending nonce for the signing identity as
// reported by the node.
type FetchFunc func(ctx context.Context) (uint64, error)

// Sequencer hands out strictly increasing nonces. The first claim (and the
// first claim after a reported failure) refreshes from the node; later
// claims increment locally.
type Sequencer struct {
	mu          sync.Mutex
	fetch       FetchFunc
	next        uint64
	initialized bool
	pending     int
}

// NewSequencer creates a sequencer backed by the given nonce fetcher.
func NewSequencer(fetch FetchFunc) (*Sequencer, error) {
	if fetch == nil {
		return nil, fmt.Errorf("nonce fetch function is required")
	}
	return &Sequencer{fetch: fetch}, nil
}

// Next claims the next nonce and increments the pending counter.
func (s *Sequencer) Next(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		n, err := s.fetch(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to fetch pending nonce: %w", err)
		}
		s.next = n
		s.initialized = true
	} else {
		s.next++
	}
	s.pending++
	return s.next, nil
}

// MarkCompleted records that one submitted transaction settled.
func (s *Sequencer) MarkCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending > 0 {
		s.pending--
	}
}

// MarkFailed records a failed submission. The local sequence is discarded so
// the next claim re-synchronizes with the node.
func (s *Sequencer) MarkFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = false
	if s.pending > 0 {
		s.pending--
	}
}

// PendingCount returns the number of claimed-but-unsettled nonces.
func (s *Sequencer) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}
