// ============================================================================
// litewal Replicator - commit watch slot
// ============================================================================
//
// Package: internal/replicator
// File: commit.go
// Purpose: spec.md §9 — a single-producer, many-observer, latest-value-
// wins broadcast of the last durably committed frame number. Any number
// of callers can block in WaitUntilCommitted while the flush pipeline
// is the sole publisher.
// ============================================================================

package replicator

import "sync"

// commitSlot holds the most recently published commit and lets any
// number of waiters block until it reaches a target value. A waiter
// that arrives after the target was already published returns
// immediately; it never queues behind earlier waiters.
type commitSlot struct {
	mu    sync.Mutex
	value uint32
	err   error
	ch    chan struct{}
}

func newCommitSlot() *commitSlot {
	return &commitSlot{ch: make(chan struct{})}
}

// publish records frameNo as the new last-committed value (or err as a
// flush failure) and wakes every current waiter. Later publishes
// overwrite earlier ones, an error included; nothing queues.
func (s *commitSlot) publish(frameNo uint32, err error) {
	s.mu.Lock()
	s.value = frameNo
	s.err = err
	closing := s.ch
	s.ch = make(chan struct{})
	s.mu.Unlock()
	close(closing)
}

func (s *commitSlot) snapshot() (uint32, error, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.err, s.ch
}
