// Package session owns the one active transaction a caller carries
// through this adapter at a time (spec.md §5: "each session carries
// exactly one active KV-store transaction"), its cancellation, and the
// rollback-pending flag a non-retryable write failure sets.
package session

import (
	"context"
	"sync"

	"github.com/relionsql/kvadapter/internal/errors"
	"github.com/relionsql/kvadapter/internal/kv"
)

// Session wraps one kv.Transaction plus the cancellation and
// rollback-pending bookkeeping every component in this module consults
// before touching the store.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu               sync.Mutex
	txn              kv.Transaction
	rollbackPending  bool
}

func New(ctx context.Context, txn kv.Transaction) *Session {
	ctx, cancel := context.WithCancel(ctx)
	return &Session{ctx: ctx, cancel: cancel, txn: txn}
}

func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) Txn() kv.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txn
}

// Checkpoint replaces the active transaction, used by traversal after a
// periodic commit+reset.
func (s *Session) Checkpoint(txn kv.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txn = txn
}

// Cancel raises QueryCanceled at the session's next suspension point.
func (s *Session) Cancel() { s.cancel() }

// CheckCanceled returns QueryCanceled if the session has been canceled;
// callers invoke this at every suspension point a long-running operation
// passes through.
func (s *Session) CheckCanceled() error {
	select {
	case <-s.ctx.Done():
		return errors.QueryCanceled("session canceled")
	default:
		return nil
	}
}

func (s *Session) MarkRollbackPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollbackPending = true
}

func (s *Session) RollbackPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rollbackPending
}

// ClearRollbackPending is called once the caller has actually rolled
// back or reset the transaction.
func (s *Session) ClearRollbackPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollbackPending = false
}
