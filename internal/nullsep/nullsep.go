// Package nullsep allocates the monotonic null-separator counter of
// spec.md §4.8: one cell per uniqueAndMayContainNulls index at
// packedIndexNullPrefix ∥ index.prefix, advanced in a dedicated fresh
// transaction so bulk inserts never conflict on this one hot cell.
//
// Like internal/sequence, the cell is a raw big-endian uint64 rather
// than spec.md §6's Tuple(long) — self-consistent since only this
// package ever reads it.
package nullsep

import (
	"context"
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/relionsql/kvadapter/internal/errors"
	"github.com/relionsql/kvadapter/internal/kv"
)

// Allocator hands out null separators under a configured indexNull/
// directory prefix.
type Allocator struct {
	nullPrefix []byte
	db         kv.Database
	logger     *zap.Logger
}

func New(nullPrefix []byte, db kv.Database, logger *zap.Logger) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{nullPrefix: nullPrefix, db: db, logger: logger}
}

func (a *Allocator) cell(indexPrefix []byte) []byte {
	return append(append([]byte{}, a.nullPrefix...), indexPrefix...)
}

// Next allocates the next null separator for indexPrefix, running in its
// own fresh transaction (not the caller's session transaction) so it
// never becomes a conflict hotspot under a caller's outer isolation
// tracking.
func (a *Allocator) Next(ctx context.Context, indexPrefix []byte) (int64, error) {
	txn, err := a.db.BeginTransaction(ctx)
	if err != nil {
		return 0, errors.WrapStoreException("failed to start null-separator transaction", err)
	}

	cell := a.cell(indexPrefix)
	current, err := txn.Get(ctx, cell)
	if err != nil {
		return 0, errors.WrapStoreException("null-separator read failed", err)
	}

	var value int64
	if current != nil {
		if len(current) != 8 {
			return 0, errors.CorruptValue("null-separator cell has unexpected width", nil)
		}
		value = int64(binary.BigEndian.Uint64(current))
	}
	next := value + 1

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(next))
	if err := txn.Set(ctx, cell, buf); err != nil {
		return 0, errors.WrapStoreException("null-separator write failed", err)
	}
	if err := txn.Commit(ctx); err != nil {
		return 0, errors.WrapStoreException("null-separator commit failed", err)
	}

	a.logger.Debug("allocated null separator", zap.Int64("value", next))
	return next, nil
}

// Forget removes the null-separator cell for a dropped index
// (supplemented lifecycle operation).
func (a *Allocator) Forget(ctx context.Context, txn kv.Transaction, indexPrefix []byte) error {
	if _, err := txn.Clear(ctx, a.cell(indexPrefix)); err != nil {
		return errors.WrapStoreException("null-separator forget failed", err)
	}
	return nil
}
