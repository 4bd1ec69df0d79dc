// Package schemaops orchestrates the bulk DDL-time lifecycle operations
// spec.md's distillation left out but a complete adapter needs:
// truncating a tree, dropping indexes, dropping sequences, and removing
// a table's trees outright. Each ties together the group-index counter
// reset, the null-separator cell removal, and the sequence-cache
// eviction alongside the underlying directory/data removal, grounded
// directly on FDBStore's truncateTree/deleteIndexes/removeTrees/
// deleteSequences.
package schemaops

import (
	"context"

	"go.uber.org/zap"

	"github.com/relionsql/kvadapter/internal/directory"
	"github.com/relionsql/kvadapter/internal/kv"
	"github.com/relionsql/kvadapter/internal/model"
	"github.com/relionsql/kvadapter/internal/nullsep"
	"github.com/relionsql/kvadapter/internal/sequence"
	"github.com/relionsql/kvadapter/internal/storage/adapter"
	"github.com/relionsql/kvadapter/internal/storage/gicounter"
)

// Ops bundles the collaborators a lifecycle operation needs.
type Ops struct {
	adapter  *adapter.Adapter
	counter  *gicounter.Counter
	nullsep  *nullsep.Allocator
	sequence *sequence.Allocator
	dir      *directory.Client
	logger   *zap.Logger
}

func New(a *adapter.Adapter, counter *gicounter.Counter, nullsepAlloc *nullsep.Allocator, seqAlloc *sequence.Allocator, dir *directory.Client, logger *zap.Logger) *Ops {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ops{adapter: a, counter: counter, nullsep: nullsepAlloc, sequence: seqAlloc, dir: dir, logger: logger}
}

// TruncateIndexes clears every row of each index and, for group indexes,
// resets the row count to zero via a plain Set rather than an ADD
// (gicounter.Truncate already honors that distinction).
func (o *Ops) TruncateIndexes(ctx context.Context, txn kv.Transaction, indexes []model.Index) error {
	for _, idx := range indexes {
		desc := &model.StorageDescription{Kind: model.KindIndex, Prefix: idx.IndexPrefix()}
		if err := o.adapter.TruncateTree(ctx, txn, desc); err != nil {
			return err
		}
		if _, ok := idx.(*model.GroupIndex); ok {
			if err := o.counter.Truncate(ctx, txn, idx.IndexPrefix()); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteIndexes removes an index's directory subtree entirely (not just
// its rows) and forgets its group-index counter cell and any
// null-separator cell it was allocating from.
func (o *Ops) DeleteIndexes(ctx context.Context, txn kv.Transaction, indexes []model.Index, paths map[string][]string) error {
	for _, idx := range indexes {
		if path, ok := paths[idx.IndexName()]; ok {
			if err := o.dir.RemoveIfExists(ctx, txn, path); err != nil {
				return err
			}
		}
		if _, ok := idx.(*model.GroupIndex); ok {
			if err := o.counter.Forget(ctx, txn, idx.IndexPrefix()); err != nil {
				return err
			}
		}
		if idx.IsUniqueAndMayContainNulls() {
			if err := o.nullsep.Forget(ctx, txn, idx.IndexPrefix()); err != nil {
				return err
			}
		}
	}
	return nil
}

// RemoveTableTrees removes a table's (and, if it is a group's root, the
// group's and its group indexes') directory subtree, and drops any
// identity sequence the table owns.
func (o *Ops) RemoveTableTrees(ctx context.Context, txn kv.Transaction, tablePath []string, identitySeq *model.Sequence) error {
	if err := o.dir.RemoveIfExists(ctx, txn, tablePath); err != nil {
		return err
	}
	if identitySeq != nil {
		return o.DeleteSequences(ctx, txn, []*model.Sequence{identitySeq}, map[string][]string{identitySeq.Name: append([]string{"data"}, identitySeq.Name)})
	}
	return nil
}

// DeleteSequences evicts each sequence's in-process cache and removes
// its persisted cell.
func (o *Ops) DeleteSequences(ctx context.Context, txn kv.Transaction, sequences []*model.Sequence, paths map[string][]string) error {
	for _, seq := range sequences {
		o.sequence.Forget(seq)
		if path, ok := paths[seq.Name]; ok {
			if err := o.dir.RemoveIfExists(ctx, txn, path); err != nil {
				return err
			}
		}
		o.logger.Debug("sequence dropped", zap.String("sequence", seq.Name))
	}
	return nil
}
