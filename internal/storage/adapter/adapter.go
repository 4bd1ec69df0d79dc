// Package adapter implements the single-row storage primitives of
// spec.md §4.2: store, fetch, clear, and the descendant iterator used by
// DDL to scan everything beneath a key, plus the supplemented treeExists
// existence check. All side effects are confined to the caller's active
// transaction. Grounded on the teacher's validate-then-act-then-log-
// then-meter orchestration shape.
package adapter

import (
	"context"

	"go.uber.org/zap"

	"github.com/relionsql/kvadapter/internal/errors"
	"github.com/relionsql/kvadapter/internal/keycodec"
	"github.com/relionsql/kvadapter/internal/kv"
	"github.com/relionsql/kvadapter/internal/metrics"
	"github.com/relionsql/kvadapter/internal/model"
	"github.com/relionsql/kvadapter/internal/session"
)

// Adapter performs single-row reads/writes against whatever
// StorageDescription the caller supplies.
type Adapter struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func New(logger *zap.Logger, m *metrics.Metrics) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{logger: logger, metrics: m}
}

// StoreData binds a logical key to a row payload for a single
// store/fetch/clear call.
type StoreData struct {
	Desc  *model.StorageDescription
	Key   *model.Key
	Value model.RowData
}

// Store writes pack(desc, key) = value. No uniqueness check happens
// here; that is the index writer's job (spec.md §4.2). A failed write
// marks sess rollback-pending (spec.md §7: "on any non-retryable
// failure during a write path, the adapter marks the session's
// transaction rollback-pending if still active").
func (a *Adapter) Store(ctx context.Context, sess *session.Session, sd *StoreData) error {
	packed := keycodec.Pack(sd.Desc.Prefix, sd.Key, model.NoEdge)
	if err := sess.Txn().Set(ctx, packed, sd.Value.Bytes); err != nil {
		wrapped := errors.WrapStoreException("store failed", err)
		if !wrapped.IsRetryable() {
			sess.MarkRollbackPending()
		}
		return wrapped
	}
	if a.metrics != nil {
		a.metrics.RowsStored.Inc()
	}
	a.logger.Debug("stored row", zap.Int("key_depth", sd.Key.Depth()))
	return nil
}

// Fetch sets sd.Value from a get and reports whether the key existed.
func (a *Adapter) Fetch(ctx context.Context, txn kv.Transaction, sd *StoreData) (bool, error) {
	packed := keycodec.Pack(sd.Desc.Prefix, sd.Key, model.NoEdge)
	value, err := txn.Get(ctx, packed)
	if err != nil {
		return false, errors.WrapStoreException("fetch failed", err)
	}
	if a.metrics != nil {
		a.metrics.RowsFetched.Inc()
	}
	if value == nil {
		return false, nil
	}
	sd.Value = model.RowData{Bytes: value}
	return true, nil
}

// Clear deletes the key, returning whether it existed. Spec.md §9's open
// question: obtaining existed costs an extra point get against a
// production store; memkv can answer for free, but callers must not
// depend on the precision of this flag outside the maintenance paths
// spec.md names.
func (a *Adapter) Clear(ctx context.Context, sess *session.Session, sd *StoreData) (bool, error) {
	packed := keycodec.Pack(sd.Desc.Prefix, sd.Key, model.NoEdge)
	existed, err := sess.Txn().Clear(ctx, packed)
	if err != nil {
		wrapped := errors.WrapStoreException("clear failed", err)
		if !wrapped.IsRetryable() {
			sess.MarkRollbackPending()
		}
		return false, wrapped
	}
	if a.metrics != nil {
		a.metrics.RowsCleared.Inc()
	}
	return existed, nil
}

// DescendantKV is one decoded row beneath a scanned key.
type DescendantKV struct {
	Key   *model.Key
	Value model.RowData
}

// DescendantIterator scans the half-open range [pack(desc,key,BEFORE),
// pack(desc,key,AFTER)), decoding each KV back into the caller's key
// space. Read-only.
func (a *Adapter) DescendantIterator(ctx context.Context, txn kv.Transaction, desc *model.StorageDescription, key *model.Key) ([]DescendantKV, error) {
	begin := keycodec.Pack(desc.Prefix, key, model.BEFORE)
	end := keycodec.Pack(desc.Prefix, key, model.AFTER)

	rows, err := txn.GetRange(ctx, kv.RangeOptions{
		Begin: kv.FirstGE(begin),
		End:   kv.FirstGE(end),
	})
	if err != nil {
		return nil, errors.WrapStoreException("descendant scan failed", err)
	}

	out := make([]DescendantKV, 0, len(rows))
	for _, r := range rows {
		decoded, err := keycodec.Unpack(desc.Prefix, r.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, DescendantKV{Key: decoded, Value: model.RowData{Bytes: r.Value}})
	}
	if a.metrics != nil {
		a.metrics.RowsFetched.Add(float64(len(out)))
	}
	return out, nil
}

// TruncateTree clears every key beneath desc's prefix (supplemented
// lifecycle operation, grounded on the teacher's truncateTree: a single
// clear-range call against a real store; here expressed as scan-then-
// clear since this module's kv.Transaction contract has no dedicated
// range-clear primitive).
func (a *Adapter) TruncateTree(ctx context.Context, txn kv.Transaction, desc *model.StorageDescription) error {
	begin := keycodec.PackPrefix(desc.Prefix)
	end := keycodec.Strinc(desc.Prefix)

	rows, err := txn.GetRange(ctx, kv.RangeOptions{Begin: kv.FirstGE(begin), End: kv.FirstGE(end)})
	if err != nil {
		return errors.WrapStoreException("truncate scan failed", err)
	}
	for _, r := range rows {
		if _, err := txn.Clear(ctx, r.Key); err != nil {
			return errors.WrapStoreException("truncate clear failed", err)
		}
	}
	if a.metrics != nil {
		a.metrics.RowsCleared.Add(float64(len(rows)))
	}
	return nil
}

// TreeExists is a supplemented point-range existence check used by DDL
// before a full truncate/drop: does any key with this prefix exist at
// all, without paying for a full descendant scan's decode work.
func (a *Adapter) TreeExists(ctx context.Context, txn kv.Transaction, desc *model.StorageDescription) (bool, error) {
	begin := keycodec.PackPrefix(desc.Prefix)
	end := keycodec.Strinc(desc.Prefix)

	rows, err := txn.GetRange(ctx, kv.RangeOptions{
		Begin: kv.FirstGE(begin),
		End:   kv.FirstGE(end),
		Limit: 1,
	})
	if err != nil {
		return false, errors.WrapStoreException("tree-exists scan failed", err)
	}
	return len(rows) > 0, nil
}
