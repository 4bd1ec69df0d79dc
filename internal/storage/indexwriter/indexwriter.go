// Package indexwriter implements spec.md §4.5: building an index key and
// value from a row and its hkey, checking uniqueness under either of the
// two supported modes (synchronous inline or batched-until-commit), and
// writing/deleting index rows while respecting the null-separator
// protocol for uniqueAndMayContainNulls indexes.
//
// Design note §9 calls for dispatching the roughly six unique/non-unique
// x nullable/non-nullable x table/group behaviors as a tagged variant
// rather than inheritance; Build/Write/Delete below all switch on the
// index descriptor's flags rather than exposing six separate entry
// points.
package indexwriter

import (
	"bytes"
	"context"

	"go.uber.org/zap"

	"github.com/relionsql/kvadapter/internal/errors"
	"github.com/relionsql/kvadapter/internal/keycodec"
	"github.com/relionsql/kvadapter/internal/kv"
	"github.com/relionsql/kvadapter/internal/metrics"
	"github.com/relionsql/kvadapter/internal/model"
	"github.com/relionsql/kvadapter/internal/nullsep"
	"github.com/relionsql/kvadapter/internal/session"
	"github.com/relionsql/kvadapter/internal/storage/gicounter"
	"github.com/relionsql/kvadapter/internal/txnbudget"
	"github.com/relionsql/kvadapter/internal/util/workerpool"
)

// Writer builds and maintains index rows for a schema's indexes.
type Writer struct {
	nullsep *nullsep.Allocator
	counter *gicounter.Counter
	pool    *workerpool.WorkerPool
	budget  *txnbudget.Budget
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func New(nullsepAlloc *nullsep.Allocator, counter *gicounter.Counter, pool *workerpool.WorkerPool, budget *txnbudget.Budget, m *metrics.Metrics, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{nullsep: nullsepAlloc, counter: counter, pool: pool, budget: budget, metrics: m, logger: logger}
}

// Build implements constructIndexRow: populates key columns from rowData
// in declared order and, for a uniqueAndMayContainNulls index, appends a
// null-separator segment (0 when no key column is null, a freshly
// allocated positive long otherwise).
func (w *Writer) Build(ctx context.Context, index model.Index, rowData model.RowData, hKey model.HKey) (*model.IndexRow, error) {
	key := model.NewKey()
	anyNull := false
	for _, fd := range index.IndexKeyColumns() {
		seg, ok := fd.Extract(rowData)
		if !ok {
			seg = model.NullSegment()
			anyNull = true
		}
		key.Append(seg)
	}

	if index.IsUniqueAndMayContainNulls() {
		sep := int64(0)
		if anyNull {
			allocated, err := w.nullsep.Next(ctx, index.IndexPrefix())
			if err != nil {
				return nil, err
			}
			sep = allocated
		}
		key.Append(model.IntSegment(sep))
	}

	return &model.IndexRow{Key: key, HKey: hKey}, nil
}

// Batch accumulates uniqueness checks to resolve as a pipelined group
// before commit, instead of blocking inline on each one — the
// batched-until-commit mode spec.md §9 requires bulk-insert callers be
// able to use.
type Batch struct {
	checks []pendingCheck
}

type pendingCheck struct {
	indexName    string
	prefix       []byte
	formattedRow string
}

func NewBatch() *Batch { return &Batch{} }

// CheckUniqueness issues a PendingCheck for a unique, non-null-key
// index row. If index is not unique, or any key column extracted by
// Build was null (uniqueness is only enforced on a fully non-null key
// prefix), this is a no-op. When batch is nil the check resolves inline,
// blocking until the read completes; when batch is non-nil it is
// enqueued for ResolveBatch to pipeline later.
func (w *Writer) CheckUniqueness(ctx context.Context, txn kv.Transaction, index model.Index, row *model.IndexRow, rowData model.RowData, formattedRow string, batch *Batch) error {
	if !index.IsUnique() {
		return nil
	}
	if rowHasNullKeyColumn(index, rowData) {
		return nil
	}

	// row.Key already carries exactly what a uniqueness check must match
	// on: the declared key columns, plus the null-separator segment Build
	// appended for a uniqueAndMayContainNulls index (0, since the null
	// path above already returned for any row with a null key column).
	prefix := keycodec.Pack(index.IndexPrefix(), row.Key, model.NoEdge)

	if batch != nil {
		batch.checks = append(batch.checks, pendingCheck{indexName: index.IndexName(), prefix: prefix, formattedRow: formattedRow})
		return nil
	}

	return w.checkOne(ctx, txn, index.IndexName(), prefix, formattedRow)
}

func rowHasNullKeyColumn(index model.Index, rowData model.RowData) bool {
	for _, fd := range index.IndexKeyColumns() {
		if _, ok := fd.Extract(rowData); !ok {
			return true
		}
	}
	return false
}

func (w *Writer) checkOne(ctx context.Context, txn kv.Transaction, indexName string, prefix []byte, formattedRow string) error {
	existing, err := txn.Get(ctx, prefix)
	if err != nil {
		return errors.WrapStoreException("uniqueness check read failed", err)
	}
	if existing != nil {
		return errors.DuplicateKey(indexName, formattedRow)
	}
	return nil
}

// ResolveBatch pipelines every enqueued check through the writer's
// worker pool and returns the first DuplicateKey encountered, if any.
// Call this once per transaction, before commit.
func (w *Writer) ResolveBatch(ctx context.Context, txn kv.Transaction, batch *Batch) error {
	if batch == nil || len(batch.checks) == 0 {
		return nil
	}

	if w.metrics != nil {
		w.metrics.PendingChecksQueued.Set(float64(len(batch.checks)))
		defer w.metrics.PendingChecksQueued.Set(0)
	}

	type result struct {
		err error
	}
	results := make(chan result, len(batch.checks))

	for _, c := range batch.checks {
		c := c
		task := workerpool.Task{
			ID:      c.indexName,
			Context: ctx,
			Fn: func(ctx context.Context) error {
				results <- result{err: w.checkOne(ctx, txn, c.indexName, c.prefix, c.formattedRow)}
				return nil
			},
		}
		if w.pool == nil || w.pool.SubmitWithContext(ctx, task) != nil {
			// No pool configured (or submission failed): resolve inline
			// rather than silently dropping the check.
			results <- result{err: w.checkOne(ctx, txn, c.indexName, c.prefix, c.formattedRow)}
		}
	}

	var firstErr error
	for range batch.checks {
		r := <-results
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
		if w.metrics != nil {
			w.metrics.PendingChecksResolved.Inc()
		}
	}
	batch.checks = nil
	return firstErr
}

// Write persists pack(index, row.Key) = hkey-encoded bytes, and for a
// group index, bumps its row count via an atomic ADD. A non-retryable
// failure marks sess rollback-pending (spec.md §7).
func (w *Writer) Write(ctx context.Context, sess *session.Session, index model.Index, row *model.IndexRow) error {
	txn := sess.Txn()
	packedKey := keycodec.Pack(index.IndexPrefix(), row.Key, model.NoEdge)
	value := keycodec.Pack(nil, row.HKey.Key, model.NoEdge)

	if w.budget != nil {
		if err := w.budget.CheckBeforeWrite(); err != nil {
			return err
		}
	}

	if err := txn.Set(ctx, packedKey, value); err != nil {
		wrapped := errors.WrapStoreException("index row write failed", err)
		if !wrapped.IsRetryable() {
			sess.MarkRollbackPending()
		}
		return wrapped
	}
	if w.budget != nil {
		w.budget.Add(len(packedKey) + len(value))
	}

	if _, ok := index.(*model.GroupIndex); ok && w.counter != nil {
		if err := w.counter.Increment(ctx, txn, index.IndexName(), index.IndexPrefix()); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the index row for rowData/hKey. For a unique-nonnull or
// non-unique index, the on-disk key is fully determined by Build and can
// be cleared directly. For a nullable-unique index whose row had a null
// key column, the null separator on disk is unknown without a read: scan
// the prefix (excluding the separator) and clear the first row whose
// decoded hkey matches the caller's. A non-retryable failure marks sess
// rollback-pending (spec.md §7).
func (w *Writer) Delete(ctx context.Context, sess *session.Session, index model.Index, rowData model.RowData, hKey model.HKey) error {
	if index.IsUniqueAndMayContainNulls() && rowHasNullKeyColumn(index, rowData) {
		return w.deleteByScan(ctx, sess, index, rowData, hKey)
	}

	txn := sess.Txn()
	row, err := w.Build(ctx, index, rowData, hKey)
	if err != nil {
		return err
	}
	packedKey := keycodec.Pack(index.IndexPrefix(), row.Key, model.NoEdge)
	existed, err := txn.Clear(ctx, packedKey)
	if err != nil {
		wrapped := errors.WrapStoreException("index row delete failed", err)
		if !wrapped.IsRetryable() {
			sess.MarkRollbackPending()
		}
		return wrapped
	}
	if existed {
		if _, ok := index.(*model.GroupIndex); ok && w.counter != nil {
			if err := w.counter.Decrement(ctx, txn, index.IndexName(), index.IndexPrefix()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Writer) deleteByScan(ctx context.Context, sess *session.Session, index model.Index, rowData model.RowData, hKey model.HKey) error {
	txn := sess.Txn()
	key := model.NewKey()
	for _, fd := range index.IndexKeyColumns() {
		seg, ok := fd.Extract(rowData)
		if !ok {
			seg = model.NullSegment()
		}
		key.Append(seg)
	}

	prefix := index.IndexPrefix()
	begin := keycodec.Pack(prefix, key, model.NoEdge)
	end := keycodec.Strinc(prefix)

	rows, err := txn.GetRange(ctx, kv.RangeOptions{Begin: kv.FirstGE(begin), End: kv.FirstGE(end)})
	if err != nil {
		wrapped := errors.WrapStoreException("index delete scan failed", err)
		if !wrapped.IsRetryable() {
			sess.MarkRollbackPending()
		}
		return wrapped
	}

	for _, r := range rows {
		decodedHKey, err := keycodec.Unpack(nil, r.Value)
		if err != nil {
			return errors.CorruptValue("failed to decode hkey during index delete scan", err)
		}
		if !hkeyEquals(decodedHKey, hKey.Key) {
			continue
		}
		existed, err := txn.Clear(ctx, r.Key)
		if err != nil {
			wrapped := errors.WrapStoreException("index row delete failed", err)
			if !wrapped.IsRetryable() {
				sess.MarkRollbackPending()
			}
			return wrapped
		}
		if existed {
			if _, ok := index.(*model.GroupIndex); ok && w.counter != nil {
				if err := w.counter.Decrement(ctx, txn, index.IndexName(), index.IndexPrefix()); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return nil
}

func hkeyEquals(a, b *model.Key) bool {
	if len(a.Segments) != len(b.Segments) {
		return false
	}
	for i := range a.Segments {
		sa, sb := a.Segments[i], b.Segments[i]
		if sa.Kind != sb.Kind {
			return false
		}
		switch sa.Kind {
		case model.SegmentInt:
			if sa.Int != sb.Int {
				return false
			}
		case model.SegmentString:
			if sa.Str != sb.Str {
				return false
			}
		case model.SegmentBytes:
			if !bytes.Equal(sa.Bytes, sb.Bytes) {
				return false
			}
		}
	}
	return true
}
