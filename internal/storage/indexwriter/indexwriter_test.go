package indexwriter_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relionsql/kvadapter/internal/errors"
	"github.com/relionsql/kvadapter/internal/keycodec"
	"github.com/relionsql/kvadapter/internal/kv"
	"github.com/relionsql/kvadapter/internal/kv/memkv"
	"github.com/relionsql/kvadapter/internal/metrics"
	"github.com/relionsql/kvadapter/internal/model"
	"github.com/relionsql/kvadapter/internal/nullsep"
	"github.com/relionsql/kvadapter/internal/session"
	"github.com/relionsql/kvadapter/internal/storage/gicounter"
	"github.com/relionsql/kvadapter/internal/storage/indexwriter"
	"github.com/relionsql/kvadapter/internal/txnbudget"
	"github.com/relionsql/kvadapter/internal/util/workerpool"
)

// erroringTxn wraps a real transaction and fails Set/Clear on demand, used
// to drive the writer's write paths down their error branch without the
// in-memory store ever actually conflicting.
type erroringTxn struct {
	kv.Transaction
	setErr   error
	clearErr error
}

func (t *erroringTxn) Set(ctx context.Context, key, value []byte) error {
	if t.setErr != nil {
		return t.setErr
	}
	return t.Transaction.Set(ctx, key, value)
}

func (t *erroringTxn) Clear(ctx context.Context, key []byte) (bool, error) {
	if t.clearErr != nil {
		return false, t.clearErr
	}
	return t.Transaction.Clear(ctx, key)
}

func extractField(name string, val int64, null bool) model.FieldDef {
	return model.FieldDef{
		Name: name,
		Extract: func(model.RowData) (model.Segment, bool) {
			if null {
				return model.Segment{}, false
			}
			return model.IntSegment(val), true
		},
	}
}

func setupWriter(t *testing.T) (*indexwriter.Writer, *memkv.Store) {
	store := memkv.New(zap.NewNop())
	m := metrics.New(t.Name())
	nullsepAlloc := nullsep.New([]byte{0xE0}, store, zap.NewNop())
	counter := gicounter.New([]byte{0xE1}, zap.NewNop(), m)
	pool := workerpool.NewWorkerPool(&workerpool.Config{Name: t.Name(), MaxWorkers: 2, QueueSize: 8, Logger: zap.NewNop()})
	t.Cleanup(func() { pool.Stop(0) })
	budget := txnbudget.New(nil, zap.NewNop())
	return indexwriter.New(nullsepAlloc, counter, pool, budget, m, zap.NewNop()), store
}

func TestWriter_Build_NonNullableUnique(t *testing.T) {
	w, _ := setupWriter(t)
	ctx := context.Background()
	idx := &model.TableIndex{Name: "by_email", Prefix: []byte{0x01}, Unique: true, KeyColumns: []model.FieldDef{extractField("email", 1, false)}}
	hkey := model.NewHKey(model.IntSegment(1))

	row, err := w.Build(ctx, idx, model.RowData{}, hkey)
	require.NoError(t, err)
	assert.Equal(t, 1, row.Key.Depth())
}

func TestWriter_Build_NullableUniqueAppendsZeroSeparatorWhenNoNull(t *testing.T) {
	w, _ := setupWriter(t)
	ctx := context.Background()
	idx := &model.TableIndex{
		Name: "by_email", Prefix: []byte{0x02}, Unique: true, UniqueAndMayContainNulls: true,
		KeyColumns: []model.FieldDef{extractField("email", 1, false)},
	}
	hkey := model.NewHKey(model.IntSegment(1))

	row, err := w.Build(ctx, idx, model.RowData{}, hkey)
	require.NoError(t, err)
	require.Equal(t, 2, row.Key.Depth())
	assert.Equal(t, int64(0), row.Key.Segments[1].Int)
}

func TestWriter_Build_NullableUniqueAllocatesSeparatorWhenNull(t *testing.T) {
	w, _ := setupWriter(t)
	ctx := context.Background()
	idx := &model.TableIndex{
		Name: "by_email", Prefix: []byte{0x03}, Unique: true, UniqueAndMayContainNulls: true,
		KeyColumns: []model.FieldDef{extractField("email", 0, true)},
	}
	hkey := model.NewHKey(model.IntSegment(1))

	row1, err := w.Build(ctx, idx, model.RowData{}, hkey)
	require.NoError(t, err)
	row2, err := w.Build(ctx, idx, model.RowData{}, hkey)
	require.NoError(t, err)

	assert.NotEqual(t, int64(0), row1.Key.Segments[1].Int)
	assert.NotEqual(t, row1.Key.Segments[1].Int, row2.Key.Segments[1].Int, "each null row gets a distinct separator")
}

func TestWriter_CheckUniqueness_DuplicateRejected(t *testing.T) {
	w, store := setupWriter(t)
	ctx := context.Background()
	txn, err := store.BeginTransaction(ctx)
	require.NoError(t, err)

	sess := session.New(ctx, txn)
	idx := &model.TableIndex{Name: "by_email", Prefix: []byte{0x04}, Unique: true, KeyColumns: []model.FieldDef{extractField("email", 1, false)}}
	row, err := w.Build(ctx, idx, model.RowData{}, model.NewHKey(model.IntSegment(1)))
	require.NoError(t, err)

	require.NoError(t, w.CheckUniqueness(ctx, txn, idx, row, model.RowData{}, "row1", nil))
	require.NoError(t, w.Write(ctx, sess, idx, row))

	row2, err := w.Build(ctx, idx, model.RowData{}, model.NewHKey(model.IntSegment(2)))
	require.NoError(t, err)
	err = w.CheckUniqueness(ctx, txn, idx, row2, model.RowData{}, "row2", nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDuplicateKey, errors.GetCode(err))
}

func TestWriter_CheckUniqueness_NonUniqueIndexAlwaysPasses(t *testing.T) {
	w, store := setupWriter(t)
	ctx := context.Background()
	txn, err := store.BeginTransaction(ctx)
	require.NoError(t, err)

	sess := session.New(ctx, txn)
	idx := &model.TableIndex{Name: "by_status", Prefix: []byte{0x05}, KeyColumns: []model.FieldDef{extractField("status", 1, false)}}
	row, err := w.Build(ctx, idx, model.RowData{}, model.NewHKey(model.IntSegment(1)))
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, sess, idx, row))

	row2, err := w.Build(ctx, idx, model.RowData{}, model.NewHKey(model.IntSegment(2)))
	require.NoError(t, err)
	assert.NoError(t, w.CheckUniqueness(ctx, txn, idx, row2, model.RowData{}, "row2", nil))
}

func TestWriter_CheckUniqueness_NullKeyColumnSkipsCheck(t *testing.T) {
	w, store := setupWriter(t)
	ctx := context.Background()
	txn, err := store.BeginTransaction(ctx)
	require.NoError(t, err)

	idx := &model.TableIndex{Name: "by_email", Prefix: []byte{0x06}, Unique: true, UniqueAndMayContainNulls: true, KeyColumns: []model.FieldDef{extractField("email", 0, true)}}
	row, err := w.Build(ctx, idx, model.RowData{}, model.NewHKey(model.IntSegment(1)))
	require.NoError(t, err)
	assert.NoError(t, w.CheckUniqueness(ctx, txn, idx, row, model.RowData{}, "row1", nil))
}

func TestWriter_ResolveBatch_CollectsDuplicateAcrossPool(t *testing.T) {
	w, store := setupWriter(t)
	ctx := context.Background()
	txn, err := store.BeginTransaction(ctx)
	require.NoError(t, err)

	sess := session.New(ctx, txn)
	idx := &model.TableIndex{Name: "by_email", Prefix: []byte{0x07}, Unique: true, KeyColumns: []model.FieldDef{extractField("email", 1, false)}}
	existingRow, err := w.Build(ctx, idx, model.RowData{}, model.NewHKey(model.IntSegment(1)))
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, sess, idx, existingRow))

	batch := indexwriter.NewBatch()
	dupRow, err := w.Build(ctx, idx, model.RowData{}, model.NewHKey(model.IntSegment(2)))
	require.NoError(t, err)
	require.NoError(t, w.CheckUniqueness(ctx, txn, idx, dupRow, model.RowData{}, "dup-row", batch))

	err = w.ResolveBatch(ctx, txn, batch)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDuplicateKey, errors.GetCode(err))
}

func TestWriter_Write_GroupIndexIncrementsCounter(t *testing.T) {
	w, store := setupWriter(t)
	ctx := context.Background()
	txn, err := store.BeginTransaction(ctx)
	require.NoError(t, err)

	sess := session.New(ctx, txn)
	idx := &model.GroupIndex{Name: "orders_by_customer", Prefix: []byte{0x08}, KeyColumns: []model.FieldDef{extractField("customer_id", 1, false)}}
	row, err := w.Build(ctx, idx, model.RowData{}, model.NewHKey(model.IntSegment(1)))
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, sess, idx, row))

	row2, err := w.Build(ctx, idx, model.RowData{}, model.NewHKey(model.IntSegment(2)))
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, sess, idx, row2))

	v, err := txn.Get(ctx, append([]byte{0xE1}, idx.Prefix...))
	require.NoError(t, err)
	require.NotNil(t, v)
}

func TestWriter_DeleteByKey(t *testing.T) {
	w, store := setupWriter(t)
	ctx := context.Background()
	txn, err := store.BeginTransaction(ctx)
	require.NoError(t, err)

	sess := session.New(ctx, txn)
	idx := &model.TableIndex{Name: "by_email", Prefix: []byte{0x09}, Unique: true, KeyColumns: []model.FieldDef{extractField("email", 1, false)}}
	hkey := model.NewHKey(model.IntSegment(1))
	row, err := w.Build(ctx, idx, model.RowData{}, hkey)
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, sess, idx, row))

	require.NoError(t, w.Delete(ctx, sess, idx, model.RowData{}, hkey))

	row2, err := w.Build(ctx, idx, model.RowData{}, hkey)
	require.NoError(t, err)
	assert.NoError(t, w.CheckUniqueness(ctx, txn, idx, row2, model.RowData{}, "after-delete", nil))
}

func TestWriter_DeleteByScan_NullableUniqueWithNullKey(t *testing.T) {
	w, store := setupWriter(t)
	ctx := context.Background()
	txn, err := store.BeginTransaction(ctx)
	require.NoError(t, err)

	idx := &model.TableIndex{
		Name: "by_email", Prefix: []byte{0x0A}, Unique: true, UniqueAndMayContainNulls: true,
		KeyColumns: []model.FieldDef{extractField("email", 0, true)},
	}
	sess := session.New(ctx, txn)
	hkey := model.NewHKey(model.IntSegment(5))
	row, err := w.Build(ctx, idx, model.RowData{}, hkey)
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, sess, idx, row))

	require.NoError(t, w.Delete(ctx, sess, idx, model.RowData{}, hkey))

	rows, err := txn.GetRange(ctx, kv.RangeOptions{
		Begin: kv.FirstGE(keycodec.PackPrefix(idx.Prefix)),
		End:   kv.FirstGE(keycodec.Strinc(idx.Prefix)),
	})
	require.NoError(t, err)
	assert.Len(t, rows, 0)
}

func TestWriter_Write_MarksRollbackPendingOnFailure(t *testing.T) {
	w, store := setupWriter(t)
	ctx := context.Background()
	txn, err := store.BeginTransaction(ctx)
	require.NoError(t, err)
	sess := session.New(ctx, &erroringTxn{Transaction: txn, setErr: fmt.Errorf("injected store failure")})

	idx := &model.TableIndex{Name: "by_email", Prefix: []byte{0x0B}, Unique: true, KeyColumns: []model.FieldDef{extractField("email", 1, false)}}
	row, err := w.Build(ctx, idx, model.RowData{}, model.NewHKey(model.IntSegment(1)))
	require.NoError(t, err)

	err = w.Write(ctx, sess, idx, row)
	require.Error(t, err)
	assert.True(t, sess.RollbackPending(), "a non-retryable index write failure must mark the session rollback-pending")
}

func TestWriter_Delete_MarksRollbackPendingOnFailure(t *testing.T) {
	w, store := setupWriter(t)
	ctx := context.Background()
	txn, err := store.BeginTransaction(ctx)
	require.NoError(t, err)

	idx := &model.TableIndex{Name: "by_email", Prefix: []byte{0x0C}, Unique: true, KeyColumns: []model.FieldDef{extractField("email", 1, false)}}
	hkey := model.NewHKey(model.IntSegment(1))
	row, err := w.Build(ctx, idx, model.RowData{}, hkey)
	require.NoError(t, err)
	writeSess := session.New(ctx, txn)
	require.NoError(t, w.Write(ctx, writeSess, idx, row))

	failingSess := session.New(ctx, &erroringTxn{Transaction: txn, clearErr: fmt.Errorf("injected store failure")})
	err = w.Delete(ctx, failingSess, idx, model.RowData{}, hkey)
	require.Error(t, err)
	assert.True(t, failingSess.RollbackPending(), "a non-retryable index delete failure must mark the session rollback-pending")
}

func TestWriter_ResolveBatch_IncrementsResolvedMetric(t *testing.T) {
	store := memkv.New(zap.NewNop())
	m := metrics.New(t.Name())
	nullsepAlloc := nullsep.New([]byte{0xE0}, store, zap.NewNop())
	counter := gicounter.New([]byte{0xE1}, zap.NewNop(), m)
	pool := workerpool.NewWorkerPool(&workerpool.Config{Name: t.Name(), MaxWorkers: 2, QueueSize: 8, Logger: zap.NewNop()})
	t.Cleanup(func() { pool.Stop(0) })
	w := indexwriter.New(nullsepAlloc, counter, pool, nil, m, zap.NewNop())

	ctx := context.Background()
	txn, err := store.BeginTransaction(ctx)
	require.NoError(t, err)

	idx := &model.TableIndex{Name: "by_email", Prefix: []byte{0x0D}, Unique: true, KeyColumns: []model.FieldDef{extractField("email", 1, false)}}
	batch := indexwriter.NewBatch()
	for i := int64(1); i <= 3; i++ {
		row, err := w.Build(ctx, idx, model.RowData{}, model.NewHKey(model.IntSegment(i)))
		require.NoError(t, err)
		require.NoError(t, w.CheckUniqueness(ctx, txn, idx, row, model.RowData{}, fmt.Sprintf("row-%d", i), batch))
	}

	require.NoError(t, w.ResolveBatch(ctx, txn, batch))
	assert.InDelta(t, 3, testutil.ToFloat64(m.PendingChecksResolved), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.PendingChecksQueued), 0)
}
