package indexiter_test

import (
	"context"
	"testing"

	"github.com/relionsql/kvadapter/internal/keycodec"
	"github.com/relionsql/kvadapter/internal/kv/memkv"
	"github.com/relionsql/kvadapter/internal/model"
	"github.com/relionsql/kvadapter/internal/storage/indexiter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupIndex(t *testing.T, prefix byte, values []int64) (*memkv.Store, *model.TableIndex) {
	t.Helper()
	store := memkv.New(zap.NewNop())
	ctx := context.Background()
	txn, err := store.BeginTransaction(ctx)
	require.NoError(t, err)

	idx := &model.TableIndex{Name: "by_v", Prefix: []byte{prefix}}
	for _, v := range values {
		key := model.NewKey(model.IntSegment(v))
		hkey := model.NewHKey(model.IntSegment(v))
		packedKey := keycodec.Pack(idx.Prefix, key, model.NoEdge)
		packedHKey := keycodec.Pack(nil, hkey.Key, model.NoEdge)
		require.NoError(t, txn.Set(ctx, packedKey, packedHKey))
	}
	require.NoError(t, txn.Commit(ctx))
	return store, idx
}

func TestIter_FullScan(t *testing.T) {
	store, idx := setupIndex(t, 0x40, []int64{3, 1, 2})
	txn, err := store.BeginTransaction(context.Background())
	require.NoError(t, err)

	rows, err := indexiter.Iter(context.Background(), txn, idx, indexiter.Options{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{rows[0].Key.Segments[0].Int, rows[1].Key.Segments[0].Int, rows[2].Key.Segments[0].Int})
	assert.Equal(t, int64(1), rows[0].HKey.Segments[0].Int)
}

func TestIter_ForwardInclusive(t *testing.T) {
	store, idx := setupIndex(t, 0x41, []int64{1, 2, 3, 4})
	txn, err := store.BeginTransaction(context.Background())
	require.NoError(t, err)

	rows, err := indexiter.Iter(context.Background(), txn, idx, indexiter.Options{
		Key:       model.NewKey(model.IntSegment(2)),
		Inclusive: true,
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(2), rows[0].Key.Segments[0].Int)
}

func TestIter_ForwardExclusive(t *testing.T) {
	store, idx := setupIndex(t, 0x42, []int64{1, 2, 3, 4})
	txn, err := store.BeginTransaction(context.Background())
	require.NoError(t, err)

	rows, err := indexiter.Iter(context.Background(), txn, idx, indexiter.Options{
		Key: model.NewKey(model.IntSegment(2)),
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(3), rows[0].Key.Segments[0].Int)
}

func TestIter_ReverseInclusive(t *testing.T) {
	store, idx := setupIndex(t, 0x43, []int64{1, 2, 3, 4})
	txn, err := store.BeginTransaction(context.Background())
	require.NoError(t, err)

	rows, err := indexiter.Iter(context.Background(), txn, idx, indexiter.Options{
		Key:       model.NewKey(model.IntSegment(3)),
		Inclusive: true,
		Reverse:   true,
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(3), rows[0].Key.Segments[0].Int, "reverse scan must start at the highest matching key")
	assert.Equal(t, int64(1), rows[2].Key.Segments[0].Int)
}

func TestIter_ReverseExclusive(t *testing.T) {
	store, idx := setupIndex(t, 0x44, []int64{1, 2, 3, 4})
	txn, err := store.BeginTransaction(context.Background())
	require.NoError(t, err)

	rows, err := indexiter.Iter(context.Background(), txn, idx, indexiter.Options{
		Key:     model.NewKey(model.IntSegment(3)),
		Reverse: true,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), rows[0].Key.Segments[0].Int)
	assert.Equal(t, int64(1), rows[1].Key.Segments[0].Int)
}

func TestIter_Limit(t *testing.T) {
	store, idx := setupIndex(t, 0x45, []int64{1, 2, 3, 4, 5})
	txn, err := store.BeginTransaction(context.Background())
	require.NoError(t, err)

	rows, err := indexiter.Iter(context.Background(), txn, idx, indexiter.Options{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestIter_CorruptValueOnBadHKeyEncoding(t *testing.T) {
	store := memkv.New(zap.NewNop())
	ctx := context.Background()
	txn, err := store.BeginTransaction(ctx)
	require.NoError(t, err)

	idx := &model.TableIndex{Name: "broken", Prefix: []byte{0x46}}
	key := model.NewKey(model.IntSegment(1))
	packedKey := keycodec.Pack(idx.Prefix, key, model.NoEdge)
	require.NoError(t, txn.Set(ctx, packedKey, []byte{0x99})) // not a valid tag
	require.NoError(t, txn.Commit(ctx))

	txn2, err := store.BeginTransaction(ctx)
	require.NoError(t, err)
	_, err = indexiter.Iter(ctx, txn2, idx, indexiter.Options{})
	require.Error(t, err)
}
