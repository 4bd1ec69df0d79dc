package gicounter_test

import (
	"context"
	"testing"

	"github.com/relionsql/kvadapter/internal/errors"
	"github.com/relionsql/kvadapter/internal/kv/memkv"
	"github.com/relionsql/kvadapter/internal/storage/gicounter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupCounter(t *testing.T) (*gicounter.Counter, *memkv.Store) {
	store := memkv.New(zap.NewNop())
	return gicounter.New([]byte{0xC0}, zap.NewNop(), nil), store
}

func TestCounter_IncrementDecrement(t *testing.T) {
	c, store := setupCounter(t)
	ctx := context.Background()
	txn, err := store.BeginTransaction(ctx)
	require.NoError(t, err)

	indexPrefix := []byte{0x01}
	require.NoError(t, c.Increment(ctx, txn, "by_customer", indexPrefix))
	require.NoError(t, c.Increment(ctx, txn, "by_customer", indexPrefix))
	require.NoError(t, c.Increment(ctx, txn, "by_customer", indexPrefix))
	require.NoError(t, c.Decrement(ctx, txn, "by_customer", indexPrefix))

	count, err := c.Count(ctx, txn, indexPrefix)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestCounter_CountOfUntouchedIndexIsZero(t *testing.T) {
	c, store := setupCounter(t)
	ctx := context.Background()
	txn, err := store.BeginTransaction(ctx)
	require.NoError(t, err)

	count, err := c.Count(ctx, txn, []byte{0x02})
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestCounter_CountApproximate(t *testing.T) {
	c, store := setupCounter(t)
	ctx := context.Background()
	txn, err := store.BeginTransaction(ctx)
	require.NoError(t, err)

	indexPrefix := []byte{0x03}
	require.NoError(t, c.Increment(ctx, txn, "idx", indexPrefix))

	approx, err := c.CountApproximate(ctx, txn, indexPrefix)
	require.NoError(t, err)
	assert.Equal(t, int64(1), approx)
}

func TestCounter_Truncate(t *testing.T) {
	c, store := setupCounter(t)
	ctx := context.Background()
	txn, err := store.BeginTransaction(ctx)
	require.NoError(t, err)

	indexPrefix := []byte{0x04}
	require.NoError(t, c.Increment(ctx, txn, "idx", indexPrefix))
	require.NoError(t, c.Increment(ctx, txn, "idx", indexPrefix))
	require.NoError(t, c.Truncate(ctx, txn, indexPrefix))

	count, err := c.Count(ctx, txn, indexPrefix)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestCounter_Forget(t *testing.T) {
	c, store := setupCounter(t)
	ctx := context.Background()
	txn, err := store.BeginTransaction(ctx)
	require.NoError(t, err)

	indexPrefix := []byte{0x05}
	require.NoError(t, c.Increment(ctx, txn, "idx", indexPrefix))
	require.NoError(t, c.Forget(ctx, txn, indexPrefix))

	count, err := c.Count(ctx, txn, indexPrefix)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "forgetting clears the cell, which reads back as zero either way")
}

func TestCounter_CorruptCellWidth(t *testing.T) {
	c, store := setupCounter(t)
	ctx := context.Background()
	txn, err := store.BeginTransaction(ctx)
	require.NoError(t, err)

	indexPrefix := []byte{0x06}
	require.NoError(t, txn.Set(ctx, append([]byte{0xC0}, indexPrefix...), []byte{0x01, 0x02, 0x03}))

	_, err = c.Count(ctx, txn, indexPrefix)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeCorruptValue, errors.GetCode(err))
}
