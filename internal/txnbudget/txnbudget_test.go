package txnbudget_test

import (
	"testing"

	"github.com/relionsql/kvadapter/internal/errors"
	"github.com/relionsql/kvadapter/internal/txnbudget"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBudget(limit int64) *txnbudget.Budget {
	return txnbudget.New(&txnbudget.Config{
		Limit:                  limit,
		WarningFraction:        0.5,
		ThrottleFraction:       0.8,
		CircuitBreakerFraction: 0.95,
	}, nil)
}

func TestBudget_ShouldCheckpoint(t *testing.T) {
	b := setupBudget(100)
	assert.False(t, b.ShouldCheckpoint())

	b.Add(79)
	assert.False(t, b.ShouldCheckpoint())

	b.Add(1)
	assert.True(t, b.ShouldCheckpoint())
}

func TestBudget_CheckBeforeWrite_CircuitBreaker(t *testing.T) {
	b := setupBudget(100)
	b.Add(94)
	require.NoError(t, b.CheckBeforeWrite())

	b.Add(1)
	err := b.CheckBeforeWrite()
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNonRetryableStoreError, errors.GetCode(err))
}

func TestBudget_CheckBeforeWrite_WarningDoesNotError(t *testing.T) {
	b := setupBudget(100)
	b.Add(60)
	assert.NoError(t, b.CheckBeforeWrite())
}

func TestBudget_Reset(t *testing.T) {
	b := setupBudget(100)
	b.Add(90)
	assert.True(t, b.ShouldCheckpoint())

	b.Reset()
	assert.False(t, b.ShouldCheckpoint())
	assert.NoError(t, b.CheckBeforeWrite())
}

func TestBudget_Defaults(t *testing.T) {
	b := txnbudget.New(nil, nil)
	require.NotNil(t, b)
	assert.False(t, b.ShouldCheckpoint())
}
