package session_test

import (
	"context"
	"testing"

	"github.com/relionsql/kvadapter/internal/errors"
	"github.com/relionsql/kvadapter/internal/kv/memkv"
	"github.com/relionsql/kvadapter/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupSession(t *testing.T) (*session.Session, *memkv.Store) {
	store := memkv.New(zap.NewNop())
	txn, err := store.BeginTransaction(context.Background())
	require.NoError(t, err)
	return session.New(context.Background(), txn), store
}

func TestSession_TxnAccessor(t *testing.T) {
	sess, _ := setupSession(t)
	assert.NotNil(t, sess.Txn())
}

func TestSession_Checkpoint_ReplacesTxn(t *testing.T) {
	sess, store := setupSession(t)
	newTxn, err := store.BeginTransaction(context.Background())
	require.NoError(t, err)

	sess.Checkpoint(newTxn)
	assert.Same(t, newTxn, sess.Txn())
}

func TestSession_CheckCanceled(t *testing.T) {
	sess, _ := setupSession(t)
	assert.NoError(t, sess.CheckCanceled())

	sess.Cancel()
	err := sess.CheckCanceled()
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeQueryCanceled, errors.GetCode(err))
}

func TestSession_RollbackPendingFlag(t *testing.T) {
	sess, _ := setupSession(t)
	assert.False(t, sess.RollbackPending())

	sess.MarkRollbackPending()
	assert.True(t, sess.RollbackPending())

	sess.ClearRollbackPending()
	assert.False(t, sess.RollbackPending())
}

func TestSession_ContextCanceledPropagatesToChildContext(t *testing.T) {
	sess, _ := setupSession(t)
	sess.Cancel()

	select {
	case <-sess.Context().Done():
	default:
		t.Fatal("expected session context to be done after Cancel")
	}
}
