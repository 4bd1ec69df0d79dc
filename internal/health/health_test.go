package health_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relionsql/kvadapter/internal/directory"
	"github.com/relionsql/kvadapter/internal/health"
	"github.com/relionsql/kvadapter/internal/kv/memkv"
	"github.com/relionsql/kvadapter/internal/metrics"
	"github.com/relionsql/kvadapter/internal/model"
	"github.com/relionsql/kvadapter/internal/sequence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupService(t *testing.T) (*health.Service, *memkv.Store) {
	store := memkv.New(zap.NewNop())
	dir := directory.New(store.Directory(), &directory.Config{CacheSize: 8}, zap.NewNop())
	seqAlloc := sequence.New(store, zap.NewNop(), metrics.New(t.Name()))
	svc := health.New(dir, seqAlloc, "v1", zap.NewNop())
	return svc, store
}

func TestStart_ResolvesAndCachesPrefixes(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()
	txn, err := store.BeginTransaction(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.Start(ctx, txn))
	t.Cleanup(func() { svc.Stop() })

	assert.NotEmpty(t, svc.IndexCountPrefix())
	assert.NotEmpty(t, svc.IndexNullPrefix())
	assert.NotEqual(t, svc.IndexCountPrefix(), svc.IndexNullPrefix())
}

func TestStart_MarksLiveAndReady(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()
	txn, err := store.BeginTransaction(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.Start(ctx, txn))
	t.Cleanup(func() { svc.Stop() })

	assert.True(t, svc.IsLive())
	assert.True(t, svc.IsReady())
}

func TestGetName_IncludesAPIVersion(t *testing.T) {
	svc, _ := setupService(t)
	assert.Contains(t, svc.GetName(), "v1")
}

func TestStop_HaltsProbeLoopWithoutPanic(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()
	txn, err := store.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx, txn))

	require.NoError(t, svc.Stop())
}

func TestCrash_IsNoOp(t *testing.T) {
	svc, _ := setupService(t)
	assert.NoError(t, svc.Crash())
}

func TestSetReadiness(t *testing.T) {
	svc, _ := setupService(t)
	svc.SetReadiness(false)
	assert.False(t, svc.IsReady())

	svc.SetReadiness(true)
	assert.True(t, svc.IsReady())
}

func TestGetChecks_PopulatedAfterProbeRuns(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()
	txn, err := store.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx, txn))
	t.Cleanup(func() { svc.Stop() })

	assert.Eventually(t, func() bool {
		checks := svc.GetChecks()
		_, hasDir := checks["directory_reachable"]
		_, hasSeq := checks["sequence_allocator"]
		return hasDir && hasSeq
	}, time.Second, 10*time.Millisecond)
}

func TestGetChecks_SequenceAllocatorReportsLiveCacheCount(t *testing.T) {
	store := memkv.New(zap.NewNop())
	dir := directory.New(store.Directory(), &directory.Config{CacheSize: 8}, zap.NewNop())
	seqAlloc := sequence.New(store, zap.NewNop(), metrics.New(t.Name()))
	svc := health.New(dir, seqAlloc, "v1", zap.NewNop())
	ctx := context.Background()
	txn, err := store.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx, txn))
	t.Cleanup(func() { svc.Stop() })

	seq := &model.Sequence{Name: "orders_id", Prefix: []byte{0x01}, CacheSize: 4}
	_, err = seqAlloc.Next(ctx, seq)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		result, ok := svc.GetChecks()["sequence_allocator"]
		return ok && result.Status == "healthy" && result.Message != ""
	}, time.Second, 10*time.Millisecond)
}

func TestLivenessHandler_ReportsCurrentState(t *testing.T) {
	svc, _ := setupService(t)
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	rec := httptest.NewRecorder()

	svc.LivenessHandler(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "a service that never started is not live")
}

func TestReadinessHandler_ReflectsSetReadiness(t *testing.T) {
	svc, _ := setupService(t)
	svc.SetReadiness(true)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	svc.ReadinessHandler(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	svc.SetReadiness(false)
	req2 := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec2 := httptest.NewRecorder()
	svc.ReadinessHandler(rec2, req2)
	assert.Equal(t, http.StatusServiceUnavailable, rec2.Code)
}
