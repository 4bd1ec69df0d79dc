package server_test

import (
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/relionsql/kvadapter/internal/directory"
	"github.com/relionsql/kvadapter/internal/health"
	"github.com/relionsql/kvadapter/internal/kv/memkv"
	"github.com/relionsql/kvadapter/internal/sequence"
	"github.com/relionsql/kvadapter/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func waitForServer(t *testing.T, url string) *http.Response {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			return resp
		}
		lastErr = err
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server never became reachable at %s: %v", url, lastErr)
	return nil
}

func setupServer(t *testing.T) (*server.Server, *health.Service, int) {
	store := memkv.New(zap.NewNop())
	dir := directory.New(store.Directory(), &directory.Config{CacheSize: 8}, zap.NewNop())
	seqAlloc := sequence.New(store, zap.NewNop(), nil)
	h := health.New(dir, seqAlloc, "v1", zap.NewNop())

	port := freePort(t)
	cfg := &server.Config{
		Host:            "127.0.0.1",
		Port:            port,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: time.Second,
	}
	s := server.New(cfg, h, zap.NewNop())
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })
	return s, h, port
}

func TestServer_HealthLiveReflectsServiceState(t *testing.T) {
	_, h, port := setupServer(t)

	resp := waitForServer(t, fmt.Sprintf("http://127.0.0.1:%d/health/live", port))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "health was never Start()-ed, so it isn't live yet")

	h.SetReadiness(true)
	resp2, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health/ready", port))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestServer_MetricsEndpointServesPrometheusFormat(t *testing.T) {
	_, _, port := setupServer(t)

	resp := waitForServer(t, fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Stop_SetsReadinessFalseAndShutsDown(t *testing.T) {
	s, h, port := setupServer(t)
	h.SetReadiness(true)

	resp := waitForServer(t, fmt.Sprintf("http://127.0.0.1:%d/health/ready", port))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Stop())
	assert.False(t, h.IsReady(), "Stop marks readiness false before draining connections")
}

func TestServer_CustomMetricsPath(t *testing.T) {
	store := memkv.New(zap.NewNop())
	dir := directory.New(store.Directory(), &directory.Config{CacheSize: 8}, zap.NewNop())
	seqAlloc := sequence.New(store, zap.NewNop(), nil)
	h := health.New(dir, seqAlloc, "v1", zap.NewNop())

	port := freePort(t)
	cfg := &server.Config{
		Host:            "127.0.0.1",
		Port:            port,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: time.Second,
		MetricsPath:     "/custom-metrics",
	}
	s := server.New(cfg, h, zap.NewNop())
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })

	resp := waitForServer(t, fmt.Sprintf("http://127.0.0.1:%d/custom-metrics", port))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
