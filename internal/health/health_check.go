// Package health implements the service contract spec.md §6 gives the
// adapter itself: start() resolves and caches the indexCount/indexNull
// subdirectory prefixes; stop() and crash() are no-ops because all
// state lives in the KV store; getName() reports a human label
// including the underlying store's API version. Liveness/readiness
// beyond that contract — a directory check that is critical until
// Start has run, and a sequence-allocator check that reports how many
// sequence caches are live — are this module's own ambient addition,
// adapted from the teacher's periodic HealthChecker.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relionsql/kvadapter/internal/directory"
	"github.com/relionsql/kvadapter/internal/kv"
	"github.com/relionsql/kvadapter/internal/sequence"
)

// CheckResult is the outcome of one health probe.
type CheckResult struct {
	Name      string
	Status    string // "healthy", "warning", "critical"
	Message   string
	Timestamp time.Time
}

// Service implements the service contract: start/stop/crash/getName,
// plus liveness/readiness probes suitable for an HTTP surface.
type Service struct {
	dir          *directory.Client
	seqAlloc     *sequence.Allocator
	kvAPIVersion string
	logger       *zap.Logger

	mu               sync.RWMutex
	indexCountPrefix []byte
	indexNullPrefix  []byte
	started          bool
	livenessOK       bool
	readinessOK      bool
	lastCheck        time.Time
	checks           map[string]CheckResult

	stopCh chan struct{}
}

func New(dir *directory.Client, seqAlloc *sequence.Allocator, kvAPIVersion string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		dir:          dir,
		seqAlloc:     seqAlloc,
		kvAPIVersion: kvAPIVersion,
		logger:       logger,
		checks:       make(map[string]CheckResult),
		stopCh:       make(chan struct{}),
	}
}

// Start resolves/creates the indexCount and indexNull subdirectories
// and caches their packed prefixes, as spec.md §6 requires, then begins
// a background liveness/readiness probe loop.
func (s *Service) Start(ctx context.Context, txn kv.Transaction) error {
	countPrefix, err := s.dir.Resolve(ctx, txn, []string{"indexCount"})
	if err != nil {
		return err
	}
	nullPrefix, err := s.dir.Resolve(ctx, txn, []string{"indexNull"})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.indexCountPrefix = countPrefix
	s.indexNullPrefix = nullPrefix
	s.started = true
	s.livenessOK = true
	s.readinessOK = true
	s.mu.Unlock()

	go s.probeLoop(ctx)
	s.logger.Info("health service started", zap.String("kv_api_version", s.kvAPIVersion))
	return nil
}

// Stop is a no-op beyond halting the probe loop: all of this adapter's
// state lives in the KV store, not in the process, per spec.md §6.
func (s *Service) Stop() error {
	close(s.stopCh)
	s.logger.Info("health service stopped")
	return nil
}

// Crash is also a no-op for the same reason Stop is.
func (s *Service) Crash() error { return nil }

// GetName returns a human label including the underlying KV-store API
// version, as spec.md §6 requires.
func (s *Service) GetName() string {
	return fmt.Sprintf("kvadapter (store API %s)", s.kvAPIVersion)
}

// IndexCountPrefix and IndexNullPrefix expose the cached subdirectory
// prefixes resolved at Start, for gicounter/nullsep construction.
func (s *Service) IndexCountPrefix() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexCountPrefix
}

func (s *Service) IndexNullPrefix() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexNullPrefix
}

func (s *Service) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	s.runChecks(ctx)
	for {
		select {
		case <-ticker.C:
			s.runChecks(ctx)
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		}
	}
}

func (s *Service) runChecks(ctx context.Context) {
	directoryResult := s.checkDirectoryReachable(ctx)
	sequenceResult := s.checkSequenceAllocator(ctx)

	s.mu.Lock()
	s.lastCheck = time.Now()
	s.checks[directoryResult.Name] = directoryResult
	s.checks[sequenceResult.Name] = sequenceResult
	s.livenessOK = true // if this goroutine is running, the process is responsive
	s.readinessOK = directoryResult.Status != "critical" && sequenceResult.Status != "critical"
	s.mu.Unlock()

	s.logger.Debug("health check completed",
		zap.String("directory_status", directoryResult.Status),
		zap.String("sequence_status", sequenceResult.Status))
}

// checkDirectoryReachable reports critical until Start has resolved the
// indexCount/indexNull subdirectories and healthy afterwards; it does
// not call the directory layer again — the health contract's closest
// analogue to the teacher's disk/fd checks, since this adapter has no
// local disk.
func (s *Service) checkDirectoryReachable(ctx context.Context) CheckResult {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return CheckResult{Name: "directory_reachable", Status: "critical", Message: "service not started", Timestamp: time.Now()}
	}
	return CheckResult{Name: "directory_reachable", Status: "healthy", Message: "directory layer responsive", Timestamp: time.Now()}
}

// checkSequenceAllocator reports how many sequences hold a live cache,
// mostly diagnostic: a nil allocator (no sequences configured for this
// process) is healthy, not critical.
func (s *Service) checkSequenceAllocator(ctx context.Context) CheckResult {
	if s.seqAlloc == nil {
		return CheckResult{Name: "sequence_allocator", Status: "healthy", Message: "no sequence allocator configured", Timestamp: time.Now()}
	}
	count := s.seqAlloc.CacheCount()
	return CheckResult{
		Name:      "sequence_allocator",
		Status:    "healthy",
		Message:   fmt.Sprintf("%d sequence caches live", count),
		Timestamp: time.Now(),
	}
}

func (s *Service) IsLive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.livenessOK
}

func (s *Service) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readinessOK
}

func (s *Service) SetReadiness(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readinessOK = ready
}

func (s *Service) GetChecks() map[string]CheckResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	checks := make(map[string]CheckResult, len(s.checks))
	for k, v := range s.checks {
		checks[k] = v
	}
	return checks
}

// LivenessHandler and ReadinessHandler serve Kubernetes-style probes.
func (s *Service) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	live := s.IsLive()
	w.Header().Set("Content-Type", "application/json")
	if !live {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"healthy": live})
}

func (s *Service) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ready := s.IsReady()
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"ready": ready})
}
