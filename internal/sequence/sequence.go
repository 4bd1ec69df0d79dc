// Package sequence implements the cached batched sequence allocator of
// spec.md §4.7: next()/current() over a process-wide, per-sequence cache
// refilled in its own fresh transaction so retries never conflict the
// caller's outer query (spec.md §9's "fresh transactions for counters").
//
// The persisted cell is a raw big-endian uint64 rather than spec.md §6's
// Tuple(long): nothing outside this package ever reads or compares the
// cell directly, so the two encodings are equivalent here, but a reader
// expecting the tuple codec on this cell would be surprised.
package sequence

import (
	"context"
	"encoding/binary"
	"sync"

	"go.uber.org/zap"

	"github.com/relionsql/kvadapter/internal/errors"
	"github.com/relionsql/kvadapter/internal/kv"
	"github.com/relionsql/kvadapter/internal/metrics"
	"github.com/relionsql/kvadapter/internal/model"
)

// cache is one sequence's in-process batch: value counts the ticks
// already issued from it, so the next raw tick is start+value; refill is
// required once value reaches cacheSize.
type cache struct {
	mu        sync.Mutex
	value     int64
	cacheSize int64
	start     int64
	populated bool
}

// Allocator is the process-wide map from a sequence's unique key to its
// cache, a concurrent map with per-entry locks (spec.md §9): the
// map-level lock only guards insert/remove of entries, not reads/writes
// within one.
type Allocator struct {
	db      kv.Database
	logger  *zap.Logger
	metrics *metrics.Metrics

	mapMu  sync.RWMutex
	caches map[string]*cache
}

func New(db kv.Database, logger *zap.Logger, m *metrics.Metrics) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{db: db, logger: logger, metrics: m, caches: make(map[string]*cache)}
}

func (a *Allocator) cacheFor(seq *model.Sequence) *cache {
	key := string(seq.Prefix)

	a.mapMu.RLock()
	c, ok := a.caches[key]
	a.mapMu.RUnlock()
	if ok {
		return c
	}

	a.mapMu.Lock()
	defer a.mapMu.Unlock()
	if c, ok := a.caches[key]; ok {
		return c
	}
	c = &cache{cacheSize: seq.CacheSize}
	a.caches[key] = c
	return c
}

// Forget evicts a sequence's cache, used on DROP SEQUENCE (spec.md's
// lifecycle note: "Sequence caches live from first use until DROP
// SEQUENCE or process exit").
func (a *Allocator) Forget(seq *model.Sequence) {
	a.mapMu.Lock()
	defer a.mapMu.Unlock()
	delete(a.caches, string(seq.Prefix))
}

// CacheCount reports how many sequences currently hold a live cache
// entry, a cheap liveness signal for callers that want to confirm the
// allocator is up without touching storage.
func (a *Allocator) CacheCount() int {
	a.mapMu.RLock()
	defer a.mapMu.RUnlock()
	return len(a.caches)
}

// Next returns the next real value, refilling the cache from storage if
// it is exhausted.
func (a *Allocator) Next(ctx context.Context, seq *model.Sequence) (int64, error) {
	c := a.cacheFor(seq)
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.populated || c.value >= c.cacheSize {
		if err := a.refillLocked(ctx, seq, c); err != nil {
			return 0, err
		}
	}

	raw := c.start + c.value
	c.value++
	if a.metrics != nil {
		a.metrics.SequenceCacheRemain.WithLabelValues(seq.Name).Set(float64(c.cacheSize - c.value))
	}
	return seq.RealValueForRawNumber(raw), nil
}

// Current returns the last value issued by Next (CURRVAL semantics, not
// a peek at the next one): the cached value if populated, else a direct
// read of the persisted cell.
func (a *Allocator) Current(ctx context.Context, seq *model.Sequence) (int64, error) {
	c := a.cacheFor(seq)
	c.mu.Lock()
	if c.populated {
		raw := c.start + c.value - 1
		c.mu.Unlock()
		return seq.RealValueForRawNumber(raw), nil
	}
	c.mu.Unlock()

	txn, err := a.db.BeginTransaction(ctx)
	if err != nil {
		return 0, errors.WrapStoreException("failed to start sequence peek transaction", err)
	}
	value, err := txn.Get(ctx, seq.Prefix)
	if err != nil {
		return 0, errors.WrapStoreException("sequence cell read failed", err)
	}
	if value == nil {
		return seq.RealValueForRawNumber(0), nil
	}
	if len(value) != 8 {
		return 0, errors.CorruptValue("sequence cell has unexpected width", nil)
	}
	return seq.RealValueForRawNumber(int64(binary.BigEndian.Uint64(value))), nil
}

// refillLocked runs the four-step protocol of spec.md §4.7 in a fresh
// transaction, independent of the caller's session. Failures leave the
// cache untouched so the next call retries.
func (a *Allocator) refillLocked(ctx context.Context, seq *model.Sequence, c *cache) error {
	txn, err := a.db.BeginTransaction(ctx)
	if err != nil {
		return errors.WrapStoreException("failed to start sequence refill transaction", err)
	}

	byteValue, err := txn.Get(ctx, seq.Prefix)
	if err != nil {
		return errors.WrapStoreException("sequence refill read failed", err)
	}

	var start int64 = 1
	if byteValue != nil {
		if len(byteValue) != 8 {
			return errors.CorruptValue("sequence cell has unexpected width", nil)
		}
		start = int64(binary.BigEndian.Uint64(byteValue))
	}

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(start+seq.CacheSize))
	if err := txn.Set(ctx, seq.Prefix, buf); err != nil {
		return errors.WrapStoreException("sequence refill write failed", err)
	}
	if err := txn.Commit(ctx); err != nil {
		return errors.WrapStoreException("sequence refill commit failed", err)
	}

	c.start = start
	c.value = 0
	c.cacheSize = seq.CacheSize
	c.populated = true

	if a.metrics != nil {
		a.metrics.SequenceRefillsTotal.Inc()
	}
	a.logger.Debug("sequence cache refilled", zap.String("sequence", seq.Name), zap.Int64("start", start))
	return nil
}
