// Package memkv is a pure-Go, in-process reference implementation of the
// kv.Database/kv.Transaction/kv.DirectoryLayer contract, adapted from the
// RWMutex-guarded map-of-skiplist shape of an in-process memtable. It
// stands in for the real transactional KV store (out of scope per
// spec.md §1) in this module's own tests and in the cmd/adapter demo
// binary. It does not perform real conflict detection between concurrent
// transactions — each Commit simply overlays its writes onto the shared
// committed view — so it is a semantics double, not a concurrency double;
// production stores provide actual snapshot-isolation conflict checking.
package memkv

import (
	"context"
	"encoding/binary"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relionsql/kvadapter/internal/kv"
)

// Store is the shared committed state of the reference KV store.
type Store struct {
	mu        sync.RWMutex
	committed *skipList
	dirs      map[string][]byte
	nextID    uint64
	logger    *zap.Logger
}

func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		committed: newSkipList(),
		dirs:      make(map[string][]byte),
		logger:    logger,
	}
}

func (s *Store) BeginTransaction(ctx context.Context) (kv.Transaction, error) {
	s.mu.RLock()
	base := s.committed.clone()
	s.mu.RUnlock()

	return &transaction{
		store:     s,
		base:      base,
		overlay:   make(map[string]*writeOp),
		startTime: time.Now().UnixMilli(),
	}, nil
}

func (s *Store) Directory() kv.DirectoryLayer {
	return &directoryLayer{store: s}
}

type writeOp struct {
	value   []byte
	cleared bool
}

// transaction is the reference Transaction: a read snapshot taken at
// Begin/Reset time, overlaid with this transaction's own uncommitted
// writes (read-your-writes), merged into the store's committed skip
// list on Commit.
type transaction struct {
	store     *Store
	base      *skipList
	overlay   map[string]*writeOp
	startTime int64
	snapshot  bool
}

func (t *transaction) Get(ctx context.Context, key []byte) ([]byte, error) {
	if op, ok := t.overlay[string(key)]; ok {
		if op.cleared {
			return nil, nil
		}
		return append([]byte{}, op.value...), nil
	}
	if v, ok := t.base.Get(key); ok {
		return append([]byte{}, v...), nil
	}
	return nil, nil
}

func (t *transaction) Set(ctx context.Context, key, value []byte) error {
	t.overlay[string(key)] = &writeOp{value: append([]byte{}, value...)}
	return nil
}

func (t *transaction) Clear(ctx context.Context, key []byte) (bool, error) {
	existing, err := t.Get(ctx, key)
	if err != nil {
		return false, err
	}
	t.overlay[string(key)] = &writeOp{cleared: true}
	return existing != nil, nil
}

func (t *transaction) GetRange(ctx context.Context, opts kv.RangeOptions) ([]kv.KV, error) {
	base := t.base.scan(opts.Begin.Ref, opts.End.Ref, !opts.Begin.OrEqual, !opts.End.OrEqual)
	merged := make(map[string][]byte, len(base))
	order := make([]string, 0, len(base))
	for _, n := range base {
		k := string(n.key)
		merged[k] = n.value
		order = append(order, k)
	}
	for ks, op := range t.overlay {
		k := []byte(ks)
		if cmpRange(k, opts) {
			if _, seen := merged[ks]; !seen {
				order = append(order, ks)
			}
			if op.cleared {
				delete(merged, ks)
			} else {
				merged[ks] = op.value
			}
		}
	}

	out := make([]kv.KV, 0, len(merged))
	for _, k := range order {
		v, ok := merged[k]
		if !ok {
			continue
		}
		out = append(out, kv.KV{Key: []byte(k), Value: append([]byte{}, v...)})
	}
	sortKVs(out)

	if opts.Reverse {
		reverseKVs(out)
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func cmpRange(key []byte, opts kv.RangeOptions) bool {
	beginOK := compareBytes(key, opts.Begin.Ref) >= 0
	if !opts.Begin.OrEqual {
		beginOK = compareBytes(key, opts.Begin.Ref) > 0
	}
	endCmp := compareBytes(key, opts.End.Ref)
	endOK := endCmp < 0
	if !opts.End.OrEqual {
		endOK = endCmp <= 0
	}
	return beginOK && endOK
}

func (t *transaction) Mutate(ctx context.Context, op kv.MutationOp, key, operand []byte) error {
	switch op {
	case kv.MutationAdd:
		current, err := t.Get(ctx, key)
		if err != nil {
			return err
		}
		var cur int64
		if len(current) == 8 {
			cur = int64(binary.LittleEndian.Uint64(current))
		}
		var delta int64
		if len(operand) == 8 {
			delta = int64(binary.LittleEndian.Uint64(operand))
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(cur+delta))
		return t.Set(ctx, key, buf)
	default:
		return nil
	}
}

func (t *transaction) Snapshot() kv.Transaction {
	return &transaction{store: t.store, base: t.base, overlay: t.overlay, startTime: t.startTime, snapshot: true}
}

func (t *transaction) Commit(ctx context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for ks, op := range t.overlay {
		key := []byte(ks)
		if op.cleared {
			t.store.committed.Delete(key)
		} else {
			t.store.committed.Set(key, op.value)
		}
	}
	t.overlay = make(map[string]*writeOp)
	return nil
}

func (t *transaction) Reset() {
	t.store.mu.RLock()
	t.base = t.store.committed.clone()
	t.store.mu.RUnlock()
	t.overlay = make(map[string]*writeOp)
	t.startTime = time.Now().UnixMilli()
}

func (t *transaction) StartTime() int64 { return t.startTime }

// directoryLayer allocates a fresh monotonically-increasing opaque
// prefix per newly-created path, keyed by the joined path components.
type directoryLayer struct {
	store *Store
}

func joinPath(path []string) string { return strings.Join(path, "/") }

func (d *directoryLayer) Open(ctx context.Context, txn kv.Transaction, path []string) ([]byte, error) {
	key := joinPath(path)
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	if prefix, ok := d.store.dirs[key]; ok {
		return prefix, nil
	}
	for i := 1; i < len(path); i++ {
		parent := joinPath(path[:i])
		if _, ok := d.store.dirs[parent]; !ok {
			d.store.nextID++
			parentPrefix := make([]byte, 8)
			binary.BigEndian.PutUint64(parentPrefix, d.store.nextID)
			d.store.dirs[parent] = parentPrefix
		}
	}
	d.store.nextID++
	prefix := make([]byte, 8)
	binary.BigEndian.PutUint64(prefix, d.store.nextID)
	d.store.dirs[key] = prefix
	return prefix, nil
}

func (d *directoryLayer) Exists(ctx context.Context, txn kv.Transaction, path []string) (bool, error) {
	d.store.mu.RLock()
	defer d.store.mu.RUnlock()
	_, ok := d.store.dirs[joinPath(path)]
	return ok, nil
}

func (d *directoryLayer) List(ctx context.Context, txn kv.Transaction, path []string) ([]string, error) {
	prefix := joinPath(path)
	d.store.mu.RLock()
	defer d.store.mu.RUnlock()

	seen := make(map[string]bool)
	var children []string
	for k := range d.store.dirs {
		if prefix != "" && !strings.HasPrefix(k, prefix+"/") {
			continue
		}
		rest := k
		if prefix != "" {
			rest = strings.TrimPrefix(k, prefix+"/")
		}
		parts := strings.SplitN(rest, "/", 2)
		if parts[0] != "" && !seen[parts[0]] {
			seen[parts[0]] = true
			children = append(children, parts[0])
		}
	}
	return children, nil
}

func (d *directoryLayer) Move(ctx context.Context, txn kv.Transaction, oldPath, newPath []string) error {
	oldKey, newKey := joinPath(oldPath), joinPath(newPath)
	d.store.mu.Lock()
	defer d.store.mu.Unlock()

	for k, prefix := range d.store.dirs {
		if k == oldKey {
			delete(d.store.dirs, k)
			d.store.dirs[newKey] = prefix
			continue
		}
		if strings.HasPrefix(k, oldKey+"/") {
			delete(d.store.dirs, k)
			d.store.dirs[newKey+strings.TrimPrefix(k, oldKey)] = prefix
		}
	}
	return nil
}

func (d *directoryLayer) RemoveIfExists(ctx context.Context, txn kv.Transaction, path []string) error {
	key := joinPath(path)
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	delete(d.store.dirs, key)
	for k := range d.store.dirs {
		if strings.HasPrefix(k, key+"/") {
			delete(d.store.dirs, k)
		}
	}
	return nil
}
