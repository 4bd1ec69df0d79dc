// Package kv defines the contract this adapter consumes from the
// external transactional key-value store: get/set/clear/range/mutate
// over an ordered byte-key space, snapshot isolation, and a directory
// layer that hands out stable opaque prefixes for named paths. Nothing
// in this package talks to a real store — it is the seam spec.md draws
// around "the transactional KV store itself", an explicit external
// collaborator. See the memkv subpackage for a pure-Go reference
// implementation used by this module's own tests.
package kv

import "context"

// MutationOp names an atomic, non-read-modify-write mutation the store
// supports against a single key.
type MutationOp uint8

const (
	// MutationAdd interprets the existing value (or zero, if absent) and
	// the operand as little-endian signed integers and stores their sum,
	// all performed by the store without introducing a read conflict.
	MutationAdd MutationOp = iota
)

// KeySelector picks a concrete key out of the ordered key-space relative
// to a reference key, mirroring the store's own first-greater-or-equal /
// first-greater-than primitives (spec.md §4.4).
type KeySelector struct {
	Ref  []byte
	OrEqual bool
}

// FirstGE builds a selector resolving to the first key >= ref.
func FirstGE(ref []byte) KeySelector { return KeySelector{Ref: ref, OrEqual: true} }

// FirstGT builds a selector resolving to the first key > ref.
func FirstGT(ref []byte) KeySelector { return KeySelector{Ref: ref, OrEqual: false} }

// CodedError is implemented by a store error that knows the underlying
// numeric failure code (FDBException.getCode(), in the system this
// contract is modeled on). The errors package type-asserts for it to
// tell a retryable not_committed/commit_unknown_result conflict from
// every other store failure, without this package needing to know
// anything about that classification itself.
type CodedError interface {
	error
	StoreCode() int
}

// KV is one key/value pair returned from a range scan.
type KV struct {
	Key   []byte
	Value []byte
}

// RangeOptions bounds a GetRange call. Begin/End are resolved via
// key-selector semantics so range scans can express the exclusive /
// inclusive boundary table spec.md §4.4 specifies without the caller
// pre-computing adjacent-byte keys.
type RangeOptions struct {
	Begin   KeySelector
	End     KeySelector
	Limit   int // 0 means unbounded
	Reverse bool
}

// Transaction is a single logical unit of work against the store. All
// operations within one Transaction observe each other (read-your-
// writes); across transactions, the store's own snapshot isolation
// applies. A Transaction is not safe for concurrent use by multiple
// goroutines — spec.md §5 scopes exactly one active transaction per
// session.
type Transaction interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Set(ctx context.Context, key, value []byte) error

	// Clear deletes key if present. existed reports whether the key was
	// present before the call. Spec.md §9's open question: a production
	// store may only answer existed via an extra point Get; callers must
	// not depend on its precision outside the maintenance paths spec.md
	// names.
	Clear(ctx context.Context, key []byte) (existed bool, err error)

	GetRange(ctx context.Context, opts RangeOptions) ([]KV, error)

	// Mutate applies an atomic, conflict-free operation to key. operand
	// is the little-endian encoding of the delta for MutationAdd.
	Mutate(ctx context.Context, op MutationOp, key, operand []byte) error

	// Snapshot returns a read view that does not add the reads it
	// performs to this transaction's conflict range — used for
	// approximate reads (spec.md §4.6's approximate group-index count).
	Snapshot() Transaction

	Commit(ctx context.Context) error

	// Reset discards all reads/writes so far and starts a fresh
	// transaction window on the same Transaction value (spec.md §4.10's
	// periodic commit-and-reset during long traversal).
	Reset()

	// StartTime is when this transaction window began (since the last
	// Reset, or creation), in milliseconds since the Unix epoch, used by
	// traversal to decide when to checkpoint.
	StartTime() int64
}

// Database opens transactions and the directory layer rooted in it.
type Database interface {
	BeginTransaction(ctx context.Context) (Transaction, error)
	Directory() DirectoryLayer
}

// DirectoryLayer resolves, creates, lists, moves, and removes named
// logical paths, handing back the opaque packed-byte prefix each path
// was assigned. Every path is a slice of path components, e.g.
// []string{"data", "myschema", "orders"}.
type DirectoryLayer interface {
	// Open resolves path to its prefix, creating it (and any missing
	// parents) if it does not exist.
	Open(ctx context.Context, txn Transaction, path []string) ([]byte, error)

	// Exists reports whether path has been created.
	Exists(ctx context.Context, txn Transaction, path []string) (bool, error)

	List(ctx context.Context, txn Transaction, path []string) ([]string, error)

	// Move relocates the subtree at oldPath to newPath, preserving its
	// prefix and all descendants' relative structure.
	Move(ctx context.Context, txn Transaction, oldPath, newPath []string) error

	// RemoveIfExists deletes path and its descendants; a no-op, not an
	// error, if path does not exist (spec.md §7's "ignoring already
	// exists" recovery is the creation-side mirror of this).
	RemoveIfExists(ctx context.Context, txn Transaction, path []string) error
}
