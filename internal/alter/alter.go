// Package alter orchestrates the directory-layer bookkeeping that
// finishes an ALTER once its data-level work is done (spec.md §4.9).
// The four-level decision is driven entirely by the caller-supplied
// ChangeLevel; the trickiest case is TABLE/GROUP, where the new data
// was already staged under dataAltering/<newName> while the old data
// was left live under data/<oldName> for the duration of the alter, so
// finishing it means swapping the two trees rather than a plain move.
package alter

import (
	"context"

	"go.uber.org/zap"

	"github.com/relionsql/kvadapter/internal/directory"
	"github.com/relionsql/kvadapter/internal/errors"
	"github.com/relionsql/kvadapter/internal/kv"
	"github.com/relionsql/kvadapter/internal/model"
)

// Rename names an object before and after an ALTER; Before == After for
// an alter that doesn't rename anything.
type Rename struct {
	Before []string
	After  []string
}

// MetadataNotifier is invoked for METADATA-level changes that rename an
// object, so callers can keep their own catalog in sync. No data moves
// at this level.
type MetadataNotifier func(ctx context.Context, before, after []string) error

// Orchestrator finishes alters by moving directory subtrees between the
// "data" and "dataAltering" roots.
type Orchestrator struct {
	dir      *directory.Client
	notifier MetadataNotifier
	logger   *zap.Logger
}

func New(dir *directory.Client, notifier MetadataNotifier, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{dir: dir, notifier: notifier, logger: logger}
}

func dataPath(qualified []string) []string {
	return append([]string{"data"}, qualified...)
}

func alterPath(qualified []string) []string {
	return append([]string{"dataAltering"}, qualified...)
}

// Finish completes every rename in renames at the given change level.
// Each rename is handled independently; an error on one does not skip
// the rest, but the first encountered is returned after all have been
// attempted, so a caller sees every failure rather than just the first.
func (o *Orchestrator) Finish(ctx context.Context, txn kv.Transaction, renames []Rename, level model.ChangeLevel) error {
	if level == model.ChangeNone {
		return nil
	}

	var firstErr error
	for _, r := range renames {
		var err error
		switch level {
		case model.ChangeMetadata, model.ChangeMetadataNotNull:
			err = o.finishMetadata(ctx, r)
		case model.ChangeIndex:
			err = o.finishIndex(ctx, txn, r)
		case model.ChangeTable, model.ChangeGroup:
			err = o.finishTableOrGroup(ctx, txn, r)
		default:
			err = errors.InternalInvariantViolation("unexpected change level in alter finish").
				WithDetail("change_level", level.String())
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// finishMetadata never touches stored data: a rename at this level is a
// catalog-only change, so the only side effect is notifying the caller.
func (o *Orchestrator) finishMetadata(ctx context.Context, r Rename) error {
	if pathEqual(r.Before, r.After) {
		return nil
	}
	if o.notifier == nil {
		return nil
	}
	return o.notifier(ctx, r.Before, r.After)
}

// finishIndex promotes a freshly built index from dataAltering/after
// into data/after wholesale, one subpath at a time, since indexes are
// always built out-of-place and never need the old tree preserved.
func (o *Orchestrator) finishIndex(ctx context.Context, txn kv.Transaction, r Rename) error {
	alterP := alterPath(r.After)
	dataP := dataPath(r.After)

	exists, err := o.dir.Exists(ctx, txn, alterP)
	if err != nil {
		return errors.WrapStoreException("alter finish: checking staged index tree failed", err)
	}
	if !exists {
		return nil
	}

	children, err := o.dir.List(ctx, txn, alterP)
	if err != nil {
		return errors.WrapStoreException("alter finish: listing staged index tree failed", err)
	}
	for _, child := range children {
		if err := o.dir.Move(ctx, txn, append(append([]string{}, alterP...), child), append(append([]string{}, dataP...), child)); err != nil {
			return errors.WrapStoreException("alter finish: promoting staged index subpath failed", err)
		}
	}
	return o.dir.RemoveIfExists(ctx, txn, alterP)
}

// finishTableOrGroup swaps the live tree under data/before with the
// staged tree under dataAltering/after. Any subpath of the old tree not
// already present in the staged tree (i.e. untouched by the alter) is
// preserved by moving it into the staged tree first, so the final
// promotion carries both the newly built subtrees and whatever the
// alter left alone.
func (o *Orchestrator) finishTableOrGroup(ctx context.Context, txn kv.Transaction, r Rename) error {
	alterP := alterPath(r.After)
	dataP := dataPath(r.Before)

	stagedExists, err := o.dir.Exists(ctx, txn, alterP)
	if err != nil {
		return errors.WrapStoreException("alter finish: checking staged table tree failed", err)
	}
	if !stagedExists {
		return nil
	}

	liveExists, err := o.dir.Exists(ctx, txn, dataP)
	if err != nil {
		return errors.WrapStoreException("alter finish: checking live table tree failed", err)
	}
	if liveExists {
		children, err := o.dir.List(ctx, txn, dataP)
		if err != nil {
			return errors.WrapStoreException("alter finish: listing live table tree failed", err)
		}
		for _, child := range children {
			subAlter := append(append([]string{}, alterP...), child)
			alreadyStaged, err := o.dir.Exists(ctx, txn, subAlter)
			if err != nil {
				return errors.WrapStoreException("alter finish: checking staged subpath failed", err)
			}
			if alreadyStaged {
				// A rebuilt subtree already lives here; the old one
				// underneath data/before is superseded and dropped
				// along with the rest of data/before below.
				continue
			}
			subData := append(append([]string{}, dataP...), child)
			if err := o.dir.Move(ctx, txn, subData, subAlter); err != nil {
				return errors.WrapStoreException("alter finish: preserving untouched subpath failed", err)
			}
		}
		if err := o.dir.RemoveIfExists(ctx, txn, dataP); err != nil {
			return errors.WrapStoreException("alter finish: removing superseded live tree failed", err)
		}
	}

	// The promotion target is data/before, not data/after: TABLE/GROUP
	// alters never carry a rename (renames are METADATA-level only), so
	// this mirrors the single dataPath used for both the backup source
	// and the final destination.
	if err := o.dir.Move(ctx, txn, alterP, dataP); err != nil {
		return errors.WrapStoreException("alter finish: promoting staged table tree failed", err)
	}
	o.logger.Debug("alter finished", zap.Strings("before", r.Before), zap.Strings("after", r.After))
	return nil
}

func pathEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
