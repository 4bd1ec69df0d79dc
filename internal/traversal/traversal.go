// Package traversal implements the long-running full-index scan of
// spec.md §4.10: stream an index in forward key order, periodically
// committing and resetting the transaction so the scan never holds one
// transaction open long enough to blow its size/time budget, then
// resuming strictly past the last key returned.
package traversal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relionsql/kvadapter/internal/errors"
	"github.com/relionsql/kvadapter/internal/keycodec"
	"github.com/relionsql/kvadapter/internal/kv"
	"github.com/relionsql/kvadapter/internal/metrics"
	"github.com/relionsql/kvadapter/internal/model"
	"github.com/relionsql/kvadapter/internal/session"
	"github.com/relionsql/kvadapter/internal/txnbudget"
)

// Visitor is called once per row visited, in ascending key order. It
// must tolerate seeing each key at most once and never twice; the
// traversal guarantees that invariant across commit boundaries by
// always resuming strictly past the last key it handed out.
type Visitor func(ctx context.Context, key *model.Key, hKey model.HKey) error

// Options configures one traversal run.
type Options struct {
	// ScanTimeLimit bounds how long (milliseconds) a single transaction
	// window may stay open before the traversal proactively commits and
	// resets. A negative value disables periodic checkpointing and runs
	// the whole scan in one transaction.
	ScanTimeLimit int64
	// SleepTime is how long to pause between a checkpoint commit and
	// resuming the scan, easing pressure on a hot index's write path.
	SleepTime time.Duration
}

// Traverser runs index traversals against one session's transaction.
type Traverser struct {
	budget  *txnbudget.Budget
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func New(budget *txnbudget.Budget, m *metrics.Metrics, logger *zap.Logger) *Traverser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Traverser{budget: budget, metrics: m, logger: logger}
}

// Traverse scans index in its entirety, visiting every row exactly
// once. At each checkpoint sess's transaction is committed and Reset in
// place, then handed back to sess.Checkpoint, so sess.Txn() stays the
// same Transaction value and, after Traverse returns, holds whichever
// transaction window is currently open.
func (t *Traverser) Traverse(ctx context.Context, sess *session.Session, index model.Index, visit Visitor, opts Options) error {
	runID := uuid.NewString()
	prefix := index.IndexPrefix()
	begin := kv.FirstGE(keycodec.PackPrefix(prefix))
	end := kv.FirstGT(keycodec.Strinc(prefix))

	txn := sess.Txn()
	var nextCommitTime int64
	if opts.ScanTimeLimit >= 0 {
		nextCommitTime = txn.StartTime() + opts.ScanTimeLimit
	}

	t.logger.Debug("traversal started", zap.String("run_id", runID), zap.String("index", index.IndexName()))

	var lastKey []byte
	for {
		if err := sess.CheckCanceled(); err != nil {
			return err
		}

		rows, err := txn.GetRange(ctx, kv.RangeOptions{Begin: begin, End: end})
		if err != nil {
			return errors.WrapStoreException("traversal range scan failed", err)
		}
		if len(rows) == 0 {
			break
		}

		checkpointed := false
		for _, row := range rows {
			if err := sess.CheckCanceled(); err != nil {
				return err
			}

			key, err := keycodec.Unpack(prefix, row.Key)
			if err != nil {
				return errors.CorruptKey("traversal failed to decode index key", err)
			}
			hKeyBytes, err := keycodec.Unpack(nil, row.Value)
			if err != nil {
				return errors.CorruptValue("traversal failed to decode hkey", err)
			}
			if err := visit(ctx, key, model.HKey{Key: hKeyBytes}); err != nil {
				return err
			}
			lastKey = row.Key
			if t.metrics != nil {
				t.metrics.TraversalRowsVisited.Inc()
			}
			if t.budget != nil {
				t.budget.Add(len(row.Key) + len(row.Value))
			}

			now := time.Now().UnixMilli()
			overBudget := t.budget != nil && t.budget.ShouldCheckpoint()
			overTime := opts.ScanTimeLimit >= 0 && now >= nextCommitTime
			if overTime || overBudget {
				if err := t.checkpoint(ctx, sess, &txn, lastKey, opts); err != nil {
					return err
				}
				if opts.ScanTimeLimit >= 0 {
					nextCommitTime = txn.StartTime() + opts.ScanTimeLimit
				}
				begin = kv.FirstGT(lastKey)
				checkpointed = true
				break
			}
		}
		if !checkpointed {
			break
		}
	}

	t.logger.Debug("traversal finished", zap.String("run_id", runID), zap.String("index", index.IndexName()))
	return nil
}

// checkpoint commits the current transaction window, optionally sleeps,
// and resets it for the next window, mirroring spec.md §4.10 exactly:
// a canceled sleep surfaces as QueryCanceled, same as any other
// suspension point.
func (t *Traverser) checkpoint(ctx context.Context, sess *session.Session, txn *kv.Transaction, lastKey []byte, opts Options) error {
	if err := (*txn).Commit(ctx); err != nil {
		return errors.WrapStoreException("traversal checkpoint commit failed", err)
	}
	if t.metrics != nil {
		t.metrics.TraversalCommitsTotal.Inc()
	}
	if t.budget != nil {
		t.budget.Reset()
	}

	if opts.SleepTime > 0 {
		select {
		case <-ctx.Done():
			return errors.QueryCanceled("traversal interrupted during checkpoint sleep")
		case <-time.After(opts.SleepTime):
		}
	}

	(*txn).Reset()
	sess.Checkpoint(*txn)
	return nil
}
