// Package indexiter implements the index iterator of spec.md §4.4: a
// range scan over a table-index or group-index, forward/reverse,
// inclusive/exclusive of a given key, bounded to the index's own
// keyspace. The begin/end selector table below is a direct transcription
// of the KeySelector branches in the original FoundationDB SQL layer's
// index iterator.
package indexiter

import (
	"context"

	"github.com/relionsql/kvadapter/internal/errors"
	"github.com/relionsql/kvadapter/internal/keycodec"
	"github.com/relionsql/kvadapter/internal/kv"
	"github.com/relionsql/kvadapter/internal/model"
)

// Row is one decoded index row: its key plus the row's hkey recovered
// from the value (index rows are lookup edges, never owners).
type Row struct {
	Key  *model.Key
	HKey model.HKey
}

// Options controls direction and boundary behavior, matching the four
// rows of spec.md §4.4's table.
type Options struct {
	// Key is nil for a full-index scan (begin/end both cap at the index's
	// own prefix bounds).
	Key       *model.Key
	Inclusive bool
	Reverse   bool
	Limit     int
}

// Iter scans index according to opts.
func Iter(ctx context.Context, txn kv.Transaction, index model.Index, opts Options) ([]Row, error) {
	prefix := index.IndexPrefix()
	e := keycodec.PackPrefix(prefix)
	strincE := keycodec.Strinc(prefix)

	var begin, end kv.KeySelector
	if opts.Key == nil {
		begin = kv.FirstGE(e)
		end = kv.FirstGT(strincE)
	} else {
		k := keycodec.Pack(prefix, opts.Key, model.NoEdge)
		switch {
		case !opts.Reverse && opts.Inclusive:
			begin, end = kv.FirstGE(k), kv.FirstGT(strincE)
		case !opts.Reverse && !opts.Inclusive:
			begin, end = kv.FirstGT(k), kv.FirstGT(strincE)
		case opts.Reverse && opts.Inclusive:
			begin, end = kv.FirstGT(e), kv.FirstGT(k)
		case opts.Reverse && !opts.Inclusive:
			begin, end = kv.FirstGT(e), kv.FirstGE(k)
		}
	}

	kvs, err := txn.GetRange(ctx, kv.RangeOptions{Begin: begin, End: end, Limit: opts.Limit, Reverse: opts.Reverse})
	if err != nil {
		return nil, errors.WrapStoreException("index scan failed", err)
	}

	rows := make([]Row, 0, len(kvs))
	for _, r := range kvs {
		key, err := keycodec.Unpack(prefix, r.Key)
		if err != nil {
			return nil, err
		}
		hkey, err := keycodec.Unpack(nil, r.Value)
		if err != nil {
			return nil, errors.CorruptValue("failed to decode hkey from index row value", err)
		}
		rows = append(rows, Row{Key: key, HKey: model.HKey{Key: hkey}})
	}
	return rows, nil
}
