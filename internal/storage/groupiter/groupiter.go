// Package groupiter implements the group iterator of spec.md §4.3: full
// group scans, hkey-subtree scans, and resumable paged scans used by a
// long-running caller that checkpoints between pages. Resumable paging
// is grounded on the teacher's batch-with-continuation-token streaming
// shape, adapted from node-to-node replication to in-process scan
// resumption; the opaque page token is a github.com/google/uuid value so
// resume state never leaks a raw key to a caller that should only treat
// it as opaque.
package groupiter

import (
	"context"

	"github.com/google/uuid"

	"github.com/relionsql/kvadapter/internal/errors"
	"github.com/relionsql/kvadapter/internal/keycodec"
	"github.com/relionsql/kvadapter/internal/kv"
	"github.com/relionsql/kvadapter/internal/model"
)

// Row is one hkey-addressed row returned from a group scan.
type Row struct {
	HKey  model.HKey
	Value model.RowData
}

// Page is one batch of a resumable scan plus the opaque token to pass
// back in for the next page.
type Page struct {
	Rows       []Row
	Token      string
	Exhausted  bool
}

var tokens = newTokenTable()

// Full returns every row of group, hkey-ordered.
func Full(ctx context.Context, txn kv.Transaction, group *model.StorageDescription) ([]Row, error) {
	begin := keycodec.PackPrefix(group.Prefix)
	end := keycodec.Strinc(group.Prefix)
	return scanRange(ctx, txn, group.Prefix, kv.FirstGE(begin), kv.FirstGE(end), 0)
}

// Subtree returns the rows whose hkey is hKey or has hKey as a strict
// prefix: [pack(group,hKey), pack(group,hKey,AFTER)).
func Subtree(ctx context.Context, txn kv.Transaction, group *model.StorageDescription, hKey model.HKey) ([]Row, error) {
	begin := keycodec.Pack(group.Prefix, hKey.Key, model.NoEdge)
	end := keycodec.Pack(group.Prefix, hKey.Key, model.AFTER)
	return scanRange(ctx, txn, group.Prefix, kv.FirstGE(begin), kv.FirstGE(end), 0)
}

// NextPage fetches up to limit rows starting strictly after the key the
// token (empty string for the first page) represents, and returns a new
// token for the next call.
func NextPage(ctx context.Context, txn kv.Transaction, group *model.StorageDescription, limit int, token string) (*Page, error) {
	var begin kv.KeySelector
	if token == "" {
		begin = kv.FirstGE(keycodec.PackPrefix(group.Prefix))
	} else {
		last, ok := tokens.get(token)
		if !ok {
			return nil, errors.InternalInvariantViolation("unknown or expired resume token")
		}
		begin = kv.FirstGT(last)
	}
	end := kv.FirstGE(keycodec.Strinc(group.Prefix))

	rows, lastRaw, err := scanRangeRaw(ctx, txn, group.Prefix, begin, end, limit)
	if err != nil {
		return nil, err
	}

	page := &Page{Rows: rows}
	if len(rows) < limit || limit == 0 {
		page.Exhausted = true
		return page, nil
	}
	page.Token = tokens.put(lastRaw)
	return page, nil
}

func scanRange(ctx context.Context, txn kv.Transaction, prefix []byte, begin, end kv.KeySelector, limit int) ([]Row, error) {
	rows, _, err := scanRangeRaw(ctx, txn, prefix, begin, end, limit)
	return rows, err
}

func scanRangeRaw(ctx context.Context, txn kv.Transaction, prefix []byte, begin, end kv.KeySelector, limit int) ([]Row, []byte, error) {
	kvs, err := txn.GetRange(ctx, kv.RangeOptions{Begin: begin, End: end, Limit: limit})
	if err != nil {
		return nil, nil, errors.WrapStoreException("group scan failed", err)
	}

	rows := make([]Row, 0, len(kvs))
	var lastRaw []byte
	for _, r := range kvs {
		key, err := keycodec.Unpack(prefix, r.Key)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, Row{HKey: model.HKey{Key: key}, Value: model.RowData{Bytes: r.Value}})
		lastRaw = r.Key
	}
	return rows, lastRaw, nil
}

// tokenTable maps opaque resume tokens to the last raw key observed,
// so a caller never has to handle (or be trusted with) a raw packed key.
type tokenTable struct {
	ch chan map[string][]byte
}

func newTokenTable() *tokenTable {
	t := &tokenTable{ch: make(chan map[string][]byte, 1)}
	t.ch <- make(map[string][]byte)
	return t
}

func (t *tokenTable) put(lastKey []byte) string {
	m := <-t.ch
	defer func() { t.ch <- m }()
	token := uuid.NewString()
	m[token] = append([]byte{}, lastKey...)
	return token
}

func (t *tokenTable) get(token string) ([]byte, bool) {
	m := <-t.ch
	defer func() { t.ch <- m }()
	v, ok := m[token]
	return v, ok
}
