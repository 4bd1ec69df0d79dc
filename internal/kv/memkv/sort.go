package memkv

import (
	"bytes"
	"sort"

	"github.com/relionsql/kvadapter/internal/kv"
)

func compareBytes(a, b []byte) int { return bytes.Compare(a, b) }

func sortKVs(kvs []kv.KV) {
	sort.Slice(kvs, func(i, j int) bool { return bytes.Compare(kvs[i].Key, kvs[j].Key) < 0 })
}

func reverseKVs(kvs []kv.KV) {
	for i, j := 0, len(kvs)-1; i < j; i, j = i+1, j-1 {
		kvs[i], kvs[j] = kvs[j], kvs[i]
	}
}
