package domain

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cube-js/cube-metastore/internal/kv"
)

// TablePath is the schema-qualified identity of one table, the unit §4.9
// caches to accelerate lookup without a full Tables scan.
type TablePath struct {
	SchemaName string
	TableName  string
	TableID    kv.RowID
	IsReady    bool
}

const tableCacheKey = "tables"

// TableCache holds the process-wide cached table-path list behind a
// single-entry LRU (capacity 1 is intentional: the cached value is one
// list, not one entry per table — golang-lru gives bounded, concurrency
// safe storage for it without hand-rolling one more mutex-guarded slice).
// Writes that can affect it invalidate atomically with their commit via
// writeloop.WriteResult.InvalidateTablesCache; read paths refill on miss
// under the read queue so repopulation races are serialized by the write
// loop itself rather than by TableCache.
type TableCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, []TablePath]
}

func NewTableCache() *TableCache {
	c, _ := lru.New[string, []TablePath](1)
	return &TableCache{cache: c}
}

// Get returns the cached list, or calls load to refill it on a miss.
// load is expected to run under the read queue so concurrent misses
// observe a consistent snapshot-backed refill.
func (t *TableCache) Get(load func() ([]TablePath, error)) ([]TablePath, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.cache.Get(tableCacheKey); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	t.cache.Add(tableCacheKey, v)
	return v, nil
}

// Invalidate clears the cached list. Called from the write loop after a
// commit whose WriteResult set InvalidateTablesCache.
func (t *TableCache) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Remove(tableCacheKey)
}
