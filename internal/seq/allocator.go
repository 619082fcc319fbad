// Package seq implements the per-table_id monotonically increasing row-id
// allocator (C4): on first use it reads the sequence key from the
// current snapshot (default 0), and thereafter increments an in-memory
// counter, writing the new value back into the same batch as the insert
// that consumed it.
//
// Snapshot reads prevent duplicate ids across process restarts (the
// on-disk value always reflects the last committed allocation); the
// in-memory counter avoids a read-modify-write round trip to the store
// on every insert within one process lifetime.
package seq

import (
	"encoding/binary"
	"sync"

	"github.com/cube-js/cube-metastore/internal/kv"
)

// Allocator hands out RowIDs per TableID. It is only ever touched from
// inside the write loop, so the mutex below is a documentation aid and a
// defense against accidental misuse, not a concurrency requirement.
type Allocator struct {
	mu      sync.Mutex
	counter map[kv.TableID]uint64
	loaded  map[kv.TableID]bool
}

func New() *Allocator {
	return &Allocator{
		counter: make(map[kv.TableID]uint64),
		loaded:  make(map[kv.TableID]bool),
	}
}

// Next allocates the next RowID for table, staging the updated sequence
// value into batch. snap is used only the first time this table_id is
// seen in this process.
func (a *Allocator) Next(snap kv.Snapshot, batch kv.Batch, table kv.TableID) kv.RowID {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.loaded[table] {
		a.counter[table] = readSeq(snap, table)
		a.loaded[table] = true
	}
	a.counter[table]++
	next := a.counter[table]

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	batch.Put(kv.SequenceKey(table), buf)

	return kv.RowID(next)
}

func readSeq(snap kv.Snapshot, table kv.TableID) uint64 {
	v, err := snap.Get(kv.SequenceKey(table))
	if err != nil || len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}
