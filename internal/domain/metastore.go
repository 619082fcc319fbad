package domain

import (
	"context"
	"time"

	"github.com/cube-js/cube-metastore/internal/eventbus"
	"github.com/cube-js/cube-metastore/internal/kv"
	"github.com/cube-js/cube-metastore/internal/metaerr"
	"github.com/cube-js/cube-metastore/internal/rtable"
	"github.com/cube-js/cube-metastore/internal/seq"
	"github.com/cube-js/cube-metastore/internal/writeloop"
)

// Metastore is the facade over every entity table (C9): it owns the
// write loop, the event bus, the sequence allocator, and the
// process-wide table-path cache, and implements the cross-entity
// transactions of §4.8.
type Metastore struct {
	store kv.Store
	loop  *writeloop.Loop
	bus   *eventbus.Bus
	alloc *seq.Allocator
	cache *TableCache

	schemas         *rtable.Table[Schema]
	tables          *rtable.Table[Table]
	indexes         *rtable.Table[Index]
	partitions      *rtable.Table[Partition]
	chunks          *rtable.Table[Chunk]
	wals            *rtable.Table[WAL]
	jobs            *rtable.Table[Job]
	sources         *rtable.Table[Source]
	multiIndexes    *rtable.Table[MultiIndex]
	multiPartitions *rtable.Table[MultiPartition]
}

// New wires a Metastore over an already-open store. The caller is
// responsible for starting loop.Run in its own goroutine.
func New(store kv.Store, bus *eventbus.Bus) *Metastore {
	cache := NewTableCache()
	m := &Metastore{
		store:           store,
		bus:             bus,
		alloc:           seq.New(),
		cache:           cache,
		schemas:         newSchemasTable(),
		tables:          newTablesTable(),
		indexes:         newIndexesTable(),
		partitions:      newPartitionsTable(),
		chunks:          newChunksTable(),
		wals:            newWALsTable(),
		jobs:            newJobsTable(),
		sources:         newSourcesTable(),
		multiIndexes:    newMultiIndexesTable(),
		multiPartitions: newMultiPartitionsTable(),
	}
	m.loop = writeloop.New(store, bus, cache.Invalidate)
	return m
}

// Run starts the write loop; blocks until ctx is canceled or Stop is
// called.
func (m *Metastore) Run(ctx context.Context) { m.loop.Run(ctx) }

// Stop shuts down the write loop.
func (m *Metastore) Stop() { m.loop.Stop() }

// Tables exposed for bootstrap's index-rebuild pass (rtable.Rebuildable).
func (m *Metastore) RebuildableTables() []rtable.Rebuildable {
	return []rtable.Rebuildable{
		m.schemas, m.tables, m.indexes, m.partitions, m.chunks,
		m.wals, m.jobs, m.sources, m.multiIndexes, m.multiPartitions,
	}
}

// NewRebuildableTables builds the same table descriptor set as New,
// without requiring an already-open store, so bootstrap can run its
// index-rebuild pass on the store it is in the middle of opening, before
// a Metastore exists to hand them out.
func NewRebuildableTables() []rtable.Rebuildable {
	return []rtable.Rebuildable{
		newSchemasTable(), newTablesTable(), newIndexesTable(), newPartitionsTable(), newChunksTable(),
		newWALsTable(), newJobsTable(), newSourcesTable(), newMultiIndexesTable(), newMultiPartitionsTable(),
	}
}

// event is a small constructor helper shared by every entity file.
func event(table kv.TableID, id kv.RowID, op eventbus.Op, before, after interface{}) eventbus.Event {
	return eventbus.Event{Table: table, RowID: id, Op: op, Before: before, After: after}
}

func insertEvent(table kv.TableID, id kv.RowID, after interface{}) eventbus.Event {
	return event(table, id, eventbus.OpInsert, nil, after)
}

func updateEvent(table kv.TableID, id kv.RowID, before, after interface{}) eventbus.Event {
	return event(table, id, eventbus.OpUpdate, before, after)
}

func deleteEvent(table kv.TableID, id kv.RowID, before interface{}) eventbus.Event {
	return event(table, id, eventbus.OpDelete, before, nil)
}

// submitWrite and submitRead centralize the context.Background() default
// used throughout the entity files below, matching the teacher's
// pattern of a short-lived per-call context for store operations that
// have no caller-supplied deadline.
func (m *Metastore) submitWrite(ctx context.Context, fn writeloop.WriteFn) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return m.loop.SubmitWrite(ctx, fn)
}

func (m *Metastore) submitRead(ctx context.Context, fn writeloop.ReadFn) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return m.loop.SubmitRead(ctx, fn)
}

// now is the clock behind every timestamp the domain operations record.
func now() time.Time { return time.Now() }
