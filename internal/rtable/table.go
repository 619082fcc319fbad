// Package rtable implements the generic per-entity CRUD table contract
// (C5): a single generic type parameterized by a value codec, a table_id,
// and a list of secondary-index descriptors, instantiated once per
// domain entity instead of one hand-written table type per entity.
//
// This is the "dynamic dispatch on the entity table" resolution from
// spec.md §9: Go generics plus an interface-typed codec stand in for the
// trait-object/sum-type choice a systems language would face.
package rtable

import (
	"sync"

	"github.com/cube-js/cube-metastore/internal/kv"
	"github.com/cube-js/cube-metastore/internal/metaerr"
	"github.com/cube-js/cube-metastore/internal/seq"
)

// Codec encodes/decodes one entity's row value. Implementations should be
// schema-evolution tolerant (see kv.FieldEncoder/FieldDecoder): unknown
// or absent fields default rather than failing to decode.
type Codec[T any] interface {
	Encode(v T) []byte
	Decode(data []byte) (T, error)
}

// IndexDef describes one secondary index over entity T.
type IndexDef[T any] struct {
	ID      kv.IndexID
	Version uint32
	Unique  bool
	// KeyFn returns the logical key bytes for v. Two rows with equal
	// KeyFn output collide in a unique index.
	KeyFn func(v T) []byte
}

// Table is the generic per-entity CRUD facade.
type Table[T any] struct {
	TableID kv.TableID
	Codec   Codec[T]
	Indexes []IndexDef[T]

	// IDOf/WithID let the table read and stamp the primary id onto a
	// decoded/about-to-be-inserted value without reflection.
	IDOf   func(v T) kv.RowID
	WithID func(v T, id kv.RowID) T

	mu sync.Mutex // not used by any method in this package
}

// Get fetches the row with the given id, returning kv.ErrNotFound if
// absent.
func (t *Table[T]) Get(snap kv.Snapshot, id kv.RowID) (T, error) {
	var zero T
	raw, err := snap.Get(kv.PrimaryKey(t.TableID, id))
	if err != nil {
		return zero, err
	}
	return t.Codec.Decode(raw)
}

// GetOrNotFound is Get, wrapping a miss as a metaerr.Unknown error.
func (t *Table[T]) GetOrNotFound(snap kv.Snapshot, id kv.RowID) (T, error) {
	v, err := t.Get(snap, id)
	if err == kv.ErrNotFound {
		var zero T
		return zero, metaerr.Newf(metaerr.Unknown, "%s row %d not found", t.TableID, id)
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// Exists reports whether a primary row with id is present.
func (t *Table[T]) Exists(snap kv.Snapshot, id kv.RowID) bool {
	_, err := snap.Get(kv.PrimaryKey(t.TableID, id))
	return err == nil
}

// Insert allocates a row id, verifies primary-key absence (always true
// for a freshly allocated id, checked defensively) and unique-index
// absence, then stages the primary row and one secondary-index entry per
// declared index.
func (t *Table[T]) Insert(snap kv.Snapshot, batch kv.Batch, alloc *seq.Allocator, row T) (kv.RowID, error) {
	id := alloc.Next(snap, batch, t.TableID)
	row = t.WithID(row, id)

	if t.Exists(snap, id) {
		return 0, metaerr.Newf(metaerr.Internal, "%s: primary key %d already exists", t.TableID, id)
	}

	for _, idx := range t.Indexes {
		if !idx.Unique {
			continue
		}
		key := idx.KeyFn(row)
		if existing, err := t.lookupUnique(snap, idx, key); err == nil && existing {
			return 0, metaerr.Newf(metaerr.User, "%s: duplicate key for unique index %d", t.TableID, idx.ID)
		}
		prefix := kv.IndexHashPrefix(idx.ID, kv.HashKey(key))
		staged := map[string]bool{}
		for _, op := range batch.Ops() {
			if len(op.Key) > len(prefix) && string(op.Key[:len(prefix)]) == string(prefix) {
				staged[string(op.Key)] = !op.IsDelete() && string(op.Value) == string(key)
			}
		}
		for _, dup := range staged {
			if dup {
				return 0, metaerr.Newf(metaerr.User, "%s: duplicate key for unique index %d", t.TableID, idx.ID)
			}
		}
	}

	batch.Put(kv.PrimaryKey(t.TableID, id), t.Codec.Encode(row))
	for _, idx := range t.Indexes {
		key := idx.KeyFn(row)
		h := kv.HashKey(key)
		batch.Put(kv.IndexEntryKey(idx.ID, h, id), key)
	}
	return id, nil
}

func (t *Table[T]) lookupUnique(snap kv.Snapshot, idx IndexDef[T], key []byte) (found bool, err error) {
	h := kv.HashKey(key)
	it := snap.Iterate(kv.IndexHashPrefix(idx.ID, h), kv.IterOptions{
		Prefix:            kv.IndexHashPrefix(idx.ID, h),
		PrefixSameAsStart: true,
	})
	defer it.Close()
	for ; it.Valid(); it.Next() {
		if string(it.Value()) == string(key) {
			return true, nil
		}
	}
	return false, nil
}

// Update fetches the old row, deletes its secondary-index entries, and
// writes the new primary row plus new secondary-index entries. Returns
// the old row so the caller can emit an Update<Entity>(old,new) event.
func (t *Table[T]) Update(snap kv.Snapshot, batch kv.Batch, id kv.RowID, newRow T) (old T, err error) {
	old, err = t.GetOrNotFound(snap, id)
	if err != nil {
		return old, err
	}
	newRow = t.WithID(newRow, id)

	for _, idx := range t.Indexes {
		oldKey := idx.KeyFn(old)
		h := kv.HashKey(oldKey)
		batch.Delete(kv.IndexEntryKey(idx.ID, h, id))
	}
	batch.Put(kv.PrimaryKey(t.TableID, id), t.Codec.Encode(newRow))
	for _, idx := range t.Indexes {
		newKey := idx.KeyFn(newRow)
		h := kv.HashKey(newKey)
		batch.Put(kv.IndexEntryKey(idx.ID, h, id), newKey)
	}
	return old, nil
}

// Delete removes the primary row and all of its secondary-index entries,
// returning the deleted row for Delete<Entity>(old) events.
func (t *Table[T]) Delete(snap kv.Snapshot, batch kv.Batch, id kv.RowID) (old T, err error) {
	old, err = t.GetOrNotFound(snap, id)
	if err != nil {
		return old, err
	}
	batch.Delete(kv.PrimaryKey(t.TableID, id))
	for _, idx := range t.Indexes {
		key := idx.KeyFn(old)
		h := kv.HashKey(key)
		batch.Delete(kv.IndexEntryKey(idx.ID, h, id))
	}
	return old, nil
}

// ScanAll returns every row of the entity, ordered by row id.
func (t *Table[T]) ScanAll(snap kv.Snapshot) ([]T, error) {
	prefix := kv.PrimaryPrefix(t.TableID)
	it := snap.Iterate(prefix, kv.IterOptions{Prefix: prefix, PrefixSameAsStart: true})
	defer it.Close()
	var out []T
	for ; it.Valid(); it.Next() {
		v, err := t.Codec.Decode(it.Value())
		if err != nil {
			return nil, metaerr.Wrap(metaerr.Internal, err, "%s: decode row during scan", t.TableID)
		}
		out = append(out, v)
	}
	return out, nil
}

// RebuildFunc is the shape of an index-rebuild callback. GetRowsByIndex
// does not call one: it reports a missing primary row as
// metaerr.Internal and leaves the rebuild to its caller.
type RebuildFunc func(idx IndexDef[any]) error

// GetRowsByIndex hashes key, seeks to (index_id, hash, 0), and iterates
// while the hash prefix matches, re-checking full key bytes to resolve
// hash collisions. For each hit it fetches the primary row; a missing
// primary row is an impossible state (stale index entry) and is surfaced
// as metaerr.Internal rather than silently skipped, per §4.4's "trigger
// rebuild_index and surface an internal error" contract — the caller
// (the metastore facade, which owns write access) performs the actual
// rebuild.
func (t *Table[T]) GetRowsByIndex(snap kv.Snapshot, idx IndexDef[T], key []byte) ([]T, error) {
	h := kv.HashKey(key)
	prefix := kv.IndexHashPrefix(idx.ID, h)
	it := snap.Iterate(prefix, kv.IterOptions{Prefix: prefix, PrefixSameAsStart: true})
	defer it.Close()

	var rows []T
	for ; it.Valid(); it.Next() {
		if string(it.Value()) != string(key) {
			continue // hash collision with a different logical key
		}
		id, ok := kv.DecodeIndexEntryKey(it.Key())
		if !ok {
			return nil, metaerr.Newf(metaerr.Internal, "%s: malformed index entry key for index %d", t.TableID, idx.ID)
		}
		row, err := t.Get(snap, id)
		if err == kv.ErrNotFound {
			return nil, metaerr.Newf(metaerr.Internal,
				"%s: index %d entry references missing primary row %d; index rebuild required", t.TableID, idx.ID, id)
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	if idx.Unique && len(rows) > 1 {
		return nil, metaerr.Newf(metaerr.Internal, "%s: unique index %d matched %d rows for one key", t.TableID, idx.ID, len(rows))
	}
	return rows, nil
}

// ScanByIndex returns every row that has an entry in idx. Unlike
// GetRowsByIndex (exact key match via hash), this walks the whole index
// in key-hash order and is used for bulk reporting, not point lookups.
func (t *Table[T]) ScanByIndex(snap kv.Snapshot, idx IndexDef[T]) ([]T, error) {
	prefix := kv.IndexPrefix(idx.ID)
	it := snap.Iterate(prefix, kv.IterOptions{Prefix: prefix, PrefixSameAsStart: true})
	defer it.Close()
	var rows []T
	for ; it.Valid(); it.Next() {
		id, ok := kv.DecodeIndexEntryKey(it.Key())
		if !ok {
			continue
		}
		row, err := t.Get(snap, id)
		if err != nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}
