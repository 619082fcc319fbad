package rtable

import (
	"encoding/binary"

	"github.com/cube-js/cube-metastore/internal/kv"
)

// Rebuildable is satisfied by every *Table[T] regardless of T, letting
// bootstrap walk a heterogeneous list of tables without generic
// parameters leaking into its own signature.
type Rebuildable interface {
	CheckAndRebuildIndexes(snap kv.Snapshot, batch kv.Batch) (bool, error)
}

// storedIndexVersion reads the declared-version metadata for idx, if any.
func storedIndexVersion(snap kv.Snapshot, id kv.IndexID) (version uint32, present bool) {
	v, err := snap.Get(kv.IndexMetaKey(id))
	if err != nil || len(v) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(v), true
}

func writeIndexVersion(batch kv.Batch, id kv.IndexID, version uint32) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, version)
	batch.Put(kv.IndexMetaKey(id), buf)
}

// RebuildIndex deletes every secondary-index entry for idx and re-emits
// one per primary row, then writes the metadata version. Must run inside
// one batch so a half-rebuilt index is never committed.
func (t *Table[T]) RebuildIndex(snap kv.Snapshot, batch kv.Batch, idx IndexDef[T]) error {
	prefix := kv.IndexPrefix(idx.ID)
	it := snap.Iterate(prefix, kv.IterOptions{Prefix: prefix, PrefixSameAsStart: true})
	var stale [][]byte
	for ; it.Valid(); it.Next() {
		stale = append(stale, append([]byte(nil), it.Key()...))
	}
	it.Close()
	for _, k := range stale {
		batch.Delete(k)
	}

	rows, err := t.ScanAll(snap)
	if err != nil {
		return err
	}
	for _, row := range rows {
		id := t.IDOf(row)
		key := idx.KeyFn(row)
		h := kv.HashKey(key)
		batch.Put(kv.IndexEntryKey(idx.ID, h, id), key)
	}
	writeIndexVersion(batch, idx.ID, idx.Version)
	return nil
}

// CheckAndRebuildIndexes compares the declared version of every index
// against the stored metadata and stages a rebuild for any that are
// absent or stale. Returns true if any index was rebuilt, so the caller
// can decide whether a batch needs to be committed.
func (t *Table[T]) CheckAndRebuildIndexes(snap kv.Snapshot, batch kv.Batch) (rebuilt bool, err error) {
	for _, idx := range t.Indexes {
		stored, present := storedIndexVersion(snap, idx.ID)
		if present && stored == idx.Version {
			continue
		}
		if err := t.RebuildIndex(snap, batch, idx); err != nil {
			return rebuilt, err
		}
		rebuilt = true
	}
	return rebuilt, nil
}
