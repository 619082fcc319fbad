package domain

import (
	"bytes"
	"context"
	"time"

	"github.com/cube-js/cube-metastore/internal/eventbus"
	"github.com/cube-js/cube-metastore/internal/kv"
	"github.com/cube-js/cube-metastore/internal/metaerr"
	"github.com/cube-js/cube-metastore/internal/writeloop"
)

// GetPartition fetches a partition by id.
func (m *Metastore) GetPartition(ctx context.Context, id kv.RowID) (Partition, error) {
	v, err := m.submitRead(ctx, func(snap kv.Snapshot) (interface{}, error) {
		return m.partitions.GetOrNotFound(snap, id)
	})
	if err != nil {
		return Partition{}, err
	}
	return v.(Partition), nil
}

// PartitionsForIndex returns every partition belonging to indexID.
func (m *Metastore) PartitionsForIndex(indexID kv.RowID) ([]Partition, error) {
	v, err := m.loop.ReadOutOfQueue(func(snap kv.Snapshot) (interface{}, error) {
		all, err := m.partitions.ScanByIndex(snap, m.partitions.Indexes[ordPartitionByIndex])
		if err != nil {
			return nil, err
		}
		out := all[:0]
		for _, p := range all {
			if p.IndexID == indexID {
				out = append(out, p)
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Partition), nil
}

// AllInactivePartitions returns every partition with Active=false, the
// pool of candidates a compaction sweep considers for garbage collection.
func (m *Metastore) AllInactivePartitions() ([]Partition, error) {
	v, err := m.loop.ReadOutOfQueue(func(snap kv.Snapshot) (interface{}, error) {
		all, err := m.partitions.ScanAll(snap)
		if err != nil {
			return nil, err
		}
		out := all[:0]
		for _, p := range all {
			if !p.Active {
				out = append(out, p)
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Partition), nil
}

// PartitionsWithChunksCreatedSecondsAgo returns active partitions that
// own at least one chunk older than ageSeconds, the signal a merge
// scheduler uses to decide a partition is due for a merge pass.
func (m *Metastore) PartitionsWithChunksCreatedSecondsAgo(ageSeconds int64) ([]Partition, error) {
	v, err := m.loop.ReadOutOfQueue(func(snap kv.Snapshot) (interface{}, error) {
		chunks, err := m.chunks.ScanAll(snap)
		if err != nil {
			return nil, err
		}
		cutoff := now().Add(-time.Duration(ageSeconds) * time.Second)
		stale := make(map[kv.RowID]bool)
		for _, c := range chunks {
			if c.CreatedAt != nil && c.CreatedAt.Before(cutoff) {
				stale[c.PartitionID] = true
			}
		}
		if len(stale) == 0 {
			return []Partition(nil), nil
		}
		all, err := m.partitions.ScanAll(snap)
		if err != nil {
			return nil, err
		}
		var out []Partition
		for _, p := range all {
			if p.Active && stale[p.ID] {
				out = append(out, p)
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Partition), nil
}

// CreateChildPartition stages a new partition as a child of parentID,
// inheriting its IndexID and MultiPartitionID, used ahead of a
// SwapActivePartitions call that activates it.
func (m *Metastore) CreateChildPartition(ctx context.Context, parentID kv.RowID, minValue, maxValue []byte) (Partition, error) {
	v, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		parent, err := m.partitions.GetOrNotFound(snap, parentID)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		child := Partition{
			IndexID:           parent.IndexID,
			ParentPartitionID: &parentID,
			MultiPartitionID:  parent.MultiPartitionID,
			MinValue:          boundaryOf(minValue),
			MaxValue:          boundaryOf(maxValue),
		}
		id, err := m.partitions.Insert(snap, batch, m.alloc, child)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		child.ID = id
		return writeloop.WriteResult{Value: child, Events: []eventbus.Event{insertEvent(kv.TablePartitions, id, child)}}, nil
	})
	if err != nil {
		return Partition{}, err
	}
	return v.(Partition), nil
}

// boundaryEqual reports whether two Boundary values denote the same
// endpoint (both absent, or both present with identical bytes).
func boundaryEqual(a, b Boundary) bool {
	if a.Present != b.Present {
		return false
	}
	if !a.Present {
		return true
	}
	return bytes.Equal(a.Value, b.Value)
}

// SwapActivePartitions implements §4.8.2: deactivate oldPartitionIDs and
// activate newPartitionIDs in one transaction, verifying that the total
// row count (main-table rows plus chunk rows) is conserved across the
// swap unless allowRowCountMismatch is set. Chunks belonging to the old partitions are
// re-parented onto the single new partition only for the pure
// compaction case (one old, one new, identical range); otherwise they
// are deactivated, since a split must route each chunk's rows to
// whichever new partition the data actually falls into.
func (m *Metastore) SwapActivePartitions(ctx context.Context, oldPartitionIDs, newPartitionIDs []kv.RowID, allowRowCountMismatch bool) error {
	_, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		if len(newPartitionIDs) == 0 {
			return writeloop.WriteResult{}, metaerr.Newf(metaerr.User, "swap requires at least one new partition")
		}
		var events []eventbus.Event
		var oldRowCount uint64
		oldRows := make([]Partition, 0, len(oldPartitionIDs))
		for _, id := range oldPartitionIDs {
			p, err := m.partitions.GetOrNotFound(snap, id)
			if err != nil {
				return writeloop.WriteResult{}, err
			}
			if !p.Active {
				return writeloop.WriteResult{}, metaerr.Newf(metaerr.User, "partition %d is not active", id)
			}
			oldRowCount += p.MainTableRowCount
			oldRows = append(oldRows, p)
		}

		var newRowCount uint64
		newRows := make([]Partition, 0, len(newPartitionIDs))
		for _, id := range newPartitionIDs {
			p, err := m.partitions.GetOrNotFound(snap, id)
			if err != nil {
				return writeloop.WriteResult{}, err
			}
			if p.Active {
				return writeloop.WriteResult{}, metaerr.Newf(metaerr.User, "partition %d is already active", id)
			}
			newRowCount += p.MainTableRowCount
			newRows = append(newRows, p)
		}

		allChunks, err := m.chunks.ScanByIndex(snap, m.chunks.Indexes[ordChunkByPartition])
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		oldSet := make(map[kv.RowID]bool, len(oldPartitionIDs))
		for _, id := range oldPartitionIDs {
			oldSet[id] = true
		}
		for _, c := range allChunks {
			if oldSet[c.PartitionID] {
				oldRowCount += c.RowCount
			}
		}

		if !allowRowCountMismatch && oldRowCount != newRowCount {
			return writeloop.WriteResult{}, metaerr.Newf(metaerr.Internal,
				"row count mismatch on partition swap: old=%d new=%d", oldRowCount, newRowCount)
		}

		isCompaction := len(oldRows) == 1 && len(newRows) == 1 && boundaryEqual(oldRows[0].MinValue, newRows[0].MinValue) && boundaryEqual(oldRows[0].MaxValue, newRows[0].MaxValue)
		reparentTarget := newPartitionIDs[0]
		for _, c := range allChunks {
			if !oldSet[c.PartitionID] {
				continue
			}
			oldChunk := c
			if isCompaction {
				c.PartitionID = reparentTarget
			} else {
				c.Active = false
			}
			if _, err := m.chunks.Update(snap, batch, c.ID, c); err != nil {
				return writeloop.WriteResult{}, err
			}
			events = append(events, updateEvent(kv.TableChunks, c.ID, oldChunk, c))
		}

		for _, p := range oldRows {
			old := p
			p.Active = false
			if _, err := m.partitions.Update(snap, batch, p.ID, p); err != nil {
				return writeloop.WriteResult{}, err
			}
			events = append(events, updateEvent(kv.TablePartitions, p.ID, old, p))
		}
		for _, p := range newRows {
			old := p
			p.Active = true
			if _, err := m.partitions.Update(snap, batch, p.ID, p); err != nil {
				return writeloop.WriteResult{}, err
			}
			events = append(events, updateEvent(kv.TablePartitions, p.ID, old, p))
		}

		return writeloop.WriteResult{Events: events}, nil
	})
	return err
}

// DeleteMiddleManPartition implements §4.8.5: removes an inactive
// partition that sits between a parent and its children, re-pointing
// every child's ParentPartitionID directly at id's parent. Fails if the
// partition is still active.
func (m *Metastore) DeleteMiddleManPartition(ctx context.Context, id kv.RowID) error {
	_, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		p, err := m.partitions.GetOrNotFound(snap, id)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		if p.Active {
			return writeloop.WriteResult{}, metaerr.Newf(metaerr.User, "partition %d is still active", id)
		}

		all, err := m.partitions.ScanByIndex(snap, m.partitions.Indexes[ordPartitionByParent])
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		var events []eventbus.Event
		for _, child := range all {
			if child.ParentPartitionID == nil || *child.ParentPartitionID != id {
				continue
			}
			old := child
			child.ParentPartitionID = p.ParentPartitionID
			if _, err := m.partitions.Update(snap, batch, child.ID, child); err != nil {
				return writeloop.WriteResult{}, err
			}
			events = append(events, updateEvent(kv.TablePartitions, child.ID, old, child))
		}

		deleted, err := m.partitions.Delete(snap, batch, id)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		events = append(events, deleteEvent(kv.TablePartitions, id, deleted))
		return writeloop.WriteResult{Events: events}, nil
	})
	return err
}

// UpdatePartitionStats records main-table row count and warmed-up state
// after a merge completes.
func (m *Metastore) UpdatePartitionStats(ctx context.Context, id kv.RowID, rowCount uint64, warmedUp bool, fileSize *uint64) (Partition, error) {
	v, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		old, err := m.partitions.GetOrNotFound(snap, id)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		newRow := old
		newRow.MainTableRowCount = rowCount
		newRow.WarmedUp = warmedUp
		newRow.FileSize = fileSize
		if _, err := m.partitions.Update(snap, batch, id, newRow); err != nil {
			return writeloop.WriteResult{}, err
		}
		return writeloop.WriteResult{Value: newRow, Events: []eventbus.Event{updateEvent(kv.TablePartitions, id, old, newRow)}}, nil
	})
	if err != nil {
		return Partition{}, err
	}
	return v.(Partition), nil
}
