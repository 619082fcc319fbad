package domain

import (
	"context"

	"github.com/cube-js/cube-metastore/internal/eventbus"
	"github.com/cube-js/cube-metastore/internal/kv"
	"github.com/cube-js/cube-metastore/internal/metaerr"
	"github.com/cube-js/cube-metastore/internal/writeloop"
)

// ChildMultiPartitionSpec describes one child side of a split.
//
// For an initial split (initialSplit=true passed to CommitSplit),
// ExistingChildID is nil and CommitSplit creates a new, active
// multi-partition row spanning MinRow/MaxRow. For a postponed split
// (initialSplit=false), ExistingChildID names a child multi-partition
// a prior initial split already created, onto which this call merges
// a straggler partition that could not be migrated atomically the
// first time; MinRow/MaxRow are ignored in that case.
type ChildMultiPartitionSpec struct {
	ExistingChildID *kv.RowID
	MinRow          []byte
	MaxRow          []byte
	// RowCount is the rows being transferred into this child as part
	// of this commit, subtracted from the parent's running tally and
	// added to the child's.
	RowCount uint64
}

// GetMultiPartition fetches a multi-partition by id.
func (m *Metastore) GetMultiPartition(ctx context.Context, id kv.RowID) (MultiPartition, error) {
	v, err := m.submitRead(ctx, func(snap kv.Snapshot) (interface{}, error) {
		return m.multiPartitions.GetOrNotFound(snap, id)
	})
	if err != nil {
		return MultiPartition{}, err
	}
	return v.(MultiPartition), nil
}

// PrepareForSplit implements the first phase of §4.8.3: flags a
// multi-partition as about to split so concurrent compaction
// (SwapCompactedChunks) backs off rather than racing the structural
// change. Fails if the multi-partition is already being split or is
// inactive.
func (m *Metastore) PrepareForSplit(ctx context.Context, id kv.RowID) (MultiPartition, error) {
	v, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		old, err := m.multiPartitions.GetOrNotFound(snap, id)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		if !old.Active {
			return writeloop.WriteResult{}, metaerr.Newf(metaerr.User, "multi-partition %d is not active", id)
		}
		if old.PreparedForSplit {
			return writeloop.WriteResult{}, metaerr.Newf(metaerr.User, "multi-partition %d is already prepared for split", id)
		}
		newRow := old
		newRow.PreparedForSplit = true
		if _, err := m.multiPartitions.Update(snap, batch, id, newRow); err != nil {
			return writeloop.WriteResult{}, err
		}
		return writeloop.WriteResult{Value: newRow, Events: []eventbus.Event{updateEvent(kv.TableMultiPartitions, id, old, newRow)}}, nil
	})
	if err != nil {
		return MultiPartition{}, err
	}
	return v.(MultiPartition), nil
}

// CommitSplit implements the second phase of §4.8.3 in one transaction.
// For an initial split (initialSplit=true), it requires parentID to be
// active and prepared_for_split, deactivates it, creates one new active
// child multi-partition per entry in children, and for every Index
// sharing the parent's MultiIndexID swaps the partition still attached
// to parentID for one freshly created child partition per new
// multi-partition (reparenting the parent partition's chunks onto the
// single child when the split has exactly one, mirroring
// SwapActivePartitions' compaction case, otherwise deactivating them).
// For a postponed split (initialSplit=false), parentID must already be
// inactive from a prior initial split, and every entry in children must
// carry an ExistingChildID naming a child that split already created;
// this call only merges a straggler's rows into that child's running
// total and never touches partitions, since the initial split already
// derived them. Row-count accounting subtracts the aggregate of
// children's RowCount from the parent's TotalRowCount (never below
// zero) and adds each child's RowCount to its own tally.
func (m *Metastore) CommitSplit(ctx context.Context, parentID kv.RowID, children []ChildMultiPartitionSpec, initialSplit bool) ([]MultiPartition, error) {
	v, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		if len(children) == 0 {
			return writeloop.WriteResult{}, metaerr.Newf(metaerr.User, "split requires at least one child")
		}
		parent, err := m.multiPartitions.GetOrNotFound(snap, parentID)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		if initialSplit {
			if !parent.PreparedForSplit {
				return writeloop.WriteResult{}, metaerr.Newf(metaerr.User, "multi-partition %d was not prepared for split", parentID)
			}
			if !parent.Active {
				return writeloop.WriteResult{}, metaerr.Newf(metaerr.User, "multi-partition %d is not active", parentID)
			}
		} else if parent.Active {
			return writeloop.WriteResult{}, metaerr.Newf(metaerr.User, "multi-partition %d must already be split by an initial commit before a postponed one", parentID)
		}

		var events []eventbus.Event
		var totalChildRows uint64
		for _, spec := range children {
			totalChildRows += spec.RowCount
		}

		oldParent := parent
		if initialSplit {
			parent.Active = false
			parent.PreparedForSplit = false
		}
		if totalChildRows > parent.TotalRowCount {
			parent.TotalRowCount = 0
		} else {
			parent.TotalRowCount -= totalChildRows
		}
		if _, err := m.multiPartitions.Update(snap, batch, parentID, parent); err != nil {
			return writeloop.WriteResult{}, err
		}
		events = append(events, updateEvent(kv.TableMultiPartitions, parentID, oldParent, parent))

		childRows := make([]MultiPartition, 0, len(children))
		for _, spec := range children {
			if spec.ExistingChildID != nil {
				old, err := m.multiPartitions.GetOrNotFound(snap, *spec.ExistingChildID)
				if err != nil {
					return writeloop.WriteResult{}, err
				}
				if old.ParentMultiPartitionID == nil || *old.ParentMultiPartitionID != parentID {
					return writeloop.WriteResult{}, metaerr.Newf(metaerr.User, "multi-partition %d is not a child of %d", *spec.ExistingChildID, parentID)
				}
				updated := old
				updated.TotalRowCount += spec.RowCount
				if _, err := m.multiPartitions.Update(snap, batch, updated.ID, updated); err != nil {
					return writeloop.WriteResult{}, err
				}
				events = append(events, updateEvent(kv.TableMultiPartitions, updated.ID, old, updated))
				childRows = append(childRows, updated)
				continue
			}
			if !initialSplit {
				return writeloop.WriteResult{}, metaerr.Newf(metaerr.User, "a postponed split requires an existing child multi-partition id")
			}
			mp := MultiPartition{
				MultiIndexID:           parent.MultiIndexID,
				ParentMultiPartitionID: &parentID,
				MinRow:                 boundaryOf(spec.MinRow),
				MaxRow:                 boundaryOf(spec.MaxRow),
				Active:                 true,
				WasActivated:           true,
				TotalRowCount:          spec.RowCount,
			}
			id, err := m.multiPartitions.Insert(snap, batch, m.alloc, mp)
			if err != nil {
				return writeloop.WriteResult{}, err
			}
			mp.ID = id
			events = append(events, insertEvent(kv.TableMultiPartitions, id, mp))
			childRows = append(childRows, mp)
		}

		// A postponed split never re-derives partitions: the initial split
		// already created (and deactivated the parent's) partitions for
		// every sharing Index, and this call only folds a straggler's rows
		// into the pre-existing children's row counts above. Re-running
		// this loop would match the already-deactivated parent partition
		// again and mint a second, spurious set of child partitions.
		if !initialSplit {
			return writeloop.WriteResult{Value: childRows, Events: events}, nil
		}

		indexes, err := m.indexes.ScanAll(snap)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		allPartitions, err := m.partitions.ScanByIndex(snap, m.partitions.Indexes[ordPartitionByMP])
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		allChunks, err := m.chunks.ScanByIndex(snap, m.chunks.Indexes[ordChunkByPartition])
		if err != nil {
			return writeloop.WriteResult{}, err
		}

		for _, idx := range indexes {
			if idx.MultiIndexID == nil || *idx.MultiIndexID != parent.MultiIndexID {
				continue
			}
			var parentPartition *Partition
			for i := range allPartitions {
				p := allPartitions[i]
				if p.IndexID == idx.ID && p.MultiPartitionID != nil && *p.MultiPartitionID == parentID {
					parentPartition = &p
					break
				}
			}
			if parentPartition == nil {
				continue
			}

			newPartitionIDs := make([]kv.RowID, 0, len(childRows))
			for _, mp := range childRows {
				np := Partition{
					IndexID:           idx.ID,
					ParentPartitionID: &parentPartition.ID,
					MultiPartitionID:  &mp.ID,
					MinValue:          mp.MinRow,
					MaxValue:          mp.MaxRow,
					Active:            true,
				}
				id, err := m.partitions.Insert(snap, batch, m.alloc, np)
				if err != nil {
					return writeloop.WriteResult{}, err
				}
				np.ID = id
				events = append(events, insertEvent(kv.TablePartitions, id, np))
				newPartitionIDs = append(newPartitionIDs, id)
			}

			isCompaction := len(childRows) == 1 && boundaryEqual(parentPartition.MinValue, childRows[0].MinRow) && boundaryEqual(parentPartition.MaxValue, childRows[0].MaxRow)
			reparentTarget := newPartitionIDs[0]
			for _, c := range allChunks {
				if c.PartitionID != parentPartition.ID {
					continue
				}
				old := c
				if isCompaction {
					c.PartitionID = reparentTarget
				} else {
					c.Active = false
				}
				if _, err := m.chunks.Update(snap, batch, c.ID, c); err != nil {
					return writeloop.WriteResult{}, err
				}
				events = append(events, updateEvent(kv.TableChunks, c.ID, old, c))
			}

			oldPartition := *parentPartition
			parentPartition.Active = false
			if _, err := m.partitions.Update(snap, batch, parentPartition.ID, *parentPartition); err != nil {
				return writeloop.WriteResult{}, err
			}
			events = append(events, updateEvent(kv.TablePartitions, parentPartition.ID, oldPartition, *parentPartition))
		}

		return writeloop.WriteResult{Value: childRows, Events: events}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]MultiPartition), nil
}

// SwapCompactedChunks implements §4.8.4: swaps a partition's compacted
// chunk set like SwapChunks, but silently no-ops (committing nothing)
// when the owning multi-partition is prepared_for_split, since the
// impending CommitSplit will re-derive partitions and chunk ownership
// from scratch and a concurrent compaction would only be discarded.
func (m *Metastore) SwapCompactedChunks(ctx context.Context, partitionID kv.RowID, oldChunkIDs, newChunkIDs []kv.RowID) error {
	_, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		partition, err := m.partitions.GetOrNotFound(snap, partitionID)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		if partition.MultiPartitionID != nil {
			mp, err := m.multiPartitions.GetOrNotFound(snap, *partition.MultiPartitionID)
			if err != nil {
				return writeloop.WriteResult{}, err
			}
			if mp.PreparedForSplit {
				return writeloop.WriteResult{}, nil
			}
		}

		var events []eventbus.Event
		for _, id := range newChunkIDs {
			old, err := m.chunks.GetOrNotFound(snap, id)
			if err != nil {
				return writeloop.WriteResult{}, err
			}
			if !old.Uploaded {
				return writeloop.WriteResult{}, metaerr.Newf(metaerr.User, "chunk %d not uploaded yet", id)
			}
			newRow := old
			newRow.Active = true
			if _, err := m.chunks.Update(snap, batch, id, newRow); err != nil {
				return writeloop.WriteResult{}, err
			}
			events = append(events, updateEvent(kv.TableChunks, id, old, newRow))
		}
		for _, id := range oldChunkIDs {
			old, err := m.chunks.Delete(snap, batch, id)
			if err != nil {
				return writeloop.WriteResult{}, err
			}
			events = append(events, deleteEvent(kv.TableChunks, id, old))
		}
		return writeloop.WriteResult{Events: events}, nil
	})
	return err
}
