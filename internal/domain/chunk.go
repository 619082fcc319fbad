package domain

import (
	"context"
	"time"

	"github.com/cube-js/cube-metastore/internal/eventbus"
	"github.com/cube-js/cube-metastore/internal/kv"
	"github.com/cube-js/cube-metastore/internal/metaerr"
	"github.com/cube-js/cube-metastore/internal/writeloop"
)

// CreateChunk inserts a new, inactive, not-yet-uploaded chunk awaiting
// an ingest write or an upload to complete it.
func (m *Metastore) CreateChunk(ctx context.Context, partitionID kv.RowID, rowCount uint64, inMemory bool) (Chunk, error) {
	v, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		t := now()
		row := Chunk{PartitionID: partitionID, RowCount: rowCount, InMemory: inMemory, CreatedAt: &t, OldestInsertAt: &t}
		id, err := m.chunks.Insert(snap, batch, m.alloc, row)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		row.ID = id
		return writeloop.WriteResult{Value: row, Events: []eventbus.Event{insertEvent(kv.TableChunks, id, row)}}, nil
	})
	if err != nil {
		return Chunk{}, err
	}
	return v.(Chunk), nil
}

// GetChunk fetches a chunk by id.
func (m *Metastore) GetChunk(ctx context.Context, id kv.RowID) (Chunk, error) {
	v, err := m.submitRead(ctx, func(snap kv.Snapshot) (interface{}, error) {
		return m.chunks.GetOrNotFound(snap, id)
	})
	if err != nil {
		return Chunk{}, err
	}
	return v.(Chunk), nil
}

// ChunksForPartition returns every chunk belonging to partitionID.
func (m *Metastore) ChunksForPartition(partitionID kv.RowID) ([]Chunk, error) {
	v, err := m.loop.ReadOutOfQueue(func(snap kv.Snapshot) (interface{}, error) {
		all, err := m.chunks.ScanByIndex(snap, m.chunks.Indexes[ordChunkByPartition])
		if err != nil {
			return nil, err
		}
		out := all[:0]
		for _, c := range all {
			if c.PartitionID == partitionID {
				out = append(out, c)
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Chunk), nil
}

// ChunkUploaded marks a chunk uploaded and records its final file size,
// the step an ingest worker takes once its file lands in object storage.
func (m *Metastore) ChunkUploaded(ctx context.Context, id kv.RowID, fileSize uint64) (Chunk, error) {
	v, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		old, err := m.chunks.GetOrNotFound(snap, id)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		newRow := old
		newRow.Uploaded = true
		newRow.FileSize = &fileSize
		if _, err := m.chunks.Update(snap, batch, id, newRow); err != nil {
			return writeloop.WriteResult{}, err
		}
		return writeloop.WriteResult{Value: newRow, Events: []eventbus.Event{updateEvent(kv.TableChunks, id, old, newRow)}}, nil
	})
	if err != nil {
		return Chunk{}, err
	}
	return v.(Chunk), nil
}

// DeactivateChunk flips a chunk inactive without deleting it, the state
// a chunk passes through after being merged but before garbage
// collection confirms no reader still references it.
func (m *Metastore) DeactivateChunk(ctx context.Context, id kv.RowID) (Chunk, error) {
	v, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		old, err := m.chunks.GetOrNotFound(snap, id)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		newRow := old
		newRow.Active = false
		if _, err := m.chunks.Update(snap, batch, id, newRow); err != nil {
			return writeloop.WriteResult{}, err
		}
		return writeloop.WriteResult{Value: newRow, Events: []eventbus.Event{updateEvent(kv.TableChunks, id, old, newRow)}}, nil
	})
	if err != nil {
		return Chunk{}, err
	}
	return v.(Chunk), nil
}

// ActivateChunks flips a batch of uploaded chunks active in one
// transaction, the point at which the executor may start reading them.
func (m *Metastore) ActivateChunks(ctx context.Context, ids []kv.RowID) error {
	_, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		var events []eventbus.Event
		for _, id := range ids {
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
		return writeloop.WriteResult{Events: events}, nil
	})
	return err
}

// SwapChunks implements the chunk half of a merge: oldChunkIDs are
// deleted and newChunkIDs (already uploaded) are activated in one
// transaction, preserving the invariant that a partition's active chunk
// set never transiently shows both pre- and post-merge data.
func (m *Metastore) SwapChunks(ctx context.Context, oldChunkIDs, newChunkIDs []kv.RowID) error {
	_, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
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

// DeleteChunk removes a chunk outright, used once garbage collection
// confirms an inactive chunk's file is no longer referenced.
func (m *Metastore) DeleteChunk(ctx context.Context, id kv.RowID) error {
	_, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		old, err := m.chunks.Delete(snap, batch, id)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		return writeloop.WriteResult{Events: []eventbus.Event{deleteEvent(kv.TableChunks, id, old)}}, nil
	})
	return err
}

// ChunksOlderThan returns inactive chunks created more than ageSeconds
// ago, a garbage-collection candidate list.
func (m *Metastore) ChunksOlderThan(ageSeconds int64) ([]Chunk, error) {
	v, err := m.loop.ReadOutOfQueue(func(snap kv.Snapshot) (interface{}, error) {
		all, err := m.chunks.ScanAll(snap)
		if err != nil {
			return nil, err
		}
		cutoff := now().Add(-time.Duration(ageSeconds) * time.Second)
		var out []Chunk
		for _, c := range all {
			if !c.Active && c.CreatedAt != nil && c.CreatedAt.Before(cutoff) {
				out = append(out, c)
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Chunk), nil
}
