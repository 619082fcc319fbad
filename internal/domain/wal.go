package domain

import (
	"context"

	"github.com/cube-js/cube-metastore/internal/eventbus"
	"github.com/cube-js/cube-metastore/internal/kv"
	"github.com/cube-js/cube-metastore/internal/writeloop"
)

// CreateWAL inserts a transient write-ahead record for tableID.
func (m *Metastore) CreateWAL(ctx context.Context, tableID kv.RowID, rowCount uint64) (WAL, error) {
	v, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		row := WAL{TableID: tableID, RowCount: rowCount}
		id, err := m.wals.Insert(snap, batch, m.alloc, row)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		row.ID = id
		return writeloop.WriteResult{Value: row, Events: []eventbus.Event{insertEvent(kv.TableWALs, id, row)}}, nil
	})
	if err != nil {
		return WAL{}, err
	}
	return v.(WAL), nil
}

// ActivateWAL marks a WAL uploaded, the step that hands it off to the
// executor's merge path; once uploaded it is no longer mutated, only
// eventually deleted once merged.
func (m *Metastore) ActivateWAL(ctx context.Context, id kv.RowID) (WAL, error) {
	v, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		old, err := m.wals.GetOrNotFound(snap, id)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		newRow := old
		newRow.Uploaded = true
		if _, err := m.wals.Update(snap, batch, id, newRow); err != nil {
			return writeloop.WriteResult{}, err
		}
		return writeloop.WriteResult{Value: newRow, Events: []eventbus.Event{updateEvent(kv.TableWALs, id, old, newRow)}}, nil
	})
	if err != nil {
		return WAL{}, err
	}
	return v.(WAL), nil
}

// WALsForTable returns every WAL row belonging to tableID.
func (m *Metastore) WALsForTable(tableID kv.RowID) ([]WAL, error) {
	v, err := m.loop.ReadOutOfQueue(func(snap kv.Snapshot) (interface{}, error) {
		all, err := m.wals.ScanByIndex(snap, m.wals.Indexes[0])
		if err != nil {
			return nil, err
		}
		out := all[:0]
		for _, w := range all {
			if w.TableID == tableID {
				out = append(out, w)
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]WAL), nil
}

// DeleteWAL removes a merged WAL record.
func (m *Metastore) DeleteWAL(ctx context.Context, id kv.RowID) error {
	_, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		old, err := m.wals.Delete(snap, batch, id)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		return writeloop.WriteResult{Events: []eventbus.Event{deleteEvent(kv.TableWALs, id, old)}}, nil
	})
	return err
}
