package domain

import (
	"context"

	"github.com/cube-js/cube-metastore/internal/eventbus"
	"github.com/cube-js/cube-metastore/internal/kv"
	"github.com/cube-js/cube-metastore/internal/metaerr"
	"github.com/cube-js/cube-metastore/internal/writeloop"
)

// CreateMultiIndex inserts a MultiIndex and its single root
// MultiPartition, unique by (SchemaID, Name).
func (m *Metastore) CreateMultiIndex(ctx context.Context, schemaID kv.RowID, name string, keyColumns []ColumnType) (MultiIndex, error) {
	v, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		row := MultiIndex{SchemaID: schemaID, Name: name, KeyColumns: keyColumns}
		id, err := m.multiIndexes.Insert(snap, batch, m.alloc, row)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		row.ID = id
		events := []eventbus.Event{insertEvent(kv.TableMultiIndexes, id, row)}

		root := MultiPartition{MultiIndexID: id, Active: true}
		rootID, err := m.multiPartitions.Insert(snap, batch, m.alloc, root)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		root.ID = rootID
		events = append(events, insertEvent(kv.TableMultiPartitions, rootID, root))

		return writeloop.WriteResult{Value: row, Events: events}, nil
	})
	if err != nil {
		return MultiIndex{}, err
	}
	return v.(MultiIndex), nil
}

// GetMultiIndex fetches a multi-index by id.
func (m *Metastore) GetMultiIndex(ctx context.Context, id kv.RowID) (MultiIndex, error) {
	v, err := m.submitRead(ctx, func(snap kv.Snapshot) (interface{}, error) {
		return m.multiIndexes.GetOrNotFound(snap, id)
	})
	if err != nil {
		return MultiIndex{}, err
	}
	return v.(MultiIndex), nil
}

// GetMultiIndexByName looks up a multi-index by (schemaID, name).
func (m *Metastore) GetMultiIndexByName(ctx context.Context, schemaID kv.RowID, name string) (MultiIndex, error) {
	v, err := m.submitRead(ctx, func(snap kv.Snapshot) (interface{}, error) {
		key := concatKey(u64key(uint64(schemaID)), []byte(name))
		rows, err := m.multiIndexes.GetRowsByIndex(snap, m.multiIndexes.Indexes[ordMultiIndexBySchemaAndName], key)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, metaerr.Newf(metaerr.Unknown, "multi-index %q not found in schema %d", name, schemaID)
		}
		return rows[0], nil
	})
	if err != nil {
		return MultiIndex{}, err
	}
	return v.(MultiIndex), nil
}

// DeleteMultiIndex removes a multi-index and its multi-partition tree.
// Fails with metaerr.User if any Index still references it.
func (m *Metastore) DeleteMultiIndex(ctx context.Context, id kv.RowID) error {
	_, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		indexes, err := m.indexes.ScanAll(snap)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		for _, idx := range indexes {
			if idx.MultiIndexID != nil && *idx.MultiIndexID == id {
				return writeloop.WriteResult{}, metaerr.Newf(metaerr.User, "multi-index %d still used by index %q", id, idx.Name)
			}
		}
		var events []eventbus.Event
		mps, err := m.multiPartitions.ScanByIndex(snap, m.multiPartitions.Indexes[ordMultiPartitionByIndex])
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		for _, mp := range mps {
			if mp.MultiIndexID != id {
				continue
			}
			deleted, err := m.multiPartitions.Delete(snap, batch, mp.ID)
			if err != nil {
				return writeloop.WriteResult{}, err
			}
			events = append(events, deleteEvent(kv.TableMultiPartitions, mp.ID, deleted))
		}
		old, err := m.multiIndexes.Delete(snap, batch, id)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		events = append(events, deleteEvent(kv.TableMultiIndexes, id, old))
		return writeloop.WriteResult{Events: events}, nil
	})
	return err
}
