package domain

import (
	"context"

	"github.com/cube-js/cube-metastore/internal/eventbus"
	"github.com/cube-js/cube-metastore/internal/kv"
	"github.com/cube-js/cube-metastore/internal/metaerr"
	"github.com/cube-js/cube-metastore/internal/writeloop"
)

// CreateSchema inserts a Schema, failing with metaerr.User if name is
// already taken.
func (m *Metastore) CreateSchema(ctx context.Context, name string) (Schema, error) {
	v, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		id, err := m.schemas.Insert(snap, batch, m.alloc, Schema{Name: name})
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		row := Schema{ID: id, Name: name}
		return writeloop.WriteResult{
			Value:  row,
			Events: []eventbus.Event{insertEvent(kv.TableSchemas, id, row)},
		}, nil
	})
	if err != nil {
		return Schema{}, err
	}
	return v.(Schema), nil
}

// GetSchema fetches a schema by id.
func (m *Metastore) GetSchema(ctx context.Context, id kv.RowID) (Schema, error) {
	v, err := m.submitRead(ctx, func(snap kv.Snapshot) (interface{}, error) {
		return m.schemas.GetOrNotFound(snap, id)
	})
	if err != nil {
		return Schema{}, err
	}
	return v.(Schema), nil
}

// GetSchemaByName looks up a schema by its unique name.
func (m *Metastore) GetSchemaByName(ctx context.Context, name string) (Schema, error) {
	v, err := m.submitRead(ctx, func(snap kv.Snapshot) (interface{}, error) {
		rows, err := m.schemas.GetRowsByIndex(snap, m.schemas.Indexes[0], []byte(name))
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, metaerr.Newf(metaerr.Unknown, "schema %q not found", name)
		}
		return rows[0], nil
	})
	if err != nil {
		return Schema{}, err
	}
	return v.(Schema), nil
}

// ListSchemas returns every schema, run out-of-queue since it is a bulk
// read-only scan.
func (m *Metastore) ListSchemas() ([]Schema, error) {
	v, err := m.loop.ReadOutOfQueue(func(snap kv.Snapshot) (interface{}, error) {
		return m.schemas.ScanAll(snap)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Schema), nil
}

// DeleteSchema removes a schema, failing with metaerr.User if any table
// still references it.
func (m *Metastore) DeleteSchema(ctx context.Context, id kv.RowID) error {
	_, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		tables, err := m.tables.ScanAll(snap)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		for _, t := range tables {
			if t.SchemaID == id {
				return writeloop.WriteResult{}, metaerr.Newf(metaerr.User, "schema %d still has table %q", id, t.Name)
			}
		}
		old, err := m.schemas.Delete(snap, batch, id)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		return writeloop.WriteResult{
			Events:                []eventbus.Event{deleteEvent(kv.TableSchemas, id, old)},
			InvalidateTablesCache: true,
		}, nil
	})
	return err
}
