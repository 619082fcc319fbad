package domain

import (
	"context"

	"github.com/cube-js/cube-metastore/internal/eventbus"
	"github.com/cube-js/cube-metastore/internal/kv"
	"github.com/cube-js/cube-metastore/internal/metaerr"
	"github.com/cube-js/cube-metastore/internal/writeloop"
)

// CreateSource inserts a Source, unique by name.
func (m *Metastore) CreateSource(ctx context.Context, name string, credentials map[string]string) (Source, error) {
	v, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		row := Source{Name: name, Credentials: credentials}
		id, err := m.sources.Insert(snap, batch, m.alloc, row)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		row.ID = id
		return writeloop.WriteResult{
			Value:  row,
			Events: []eventbus.Event{insertEvent(kv.TableSources, id, row)},
		}, nil
	})
	if err != nil {
		return Source{}, err
	}
	return v.(Source), nil
}

// GetSourceByName looks up a source by its unique name.
func (m *Metastore) GetSourceByName(ctx context.Context, name string) (Source, error) {
	v, err := m.submitRead(ctx, func(snap kv.Snapshot) (interface{}, error) {
		rows, err := m.sources.GetRowsByIndex(snap, m.sources.Indexes[0], []byte(name))
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, metaerr.Newf(metaerr.Unknown, "source %q not found", name)
		}
		return rows[0], nil
	})
	if err != nil {
		return Source{}, err
	}
	return v.(Source), nil
}

// UpdateSourceCredentials replaces a source's credential blob.
func (m *Metastore) UpdateSourceCredentials(ctx context.Context, id kv.RowID, credentials map[string]string) (Source, error) {
	v, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		old, err := m.sources.GetOrNotFound(snap, id)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		newRow := old
		newRow.Credentials = credentials
		if _, err := m.sources.Update(snap, batch, id, newRow); err != nil {
			return writeloop.WriteResult{}, err
		}
		return writeloop.WriteResult{
			Value:  newRow,
			Events: []eventbus.Event{updateEvent(kv.TableSources, id, old, newRow)},
		}, nil
	})
	if err != nil {
		return Source{}, err
	}
	return v.(Source), nil
}

// DeleteSource removes a source by id.
func (m *Metastore) DeleteSource(ctx context.Context, id kv.RowID) error {
	_, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		old, err := m.sources.Delete(snap, batch, id)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		return writeloop.WriteResult{Events: []eventbus.Event{deleteEvent(kv.TableSources, id, old)}}, nil
	})
	return err
}
