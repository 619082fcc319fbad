package domain

import (
	"context"
	"time"

	"github.com/cube-js/cube-metastore/internal/eventbus"
	"github.com/cube-js/cube-metastore/internal/kv"
	"github.com/cube-js/cube-metastore/internal/metaerr"
	"github.com/cube-js/cube-metastore/internal/writeloop"
)

// BuildColumns appends the synthetic __seq column whenever table
// declares a unique key, and records its index as the table's final
// column. Safe to call on a table with no unique key, where it is a
// no-op.
func BuildColumns(table Table) (Table, error) {
	if !table.HasUniqueKey() {
		return table, nil
	}
	agg := make(map[int]bool, len(table.AggregateColumnIndices))
	for _, c := range table.AggregateColumnIndices {
		agg[c] = true
	}
	for _, c := range table.UniqueKeyColumnIndices {
		if agg[c] {
			return Table{}, metaerr.Newf(metaerr.User, "column %d is both a unique-key and an aggregate column", c)
		}
	}
	seqIdx := len(table.Columns)
	table.Columns = append(table.Columns, Column{Name: "__seq", Type: ColumnInt})
	table.SeqColumnIndex = &seqIdx
	return table, nil
}

// GetTable fetches a table by id.
func (m *Metastore) GetTable(ctx context.Context, id kv.RowID) (Table, error) {
	v, err := m.submitRead(ctx, func(snap kv.Snapshot) (interface{}, error) {
		return m.tables.GetOrNotFound(snap, id)
	})
	if err != nil {
		return Table{}, err
	}
	return v.(Table), nil
}

// GetTableByPath looks up a table by its schema-qualified name.
func (m *Metastore) GetTableByPath(ctx context.Context, schemaID kv.RowID, name string) (Table, error) {
	v, err := m.submitRead(ctx, func(snap kv.Snapshot) (interface{}, error) {
		key := concatKey(u64key(uint64(schemaID)), []byte(name))
		rows, err := m.tables.GetRowsByIndex(snap, m.tables.Indexes[0], key)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, metaerr.Newf(metaerr.Unknown, "table %q not found in schema %d", name, schemaID)
		}
		return rows[0], nil
	})
	if err != nil {
		return Table{}, err
	}
	return v.(Table), nil
}

// GetTablesWithPath returns every table, schema-qualified, optionally
// excluding not-yet-ready tables. Refills the table-path cache on a
// miss under the read queue so concurrent refills don't race.
func (m *Metastore) GetTablesWithPath(ctx context.Context, includeNonReady bool) ([]TablePath, error) {
	v, err := m.submitRead(ctx, func(snap kv.Snapshot) (interface{}, error) {
		return m.cache.Get(func() ([]TablePath, error) {
			tables, err := m.tables.ScanAll(snap)
			if err != nil {
				return nil, err
			}
			schemas, err := m.schemas.ScanAll(snap)
			if err != nil {
				return nil, err
			}
			schemaNames := make(map[kv.RowID]string, len(schemas))
			for _, s := range schemas {
				schemaNames[s.ID] = s.Name
			}
			out := make([]TablePath, 0, len(tables))
			for _, t := range tables {
				out = append(out, TablePath{
					SchemaName: schemaNames[t.SchemaID],
					TableName:  t.Name,
					TableID:    t.ID,
					IsReady:    t.IsReady,
				})
			}
			return out, nil
		})
	})
	if err != nil {
		return nil, err
	}
	all := v.([]TablePath)
	if includeNonReady {
		return all, nil
	}
	out := make([]TablePath, 0, len(all))
	for _, p := range all {
		if p.IsReady {
			out = append(out, p)
		}
	}
	return out, nil
}

// NotReadyTables returns tables that are not ready and were created more
// than ageSeconds ago (stuck imports a caller may want to alert on).
// BuildRangeEnd absent is treated as "no age to compare", so such rows
// are excluded rather than always matching.
func (m *Metastore) NotReadyTables(ageSeconds int64) ([]Table, error) {
	v, err := m.loop.ReadOutOfQueue(func(snap kv.Snapshot) (interface{}, error) {
		all, err := m.tables.ScanAll(snap)
		if err != nil {
			return nil, err
		}
		cutoff := now().Add(-time.Duration(ageSeconds) * time.Second)
		var out []Table
		for _, t := range all {
			if t.IsReady || t.BuildRangeEnd == nil {
				continue
			}
			if t.BuildRangeEnd.Before(cutoff) {
				out = append(out, t)
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Table), nil
}

// TableReady flips is_ready, the signal the executor waits on before
// querying a freshly imported table.
func (m *Metastore) TableReady(ctx context.Context, id kv.RowID, ready bool) (Table, error) {
	v, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		old, err := m.tables.GetOrNotFound(snap, id)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		newRow := old
		newRow.IsReady = ready
		if _, err := m.tables.Update(snap, batch, id, newRow); err != nil {
			return writeloop.WriteResult{}, err
		}
		return writeloop.WriteResult{
			Value:                 newRow,
			Events:                []eventbus.Event{updateEvent(kv.TableTables, id, old, newRow)},
			InvalidateTablesCache: true,
		}, nil
	})
	if err != nil {
		return Table{}, err
	}
	return v.(Table), nil
}

// UpdateLocationDownloadSize records progress on an import in flight by
// extending build_range_end, used while streaming a remote CSV/parquet
// location into the table before it is marked ready.
func (m *Metastore) UpdateLocationDownloadSize(ctx context.Context, id kv.RowID, downloadedThrough time.Time) (Table, error) {
	v, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		old, err := m.tables.GetOrNotFound(snap, id)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		newRow := old
		newRow.BuildRangeEnd = &downloadedThrough
		if _, err := m.tables.Update(snap, batch, id, newRow); err != nil {
			return writeloop.WriteResult{}, err
		}
		return writeloop.WriteResult{Value: newRow, Events: []eventbus.Event{updateEvent(kv.TableTables, id, old, newRow)}}, nil
	})
	if err != nil {
		return Table{}, err
	}
	return v.(Table), nil
}

// DeleteTable removes a table and every index, partition, and chunk that
// references it.
func (m *Metastore) DeleteTable(ctx context.Context, id kv.RowID) error {
	_, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		if !m.tables.Exists(snap, id) {
			return writeloop.WriteResult{}, metaerr.Newf(metaerr.Unknown, "table %d not found", id)
		}
		idxRows, err := m.indexes.ScanByIndex(snap, m.indexes.Indexes[0])
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		var events []eventbus.Event
		for _, idx := range idxRows {
			if idx.TableID != id {
				continue
			}
			parts, err := m.partitions.ScanByIndex(snap, m.partitions.Indexes[ordPartitionByIndex])
			if err != nil {
				return writeloop.WriteResult{}, err
			}
			for _, p := range parts {
				if p.IndexID != idx.ID {
					continue
				}
				chunks, err := m.chunks.ScanByIndex(snap, m.chunks.Indexes[ordChunkByPartition])
				if err != nil {
					return writeloop.WriteResult{}, err
				}
				for _, c := range chunks {
					if c.PartitionID != p.ID {
						continue
					}
					if _, err := m.chunks.Delete(snap, batch, c.ID); err != nil {
						return writeloop.WriteResult{}, err
					}
					events = append(events, deleteEvent(kv.TableChunks, c.ID, c))
				}
				if _, err := m.partitions.Delete(snap, batch, p.ID); err != nil {
					return writeloop.WriteResult{}, err
				}
				events = append(events, deleteEvent(kv.TablePartitions, p.ID, p))
			}
			if _, err := m.indexes.Delete(snap, batch, idx.ID); err != nil {
				return writeloop.WriteResult{}, err
			}
			events = append(events, deleteEvent(kv.TableIndexes, idx.ID, idx))
		}
		old, err := m.tables.Delete(snap, batch, id)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		events = append(events, deleteEvent(kv.TableTables, id, old))
		return writeloop.WriteResult{Events: events, InvalidateTablesCache: true}, nil
	})
	return err
}
