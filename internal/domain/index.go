package domain

import (
	"context"
	"sort"

	"github.com/cube-js/cube-metastore/internal/eventbus"
	"github.com/cube-js/cube-metastore/internal/kv"
	"github.com/cube-js/cube-metastore/internal/metaerr"
	"github.com/cube-js/cube-metastore/internal/writeloop"
)

// DefaultIndexName is the always-present index every table owns.
const DefaultIndexName = "default"

// IndexRequest is one caller-requested index for CreateTableWithIndices,
// prior to column-order resolution.
type IndexRequest struct {
	Name                  string
	SortColumns           []int // column indices, sort-key order
	AggregateColumns      []int // aggregate-function columns, Aggregate indices only
	IndexType             IndexType
	MultiIndexID          *kv.RowID
	PartitionSplitKeySize *int
}

// GetTableIndexes returns every index declared on tableID.
func (m *Metastore) GetTableIndexes(ctx context.Context, tableID kv.RowID) ([]Index, error) {
	v, err := m.submitRead(ctx, func(snap kv.Snapshot) (interface{}, error) {
		all, err := m.indexes.ScanByIndex(snap, m.indexes.Indexes[0])
		if err != nil {
			return nil, err
		}
		out := all[:0]
		for _, idx := range all {
			if idx.TableID == tableID {
				out = append(out, idx)
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Index), nil
}

// buildColumnOrder implements §4.8.1's column-order rule: declared sort
// columns first (deduped, order preserved), then the unique-key columns,
// then __seq (if the table has a unique key), then remaining columns.
// Returns the full ordered column-index list and the resolved sort key
// size.
func buildColumnOrder(table Table, req IndexRequest) (order []int, sortKeySize int) {
	seen := make(map[int]bool)
	add := func(idx int) {
		if !seen[idx] {
			seen[idx] = true
			order = append(order, idx)
		}
	}

	if req.IndexType == IndexAggregate {
		for _, c := range req.SortColumns {
			add(c)
		}
		sortKeySize = len(order)
		for _, c := range req.AggregateColumns {
			add(c)
		}
		return order, sortKeySize
	}

	for _, c := range req.SortColumns {
		add(c)
	}
	for _, c := range table.UniqueKeyColumnIndices {
		add(c)
	}
	if table.HasUniqueKey() && table.SeqColumnIndex != nil {
		add(*table.SeqColumnIndex)
	}
	sortKeySize = len(order)
	for i := range table.Columns {
		add(i)
	}
	return order, sortKeySize
}

func defaultIndexRequest(table Table) IndexRequest {
	if table.HasUniqueKey() {
		return IndexRequest{Name: DefaultIndexName, SortColumns: append([]int(nil), table.UniqueKeyColumnIndices...), IndexType: IndexRegular}
	}
	var sortCols []int
	for i, c := range table.Columns {
		if table.HasUniqueKey() && table.SeqColumnIndex != nil && i == *table.SeqColumnIndex {
			continue
		}
		if c.Type.excludedFromDefaultSortKey() {
			continue
		}
		sortCols = append(sortCols, i)
	}
	return IndexRequest{Name: DefaultIndexName, SortColumns: sortCols, IndexType: IndexRegular}
}

// validateIndexRequest enforces: referenced columns exist; if the table
// has a unique key, the index's sort columns are a subset of it; if the
// request names a multi-index, the index's leading
// len(multiIndex.KeyColumns) columns match its key-column types.
func validateIndexRequest(table Table, req IndexRequest, multiIndexes map[kv.RowID]MultiIndex) error {
	for _, c := range req.SortColumns {
		if c < 0 || c >= len(table.Columns) {
			return metaerr.Newf(metaerr.User, "index %q: sort column %d out of range", req.Name, c)
		}
	}
	if table.HasUniqueKey() && req.IndexType == IndexRegular {
		unique := make(map[int]bool, len(table.UniqueKeyColumnIndices))
		for _, c := range table.UniqueKeyColumnIndices {
			unique[c] = true
		}
		for _, c := range req.SortColumns {
			if !unique[c] {
				return metaerr.Newf(metaerr.User, "index %q: sort column %d is not part of table's unique key", req.Name, c)
			}
		}
	}
	if req.MultiIndexID != nil {
		mi, ok := multiIndexes[*req.MultiIndexID]
		if !ok {
			return metaerr.Newf(metaerr.User, "index %q: multi-index %d not found", req.Name, *req.MultiIndexID)
		}
		if len(req.SortColumns) < len(mi.KeyColumns) {
			return metaerr.Newf(metaerr.User, "index %q: fewer sort columns than multi-index key columns", req.Name)
		}
		for i, kt := range mi.KeyColumns {
			if table.Columns[req.SortColumns[i]].Type != kt {
				return metaerr.Newf(metaerr.User, "index %q: sort column %d type mismatch with multi-index %q", req.Name, i, mi.Name)
			}
		}
	}
	return nil
}

// CreateTableWithIndices implements §4.8.1 end to end inside one write
// transaction: create the table row, validate and create each requested
// index (plus the always-present default index), and create root or
// multi-partition-derived partition rows for every index.
func (m *Metastore) CreateTableWithIndices(ctx context.Context, table Table, requests []IndexRequest) (Table, []Index, error) {
	v, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		table, err := BuildColumns(table)
		if err != nil {
			return writeloop.WriteResult{}, err
		}

		tableID, err := m.tables.Insert(snap, batch, m.alloc, table)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		table.ID = tableID

		allRequests := append(append([]IndexRequest{}, requests...), defaultIndexRequest(table))

		multiIndexRows, err := m.multiIndexes.ScanAll(snap)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		multiIndexByID := make(map[kv.RowID]MultiIndex, len(multiIndexRows))
		for _, mi := range multiIndexRows {
			multiIndexByID[mi.ID] = mi
		}

		events := []eventbus.Event{insertEvent(kv.TableTables, tableID, table)}
		var created []Index

		for _, req := range allRequests {
			if err := validateIndexRequest(table, req, multiIndexByID); err != nil {
				return writeloop.WriteResult{}, err
			}
			order, sortKeySize := buildColumnOrder(table, req)
			idxRow := Index{
				Name:                  req.Name,
				TableID:               tableID,
				Columns:               order,
				SortKeySize:           sortKeySize,
				MultiIndexID:          req.MultiIndexID,
				PartitionSplitKeySize: req.PartitionSplitKeySize,
				IndexType:             req.IndexType,
			}
			indexID, err := m.indexes.Insert(snap, batch, m.alloc, idxRow)
			if err != nil {
				return writeloop.WriteResult{}, err
			}
			idxRow.ID = indexID
			events = append(events, insertEvent(kv.TableIndexes, indexID, idxRow))
			created = append(created, idxRow)

			if err := createPartitionsForIndex(snap, batch, m, idxRow, &events); err != nil {
				return writeloop.WriteResult{}, err
			}
		}

		return writeloop.WriteResult{
			Value:                 [2]interface{}{table, created},
			Events:                events,
			InvalidateTablesCache: true,
		}, nil
	})
	if err != nil {
		return Table{}, nil, err
	}
	pair := v.([2]interface{})
	return pair[0].(Table), pair[1].([]Index), nil
}

// createPartitionsForIndex stages one root partition, or one partition
// per active child multi-partition if the index is multi-partitioned.
func createPartitionsForIndex(snap kv.Snapshot, batch kv.Batch, m *Metastore, idx Index, events *[]eventbus.Event) error {
	if idx.MultiIndexID == nil {
		p := Partition{IndexID: idx.ID}
		id, err := m.partitions.Insert(snap, batch, m.alloc, p)
		if err != nil {
			return err
		}
		p.ID = id
		*events = append(*events, insertEvent(kv.TablePartitions, id, p))
		return nil
	}

	allMPs, err := m.multiPartitions.ScanAll(snap)
	if err != nil {
		return err
	}
	children := allMPs[:0]
	for _, mp := range allMPs {
		if mp.MultiIndexID == *idx.MultiIndexID && mp.Active {
			children = append(children, mp)
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].ID < children[j].ID })
	for _, mp := range children {
		p := Partition{IndexID: idx.ID, MultiPartitionID: &mp.ID, MinValue: mp.MinRow, MaxValue: mp.MaxRow}
		id, err := m.partitions.Insert(snap, batch, m.alloc, p)
		if err != nil {
			return err
		}
		p.ID = id
		*events = append(*events, insertEvent(kv.TablePartitions, id, p))
	}
	return nil
}

// DeleteIndex removes the index row only; the index's partitions and
// chunks are not deleted. It does not check whether the index is the
// default index of a live table.
func (m *Metastore) DeleteIndex(ctx context.Context, id kv.RowID) error {
	_, err := m.submitWrite(ctx, func(snap kv.Snapshot, batch kv.Batch) (writeloop.WriteResult, error) {
		old, err := m.indexes.Delete(snap, batch, id)
		if err != nil {
			return writeloop.WriteResult{}, err
		}
		return writeloop.WriteResult{Events: []eventbus.Event{deleteEvent(kv.TableIndexes, id, old)}}, nil
	})
	return err
}
