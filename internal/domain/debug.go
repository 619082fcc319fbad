package domain

import (
	"encoding/json"
	"os"

	"github.com/cube-js/cube-metastore/internal/kv"
)

// debugDump is the shape written by DebugDump: one field per entity
// table, enough to diff two snapshots of the catalog by eye.
type debugDump struct {
	Schemas         []Schema         `json:"schemas"`
	Tables          []Table          `json:"tables"`
	Indexes         []Index          `json:"indexes"`
	Partitions      []Partition      `json:"partitions"`
	Chunks          []Chunk          `json:"chunks"`
	WALs            []WAL            `json:"wals"`
	Jobs            []Job            `json:"jobs"`
	Sources         []Source         `json:"sources"`
	MultiIndexes    []MultiIndex     `json:"multi_indexes"`
	MultiPartitions []MultiPartition `json:"multi_partitions"`
}

// DebugDump writes a point-in-time JSON snapshot of every table to path,
// an operator escape hatch for inspecting catalog state without a
// running executor attached.
func (m *Metastore) DebugDump(path string) error {
	v, err := m.loop.ReadOutOfQueue(func(snap kv.Snapshot) (interface{}, error) {
		var d debugDump
		var err error
		if d.Schemas, err = m.schemas.ScanAll(snap); err != nil {
			return nil, err
		}
		if d.Tables, err = m.tables.ScanAll(snap); err != nil {
			return nil, err
		}
		if d.Indexes, err = m.indexes.ScanAll(snap); err != nil {
			return nil, err
		}
		if d.Partitions, err = m.partitions.ScanAll(snap); err != nil {
			return nil, err
		}
		if d.Chunks, err = m.chunks.ScanAll(snap); err != nil {
			return nil, err
		}
		if d.WALs, err = m.wals.ScanAll(snap); err != nil {
			return nil, err
		}
		if d.Jobs, err = m.jobs.ScanAll(snap); err != nil {
			return nil, err
		}
		if d.Sources, err = m.sources.ScanAll(snap); err != nil {
			return nil, err
		}
		if d.MultiIndexes, err = m.multiIndexes.ScanAll(snap); err != nil {
			return nil, err
		}
		if d.MultiPartitions, err = m.multiPartitions.ScanAll(snap); err != nil {
			return nil, err
		}
		return d, nil
	})
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v.(debugDump), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
