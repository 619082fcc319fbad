package domain

import (
	"encoding/binary"

	"github.com/cube-js/cube-metastore/internal/kv"
	"github.com/cube-js/cube-metastore/internal/rtable"
)

// Index ordinals, scoped per table_id (< 100 each, per kv.NewIndexID).
const (
	ordSchemaByName = 0

	ordTableBySchemaAndName = 0

	ordIndexByTable = 0

	ordPartitionByIndex  = 0
	ordPartitionByParent = 1
	ordPartitionByMP     = 2

	ordChunkByPartition = 0

	ordWALByTable = 0

	ordJobByReferenceAndType = 0
	ordJobByStatus           = 1

	ordSourceByName = 0

	ordMultiIndexBySchemaAndName = 0

	ordMultiPartitionByParent = 0
	ordMultiPartitionByIndex  = 1
)

func u64key(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func concatKey(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(p)))
		out = append(out, l[:]...)
		out = append(out, p...)
	}
	return out
}

// newSchemasTable, etc. build the generic rtable.Table[T] instance for
// each entity, declaring its table_id, codec, id accessors, and
// secondary-index descriptors.

func newSchemasTable() *rtable.Table[Schema] {
	return &rtable.Table[Schema]{
		TableID: kv.TableSchemas,
		Codec:   schemaCodec{},
		IDOf:    func(v Schema) kv.RowID { return v.ID },
		WithID:  func(v Schema, id kv.RowID) Schema { v.ID = id; return v },
		Indexes: []rtable.IndexDef[Schema]{
			{
				ID:      kv.NewIndexID(kv.TableSchemas, ordSchemaByName),
				Version: 1,
				Unique:  true,
				KeyFn:   func(v Schema) []byte { return []byte(v.Name) },
			},
		},
	}
}

func newTablesTable() *rtable.Table[Table] {
	return &rtable.Table[Table]{
		TableID: kv.TableTables,
		Codec:   tableCodec{},
		IDOf:    func(v Table) kv.RowID { return v.ID },
		WithID:  func(v Table, id kv.RowID) Table { v.ID = id; return v },
		Indexes: []rtable.IndexDef[Table]{
			{
				ID:      kv.NewIndexID(kv.TableTables, ordTableBySchemaAndName),
				Version: 1,
				Unique:  true,
				KeyFn:   func(v Table) []byte { return concatKey(u64key(uint64(v.SchemaID)), []byte(v.Name)) },
			},
		},
	}
}

func newIndexesTable() *rtable.Table[Index] {
	return &rtable.Table[Index]{
		TableID: kv.TableIndexes,
		Codec:   indexCodec{},
		IDOf:    func(v Index) kv.RowID { return v.ID },
		WithID:  func(v Index, id kv.RowID) Index { v.ID = id; return v },
		Indexes: []rtable.IndexDef[Index]{
			{
				ID:      kv.NewIndexID(kv.TableIndexes, ordIndexByTable),
				Version: 1,
				Unique:  false,
				KeyFn:   func(v Index) []byte { return concatKey(u64key(uint64(v.TableID)), []byte(v.Name)) },
			},
		},
	}
}

func newPartitionsTable() *rtable.Table[Partition] {
	return &rtable.Table[Partition]{
		TableID: kv.TablePartitions,
		Codec:   partitionCodec{},
		IDOf:    func(v Partition) kv.RowID { return v.ID },
		WithID:  func(v Partition, id kv.RowID) Partition { v.ID = id; return v },
		Indexes: []rtable.IndexDef[Partition]{
			{
				ID:      kv.NewIndexID(kv.TablePartitions, ordPartitionByIndex),
				Version: 1,
				Unique:  false,
				KeyFn:   func(v Partition) []byte { return concatKey(u64key(uint64(v.IndexID)), u64key(uint64(v.ID))) },
			},
			{
				ID:      kv.NewIndexID(kv.TablePartitions, ordPartitionByParent),
				Version: 1,
				Unique:  false,
				KeyFn: func(v Partition) []byte {
					parent := uint64(0)
					present := byte(0)
					if v.ParentPartitionID != nil {
						parent = uint64(*v.ParentPartitionID)
						present = 1
					}
					return concatKey([]byte{present}, u64key(parent), u64key(uint64(v.ID)))
				},
			},
			{
				ID:      kv.NewIndexID(kv.TablePartitions, ordPartitionByMP),
				Version: 1,
				Unique:  false,
				KeyFn: func(v Partition) []byte {
					mp := uint64(0)
					present := byte(0)
					if v.MultiPartitionID != nil {
						mp = uint64(*v.MultiPartitionID)
						present = 1
					}
					return concatKey([]byte{present}, u64key(mp), u64key(uint64(v.ID)))
				},
			},
		},
	}
}

func newChunksTable() *rtable.Table[Chunk] {
	return &rtable.Table[Chunk]{
		TableID: kv.TableChunks,
		Codec:   chunkCodec{},
		IDOf:    func(v Chunk) kv.RowID { return v.ID },
		WithID:  func(v Chunk, id kv.RowID) Chunk { v.ID = id; return v },
		Indexes: []rtable.IndexDef[Chunk]{
			{
				ID:      kv.NewIndexID(kv.TableChunks, ordChunkByPartition),
				Version: 1,
				Unique:  false,
				KeyFn:   func(v Chunk) []byte { return concatKey(u64key(uint64(v.PartitionID)), u64key(uint64(v.ID))) },
			},
		},
	}
}

func newWALsTable() *rtable.Table[WAL] {
	return &rtable.Table[WAL]{
		TableID: kv.TableWALs,
		Codec:   walCodec{},
		IDOf:    func(v WAL) kv.RowID { return v.ID },
		WithID:  func(v WAL, id kv.RowID) WAL { v.ID = id; return v },
		Indexes: []rtable.IndexDef[WAL]{
			{
				ID:      kv.NewIndexID(kv.TableWALs, ordWALByTable),
				Version: 1,
				Unique:  false,
				KeyFn:   func(v WAL) []byte { return concatKey(u64key(uint64(v.TableID)), u64key(uint64(v.ID))) },
			},
		},
	}
}

func newJobsTable() *rtable.Table[Job] {
	return &rtable.Table[Job]{
		TableID: kv.TableJobs,
		Codec:   jobCodec{},
		IDOf:    func(v Job) kv.RowID { return v.ID },
		WithID:  func(v Job, id kv.RowID) Job { v.ID = id; return v },
		Indexes: []rtable.IndexDef[Job]{
			{
				ID:      kv.NewIndexID(kv.TableJobs, ordJobByReferenceAndType),
				Version: 1,
				Unique:  true,
				KeyFn:   func(v Job) []byte { return concatKey([]byte(v.RowReference), []byte(v.JobType)) },
			},
			{
				ID:      kv.NewIndexID(kv.TableJobs, ordJobByStatus),
				Version: 1,
				Unique:  false,
				KeyFn:   func(v Job) []byte { return concatKey(u64key(uint64(v.Status)), u64key(uint64(v.ID))) },
			},
		},
	}
}

func newSourcesTable() *rtable.Table[Source] {
	return &rtable.Table[Source]{
		TableID: kv.TableSources,
		Codec:   sourceCodec{},
		IDOf:    func(v Source) kv.RowID { return v.ID },
		WithID:  func(v Source, id kv.RowID) Source { v.ID = id; return v },
		Indexes: []rtable.IndexDef[Source]{
			{
				ID:      kv.NewIndexID(kv.TableSources, ordSourceByName),
				Version: 1,
				Unique:  true,
				KeyFn:   func(v Source) []byte { return []byte(v.Name) },
			},
		},
	}
}

func newMultiIndexesTable() *rtable.Table[MultiIndex] {
	return &rtable.Table[MultiIndex]{
		TableID: kv.TableMultiIndexes,
		Codec:   multiIndexCodec{},
		IDOf:    func(v MultiIndex) kv.RowID { return v.ID },
		WithID:  func(v MultiIndex, id kv.RowID) MultiIndex { v.ID = id; return v },
		Indexes: []rtable.IndexDef[MultiIndex]{
			{
				ID:      kv.NewIndexID(kv.TableMultiIndexes, ordMultiIndexBySchemaAndName),
				Version: 1,
				Unique:  true,
				KeyFn:   func(v MultiIndex) []byte { return concatKey(u64key(uint64(v.SchemaID)), []byte(v.Name)) },
			},
		},
	}
}

func newMultiPartitionsTable() *rtable.Table[MultiPartition] {
	return &rtable.Table[MultiPartition]{
		TableID: kv.TableMultiPartitions,
		Codec:   multiPartitionCodec{},
		IDOf:    func(v MultiPartition) kv.RowID { return v.ID },
		WithID:  func(v MultiPartition, id kv.RowID) MultiPartition { v.ID = id; return v },
		Indexes: []rtable.IndexDef[MultiPartition]{
			{
				ID:      kv.NewIndexID(kv.TableMultiPartitions, ordMultiPartitionByParent),
				Version: 1,
				Unique:  false,
				KeyFn: func(v MultiPartition) []byte {
					parent := uint64(0)
					present := byte(0)
					if v.ParentMultiPartitionID != nil {
						parent = uint64(*v.ParentMultiPartitionID)
						present = 1
					}
					return concatKey([]byte{present}, u64key(parent), u64key(uint64(v.ID)))
				},
			},
			{
				ID:      kv.NewIndexID(kv.TableMultiPartitions, ordMultiPartitionByIndex),
				Version: 1,
				Unique:  false,
				KeyFn:   func(v MultiPartition) []byte { return concatKey(u64key(uint64(v.MultiIndexID)), u64key(uint64(v.ID))) },
			},
		},
	}
}
