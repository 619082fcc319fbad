// Package domain implements the typed facades for schemas, tables,
// indices, partitions, chunks, jobs, sources, multi-indices and
// multi-partitions (C9), each instantiated over the generic rtable.Table
// contract, plus the cross-entity transactions that tie them together.
package domain

import (
	"time"

	"github.com/cube-js/cube-metastore/internal/kv"
)

// ColumnType enumerates the column kinds the metastore needs to reason
// about structurally (binary/HLL columns are excluded from the default
// index's sort key; aggregate columns carry an aggregate function).
type ColumnType string

const (
	ColumnInt       ColumnType = "int"
	ColumnString    ColumnType = "string"
	ColumnBoolean   ColumnType = "boolean"
	ColumnTimestamp ColumnType = "timestamp"
	ColumnDecimal   ColumnType = "decimal"
	ColumnBytes     ColumnType = "bytes"
	ColumnHLL       ColumnType = "hll"
)

func (t ColumnType) excludedFromDefaultSortKey() bool {
	return t == ColumnBytes || t == ColumnHLL
}

// Column is one column of a Table.
type Column struct {
	Name string
	Type ColumnType
	// AggregateFunction is set only for columns referenced by an
	// Aggregate-typed Index's aggregate-column list.
	AggregateFunction string
}

// Schema is a namespace for tables, unique by Name.
type Schema struct {
	ID   kv.RowID
	Name string
}

// Table is one catalogued table, unique by (SchemaID, Name).
type Table struct {
	ID           kv.RowID
	Name         string
	SchemaID     kv.RowID
	Columns      []Column
	Locations    []string
	ImportFormat string
	IsReady      bool

	BuildRangeEnd *time.Time

	// UniqueKeyColumnIndices non-empty implies a synthesized __seq
	// column is the table's final column (§9's "__seq is the last
	// column" invariant).
	UniqueKeyColumnIndices  []int
	AggregateColumnIndices  []int
	SeqColumnIndex          *int
	PartitionSplitThreshold *uint64
	HasData                 bool
}

// HasUniqueKey reports whether the table declares a unique key.
func (t Table) HasUniqueKey() bool { return len(t.UniqueKeyColumnIndices) > 0 }

// IndexType distinguishes a Regular lookup index from an Aggregate index
// (whose sort key carries no uniqueness columns).
type IndexType int

const (
	IndexRegular IndexType = iota
	IndexAggregate
)

func (t IndexType) String() string {
	if t == IndexAggregate {
		return "aggregate"
	}
	return "regular"
}

// Index is one (possibly default) index over a Table.
type Index struct {
	ID      kv.RowID
	Name    string
	TableID kv.RowID
	// Columns lists column indices into the owning Table.Columns, in
	// storage order: sort-key columns first (SortKeySize of them), then
	// the remaining (value/aggregate) columns.
	Columns               []int
	SortKeySize           int
	PartitionSplitKeySize *int
	MultiIndexID          *kv.RowID
	IndexType             IndexType
}

// Boundary is a half-open interval endpoint for a Partition or
// MultiPartition. Absent (Present=false) denotes an unbounded side.
type Boundary struct {
	Present bool
	Value   []byte
}

func boundaryOf(v []byte) Boundary {
	if v == nil {
		return Boundary{}
	}
	return Boundary{Present: true, Value: v}
}

// Partition is one interval of one Index's key space.
type Partition struct {
	ID                kv.RowID
	IndexID           kv.RowID
	ParentPartitionID *kv.RowID
	MultiPartitionID  *kv.RowID
	MinValue          Boundary
	MaxValue          Boundary
	Active            bool
	MainTableRowCount uint64
	WarmedUp          bool
	Suffix            *string
	FileSize          *uint64
}

// Chunk is a file of newly ingested rows awaiting merge into a
// Partition's main table.
type Chunk struct {
	ID             kv.RowID
	PartitionID    kv.RowID
	RowCount       uint64
	Uploaded       bool
	Active         bool
	InMemory       bool
	CreatedAt      *time.Time
	OldestInsertAt *time.Time
	Suffix         *string
	FileSize       *uint64
}

// WAL is a transient write-ahead record for one Table.
type WAL struct {
	ID       kv.RowID
	TableID  kv.RowID
	RowCount uint64
	Uploaded bool
}

// JobStatus is a Job's lifecycle state.
type JobStatus int

const (
	JobQueued JobStatus = iota
	JobProcessing
	JobDone
	JobFailed
)

func (s JobStatus) String() string {
	switch s {
	case JobQueued:
		return "queued"
	case JobProcessing:
		return "processing"
	case JobDone:
		return "done"
	case JobFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Job tracks one unit of background work, unique by (RowReference, JobType).
type Job struct {
	ID              kv.RowID
	RowReference    string
	JobType         string
	Status          JobStatus
	ProcessingBy    string
	LastHeartBeat   time.Time
	LastError       string
}

// Source is a named external data source, unique by Name.
type Source struct {
	ID   kv.RowID
	Name string
	// Credentials is an opaque versioned blob: the concrete shape is a
	// deployment concern (S3/Azure/GCS/local), not a metastore schema
	// concern; a "kind" entry selects the RemoteFS backend.
	Credentials map[string]string
}

// MultiIndex is a named shared partitioning key across tables.
type MultiIndex struct {
	ID         kv.RowID
	SchemaID   kv.RowID
	Name       string
	KeyColumns []ColumnType
}

// MultiPartition is a node in the tree of ranges over a MultiIndex's key
// space.
type MultiPartition struct {
	ID                     kv.RowID
	MultiIndexID           kv.RowID
	ParentMultiPartitionID *kv.RowID
	MinRow                 Boundary
	MaxRow                 Boundary
	Active                 bool
	PreparedForSplit       bool
	WasActivated           bool
	TotalRowCount          uint64
}
