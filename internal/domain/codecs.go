package domain

import (
	"time"

	"github.com/cube-js/cube-metastore/internal/kv"
	"github.com/cube-js/cube-metastore/internal/rtable"
)

// Field ids are scoped per entity codec; additive only — never renumber
// or reuse an id once shipped, per §6's schema-evolution contract.

// --- Schema ---

const (
	fSchemaID uint16 = iota + 1
	fSchemaName
)

type schemaCodec struct{}

func (schemaCodec) Encode(v Schema) []byte {
	e := kv.NewFieldEncoder()
	e.Uint64(fSchemaID, uint64(v.ID))
	e.String(fSchemaName, v.Name)
	return e.Finish()
}

func (schemaCodec) Decode(data []byte) (Schema, error) {
	d, err := kv.NewFieldDecoder(data)
	if err != nil {
		return Schema{}, err
	}
	return Schema{ID: kv.RowID(d.Uint64(fSchemaID)), Name: d.String(fSchemaName)}, nil
}

// --- Table ---

const (
	fTableID uint16 = iota + 1
	fTableName
	fTableSchemaID
	fTableColumns
	fTableLocations
	fTableImportFormat
	fTableIsReady
	fTableBuildRangeEnd
	fTableUniqueKeyCols
	fTableAggregateCols
	fTableSeqColumnIndex
	fTableSplitThreshold
	fTableHasData
)

type tableCodec struct{}

func (tableCodec) Encode(v Table) []byte {
	e := kv.NewFieldEncoder()
	e.Uint64(fTableID, uint64(v.ID))
	e.String(fTableName, v.Name)
	e.Uint64(fTableSchemaID, uint64(v.SchemaID))
	e.Bytes(fTableColumns, encodeColumns(v.Columns))
	e.Bytes(fTableLocations, encodeStrings(v.Locations))
	e.String(fTableImportFormat, v.ImportFormat)
	e.Bool(fTableIsReady, v.IsReady)
	if v.BuildRangeEnd != nil {
		e.Int64(fTableBuildRangeEnd, v.BuildRangeEnd.UnixMilli())
	}
	e.Bytes(fTableUniqueKeyCols, encodeInts(v.UniqueKeyColumnIndices))
	e.Bytes(fTableAggregateCols, encodeInts(v.AggregateColumnIndices))
	if v.SeqColumnIndex != nil {
		e.OptUint64(fTableSeqColumnIndex, uint64(*v.SeqColumnIndex), true)
	}
	if v.PartitionSplitThreshold != nil {
		e.OptUint64(fTableSplitThreshold, *v.PartitionSplitThreshold, true)
	}
	e.Bool(fTableHasData, v.HasData)
	return e.Finish()
}

func (tableCodec) Decode(data []byte) (Table, error) {
	d, err := kv.NewFieldDecoder(data)
	if err != nil {
		return Table{}, err
	}
	cols, err := decodeColumns(d.Bytes(fTableColumns))
	if err != nil {
		return Table{}, err
	}
	locs, err := decodeStrings(d.Bytes(fTableLocations))
	if err != nil {
		return Table{}, err
	}
	uk, err := decodeInts(d.Bytes(fTableUniqueKeyCols))
	if err != nil {
		return Table{}, err
	}
	agg, err := decodeInts(d.Bytes(fTableAggregateCols))
	if err != nil {
		return Table{}, err
	}
	t := Table{
		ID:                     kv.RowID(d.Uint64(fTableID)),
		Name:                   d.String(fTableName),
		SchemaID:               kv.RowID(d.Uint64(fTableSchemaID)),
		Columns:                cols,
		Locations:              locs,
		ImportFormat:           d.String(fTableImportFormat),
		IsReady:                d.Bool(fTableIsReady),
		UniqueKeyColumnIndices: uk,
		AggregateColumnIndices: agg,
		HasData:                d.Bool(fTableHasData),
	}
	if d.Has(fTableBuildRangeEnd) {
		ts := time.UnixMilli(d.Int64(fTableBuildRangeEnd))
		t.BuildRangeEnd = &ts
	}
	if v, ok := d.OptUint64(fTableSeqColumnIndex); ok {
		iv := int(v)
		t.SeqColumnIndex = &iv
	}
	if v, ok := d.OptUint64(fTableSplitThreshold); ok {
		t.PartitionSplitThreshold = &v
	}
	return t, nil
}

// --- Index ---

const (
	fIndexID uint16 = iota + 1
	fIndexName
	fIndexTableID
	fIndexColumns
	fIndexSortKeySize
	fIndexSplitKeySize
	fIndexMultiIndexID
	fIndexType
)

type indexCodec struct{}

func (indexCodec) Encode(v Index) []byte {
	e := kv.NewFieldEncoder()
	e.Uint64(fIndexID, uint64(v.ID))
	e.String(fIndexName, v.Name)
	e.Uint64(fIndexTableID, uint64(v.TableID))
	e.Bytes(fIndexColumns, encodeInts(v.Columns))
	e.Uint64(fIndexSortKeySize, uint64(v.SortKeySize))
	if v.PartitionSplitKeySize != nil {
		e.OptUint64(fIndexSplitKeySize, uint64(*v.PartitionSplitKeySize), true)
	}
	if v.MultiIndexID != nil {
		e.OptUint64(fIndexMultiIndexID, uint64(*v.MultiIndexID), true)
	}
	e.Uint64(fIndexType, uint64(v.IndexType))
	return e.Finish()
}

func (indexCodec) Decode(data []byte) (Index, error) {
	d, err := kv.NewFieldDecoder(data)
	if err != nil {
		return Index{}, err
	}
	cols, err := decodeInts(d.Bytes(fIndexColumns))
	if err != nil {
		return Index{}, err
	}
	idx := Index{
		ID:          kv.RowID(d.Uint64(fIndexID)),
		Name:        d.String(fIndexName),
		TableID:     kv.RowID(d.Uint64(fIndexTableID)),
		Columns:     cols,
		SortKeySize: int(d.Uint64(fIndexSortKeySize)),
		IndexType:   IndexType(d.Uint64(fIndexType)),
	}
	if v, ok := d.OptUint64(fIndexSplitKeySize); ok {
		iv := int(v)
		idx.PartitionSplitKeySize = &iv
	}
	if v, ok := d.OptUint64(fIndexMultiIndexID); ok {
		rv := kv.RowID(v)
		idx.MultiIndexID = &rv
	}
	return idx, nil
}

// --- Partition ---

const (
	fPartitionID uint16 = iota + 1
	fPartitionIndexID
	fPartitionParentID
	fPartitionMultiPartitionID
	fPartitionMinValue
	fPartitionMaxValue
	fPartitionActive
	fPartitionRowCount
	fPartitionWarmedUp
	fPartitionSuffix
	fPartitionFileSize
)

type partitionCodec struct{}

func (partitionCodec) Encode(v Partition) []byte {
	e := kv.NewFieldEncoder()
	e.Uint64(fPartitionID, uint64(v.ID))
	e.Uint64(fPartitionIndexID, uint64(v.IndexID))
	if v.ParentPartitionID != nil {
		e.OptUint64(fPartitionParentID, uint64(*v.ParentPartitionID), true)
	}
	if v.MultiPartitionID != nil {
		e.OptUint64(fPartitionMultiPartitionID, uint64(*v.MultiPartitionID), true)
	}
	e.Bytes(fPartitionMinValue, v.MinValue.Value)
	e.Bytes(fPartitionMaxValue, v.MaxValue.Value)
	e.Bool(fPartitionActive, v.Active)
	e.Uint64(fPartitionRowCount, v.MainTableRowCount)
	e.Bool(fPartitionWarmedUp, v.WarmedUp)
	if v.Suffix != nil {
		e.OptString(fPartitionSuffix, *v.Suffix, true)
	}
	if v.FileSize != nil {
		e.OptUint64(fPartitionFileSize, *v.FileSize, true)
	}
	return e.Finish()
}

func (partitionCodec) Decode(data []byte) (Partition, error) {
	d, err := kv.NewFieldDecoder(data)
	if err != nil {
		return Partition{}, err
	}
	p := Partition{
		ID:                kv.RowID(d.Uint64(fPartitionID)),
		IndexID:           kv.RowID(d.Uint64(fPartitionIndexID)),
		MinValue:          boundaryOf(d.Bytes(fPartitionMinValue)),
		MaxValue:          boundaryOf(d.Bytes(fPartitionMaxValue)),
		Active:            d.Bool(fPartitionActive),
		MainTableRowCount: d.Uint64(fPartitionRowCount),
		WarmedUp:          d.Bool(fPartitionWarmedUp),
	}
	if v, ok := d.OptUint64(fPartitionParentID); ok {
		rv := kv.RowID(v)
		p.ParentPartitionID = &rv
	}
	if v, ok := d.OptUint64(fPartitionMultiPartitionID); ok {
		rv := kv.RowID(v)
		p.MultiPartitionID = &rv
	}
	if s, ok := d.OptString(fPartitionSuffix); ok {
		p.Suffix = &s
	}
	if v, ok := d.OptUint64(fPartitionFileSize); ok {
		p.FileSize = &v
	}
	return p, nil
}

// --- Chunk ---

const (
	fChunkID uint16 = iota + 1
	fChunkPartitionID
	fChunkRowCount
	fChunkUploaded
	fChunkActive
	fChunkInMemory
	fChunkCreatedAt
	fChunkOldestInsertAt
	fChunkSuffix
	fChunkFileSize
)

type chunkCodec struct{}

func (chunkCodec) Encode(v Chunk) []byte {
	e := kv.NewFieldEncoder()
	e.Uint64(fChunkID, uint64(v.ID))
	e.Uint64(fChunkPartitionID, uint64(v.PartitionID))
	e.Uint64(fChunkRowCount, v.RowCount)
	e.Bool(fChunkUploaded, v.Uploaded)
	e.Bool(fChunkActive, v.Active)
	e.Bool(fChunkInMemory, v.InMemory)
	if v.CreatedAt != nil {
		e.Int64(fChunkCreatedAt, v.CreatedAt.UnixMilli())
	}
	if v.OldestInsertAt != nil {
		e.Int64(fChunkOldestInsertAt, v.OldestInsertAt.UnixMilli())
	}
	if v.Suffix != nil {
		e.OptString(fChunkSuffix, *v.Suffix, true)
	}
	if v.FileSize != nil {
		e.OptUint64(fChunkFileSize, *v.FileSize, true)
	}
	return e.Finish()
}

func (chunkCodec) Decode(data []byte) (Chunk, error) {
	d, err := kv.NewFieldDecoder(data)
	if err != nil {
		return Chunk{}, err
	}
	c := Chunk{
		ID:          kv.RowID(d.Uint64(fChunkID)),
		PartitionID: kv.RowID(d.Uint64(fChunkPartitionID)),
		RowCount:    d.Uint64(fChunkRowCount),
		Uploaded:    d.Bool(fChunkUploaded),
		Active:      d.Bool(fChunkActive),
		InMemory:    d.Bool(fChunkInMemory),
	}
	if d.Has(fChunkCreatedAt) {
		t := time.UnixMilli(d.Int64(fChunkCreatedAt))
		c.CreatedAt = &t
	}
	if d.Has(fChunkOldestInsertAt) {
		t := time.UnixMilli(d.Int64(fChunkOldestInsertAt))
		c.OldestInsertAt = &t
	}
	if s, ok := d.OptString(fChunkSuffix); ok {
		c.Suffix = &s
	}
	if v, ok := d.OptUint64(fChunkFileSize); ok {
		c.FileSize = &v
	}
	return c, nil
}

// --- WAL ---

const (
	fWALID uint16 = iota + 1
	fWALTableID
	fWALRowCount
	fWALUploaded
)

type walCodec struct{}

func (walCodec) Encode(v WAL) []byte {
	e := kv.NewFieldEncoder()
	e.Uint64(fWALID, uint64(v.ID))
	e.Uint64(fWALTableID, uint64(v.TableID))
	e.Uint64(fWALRowCount, v.RowCount)
	e.Bool(fWALUploaded, v.Uploaded)
	return e.Finish()
}

func (walCodec) Decode(data []byte) (WAL, error) {
	d, err := kv.NewFieldDecoder(data)
	if err != nil {
		return WAL{}, err
	}
	return WAL{
		ID:       kv.RowID(d.Uint64(fWALID)),
		TableID:  kv.RowID(d.Uint64(fWALTableID)),
		RowCount: d.Uint64(fWALRowCount),
		Uploaded: d.Bool(fWALUploaded),
	}, nil
}

// --- Job ---

const (
	fJobID uint16 = iota + 1
	fJobRowReference
	fJobType
	fJobStatus
	fJobProcessingBy
	fJobLastHeartBeat
	fJobLastError
)

type jobCodec struct{}

func (jobCodec) Encode(v Job) []byte {
	e := kv.NewFieldEncoder()
	e.Uint64(fJobID, uint64(v.ID))
	e.String(fJobRowReference, v.RowReference)
	e.String(fJobType, v.JobType)
	e.Uint64(fJobStatus, uint64(v.Status))
	e.String(fJobProcessingBy, v.ProcessingBy)
	e.Int64(fJobLastHeartBeat, v.LastHeartBeat.UnixMilli())
	e.String(fJobLastError, v.LastError)
	return e.Finish()
}

func (jobCodec) Decode(data []byte) (Job, error) {
	d, err := kv.NewFieldDecoder(data)
	if err != nil {
		return Job{}, err
	}
	return Job{
		ID:            kv.RowID(d.Uint64(fJobID)),
		RowReference:  d.String(fJobRowReference),
		JobType:       d.String(fJobType),
		Status:        JobStatus(d.Uint64(fJobStatus)),
		ProcessingBy:  d.String(fJobProcessingBy),
		LastHeartBeat: time.UnixMilli(d.Int64(fJobLastHeartBeat)),
		LastError:     d.String(fJobLastError),
	}, nil
}

// --- Source ---

const (
	fSourceID uint16 = iota + 1
	fSourceName
	fSourceCredentials
)

type sourceCodec struct{}

func (sourceCodec) Encode(v Source) []byte {
	e := kv.NewFieldEncoder()
	e.Uint64(fSourceID, uint64(v.ID))
	e.String(fSourceName, v.Name)
	e.Bytes(fSourceCredentials, encodeStringMap(v.Credentials))
	return e.Finish()
}

func (sourceCodec) Decode(data []byte) (Source, error) {
	d, err := kv.NewFieldDecoder(data)
	if err != nil {
		return Source{}, err
	}
	creds, err := decodeStringMap(d.Bytes(fSourceCredentials))
	if err != nil {
		return Source{}, err
	}
	return Source{
		ID:          kv.RowID(d.Uint64(fSourceID)),
		Name:        d.String(fSourceName),
		Credentials: creds,
	}, nil
}

// --- MultiIndex ---

const (
	fMultiIndexID uint16 = iota + 1
	fMultiIndexSchemaID
	fMultiIndexName
	fMultiIndexKeyColumns
)

type multiIndexCodec struct{}

func (multiIndexCodec) Encode(v MultiIndex) []byte {
	e := kv.NewFieldEncoder()
	e.Uint64(fMultiIndexID, uint64(v.ID))
	e.Uint64(fMultiIndexSchemaID, uint64(v.SchemaID))
	e.String(fMultiIndexName, v.Name)
	e.Bytes(fMultiIndexKeyColumns, encodeColumnTypes(v.KeyColumns))
	return e.Finish()
}

func (multiIndexCodec) Decode(data []byte) (MultiIndex, error) {
	d, err := kv.NewFieldDecoder(data)
	if err != nil {
		return MultiIndex{}, err
	}
	keyCols, err := decodeColumnTypes(d.Bytes(fMultiIndexKeyColumns))
	if err != nil {
		return MultiIndex{}, err
	}
	return MultiIndex{
		ID:         kv.RowID(d.Uint64(fMultiIndexID)),
		SchemaID:   kv.RowID(d.Uint64(fMultiIndexSchemaID)),
		Name:       d.String(fMultiIndexName),
		KeyColumns: keyCols,
	}, nil
}

// --- MultiPartition ---

const (
	fMultiPartitionID uint16 = iota + 1
	fMultiPartitionIndexID
	fMultiPartitionParentID
	fMultiPartitionMinRow
	fMultiPartitionMaxRow
	fMultiPartitionActive
	fMultiPartitionPreparedForSplit
	fMultiPartitionWasActivated
	fMultiPartitionTotalRowCount
)

type multiPartitionCodec struct{}

func (multiPartitionCodec) Encode(v MultiPartition) []byte {
	e := kv.NewFieldEncoder()
	e.Uint64(fMultiPartitionID, uint64(v.ID))
	e.Uint64(fMultiPartitionIndexID, uint64(v.MultiIndexID))
	if v.ParentMultiPartitionID != nil {
		e.OptUint64(fMultiPartitionParentID, uint64(*v.ParentMultiPartitionID), true)
	}
	e.Bytes(fMultiPartitionMinRow, v.MinRow.Value)
	e.Bytes(fMultiPartitionMaxRow, v.MaxRow.Value)
	e.Bool(fMultiPartitionActive, v.Active)
	e.Bool(fMultiPartitionPreparedForSplit, v.PreparedForSplit)
	e.Bool(fMultiPartitionWasActivated, v.WasActivated)
	e.Uint64(fMultiPartitionTotalRowCount, v.TotalRowCount)
	return e.Finish()
}

func (multiPartitionCodec) Decode(data []byte) (MultiPartition, error) {
	d, err := kv.NewFieldDecoder(data)
	if err != nil {
		return MultiPartition{}, err
	}
	mp := MultiPartition{
		ID:               kv.RowID(d.Uint64(fMultiPartitionID)),
		MultiIndexID:     kv.RowID(d.Uint64(fMultiPartitionIndexID)),
		MinRow:           boundaryOf(d.Bytes(fMultiPartitionMinRow)),
		MaxRow:           boundaryOf(d.Bytes(fMultiPartitionMaxRow)),
		Active:           d.Bool(fMultiPartitionActive),
		PreparedForSplit: d.Bool(fMultiPartitionPreparedForSplit),
		WasActivated:     d.Bool(fMultiPartitionWasActivated),
		TotalRowCount:    d.Uint64(fMultiPartitionTotalRowCount),
	}
	if v, ok := d.OptUint64(fMultiPartitionParentID); ok {
		rv := kv.RowID(v)
		mp.ParentMultiPartitionID = &rv
	}
	return mp, nil
}

var _ rtable.Codec[Schema] = schemaCodec{}
