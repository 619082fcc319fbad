// Package kv implements the metastore's row-key encoding (C1) and the
// embedded ordered key-value store contract (C3) that the rest of the
// metastore is built on.
//
// Keys are self-delimiting by their first byte (the "tag") so a single
// byte slice comparison determines key kind, and big-endian encoding of
// every numeric field so lexicographic byte order equals numeric order —
// this is what lets prefix iteration return key-ordered rows.
package kv

import (
	"encoding/binary"
	"fmt"
)

// TableID tags one of the ten closed entity kinds. 16 bits, matching the
// "16-bit tag" of the data model.
type TableID uint16

const (
	TableSchemas TableID = iota + 1
	TableTables
	TableIndexes
	TablePartitions
	TableChunks
	TableWALs
	TableJobs
	TableSources
	TableMultiIndexes
	TableMultiPartitions
)

func (t TableID) String() string {
	switch t {
	case TableSchemas:
		return "Schemas"
	case TableTables:
		return "Tables"
	case TableIndexes:
		return "Indexes"
	case TablePartitions:
		return "Partitions"
	case TableChunks:
		return "Chunks"
	case TableWALs:
		return "WALs"
	case TableJobs:
		return "Jobs"
	case TableSources:
		return "Sources"
	case TableMultiIndexes:
		return "MultiIndexes"
	case TableMultiPartitions:
		return "MultiPartitions"
	default:
		return fmt.Sprintf("TableID(%d)", uint16(t))
	}
}

// Key kind tags — the first byte of every encoded key.
const (
	tagPrimary byte = 1
	tagSeq     byte = 2
	tagIndex   byte = 3
	tagIndexMD byte = 4
)

// RowID is the 64-bit per-table_id row identifier allocated by the
// sequence allocator (C4).
type RowID uint64

// IndexID is table_id_numeric + index_ordinal, with index_ordinal < 100.
type IndexID uint32

// NewIndexID combines a table id and a zero-based ordinal below 100 into
// a stable IndexID.
func NewIndexID(table TableID, ordinal int) IndexID {
	if ordinal < 0 || ordinal >= 100 {
		panic(fmt.Sprintf("kv: index ordinal %d out of range [0,100)", ordinal))
	}
	return IndexID(uint32(table)*100 + uint32(ordinal))
}

// primaryPrefixLen is the fixed (tag, table_id, pad) prefix shared by every
// primary-row key of one table_id; it is also the iteration-bucket prefix
// used for "prefix same as start" scans.
const primaryPrefixLen = 1 + 4 + 8

// PrimaryPrefix returns the 13-byte iteration prefix for all primary rows
// of table.
func PrimaryPrefix(table TableID) []byte {
	buf := make([]byte, primaryPrefixLen)
	buf[0] = tagPrimary
	binary.BigEndian.PutUint32(buf[1:5], uint32(table))
	// bytes 5:13 are the zero pad.
	return buf
}

// PrimaryKey encodes a primary-row key: tag | table_id:u32 | pad:u64=0 | row_id:u64.
func PrimaryKey(table TableID, row RowID) []byte {
	buf := make([]byte, primaryPrefixLen+8)
	copy(buf, PrimaryPrefix(table))
	binary.BigEndian.PutUint64(buf[primaryPrefixLen:], uint64(row))
	return buf
}

// DecodePrimaryKey extracts the row id from a primary-row key encoded with
// the given table id. Returns false if key does not match the expected
// shape.
func DecodePrimaryKey(table TableID, key []byte) (RowID, bool) {
	if len(key) != primaryPrefixLen+8 {
		return 0, false
	}
	if key[0] != tagPrimary {
		return 0, false
	}
	if binary.BigEndian.Uint32(key[1:5]) != uint32(table) {
		return 0, false
	}
	return RowID(binary.BigEndian.Uint64(key[primaryPrefixLen:])), true
}

// SequenceKey encodes the per-table_id sequence key: tag=2 | table_id:u32.
func SequenceKey(table TableID) []byte {
	buf := make([]byte, 1+4)
	buf[0] = tagSeq
	binary.BigEndian.PutUint32(buf[1:], uint32(table))
	return buf
}

// indexEntryFixedLen is the fixed (tag, index_id, pad-to-13) prefix used
// as the iteration-bucket prefix for one index, matching the same 13-byte
// convention as primary rows even though index entries add key_hash+row_id.
const indexEntryFixedLen = 1 + 4 + 8

// IndexPrefix returns the 13-byte iteration prefix for all entries of one
// secondary index.
func IndexPrefix(index IndexID) []byte {
	buf := make([]byte, indexEntryFixedLen)
	buf[0] = tagIndex
	binary.BigEndian.PutUint32(buf[1:5], uint32(index))
	return buf
}

// IndexHashPrefix returns the iteration prefix for entries of one index
// matching a specific key_hash — the scan used by get_rows_by_index.
func IndexHashPrefix(index IndexID, keyHash uint64) []byte {
	buf := make([]byte, indexEntryFixedLen+8)
	copy(buf, IndexPrefix(index))
	binary.BigEndian.PutUint64(buf[indexEntryFixedLen:], keyHash)
	return buf
}

// IndexEntryKey encodes a secondary-index entry key:
// tag=3 | index_id:u32 | key_hash:u64 | row_id:u64.
func IndexEntryKey(index IndexID, keyHash uint64, row RowID) []byte {
	buf := make([]byte, indexEntryFixedLen+8+8)
	copy(buf, IndexHashPrefix(index, keyHash))
	binary.BigEndian.PutUint64(buf[indexEntryFixedLen+8:], uint64(row))
	return buf
}

// DecodeIndexEntryKey extracts the row id from an index entry key that is
// known to match the given index id and key hash.
func DecodeIndexEntryKey(key []byte) (row RowID, ok bool) {
	if len(key) != indexEntryFixedLen+8+8 {
		return 0, false
	}
	if key[0] != tagIndex {
		return 0, false
	}
	return RowID(binary.BigEndian.Uint64(key[indexEntryFixedLen+8:])), true
}

// IndexMetaKey encodes a secondary-index metadata key: tag=4 | index_id:u32.
// The value stored at this key is a big-endian u32 version number.
func IndexMetaKey(index IndexID) []byte {
	buf := make([]byte, 1+4)
	buf[0] = tagIndexMD
	binary.BigEndian.PutUint32(buf[1:], uint32(index))
	return buf
}
