package kv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// This file implements the length-prefixed binary container format (C2)
// used both for a committed batch's persisted op log and for the
// self-describing `.flex` log-upload container of §6: a u32 entry count
// followed by one record per op — a one-byte kind (1=Put, 0=Delete), a
// u32 key length + key bytes, and (for Put) a u32 value length + value
// bytes.

const (
	opDelete byte = 0
	opPut    byte = 1
)

// EncodeOps serializes a batch's ops into the container format.
func EncodeOps(ops []Op) []byte {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(ops)))
	buf.Write(hdr[:])
	for _, op := range ops {
		if op.IsDelete() {
			buf.WriteByte(opDelete)
			writeLenPrefixed(&buf, op.Key)
		} else {
			buf.WriteByte(opPut)
			writeLenPrefixed(&buf, op.Key)
			writeLenPrefixed(&buf, op.Value)
		}
	}
	return buf.Bytes()
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(b)))
	buf.Write(l[:])
	buf.Write(b)
}

// DecodeOps deserializes the container format produced by EncodeOps.
// Returns ErrCorruptLog (wrapped) on any malformed input so callers can
// treat it as "stop replay here" rather than a hard failure.
func DecodeOps(data []byte) ([]Op, error) {
	r := bytes.NewReader(data)
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: read count: %v", ErrCorruptLog, err)
	}
	count := binary.BigEndian.Uint32(countBuf[:])
	ops := make([]Op, 0, count)
	for i := uint32(0); i < count; i++ {
		kindBuf := make([]byte, 1)
		if _, err := io.ReadFull(r, kindBuf); err != nil {
			return nil, fmt.Errorf("%w: read kind: %v", ErrCorruptLog, err)
		}
		key, err := readLenPrefixed(r)
		if err != nil {
			return nil, fmt.Errorf("%w: read key: %v", ErrCorruptLog, err)
		}
		switch kindBuf[0] {
		case opDelete:
			ops = append(ops, Op{Key: key, Value: nil})
		case opPut:
			val, err := readLenPrefixed(r)
			if err != nil {
				return nil, fmt.Errorf("%w: read value: %v", ErrCorruptLog, err)
			}
			if val == nil {
				val = []byte{}
			}
			ops = append(ops, Op{Key: key, Value: val})
		default:
			return nil, fmt.Errorf("%w: unknown op kind %d", ErrCorruptLog, kindBuf[0])
		}
	}
	return ops, nil
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return []byte{}, nil
	}
	// Guard against a corrupt length field claiming more data than
	// remains in the buffer.
	if int64(n) > int64(r.Len()) {
		return nil, fmt.Errorf("length %d exceeds remaining %d bytes", n, r.Len())
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeContainer serializes one or more committed batches into a single
// `.flex`-style log file: a u32 batch count, then per batch a u64 seq and
// the EncodeOps payload length-prefixed.
func EncodeContainer(batches []CommittedBatch) []byte {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(batches)))
	buf.Write(hdr[:])
	for _, b := range batches {
		var seqBuf [8]byte
		binary.BigEndian.PutUint64(seqBuf[:], b.Seq)
		buf.Write(seqBuf[:])
		writeLenPrefixed(&buf, EncodeOps(b.Ops))
	}
	return buf.Bytes()
}

// DecodeContainer deserializes the format produced by EncodeContainer. On
// encountering a corrupt batch it returns the batches successfully
// decoded so far along with ErrCorruptLog, per the "recovery stops at the
// last good batch" contract.
func DecodeContainer(data []byte) ([]CommittedBatch, error) {
	r := bytes.NewReader(data)
	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: read container count: %v", ErrCorruptLog, err)
	}
	count := binary.BigEndian.Uint32(countBuf[:])
	out := make([]CommittedBatch, 0, count)
	for i := uint32(0); i < count; i++ {
		var seqBuf [8]byte
		if _, err := io.ReadFull(r, seqBuf[:]); err != nil {
			return out, fmt.Errorf("%w: read batch seq: %v", ErrCorruptLog, err)
		}
		seq := binary.BigEndian.Uint64(seqBuf[:])
		payload, err := readLenPrefixed(r)
		if err != nil {
			return out, fmt.Errorf("%w: read batch payload: %v", ErrCorruptLog, err)
		}
		ops, err := DecodeOps(payload)
		if err != nil {
			return out, err
		}
		out = append(out, CommittedBatch{Seq: seq, Ops: ops})
	}
	return out, nil
}
