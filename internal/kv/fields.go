package kv

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Schema-evolution-tolerant field encoding for row values (C2). Each field
// is written as: field_id:u16 | wire_type:u8 | len:u32 | payload. A
// decoder that does not recognize a field_id skips it using the length
// prefix, so adding a field to an entity is purely additive and an older
// binary reading a newer value defaults the field to its zero value.

type wireType uint8

const (
	wireBytes wireType = iota
	wireUint64
	wireInt64
	wireBool
)

// FieldEncoder builds one row value.
type FieldEncoder struct {
	buf bytes.Buffer
}

func NewFieldEncoder() *FieldEncoder { return &FieldEncoder{} }

func (e *FieldEncoder) writeHeader(id uint16, wt wireType, length int) {
	var hdr [7]byte
	binary.BigEndian.PutUint16(hdr[0:2], id)
	hdr[2] = byte(wt)
	binary.BigEndian.PutUint32(hdr[3:7], uint32(length))
	e.buf.Write(hdr[:])
}

func (e *FieldEncoder) Bytes(id uint16, v []byte) {
	if v == nil {
		return
	}
	e.writeHeader(id, wireBytes, len(v))
	e.buf.Write(v)
}

func (e *FieldEncoder) String(id uint16, v string) { e.Bytes(id, []byte(v)) }

func (e *FieldEncoder) Uint64(id uint16, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.writeHeader(id, wireUint64, 8)
	e.buf.Write(b[:])
}

func (e *FieldEncoder) Int64(id uint16, v int64) { e.Uint64(id, uint64(v)) }

func (e *FieldEncoder) Bool(id uint16, v bool) {
	e.writeHeader(id, wireBool, 1)
	if v {
		e.buf.WriteByte(1)
	} else {
		e.buf.WriteByte(0)
	}
}

// OptUint64 writes the field only when present is true, letting decoders
// distinguish "absent" from "zero".
func (e *FieldEncoder) OptUint64(id uint16, v uint64, present bool) {
	if present {
		e.Uint64(id, v)
	}
}

func (e *FieldEncoder) OptString(id uint16, v string, present bool) {
	if present {
		e.String(id, v)
	}
}

func (e *FieldEncoder) Finish() []byte { return e.buf.Bytes() }

// rawField is one decoded field prior to typed extraction.
type rawField struct {
	wt      wireType
	payload []byte
}

// FieldDecoder parses a row value produced by FieldEncoder, exposing
// typed accessors with defaults for absent fields.
type FieldDecoder struct {
	fields map[uint16]rawField
}

func NewFieldDecoder(data []byte) (*FieldDecoder, error) {
	r := bytes.NewReader(data)
	fields := make(map[uint16]rawField)
	for r.Len() > 0 {
		var hdr [7]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, fmt.Errorf("kv: truncated field header: %w", err)
		}
		id := binary.BigEndian.Uint16(hdr[0:2])
		wt := wireType(hdr[2])
		n := binary.BigEndian.Uint32(hdr[3:7])
		if int64(n) > int64(r.Len()) {
			return nil, fmt.Errorf("kv: field %d length %d exceeds remaining bytes", id, n)
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("kv: truncated field payload: %w", err)
		}
		fields[id] = rawField{wt: wt, payload: payload}
	}
	return &FieldDecoder{fields: fields}, nil
}

func (d *FieldDecoder) Has(id uint16) bool {
	_, ok := d.fields[id]
	return ok
}

func (d *FieldDecoder) Bytes(id uint16) []byte {
	f, ok := d.fields[id]
	if !ok {
		return nil
	}
	return f.payload
}

func (d *FieldDecoder) String(id uint16) string { return string(d.Bytes(id)) }

func (d *FieldDecoder) Uint64(id uint16) uint64 {
	f, ok := d.fields[id]
	if !ok || len(f.payload) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(f.payload)
}

func (d *FieldDecoder) Int64(id uint16) int64 { return int64(d.Uint64(id)) }

func (d *FieldDecoder) Bool(id uint16) bool {
	f, ok := d.fields[id]
	if !ok || len(f.payload) != 1 {
		return false
	}
	return f.payload[0] != 0
}

// OptUint64 returns (value, present).
func (d *FieldDecoder) OptUint64(id uint16) (uint64, bool) {
	if !d.Has(id) {
		return 0, false
	}
	return d.Uint64(id), true
}

func (d *FieldDecoder) OptString(id uint16) (string, bool) {
	if !d.Has(id) {
		return "", false
	}
	return d.String(id), true
}
