package domain

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Small composite encoders layered on top of kv.FieldEncoder/FieldDecoder
// for the list- and map-valued fields entity rows carry (columns,
// locations, index column lists, credential maps). Each produces one
// opaque byte blob stored under a single field id, so the outer
// schema-evolution story (additive field ids) is unaffected by changes
// inside a composite value — a new Column attribute still requires a
// version bump on whatever's decoding it, same as any other field.

func putUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func putString(buf *bytes.Buffer, s string) {
	putUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
	}
	return string(buf), nil
}

func encodeStrings(ss []string) []byte {
	var buf bytes.Buffer
	putUint32(&buf, uint32(len(ss)))
	for _, s := range ss {
		putString(&buf, s)
	}
	return buf.Bytes()
}

func decodeStrings(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	r := bytes.NewReader(data)
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("domain: decode string list: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}

func encodeInts(xs []int) []byte {
	var buf bytes.Buffer
	putUint32(&buf, uint32(len(xs)))
	for _, x := range xs {
		putUint32(&buf, uint32(int32(x)))
	}
	return buf.Bytes()
}

func decodeInts(data []byte) ([]int, error) {
	if len(data) == 0 {
		return nil, nil
	}
	r := bytes.NewReader(data)
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("domain: decode int list: %w", err)
		}
		out = append(out, int(int32(v)))
	}
	return out, nil
}

func encodeColumns(cols []Column) []byte {
	var buf bytes.Buffer
	putUint32(&buf, uint32(len(cols)))
	for _, c := range cols {
		putString(&buf, c.Name)
		putString(&buf, string(c.Type))
		putString(&buf, c.AggregateFunction)
	}
	return buf.Bytes()
}

func decodeColumns(data []byte) ([]Column, error) {
	if len(data) == 0 {
		return nil, nil
	}
	r := bytes.NewReader(data)
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]Column, 0, n)
	for i := uint32(0); i < n; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("domain: decode columns: %w", err)
		}
		typ, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("domain: decode columns: %w", err)
		}
		agg, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("domain: decode columns: %w", err)
		}
		out = append(out, Column{Name: name, Type: ColumnType(typ), AggregateFunction: agg})
	}
	return out, nil
}

func encodeColumnTypes(ts []ColumnType) []byte {
	ss := make([]string, len(ts))
	for i, t := range ts {
		ss[i] = string(t)
	}
	return encodeStrings(ss)
}

func decodeColumnTypes(data []byte) ([]ColumnType, error) {
	ss, err := decodeStrings(data)
	if err != nil {
		return nil, err
	}
	out := make([]ColumnType, len(ss))
	for i, s := range ss {
		out[i] = ColumnType(s)
	}
	return out, nil
}

func encodeStringMap(m map[string]string) []byte {
	var buf bytes.Buffer
	putUint32(&buf, uint32(len(m)))
	for k, v := range m {
		putString(&buf, k)
		putString(&buf, v)
	}
	return buf.Bytes()
}

func decodeStringMap(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	r := bytes.NewReader(data)
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		k, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("domain: decode map: %w", err)
		}
		v, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("domain: decode map: %w", err)
		}
		out[k] = v
	}
	return out, nil
}
