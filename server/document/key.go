package document

import (
	"encoding/binary"
	"math"
)

// EncodeKey produces the canonical order-preserving key form of v: whenever
// a < b for two values of the same type, bytes.Compare(EncodeKey(a),
// EncodeKey(b)) < 0. The index layer compares these byte strings directly
// instead of re-decoding values.
//
// The transform is a leading type tag followed by a per-type body:
//   - integers and timestamps are sign-flipped and written big-endian
//   - floats get the IEEE-754 total-order transform (negative values are
//     bit-inverted, positives get the sign bit set)
//   - strings and binary are zero-escaped (0x00 -> 0x00 0xFF) and closed
//     with 0x00 0x00 so shorter prefixes sort first
//   - arrays and documents concatenate their element keys and close with a
//     single 0x00, which sorts below every tag byte
func EncodeKey(v Value) []byte {
	return AppendKey(nil, v)
}

// AppendKey appends the canonical key form of v to out. Composite index keys
// are built by appending each component in sequence.
func AppendKey(out []byte, v Value) []byte {
	out = append(out, byte(v.Type()))
	switch v.Type() {
	case TypeNull:
	case TypeBool:
		if v.boolVal {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
	case TypeInt64, TypeTimestamp:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v.intVal)^(1<<63))
		out = append(out, b[:]...)
	case TypeFloat64:
		bits := math.Float64bits(v.floatVal)
		if bits&(1<<63) != 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], bits)
		out = append(out, b[:]...)
	case TypeString:
		out = appendEscaped(out, []byte(v.strVal))
	case TypeBinary:
		out = appendEscaped(out, v.binVal)
	case TypeArray:
		for _, e := range v.arrVal {
			out = AppendKey(out, e)
		}
		out = append(out, 0x00)
	case TypeDocument:
		for _, f := range v.docVal.Fields() {
			out = appendEscaped(out, []byte(f.Name))
			out = AppendKey(out, f.Value)
		}
		out = append(out, 0x00)
	}
	return out
}

// appendEscaped writes data with 0x00 bytes escaped as 0x00 0xFF and a
// 0x00 0x00 terminator, preserving byte-wise order across var-length values.
func appendEscaped(out, data []byte) []byte {
	for _, b := range data {
		if b == 0x00 {
			out = append(out, 0x00, 0xFF)
		} else {
			out = append(out, b)
		}
	}
	return append(out, 0x00, 0x00)
}
