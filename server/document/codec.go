package document

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DecodeErrorKind discriminates the ways Decode can reject input.
type DecodeErrorKind int

const (
	// Truncated means the buffer ended inside a fixed-width field.
	Truncated DecodeErrorKind = iota
	// UnknownTag means a type tag byte is not a valid Type.
	UnknownTag
	// LengthOverflow means a declared length runs past the remaining buffer.
	LengthOverflow
)

func (k DecodeErrorKind) String() string {
	switch k {
	case Truncated:
		return "truncated"
	case UnknownTag:
		return "unknown tag"
	case LengthOverflow:
		return "length overflow"
	}
	return "unknown"
}

// DecodeError reports malformed document bytes. It never indicates engine
// state damage; rejecting the input is the complete recovery.
type DecodeError struct {
	Kind   DecodeErrorKind
	Offset int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("document decode: %s at offset %d", e.Kind, e.Offset)
}

func decodeErr(kind DecodeErrorKind, off int) error {
	return &DecodeError{Kind: kind, Offset: off}
}

// Encode renders d into its canonical binary form: a little-endian u32 body
// length followed by the fields in insertion order. Identical logical
// documents always produce identical bytes.
func Encode(d *Document) []byte {
	body := encodeBody(d)
	out := make([]byte, 4, 4+len(body))
	binary.LittleEndian.PutUint32(out, uint32(len(body)))
	return append(out, body...)
}

func encodeBody(d *Document) []byte {
	var out []byte
	for _, f := range d.Fields() {
		var nl [2]byte
		binary.LittleEndian.PutUint16(nl[:], uint16(len(f.Name)))
		out = append(out, nl[:]...)
		out = append(out, f.Name...)
		out = appendValue(out, f.Value)
	}
	return out
}

func appendValue(out []byte, v Value) []byte {
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
		binary.LittleEndian.PutUint64(b[:], uint64(v.intVal))
		out = append(out, b[:]...)
	case TypeFloat64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.floatVal))
		out = append(out, b[:]...)
	case TypeString:
		out = appendLenPrefixed(out, []byte(v.strVal))
	case TypeBinary:
		out = appendLenPrefixed(out, v.binVal)
	case TypeArray:
		var elems []byte
		for _, e := range v.arrVal {
			elems = appendValue(elems, e)
		}
		out = appendLenPrefixed(out, elems)
	case TypeDocument:
		out = appendLenPrefixed(out, encodeBody(v.docVal))
	}
	return out
}

func appendLenPrefixed(out, payload []byte) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(len(payload)))
	out = append(out, b[:]...)
	return append(out, payload...)
}

// Decode parses canonical document bytes. Trailing garbage after the declared
// outer length is rejected as a length overflow.
func Decode(data []byte) (*Document, error) {
	if len(data) < 4 {
		return nil, decodeErr(Truncated, 0)
	}
	bodyLen := int(binary.LittleEndian.Uint32(data))
	if bodyLen != len(data)-4 {
		return nil, decodeErr(LengthOverflow, 0)
	}
	return decodeBody(data[4:], 4)
}

// decodeBody parses a field sequence; base is the absolute offset of body
// within the original buffer, used only for error reporting.
func decodeBody(body []byte, base int) (*Document, error) {
	d := NewDocument()
	pos := 0
	for pos < len(body) {
		if pos+2 > len(body) {
			return nil, decodeErr(Truncated, base+pos)
		}
		nameLen := int(binary.LittleEndian.Uint16(body[pos:]))
		pos += 2
		if pos+nameLen > len(body) {
			return nil, decodeErr(LengthOverflow, base+pos)
		}
		name := string(body[pos : pos+nameLen])
		pos += nameLen

		v, n, err := decodeValue(body[pos:], base+pos)
		if err != nil {
			return nil, err
		}
		pos += n
		d.Set(name, v)
	}
	return d, nil
}

func decodeValue(buf []byte, base int) (Value, int, error) {
	if len(buf) < 1 {
		return Value{}, 0, decodeErr(Truncated, base)
	}
	tag := Type(buf[0])
	pos := 1
	switch tag {
	case TypeNull:
		return Null(), pos, nil
	case TypeBool:
		if pos >= len(buf) {
			return Value{}, 0, decodeErr(Truncated, base+pos)
		}
		return Bool(buf[pos] != 0), pos + 1, nil
	case TypeInt64, TypeTimestamp:
		if pos+8 > len(buf) {
			return Value{}, 0, decodeErr(Truncated, base+pos)
		}
		u := binary.LittleEndian.Uint64(buf[pos:])
		if tag == TypeInt64 {
			return Int64(int64(u)), pos + 8, nil
		}
		return timestampFromMillis(int64(u)), pos + 8, nil
	case TypeFloat64:
		if pos+8 > len(buf) {
			return Value{}, 0, decodeErr(Truncated, base+pos)
		}
		return Float64(math.Float64frombits(binary.LittleEndian.Uint64(buf[pos:]))), pos + 8, nil
	case TypeString, TypeBinary, TypeArray, TypeDocument:
		if pos+4 > len(buf) {
			return Value{}, 0, decodeErr(Truncated, base+pos)
		}
		n := int(binary.LittleEndian.Uint32(buf[pos:]))
		pos += 4
		if n < 0 || pos+n > len(buf) {
			return Value{}, 0, decodeErr(LengthOverflow, base+pos)
		}
		payload := buf[pos : pos+n]
		pos += n
		switch tag {
		case TypeString:
			return String(string(payload)), pos, nil
		case TypeBinary:
			bin := make([]byte, n)
			copy(bin, payload)
			return Binary(bin), pos, nil
		case TypeArray:
			var elems []Value
			off := 0
			for off < len(payload) {
				e, adv, err := decodeValue(payload[off:], base+pos-n+off)
				if err != nil {
					return Value{}, 0, err
				}
				elems = append(elems, e)
				off += adv
			}
			return Array(elems...), pos, nil
		default:
			sub, err := decodeBody(payload, base+pos-n)
			if err != nil {
				return Value{}, 0, err
			}
			return Embedded(sub), pos, nil
		}
	}
	return Value{}, 0, decodeErr(UnknownTag, base)
}
