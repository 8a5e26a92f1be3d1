package document

import (
	"bytes"
	"fmt"
	"time"
)

// Type tags every Value variant. The tag byte is written to disk, so the
// numeric values are part of the file format and must not be reordered.
type Type uint8

const (
	TypeNull      Type = 0x01
	TypeBool      Type = 0x02
	TypeInt64     Type = 0x03
	TypeFloat64   Type = 0x04
	TypeString    Type = 0x05
	TypeBinary    Type = 0x06
	TypeArray     Type = 0x07
	TypeDocument  Type = 0x08
	TypeTimestamp Type = 0x09
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeInt64:
		return "int64"
	case TypeFloat64:
		return "float64"
	case TypeString:
		return "string"
	case TypeBinary:
		return "binary"
	case TypeArray:
		return "array"
	case TypeDocument:
		return "document"
	case TypeTimestamp:
		return "timestamp"
	}
	return fmt.Sprintf("type(0x%02x)", uint8(t))
}

// Value is the closed tagged union over every representable document value.
// The zero Value is Null.
type Value struct {
	typ      Type
	boolVal  bool
	intVal   int64 // Int64 payload; Timestamp keeps unix milliseconds here
	floatVal float64
	strVal   string
	binVal   []byte
	arrVal   []Value
	docVal   *Document
}

func Null() Value { return Value{typ: TypeNull} }

func Bool(b bool) Value { return Value{typ: TypeBool, boolVal: b} }

func Int64(i int64) Value { return Value{typ: TypeInt64, intVal: i} }

func Float64(f float64) Value { return Value{typ: TypeFloat64, floatVal: f} }

func String(s string) Value { return Value{typ: TypeString, strVal: s} }

func Binary(b []byte) Value { return Value{typ: TypeBinary, binVal: b} }

func Array(elems ...Value) Value { return Value{typ: TypeArray, arrVal: elems} }

func Embedded(d *Document) Value { return Value{typ: TypeDocument, docVal: d} }

// Timestamp keeps millisecond precision; finer resolution is not
// representable on disk and would break round-tripping.
func Timestamp(t time.Time) Value {
	return Value{typ: TypeTimestamp, intVal: t.UnixMilli()}
}

func timestampFromMillis(ms int64) Value {
	return Value{typ: TypeTimestamp, intVal: ms}
}

func (v Value) Type() Type {
	if v.typ == 0 {
		return TypeNull
	}
	return v.typ
}

func (v Value) IsNull() bool { return v.Type() == TypeNull }

func (v Value) Bool() (bool, bool) { return v.boolVal, v.typ == TypeBool }

func (v Value) Int64() (int64, bool) { return v.intVal, v.typ == TypeInt64 }

func (v Value) Float64() (float64, bool) { return v.floatVal, v.typ == TypeFloat64 }

func (v Value) Str() (string, bool) { return v.strVal, v.typ == TypeString }

func (v Value) Binary() ([]byte, bool) { return v.binVal, v.typ == TypeBinary }

func (v Value) Array() ([]Value, bool) { return v.arrVal, v.typ == TypeArray }

func (v Value) Document() (*Document, bool) { return v.docVal, v.typ == TypeDocument }

func (v Value) Time() (time.Time, bool) {
	if v.typ != TypeTimestamp {
		return time.Time{}, false
	}
	return time.UnixMilli(v.intVal).UTC(), true
}

// Equal reports deep logical equality. Values of different types are never
// equal; Int64(1) != Float64(1).
func (v Value) Equal(other Value) bool {
	if v.Type() != other.Type() {
		return false
	}
	switch v.Type() {
	case TypeNull:
		return true
	case TypeBool:
		return v.boolVal == other.boolVal
	case TypeInt64, TypeTimestamp:
		return v.intVal == other.intVal
	case TypeFloat64:
		return v.floatVal == other.floatVal
	case TypeString:
		return v.strVal == other.strVal
	case TypeBinary:
		return bytes.Equal(v.binVal, other.binVal)
	case TypeArray:
		if len(v.arrVal) != len(other.arrVal) {
			return false
		}
		for i := range v.arrVal {
			if !v.arrVal[i].Equal(other.arrVal[i]) {
				return false
			}
		}
		return true
	case TypeDocument:
		return v.docVal.Equal(other.docVal)
	}
	return false
}

func (v Value) String() string {
	switch v.Type() {
	case TypeNull:
		return "null"
	case TypeBool:
		return fmt.Sprintf("%t", v.boolVal)
	case TypeInt64:
		return fmt.Sprintf("%d", v.intVal)
	case TypeFloat64:
		return fmt.Sprintf("%g", v.floatVal)
	case TypeString:
		return fmt.Sprintf("%q", v.strVal)
	case TypeBinary:
		return fmt.Sprintf("binary(%d bytes)", len(v.binVal))
	case TypeArray:
		return fmt.Sprintf("array(%d)", len(v.arrVal))
	case TypeDocument:
		return v.docVal.String()
	case TypeTimestamp:
		t, _ := v.Time()
		return t.Format(time.RFC3339Nano)
	}
	return "?"
}
