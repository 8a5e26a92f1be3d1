package document

import (
	"strings"
)

// Field is one named slot of a document.
type Field struct {
	Name  string
	Value Value
}

// Document is an ordered mapping from field name to Value. Field names are
// unique within one level; Set replaces in place so field order is stable
// across updates, which keeps the canonical encoding stable too.
type Document struct {
	fields []Field
	index  map[string]int
}

func NewDocument() *Document {
	return &Document{index: make(map[string]int)}
}

// FromPairs builds a document from alternating name/value arguments,
// mostly a convenience for tests and demos.
func FromPairs(pairs ...interface{}) *Document {
	d := NewDocument()
	for i := 0; i+1 < len(pairs); i += 2 {
		d.Set(pairs[i].(string), pairs[i+1].(Value))
	}
	return d
}

func (d *Document) Len() int {
	return len(d.fields)
}

// Set adds the field or replaces an existing one without moving it.
func (d *Document) Set(name string, v Value) *Document {
	if i, ok := d.index[name]; ok {
		d.fields[i].Value = v
		return d
	}
	d.index[name] = len(d.fields)
	d.fields = append(d.fields, Field{Name: name, Value: v})
	return d
}

func (d *Document) Get(name string) (Value, bool) {
	i, ok := d.index[name]
	if !ok {
		return Value{}, false
	}
	return d.fields[i].Value, true
}

// Delete removes the field and reports whether it was present.
func (d *Document) Delete(name string) bool {
	i, ok := d.index[name]
	if !ok {
		return false
	}
	d.fields = append(d.fields[:i], d.fields[i+1:]...)
	delete(d.index, name)
	for j := i; j < len(d.fields); j++ {
		d.index[d.fields[j].Name] = j
	}
	return true
}

// Fields returns the fields in insertion order. Callers must not mutate the
// returned slice.
func (d *Document) Fields() []Field {
	return d.fields
}

func (d *Document) Equal(other *Document) bool {
	if d == nil || other == nil {
		return d == other
	}
	if len(d.fields) != len(other.fields) {
		return false
	}
	for i := range d.fields {
		if d.fields[i].Name != other.fields[i].Name {
			return false
		}
		if !d.fields[i].Value.Equal(other.fields[i].Value) {
			return false
		}
	}
	return true
}

func (d *Document) String() string {
	if d == nil {
		return "{}"
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, f := range d.fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.Name)
		sb.WriteString(": ")
		sb.WriteString(f.Value.String())
	}
	sb.WriteByte('}')
	return sb.String()
}
