package document

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentSetGetDelete(t *testing.T) {
	d := NewDocument()
	d.Set("name", String("Ann")).Set("age", Int64(30))

	v, ok := d.Get("name")
	require.True(t, ok)
	s, _ := v.Str()
	assert.Equal(t, "Ann", s)

	// replace keeps position
	d.Set("name", String("Bob"))
	assert.Equal(t, 2, d.Len())
	assert.Equal(t, "name", d.Fields()[0].Name)

	assert.True(t, d.Delete("name"))
	assert.False(t, d.Delete("name"))
	_, ok = d.Get("name")
	assert.False(t, ok)
	assert.Equal(t, 1, d.Len())

	// index stays consistent after a removal in the middle
	d.Set("city", String("Oslo"))
	v, ok = d.Get("city")
	require.True(t, ok)
}

func TestDocumentEqual(t *testing.T) {
	a := FromPairs("x", Int64(1), "y", String("two"))
	b := FromPairs("x", Int64(1), "y", String("two"))
	c := FromPairs("y", String("two"), "x", Int64(1))

	assert.True(t, a.Equal(b))
	// field order is part of document identity
	assert.False(t, a.Equal(c))
}

func TestValueAccessors(t *testing.T) {
	now := time.Now()

	tv := Timestamp(now)
	got, ok := tv.Time()
	require.True(t, ok)
	assert.Equal(t, now.UnixMilli(), got.UnixMilli())

	_, ok = tv.Int64()
	assert.False(t, ok)

	assert.True(t, Null().IsNull())
	assert.Equal(t, TypeNull, Value{}.Type())
}

func TestValueEqualCrossType(t *testing.T) {
	assert.False(t, Int64(1).Equal(Float64(1)))
	assert.True(t, Binary([]byte{1, 2}).Equal(Binary([]byte{1, 2})))
	assert.True(t, Array(Int64(1), String("a")).Equal(Array(Int64(1), String("a"))))
	assert.False(t, Array(Int64(1)).Equal(Array(Int64(1), Int64(2))))
}
