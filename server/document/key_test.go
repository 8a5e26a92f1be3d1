package document

import (
	"bytes"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertKeyLess(t *testing.T, a, b Value) {
	t.Helper()
	ka, kb := EncodeKey(a), EncodeKey(b)
	assert.True(t, bytes.Compare(ka, kb) < 0, "expected key(%s) < key(%s)", a, b)
}

func TestKeyOrderInt64(t *testing.T) {
	vals := []int64{math.MinInt64, -1000000, -1, 0, 1, 42, 1 << 40, math.MaxInt64}
	for i := 0; i+1 < len(vals); i++ {
		assertKeyLess(t, Int64(vals[i]), Int64(vals[i+1]))
	}
}

func TestKeyOrderFloat64(t *testing.T) {
	vals := []float64{
		math.Inf(-1), -1e300, -1.5, -math.SmallestNonzeroFloat64,
		0, math.SmallestNonzeroFloat64, 1.5, 99.25, 1e300, math.Inf(1),
	}
	for i := 0; i+1 < len(vals); i++ {
		assertKeyLess(t, Float64(vals[i]), Float64(vals[i+1]))
	}
}

func TestKeyOrderString(t *testing.T) {
	vals := []string{"", "A", "Ann", "Annie", "B", "a", "ab"}
	for i := 0; i+1 < len(vals); i++ {
		assertKeyLess(t, String(vals[i]), String(vals[i+1]))
	}
}

func TestKeyOrderBinaryWithZeroBytes(t *testing.T) {
	vals := [][]byte{
		{},
		{0x00},
		{0x00, 0x00},
		{0x00, 0x01},
		{0x01},
		{0x01, 0x00},
		{0x02},
	}
	for i := 0; i+1 < len(vals); i++ {
		assertKeyLess(t, Binary(vals[i]), Binary(vals[i+1]))
	}
}

func TestKeyOrderTimestamp(t *testing.T) {
	base := time.UnixMilli(1735689600000)
	assertKeyLess(t, Timestamp(base), Timestamp(base.Add(time.Millisecond)))
	assertKeyLess(t, Timestamp(base.Add(-time.Hour)), Timestamp(base))
}

func TestKeyOrderBool(t *testing.T) {
	assertKeyLess(t, Bool(false), Bool(true))
}

func TestKeyOrderArrayPrefix(t *testing.T) {
	// a shorter array is a prefix of a longer one and must sort first
	assertKeyLess(t, Array(Int64(1)), Array(Int64(1), Int64(0)))
	assertKeyLess(t, Array(Int64(1), Int64(2)), Array(Int64(2)))
}

func TestKeySortMatchesValueSort(t *testing.T) {
	ints := []int64{5, -3, 99, 0, -88, 17, 3, -1}
	keys := make([][]byte, len(ints))
	for i, n := range ints {
		keys[i] = EncodeKey(Int64(n))
	}
	sort.Slice(ints, func(i, j int) bool { return ints[i] < ints[j] })
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
	for i, n := range ints {
		require.Equal(t, EncodeKey(Int64(n)), keys[i])
	}
}

func TestCompositeKeyAppend(t *testing.T) {
	// (city, age) composite: primary component dominates
	a := AppendKey(EncodeKey(String("Oslo")), Int64(99))
	b := AppendKey(EncodeKey(String("Paris")), Int64(1))
	assert.True(t, bytes.Compare(a, b) < 0)
}
