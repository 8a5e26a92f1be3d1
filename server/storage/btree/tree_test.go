package btree

import (
	"bytes"
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quokkadb/quokkadb/server/storage/page"
)

func newTestTree(t *testing.T, minDegree int) (*Tree, *page.Store) {
	t.Helper()
	store, err := page.Open(filepath.Join(t.TempDir(), "tree.db"), 4096)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tree, err := Create(store, minDegree)
	require.NoError(t, err)
	return tree, store
}

func key(i int) []byte { return []byte(fmt.Sprintf("key-%06d", i)) }
func val(i int) []byte { return []byte(fmt.Sprintf("val-%06d", i)) }

func TestPutGetDelete(t *testing.T) {
	tree, _ := newTestTree(t, 4)

	require.NoError(t, tree.Put([]byte("b"), []byte("2")))
	require.NoError(t, tree.Put([]byte("a"), []byte("1")))
	require.NoError(t, tree.Put([]byte("c"), []byte("3")))

	v, found, err := tree.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("1"), v)

	// upsert
	require.NoError(t, tree.Put([]byte("a"), []byte("one")))
	v, _, err = tree.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), v)

	_, found, err = tree.Get([]byte("nope"))
	require.NoError(t, err)
	assert.False(t, found)

	deleted, err := tree.Delete([]byte("b"))
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = tree.Delete([]byte("b"))
	require.NoError(t, err)
	assert.False(t, deleted)

	_, found, err = tree.Get([]byte("b"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSplitsKeepInvariants(t *testing.T) {
	tree, _ := newTestTree(t, 3)

	const n = 500
	perm := rand.New(rand.NewSource(1)).Perm(n)
	for _, i := range perm {
		require.NoError(t, tree.Put(key(i), val(i)))
	}

	st, err := tree.Check()
	require.NoError(t, err)
	assert.Equal(t, n, st.Entries)
	assert.Zero(t, st.Underful)
	assert.Greater(t, st.Depth, 1, "500 entries at degree 3 must split")

	for i := 0; i < n; i++ {
		v, found, err := tree.Get(key(i))
		require.NoError(t, err)
		require.True(t, found, "key %d", i)
		require.Equal(t, val(i), v)
	}
}

func TestDeleteRebalances(t *testing.T) {
	tree, _ := newTestTree(t, 3)

	const n = 300
	for i := 0; i < n; i++ {
		require.NoError(t, tree.Put(key(i), val(i)))
	}

	// delete in shuffled order, checking structure along the way
	perm := rand.New(rand.NewSource(2)).Perm(n)
	for step, i := range perm {
		deleted, err := tree.Delete(key(i))
		require.NoError(t, err)
		require.True(t, deleted)

		if step%50 == 0 {
			st, err := tree.Check()
			require.NoError(t, err)
			require.Equal(t, n-step-1, st.Entries)
		}
	}

	st, err := tree.Check()
	require.NoError(t, err)
	assert.Zero(t, st.Entries)
	assert.Equal(t, 0, st.Depth, "empty tree must shrink back to a single leaf")
}

func TestRootShrinkReusesPages(t *testing.T) {
	tree, store := newTestTree(t, 3)

	for i := 0; i < 200; i++ {
		require.NoError(t, tree.Put(key(i), val(i)))
	}
	grown := tree.Root()
	for i := 0; i < 200; i++ {
		_, err := tree.Delete(key(i))
		require.NoError(t, err)
	}
	assert.NotEqual(t, grown, tree.Root())

	// freed pages feed later allocations
	pageNo, err := store.Allocate()
	require.NoError(t, err)
	assert.NotZero(t, pageNo)
}

func TestAscendRange(t *testing.T) {
	tree, _ := newTestTree(t, 3)

	for i := 0; i < 100; i++ {
		require.NoError(t, tree.Put(key(i), val(i)))
	}

	t.Run("full scan is ordered", func(t *testing.T) {
		var got [][]byte
		require.NoError(t, tree.Ascend(nil, nil, func(k, v []byte) (bool, error) {
			got = append(got, append([]byte(nil), k...))
			return true, nil
		}))
		require.Len(t, got, 100)
		assert.True(t, sort.SliceIsSorted(got, func(i, j int) bool {
			return bytes.Compare(got[i], got[j]) < 0
		}))
	})

	t.Run("bounded range", func(t *testing.T) {
		var got []string
		require.NoError(t, tree.Ascend(key(10), key(15), func(k, v []byte) (bool, error) {
			got = append(got, string(k))
			return true, nil
		}))
		assert.Equal(t, []string{"key-000010", "key-000011", "key-000012", "key-000013", "key-000014"}, got)
	})

	t.Run("early stop", func(t *testing.T) {
		count := 0
		require.NoError(t, tree.Ascend(nil, nil, func(k, v []byte) (bool, error) {
			count++
			return count < 7, nil
		}))
		assert.Equal(t, 7, count)
	})

	t.Run("start between keys", func(t *testing.T) {
		var first string
		require.NoError(t, tree.Ascend([]byte("key-000010x"), nil, func(k, v []byte) (bool, error) {
			first = string(k)
			return false, nil
		}))
		assert.Equal(t, "key-000011", first)
	})
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tree.db")

	store, err := page.Open(path, 4096)
	require.NoError(t, err)
	tree, err := Create(store, 4)
	require.NoError(t, err)
	var root uint32
	tree.OnRootChange(func(r uint32) { root = r })
	root = tree.Root()

	for i := 0; i < 150; i++ {
		require.NoError(t, tree.Put(key(i), val(i)))
	}
	require.NoError(t, store.Sync())
	require.NoError(t, store.Close())

	store, err = page.Open(path, 4096)
	require.NoError(t, err)
	defer store.Close()

	tree = Open(store, root, 4)
	for i := 0; i < 150; i++ {
		v, found, err := tree.Get(key(i))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, val(i), v)
	}
}

func TestOversizedEntryRejected(t *testing.T) {
	tree, store := newTestTree(t, 4)
	huge := make([]byte, store.DataSize())
	assert.Error(t, tree.Put([]byte("k"), huge))
}

func TestLargeValuesSplitByBytes(t *testing.T) {
	tree, _ := newTestTree(t, 64)

	// values big enough that byte capacity, not the key-count bound,
	// forces the splits
	blob := bytes.Repeat([]byte{0xAB}, 900)
	for i := 0; i < 60; i++ {
		require.NoError(t, tree.Put(key(i), blob))
	}

	st, err := tree.Check()
	require.NoError(t, err)
	assert.Equal(t, 60, st.Entries)
	assert.Greater(t, st.Nodes, 1)

	for i := 0; i < 60; i++ {
		v, found, err := tree.Get(key(i))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, blob, v)
	}
}

func TestMergeRespectsWideSeparators(t *testing.T) {
	tree, store := newTestTree(t, 6)

	wide := func(b byte) []byte { return bytes.Repeat([]byte{b}, 435) }

	leftPage, err := store.Allocate()
	require.NoError(t, err)
	childPage, err := store.Allocate()
	require.NoError(t, err)

	left := &node{pageNo: leftPage, children: []uint32{101, 102, 103, 104, 105, 106}}
	for _, b := range []byte("abcde") {
		left.keys = append(left.keys, wide(b))
	}
	child := &node{pageNo: childPage, children: []uint32{107, 108, 109, 110, 111}}
	for _, b := range []byte("hijk") {
		child.keys = append(child.keys, wide(b))
	}
	parent := &node{
		pageNo:   tree.root,
		keys:     [][]byte{wide('g')},
		children: []uint32{leftPage, childPage},
	}
	require.NoError(t, tree.writeNode(left))
	require.NoError(t, tree.writeNode(child))
	require.NoError(t, tree.writeNode(parent))

	// both siblings plus the wide separator exceed the page, so the
	// underflow must be tolerated instead of merged
	require.NoError(t, tree.rebalance(parent, 1))

	gotLeft, err := tree.readNode(leftPage)
	require.NoError(t, err)
	gotChild, err := tree.readNode(childPage)
	require.NoError(t, err)
	assert.Len(t, gotLeft.keys, 5)
	assert.Len(t, gotChild.keys, 4)
}

func TestWriteOversizedNodeReturnsError(t *testing.T) {
	tree, store := newTestTree(t, 4)

	n := &node{
		pageNo: tree.root,
		leaf:   true,
		keys:   [][]byte{[]byte("k")},
		vals:   [][]byte{make([]byte, store.DataSize())},
	}
	assert.Error(t, tree.writeNode(n))
}
