package collection

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quokkadb/quokkadb/server/document"
	"github.com/quokkadb/quokkadb/server/storage"
	"github.com/quokkadb/quokkadb/server/storage/engine"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	e, err := engine.Open(engine.DefaultOptions(filepath.Join(t.TempDir(), "quokka.db")))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return NewManager(e)
}

func TestInsertAssignsObjectId(t *testing.T) {
	users := testManager(t).Collection("users")

	doc := document.FromPairs("name", document.String("ada"))
	id, err := users.Insert(doc)
	require.NoError(t, err)

	raw, ok := id.Binary()
	require.True(t, ok)
	assert.Len(t, raw, 12)

	// the assigned id is written back into the document
	stored, ok := doc.Get(IdField)
	require.True(t, ok)
	assert.True(t, stored.Equal(id))

	got, err := users.Get(id)
	require.NoError(t, err)
	assert.True(t, got.Equal(doc))
}

func TestInsertExplicitIdAndDuplicate(t *testing.T) {
	users := testManager(t).Collection("users")

	doc := document.FromPairs("_id", document.String("u1"), "name", document.String("ada"))
	id, err := users.Insert(doc)
	require.NoError(t, err)
	s, _ := id.Str()
	assert.Equal(t, "u1", s)

	_, err = users.Insert(document.FromPairs("_id", document.String("u1"), "name", document.String("grace")))
	assert.True(t, errors.Is(err, storage.ErrDuplicateKey))
}

func TestDeleteRemovesIndexEntries(t *testing.T) {
	m := testManager(t)
	users := m.Collection("users")
	require.NoError(t, users.CreateIndex("users.name", "name", false))

	id, err := users.Insert(document.FromPairs("name", document.String("ada")))
	require.NoError(t, err)
	require.NoError(t, users.Delete(id))

	_, err = users.Get(id)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	visited := false
	require.NoError(t, users.FindByIndex("users.name", document.String("ada"), func(*document.Document) (bool, error) {
		visited = true
		return true, nil
	}))
	assert.False(t, visited)

	// deleting again is a no-op
	require.NoError(t, users.Delete(id))
}

func TestReplaceMovesIndexEntries(t *testing.T) {
	m := testManager(t)
	users := m.Collection("users")
	require.NoError(t, users.CreateIndex("users.name", "name", false))

	id, err := users.Insert(document.FromPairs("name", document.String("ada"), "age", document.Int64(36)))
	require.NoError(t, err)

	require.NoError(t, users.Replace(id, document.FromPairs("name", document.String("ada lovelace"))))

	var names []string
	collect := func(doc *document.Document) (bool, error) {
		v, _ := doc.Get("name")
		s, _ := v.Str()
		names = append(names, s)
		return true, nil
	}
	require.NoError(t, users.FindByIndex("users.name", document.String("ada"), collect))
	assert.Empty(t, names)
	require.NoError(t, users.FindByIndex("users.name", document.String("ada lovelace"), collect))
	assert.Equal(t, []string{"ada lovelace"}, names)

	// replacing an absent id fails
	err = users.Replace(document.String("ghost"), document.FromPairs("name", document.String("x")))
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestUniqueIndexGuardsInsertAndReplace(t *testing.T) {
	m := testManager(t)
	users := m.Collection("users")
	require.NoError(t, users.CreateIndex("users.email", "email", true))

	_, err := users.Insert(document.FromPairs("email", document.String("ada@example.com")))
	require.NoError(t, err)
	id2, err := users.Insert(document.FromPairs("email", document.String("grace@example.com")))
	require.NoError(t, err)

	_, err = users.Insert(document.FromPairs("email", document.String("ada@example.com")))
	assert.True(t, errors.Is(err, storage.ErrDuplicateKey))

	err = users.Replace(id2, document.FromPairs("email", document.String("ada@example.com")))
	assert.True(t, errors.Is(err, storage.ErrDuplicateKey))

	// a failed insert leaves no document behind
	count := 0
	require.NoError(t, users.Scan(func(*document.Document) (bool, error) {
		count++
		return true, nil
	}))
	assert.Equal(t, 2, count)
}

func TestIndexStaysConsistentWithDocuments(t *testing.T) {
	m := testManager(t)
	users := m.Collection("users")
	require.NoError(t, users.CreateIndex("users.age", "age", false))

	ids := make([]document.Value, 0, 30)
	for i := 0; i < 30; i++ {
		id, err := users.Insert(document.FromPairs("age", document.Int64(int64(i%5))))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for i := 0; i < 30; i += 3 {
		require.NoError(t, users.Delete(ids[i]))
	}

	// every indexed lookup result must agree with a full scan
	for age := int64(0); age < 5; age++ {
		want := 0
		require.NoError(t, users.Scan(func(doc *document.Document) (bool, error) {
			v, _ := doc.Get("age")
			if n, _ := v.Int64(); n == age {
				want++
			}
			return true, nil
		}))
		got := 0
		require.NoError(t, users.FindByIndex("users.age", document.Int64(age), func(doc *document.Document) (bool, error) {
			v, _ := doc.Get("age")
			n, _ := v.Int64()
			assert.Equal(t, age, n)
			got++
			return true, nil
		}))
		assert.Equal(t, want, got, "age %d", age)
	}
}

func TestFindRangeOverIds(t *testing.T) {
	users := testManager(t).Collection("users")
	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := users.Insert(document.FromPairs("_id", document.String(id)))
		require.NoError(t, err)
	}

	val := func(v document.Value) *document.Value { return &v }
	var ids []string
	collect := func(doc *document.Document) (bool, error) {
		v, _ := doc.Get(IdField)
		s, _ := v.Str()
		ids = append(ids, s)
		return true, nil
	}

	require.NoError(t, users.FindRange(val(document.String("b")), val(document.String("d")), collect))
	assert.Equal(t, []string{"b", "c"}, ids)

	ids = nil
	require.NoError(t, users.FindRange(nil, nil, collect))
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
}

func TestNamesListsCollections(t *testing.T) {
	m := testManager(t)
	_, err := m.Collection("users").Insert(document.FromPairs("k", document.Int64(1)))
	require.NoError(t, err)
	_, err = m.Collection("events").Insert(document.FromPairs("k", document.Int64(2)))
	require.NoError(t, err)

	names, err := m.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"events", "users"}, names)
}
