package index

import (
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quokkadb/quokkadb/server/document"
	"github.com/quokkadb/quokkadb/server/storage"
	"github.com/quokkadb/quokkadb/server/storage/engine"
)

func testEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.Open(engine.DefaultOptions(filepath.Join(t.TempDir(), "quokka.db")))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func putUser(t *testing.T, e *engine.Engine, key, name string, age int64) {
	t.Helper()
	doc := document.FromPairs("name", document.String(name), "age", document.Int64(age))
	require.NoError(t, e.Put("users", []byte(key), doc))
}

func lookupAll(t *testing.T, e *engine.Engine, m *Manager, name string, v document.Value) []string {
	t.Helper()
	var out []string
	require.NoError(t, e.View(func(tx *engine.Tx) error {
		return m.Lookup(tx, name, v, func(primary []byte) (bool, error) {
			out = append(out, string(primary))
			return true, nil
		})
	}))
	return out
}

func TestCreateBuildsFromExistingDocuments(t *testing.T) {
	e := testEngine(t)
	m := NewManager(e)

	putUser(t, e, "u1", "ada", 36)
	putUser(t, e, "u2", "grace", 45)
	putUser(t, e, "u3", "ada", 29)

	require.NoError(t, m.Create("users.name", "users", "name", false))

	assert.Equal(t, []string{"u1", "u3"}, lookupAll(t, e, m, "users.name", document.String("ada")))
	assert.Equal(t, []string{"u2"}, lookupAll(t, e, m, "users.name", document.String("grace")))
	assert.Empty(t, lookupAll(t, e, m, "users.name", document.String("edsger")))
}

func TestCreateSkipsDocumentsWithoutField(t *testing.T) {
	e := testEngine(t)
	m := NewManager(e)

	putUser(t, e, "u1", "ada", 36)
	require.NoError(t, e.Put("users", []byte("u2"), document.FromPairs("age", document.Int64(45))))

	require.NoError(t, m.Create("users.name", "users", "name", false))
	assert.Equal(t, []string{"u1"}, lookupAll(t, e, m, "users.name", document.String("ada")))
}

func TestUniqueIndexRejectsDuplicates(t *testing.T) {
	e := testEngine(t)
	m := NewManager(e)
	require.NoError(t, m.Create("users.name", "users", "name", true))

	require.NoError(t, e.Update(func(tx *engine.Tx) error {
		return m.Insert(tx, "users.name", document.String("ada"), []byte("u1"))
	}))

	err := e.Update(func(tx *engine.Tx) error {
		return m.Insert(tx, "users.name", document.String("ada"), []byte("u2"))
	})
	assert.True(t, errors.Is(err, storage.ErrDuplicateKey))

	// reasserting the same mapping is fine
	require.NoError(t, e.Update(func(tx *engine.Tx) error {
		return m.Insert(tx, "users.name", document.String("ada"), []byte("u1"))
	}))
}

func TestCreateUniqueOverDuplicatesFailsAndDrops(t *testing.T) {
	e := testEngine(t)
	m := NewManager(e)

	putUser(t, e, "u1", "ada", 36)
	putUser(t, e, "u2", "ada", 29)

	err := m.Create("users.name", "users", "name", true)
	assert.True(t, errors.Is(err, storage.ErrDuplicateKey))

	require.NoError(t, e.View(func(tx *engine.Tx) error {
		_, ok := tx.IndexMeta("users.name")
		assert.False(t, ok)
		return nil
	}))
}

func TestRemoveIsIdempotent(t *testing.T) {
	e := testEngine(t)
	m := NewManager(e)
	require.NoError(t, m.Create("users.name", "users", "name", false))

	require.NoError(t, e.Update(func(tx *engine.Tx) error {
		return m.Insert(tx, "users.name", document.String("ada"), []byte("u1"))
	}))
	require.NoError(t, e.Update(func(tx *engine.Tx) error {
		existed, err := m.Remove(tx, "users.name", document.String("ada"), []byte("u1"))
		require.NoError(t, err)
		assert.True(t, existed)
		existed, err = m.Remove(tx, "users.name", document.String("ada"), []byte("u1"))
		require.NoError(t, err)
		assert.False(t, existed)
		return nil
	}))
	assert.Empty(t, lookupAll(t, e, m, "users.name", document.String("ada")))
}

func TestRangeScanOverInt64(t *testing.T) {
	e := testEngine(t)
	m := NewManager(e)

	ages := map[string]int64{"u1": 36, "u2": 45, "u3": 29, "u4": -3, "u5": 45}
	for key, age := range ages {
		putUser(t, e, key, "user-"+key, age)
	}
	require.NoError(t, m.Create("users.age", "users", "age", false))

	scan := func(low, high *document.Value) []string {
		var out []string
		require.NoError(t, e.View(func(tx *engine.Tx) error {
			return m.RangeScan(tx, "users.age", low, high, func(primary []byte) (bool, error) {
				out = append(out, string(primary))
				return true, nil
			})
		}))
		return out
	}
	val := func(v document.Value) *document.Value { return &v }

	// half-open on the high bound, ties in primary key order
	assert.Equal(t, []string{"u3", "u1"}, scan(val(document.Int64(0)), val(document.Int64(45))))
	assert.Equal(t, []string{"u4", "u3", "u1", "u2", "u5"}, scan(nil, nil))
	assert.Equal(t, []string{"u2", "u5"}, scan(val(document.Int64(45)), nil))
	assert.Empty(t, scan(val(document.Int64(100)), nil))
}

func TestRebuildRestoresConsistency(t *testing.T) {
	e := testEngine(t)
	m := NewManager(e)

	putUser(t, e, "u1", "ada", 36)
	putUser(t, e, "u2", "grace", 45)
	require.NoError(t, m.Create("users.name", "users", "name", false))

	// damage the index by hand, then rebuild
	require.NoError(t, e.Update(func(tx *engine.Tx) error {
		if _, err := m.Remove(tx, "users.name", document.String("ada"), []byte("u1")); err != nil {
			return err
		}
		return m.Insert(tx, "users.name", document.String("phantom"), []byte("u9"))
	}))

	require.NoError(t, m.Rebuild("users.name"))
	assert.Equal(t, []string{"u1"}, lookupAll(t, e, m, "users.name", document.String("ada")))
	assert.Empty(t, lookupAll(t, e, m, "users.name", document.String("phantom")))
}

func TestLookupMatchesFullScan(t *testing.T) {
	e := testEngine(t)
	m := NewManager(e)
	require.NoError(t, m.Create("users.age", "users", "age", false))

	rng := rand.New(rand.NewSource(7))
	want := make(map[int64][]string)
	require.NoError(t, e.Update(func(tx *engine.Tx) error {
		for i := 0; i < 400; i++ {
			key := fmt.Sprintf("u%03d", i)
			age := int64(rng.Intn(20))
			doc := document.FromPairs("age", document.Int64(age))
			if err := tx.Put("users", []byte(key), doc); err != nil {
				return err
			}
			if err := m.Insert(tx, "users.age", document.Int64(age), []byte(key)); err != nil {
				return err
			}
			want[age] = append(want[age], key)
		}
		return nil
	}))

	for age, keys := range want {
		assert.Equal(t, keys, lookupAll(t, e, m, "users.age", document.Int64(age)), "age %d", age)
	}
}

func TestInsertUnknownIndex(t *testing.T) {
	e := testEngine(t)
	m := NewManager(e)
	err := e.Update(func(tx *engine.Tx) error {
		return m.Insert(tx, "nope", document.String("x"), []byte("u1"))
	})
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}
