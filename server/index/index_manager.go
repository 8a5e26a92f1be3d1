package index

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/quokkadb/quokkadb/logger"
	"github.com/quokkadb/quokkadb/server/document"
	"github.com/quokkadb/quokkadb/server/storage"
	"github.com/quokkadb/quokkadb/server/storage/engine"
	"github.com/quokkadb/quokkadb/server/storage/page"
)

// Manager maintains secondary indexes over one field each. An index entry's
// tree key is the canonical encoding of the field value followed by the
// primary key; the canonical encoding is prefix-free per value, so all
// entries for one value form one contiguous key range. The entry's tree
// value is the primary key alone.
type Manager struct {
	engine *engine.Engine
}

func NewManager(e *engine.Engine) *Manager {
	return &Manager{engine: e}
}

// Create registers an index over collection.field and builds it from the
// documents already stored. On a unique violation the half-built index is
// dropped again and ErrDuplicateKey returned.
func (m *Manager) Create(name, collection, field string, unique bool) error {
	meta := page.IndexMeta{Unique: unique, Collection: collection, Field: field}
	err := m.engine.Update(func(tx *engine.Tx) error {
		if err := tx.RegisterIndex(name, meta); err != nil {
			return err
		}
		return m.rebuildLocked(tx, name, meta)
	})
	if err != nil {
		dropErr := m.engine.Update(func(tx *engine.Tx) error {
			return tx.DropIndex(name)
		})
		if dropErr != nil {
			logger.Errorf("drop half-built index %s: %v", name, dropErr)
		}
		return err
	}
	logger.Infof("index %s created over %s.%s (unique=%v)", name, collection, field, unique)
	return nil
}

// Drop removes the index and frees its pages.
func (m *Manager) Drop(name string) error {
	return m.engine.Update(func(tx *engine.Tx) error {
		return tx.DropIndex(name)
	})
}

// Rebuild discards every entry and reindexes the collection. Safe to run on
// a consistent index; the result is the same.
func (m *Manager) Rebuild(name string) error {
	return m.engine.Update(func(tx *engine.Tx) error {
		meta, ok := tx.IndexMeta(name)
		if !ok {
			return errors.Wrapf(storage.ErrNotFound, "index %s", name)
		}
		if err := tx.DropIndex(name); err != nil {
			return err
		}
		if err := tx.RegisterIndex(name, meta); err != nil {
			return err
		}
		return m.rebuildLocked(tx, name, meta)
	})
}

func (m *Manager) rebuildLocked(tx *engine.Tx, name string, meta page.IndexMeta) error {
	return tx.Scan(meta.Collection, nil, nil, func(primary []byte, doc *document.Document) (bool, error) {
		fieldVal, ok := doc.Get(meta.Field)
		if !ok {
			return true, nil
		}
		if err := m.insert(tx, name, meta, fieldVal, primary); err != nil {
			return false, err
		}
		return true, nil
	})
}

// Insert adds an entry mapping the field value to the primary key. For a
// unique index a different primary key already holding the value fails with
// ErrDuplicateKey.
func (m *Manager) Insert(tx *engine.Tx, name string, fieldVal document.Value, primary []byte) error {
	meta, ok := tx.IndexMeta(name)
	if !ok {
		return errors.Wrapf(storage.ErrNotFound, "index %s", name)
	}
	return m.insert(tx, name, meta, fieldVal, primary)
}

func (m *Manager) insert(tx *engine.Tx, name string, meta page.IndexMeta, fieldVal document.Value, primary []byte) error {
	if meta.Unique {
		holder, err := m.holderOf(tx, name, fieldVal, primary)
		if err != nil {
			return err
		}
		if holder != nil {
			return errors.Wrapf(storage.ErrDuplicateKey, "index %s value held by %x", name, holder)
		}
	}
	fieldKey := document.EncodeKey(fieldVal)
	entry := append(append([]byte(nil), fieldKey...), primary...)
	return tx.IndexPut(name, entry, primary)
}

// WouldViolate reports whether inserting fieldVal for primary would break a
// unique constraint, without writing anything.
func (m *Manager) WouldViolate(tx *engine.Tx, name string, fieldVal document.Value, primary []byte) (bool, error) {
	meta, ok := tx.IndexMeta(name)
	if !ok {
		return false, errors.Wrapf(storage.ErrNotFound, "index %s", name)
	}
	if !meta.Unique {
		return false, nil
	}
	holder, err := m.holderOf(tx, name, fieldVal, primary)
	return holder != nil, err
}

// holderOf returns the primary key of another document already indexed under
// fieldVal, or nil.
func (m *Manager) holderOf(tx *engine.Tx, name string, fieldVal document.Value, primary []byte) ([]byte, error) {
	var holder []byte
	err := scanPrefix(tx, name, document.EncodeKey(fieldVal), func(_, val []byte) (bool, error) {
		if !bytes.Equal(val, primary) {
			holder = append([]byte(nil), val...)
			return false, nil
		}
		return true, nil
	})
	return holder, err
}

// Remove deletes the entry for (field value, primary key). Removing an
// absent entry is a no-op, mirroring document deletes.
func (m *Manager) Remove(tx *engine.Tx, name string, fieldVal document.Value, primary []byte) (bool, error) {
	entry := append(document.EncodeKey(fieldVal), primary...)
	return tx.IndexDelete(name, entry)
}

// Lookup visits the primary keys of every document whose indexed field
// equals fieldVal, in primary key order.
func (m *Manager) Lookup(tx *engine.Tx, name string, fieldVal document.Value, fn func(primary []byte) (bool, error)) error {
	return scanPrefix(tx, name, document.EncodeKey(fieldVal), func(_, val []byte) (bool, error) {
		return fn(val)
	})
}

// RangeScan visits entries with low <= field value < high in value order,
// ties broken by primary key. A nil bound leaves that end open.
func (m *Manager) RangeScan(tx *engine.Tx, name string, low, high *document.Value, fn func(primary []byte) (bool, error)) error {
	var start, end []byte
	if low != nil {
		start = document.EncodeKey(*low)
	}
	if high != nil {
		end = document.EncodeKey(*high)
	}
	return tx.IndexScan(name, start, end, func(_, val []byte) (bool, error) {
		return fn(val)
	})
}

// scanPrefix visits every index entry whose key starts with prefix.
func scanPrefix(tx *engine.Tx, name string, prefix []byte, fn func(key, val []byte) (bool, error)) error {
	return tx.IndexScan(name, prefix, prefixEnd(prefix), fn)
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix, or nil when no such key exists.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
