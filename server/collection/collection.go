package collection

import (
	"github.com/pkg/errors"

	"github.com/quokkadb/quokkadb/server/document"
	"github.com/quokkadb/quokkadb/server/index"
	"github.com/quokkadb/quokkadb/server/storage"
	"github.com/quokkadb/quokkadb/server/storage/engine"
	"github.com/quokkadb/quokkadb/server/storage/page"
)

// IdField is the reserved primary key field of every document.
const IdField = "_id"

// Manager hands out collection handles over one engine and keeps their
// secondary indexes in step with every document mutation.
type Manager struct {
	engine  *engine.Engine
	indexes *index.Manager
}

func NewManager(e *engine.Engine) *Manager {
	return &Manager{engine: e, indexes: index.NewManager(e)}
}

func (m *Manager) Engine() *engine.Engine {
	return m.engine
}

func (m *Manager) Indexes() *index.Manager {
	return m.indexes
}

// Collection returns a handle; collections come into being on first insert.
func (m *Manager) Collection(name string) *Collection {
	return &Collection{m: m, name: name}
}

// Names lists collections present in the database.
func (m *Manager) Names() ([]string, error) {
	var names []string
	err := m.engine.View(func(tx *engine.Tx) error {
		names = tx.CollectionNames()
		return nil
	})
	return names, err
}

// Collection is a named set of documents keyed by _id. A document's primary
// key is the canonical encoding of its _id value, so any scalar works as an
// id; inserts without one get a fresh ObjectId.
type Collection struct {
	m    *Manager
	name string
}

func (c *Collection) Name() string {
	return c.name
}

// Insert stores doc and returns its id. An explicit _id equal to an existing
// document's fails with ErrDuplicateKey.
func (c *Collection) Insert(doc *document.Document) (document.Value, error) {
	id, ok := doc.Get(IdField)
	if !ok {
		oid := document.NewObjectId().Bytes()
		id = document.Binary(oid[:])
		doc.Set(IdField, id)
	}
	primary := document.EncodeKey(id)

	err := c.m.engine.Update(func(tx *engine.Tx) error {
		if _, err := tx.Get(c.name, primary); err == nil {
			return errors.Wrapf(storage.ErrDuplicateKey, "_id in %s", c.name)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if err := c.checkUnique(tx, doc, primary); err != nil {
			return err
		}
		if err := tx.Put(c.name, primary, doc); err != nil {
			return err
		}
		return c.insertEntries(tx, doc, primary)
	})
	if err != nil {
		return document.Value{}, err
	}
	return id, nil
}

// Get returns the document with the given id, or ErrNotFound.
func (c *Collection) Get(id document.Value) (*document.Document, error) {
	return c.m.engine.Get(c.name, document.EncodeKey(id))
}

// Replace swaps the stored document for doc, updating only the index entries
// whose field values changed. The _id field of doc is forced to id.
func (c *Collection) Replace(id document.Value, doc *document.Document) error {
	doc.Set(IdField, id)
	primary := document.EncodeKey(id)

	return c.m.engine.Update(func(tx *engine.Tx) error {
		old, err := tx.Get(c.name, primary)
		if err != nil {
			return err
		}
		if err := c.checkUnique(tx, doc, primary); err != nil {
			return err
		}
		if err := tx.Put(c.name, primary, doc); err != nil {
			return err
		}
		return c.forEachIndex(tx, func(name string, meta page.IndexMeta) error {
			oldVal, hadOld := old.Get(meta.Field)
			newVal, hasNew := doc.Get(meta.Field)
			if hadOld && hasNew && oldVal.Equal(newVal) {
				return nil
			}
			if hadOld {
				if _, err := c.m.indexes.Remove(tx, name, oldVal, primary); err != nil {
					return err
				}
			}
			if hasNew {
				return c.m.indexes.Insert(tx, name, newVal, primary)
			}
			return nil
		})
	})
}

// Delete removes the document and its index entries. Deleting an absent id
// is a no-op.
func (c *Collection) Delete(id document.Value) error {
	primary := document.EncodeKey(id)
	return c.m.engine.Update(func(tx *engine.Tx) error {
		old, err := tx.Get(c.name, primary)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		err = c.forEachIndex(tx, func(name string, meta page.IndexMeta) error {
			fieldVal, ok := old.Get(meta.Field)
			if !ok {
				return nil
			}
			_, err := c.m.indexes.Remove(tx, name, fieldVal, primary)
			return err
		})
		if err != nil {
			return err
		}
		return tx.Delete(c.name, primary)
	})
}

// FindRange visits documents with low <= _id < high in id order. A nil
// bound leaves that end open.
func (c *Collection) FindRange(low, high *document.Value, fn func(doc *document.Document) (bool, error)) error {
	var start, end []byte
	if low != nil {
		start = document.EncodeKey(*low)
	}
	if high != nil {
		end = document.EncodeKey(*high)
	}
	return c.m.engine.Scan(c.name, start, end, func(_ []byte, doc *document.Document) (bool, error) {
		return fn(doc)
	})
}

// Scan visits every document in primary key order.
func (c *Collection) Scan(fn func(doc *document.Document) (bool, error)) error {
	return c.m.engine.Scan(c.name, nil, nil, func(_ []byte, doc *document.Document) (bool, error) {
		return fn(doc)
	})
}

// CreateIndex builds a secondary index over one field of this collection.
func (c *Collection) CreateIndex(name, field string, unique bool) error {
	return c.m.indexes.Create(name, c.name, field, unique)
}

// FindByIndex visits documents whose indexed field equals v.
func (c *Collection) FindByIndex(indexName string, v document.Value, fn func(doc *document.Document) (bool, error)) error {
	return c.m.engine.View(func(tx *engine.Tx) error {
		return c.m.indexes.Lookup(tx, indexName, v, func(primary []byte) (bool, error) {
			doc, err := tx.Get(c.name, primary)
			if err != nil {
				return false, err
			}
			return fn(doc)
		})
	})
}

// checkUnique probes every unique index of this collection before any write.
func (c *Collection) checkUnique(tx *engine.Tx, doc *document.Document, primary []byte) error {
	return c.forEachIndex(tx, func(name string, meta page.IndexMeta) error {
		if !meta.Unique {
			return nil
		}
		fieldVal, ok := doc.Get(meta.Field)
		if !ok {
			return nil
		}
		violates, err := c.m.indexes.WouldViolate(tx, name, fieldVal, primary)
		if err != nil {
			return err
		}
		if violates {
			return errors.Wrapf(storage.ErrDuplicateKey, "unique index %s", name)
		}
		return nil
	})
}

func (c *Collection) insertEntries(tx *engine.Tx, doc *document.Document, primary []byte) error {
	return c.forEachIndex(tx, func(name string, meta page.IndexMeta) error {
		fieldVal, ok := doc.Get(meta.Field)
		if !ok {
			return nil
		}
		return c.m.indexes.Insert(tx, name, fieldVal, primary)
	})
}

func (c *Collection) forEachIndex(tx *engine.Tx, fn func(name string, meta page.IndexMeta) error) error {
	for _, name := range tx.IndexNames() {
		meta, ok := tx.IndexMeta(name)
		if !ok || meta.Collection != c.name {
			continue
		}
		if err := fn(name, meta); err != nil {
			return err
		}
	}
	return nil
}
