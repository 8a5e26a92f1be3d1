package engine

import (
	"github.com/pkg/errors"

	"github.com/quokkadb/quokkadb/server/document"
	"github.com/quokkadb/quokkadb/server/storage"
	"github.com/quokkadb/quokkadb/server/storage/page"
	"github.com/quokkadb/quokkadb/server/storage/wal"
)

// Tx is a view into the engine held for the duration of an Update or View
// callback. A writable Tx logs every mutation before applying it, so a batch
// of calls inside one Update shares a single lock acquisition and flush
// ordering.
type Tx struct {
	e        *Engine
	writable bool
}

func (tx *Tx) requireWritable() error {
	if !tx.writable {
		return errors.Wrap(storage.ErrInvalidState, "mutation in read-only transaction")
	}
	return nil
}

// log appends a record for the namespaced key and makes it durable when the
// engine is configured to flush at commit.
func (tx *Tx) log(op wal.OpKind, ns byte, name string, key, payload []byte) error {
	if _, err := tx.e.wal.Append(op, encodeStorageKey(ns, name, key), payload); err != nil {
		return err
	}
	if tx.e.opts.FlushAtCommit {
		return tx.e.wal.Flush()
	}
	return nil
}

// Put stores doc in collection under key, overwriting any previous document.
func (tx *Tx) Put(collection string, key []byte, doc *document.Document) error {
	if err := tx.requireWritable(); err != nil {
		return err
	}
	val := encodeValue(document.Encode(doc), tx.e.opts.CompressionThreshold)
	tree, err := tx.e.tree(nsCollection, collection, true)
	if err != nil {
		return err
	}
	// size-check before logging so a rejected put never reaches the log
	if 2+len(key)+4+len(val) > tree.MaxEntrySize() {
		return errors.Errorf("document of %d bytes exceeds the per-entry limit %d",
			len(val), tree.MaxEntrySize())
	}
	if err := tx.log(wal.OpPut, nsCollection, collection, key, val); err != nil {
		return err
	}
	if err := tree.Put(key, val); err != nil {
		return err
	}
	return tx.e.flushRootsLocked()
}

// Get returns the document stored under key, or ErrNotFound.
func (tx *Tx) Get(collection string, key []byte) (*document.Document, error) {
	tree, err := tx.e.tree(nsCollection, collection, false)
	if err != nil {
		return nil, err
	}
	if tree == nil {
		return nil, errors.Wrapf(storage.ErrNotFound, "collection %s", collection)
	}
	val, ok, err := tree.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(storage.ErrNotFound, "key in %s", collection)
	}
	return decodeDocument(val)
}

// Delete removes key from collection. Deleting an absent key is a no-op.
func (tx *Tx) Delete(collection string, key []byte) error {
	if err := tx.requireWritable(); err != nil {
		return err
	}
	tree, err := tx.e.tree(nsCollection, collection, false)
	if err != nil {
		return err
	}
	if tree == nil {
		return nil
	}
	if _, ok, err := tree.Get(key); err != nil {
		return err
	} else if !ok {
		return nil
	}
	if err := tx.log(wal.OpDelete, nsCollection, collection, key, nil); err != nil {
		return err
	}
	if _, err := tree.Delete(key); err != nil {
		return err
	}
	return tx.e.flushRootsLocked()
}

// Scan visits documents with start <= key < end in key order. fn returning
// false stops the scan early.
func (tx *Tx) Scan(collection string, start, end []byte, fn func(key []byte, doc *document.Document) (bool, error)) error {
	tree, err := tx.e.tree(nsCollection, collection, false)
	if err != nil || tree == nil {
		return err
	}
	return tree.Ascend(start, end, func(key, val []byte) (bool, error) {
		doc, err := decodeDocument(val)
		if err != nil {
			return false, err
		}
		return fn(key, doc)
	})
}

// RegisterIndex records a secondary index in the header and flushes the
// header immediately, so every later log record for the index lands in a
// file that already knows the index exists.
func (tx *Tx) RegisterIndex(name string, meta page.IndexMeta) error {
	if err := tx.requireWritable(); err != nil {
		return err
	}
	header := tx.e.store.Header()
	if existing, ok := header.Index(name); ok {
		meta.Root = existing.Root
	} else {
		meta.Root = page.NilPage
	}
	header.SetIndex(name, meta)
	if err := tx.e.store.FlushHeader(); err != nil {
		return err
	}
	if err := tx.e.store.Sync(); err != nil {
		return err
	}
	tx.e.rootsDirty = false
	return nil
}

// DropIndex destroys the index tree and removes its header entry.
func (tx *Tx) DropIndex(name string) error {
	if err := tx.requireWritable(); err != nil {
		return err
	}
	tree, err := tx.e.tree(nsIndex, name, false)
	if err != nil {
		return err
	}
	if tree != nil {
		if err := tree.Destroy(); err != nil {
			return err
		}
		tx.e.treeMu.Lock()
		delete(tx.e.trees, treeCacheKey(nsIndex, name))
		tx.e.treeMu.Unlock()
	}
	tx.e.store.Header().DropIndex(name)
	if err := tx.e.store.FlushHeader(); err != nil {
		return err
	}
	if err := tx.e.store.Sync(); err != nil {
		return err
	}
	tx.e.rootsDirty = false
	return nil
}

// IndexMeta returns the registered metadata for an index.
func (tx *Tx) IndexMeta(name string) (page.IndexMeta, bool) {
	return tx.e.store.Header().Index(name)
}

// IndexNames lists registered indexes in sorted order.
func (tx *Tx) IndexNames() []string {
	return tx.e.store.Header().IndexNames()
}

// IndexPut stores an entry in an index tree, logged like any other mutation.
func (tx *Tx) IndexPut(name string, key, val []byte) error {
	if err := tx.requireWritable(); err != nil {
		return err
	}
	if _, ok := tx.e.store.Header().Index(name); !ok {
		return errors.Wrapf(storage.ErrNotFound, "index %s", name)
	}
	tree, err := tx.e.tree(nsIndex, name, true)
	if err != nil {
		return err
	}
	if 2+len(key)+4+len(val) > tree.MaxEntrySize() {
		return errors.Errorf("index entry of %d bytes exceeds the per-entry limit %d",
			len(key)+len(val), tree.MaxEntrySize())
	}
	if err := tx.log(wal.OpPut, nsIndex, name, key, val); err != nil {
		return err
	}
	if err := tree.Put(key, val); err != nil {
		return err
	}
	return tx.e.flushRootsLocked()
}

// IndexDelete removes an entry from an index tree. Returns whether the entry
// existed.
func (tx *Tx) IndexDelete(name string, key []byte) (bool, error) {
	if err := tx.requireWritable(); err != nil {
		return false, err
	}
	tree, err := tx.e.tree(nsIndex, name, false)
	if err != nil || tree == nil {
		return false, err
	}
	if _, ok, err := tree.Get(key); err != nil {
		return false, err
	} else if !ok {
		return false, nil
	}
	if err := tx.log(wal.OpDelete, nsIndex, name, key, nil); err != nil {
		return false, err
	}
	removed, err := tree.Delete(key)
	if err != nil {
		return false, err
	}
	return removed, tx.e.flushRootsLocked()
}

// IndexScan visits index entries with start <= key < end in key order.
func (tx *Tx) IndexScan(name string, start, end []byte, fn func(key, val []byte) (bool, error)) error {
	tree, err := tx.e.tree(nsIndex, name, false)
	if err != nil || tree == nil {
		return err
	}
	return tree.Ascend(start, end, fn)
}

// CollectionNames lists collections present in the header.
func (tx *Tx) CollectionNames() []string {
	return tx.e.store.Header().CollectionNames()
}

func decodeDocument(val []byte) (*document.Document, error) {
	raw, err := decodeValue(val)
	if err != nil {
		return nil, err
	}
	doc, err := document.Decode(raw)
	if err != nil {
		return nil, storage.Corruptionf(0, "stored document: %v", err)
	}
	return doc, nil
}
