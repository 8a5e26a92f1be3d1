package engine

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/quokkadb/quokkadb/conf"
	"github.com/quokkadb/quokkadb/logger"
	"github.com/quokkadb/quokkadb/server/document"
	"github.com/quokkadb/quokkadb/server/storage"
	"github.com/quokkadb/quokkadb/server/storage/btree"
	"github.com/quokkadb/quokkadb/server/storage/page"
	"github.com/quokkadb/quokkadb/server/storage/wal"
	"github.com/quokkadb/quokkadb/util"
)

// State tracks the engine lifecycle. Mutations are legal only in StateOpen;
// StateCorrupt is terminal for the session.
type State uint32

const (
	StateClosed State = iota
	StateRecovering
	StateOpen
	StateCorrupt
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateRecovering:
		return "recovering"
	case StateOpen:
		return "open"
	case StateCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// Options configures a single engine instance.
type Options struct {
	Path                 string
	WALPath              string
	PageSize             int
	BufferPoolPages      int
	BTreeMinDegree       int
	CheckpointBytes      int64
	CompressionThreshold int
	FlushAtCommit        bool
	LockTimeout          time.Duration
	ReadOnly             bool
}

// DefaultOptions fills in everything but the paths.
func DefaultOptions(path string) Options {
	return Options{
		Path:                 path,
		WALPath:              path + ".wal",
		PageSize:             4096,
		BufferPoolPages:      1024,
		BTreeMinDegree:       32,
		CheckpointBytes:      4 << 20,
		CompressionThreshold: 512,
		FlushAtCommit:        true,
		LockTimeout:          5 * time.Second,
	}
}

// FromConfig maps the server configuration onto engine options.
func FromConfig(cfg *conf.Cfg) Options {
	opts := DefaultOptions(cfg.DatabaseFilePath())
	opts.WALPath = cfg.WALFilePath()
	if cfg.PageSize > 0 {
		opts.PageSize = cfg.PageSize
	}
	if cfg.BufferPoolPages > 0 {
		opts.BufferPoolPages = cfg.BufferPoolPages
	}
	if cfg.BTreeMinDegree > 1 {
		opts.BTreeMinDegree = cfg.BTreeMinDegree
	}
	if cfg.CheckpointBytes > 0 {
		opts.CheckpointBytes = int64(cfg.CheckpointBytes)
	}
	opts.CompressionThreshold = cfg.CompressionThreshold
	opts.FlushAtCommit = cfg.FlushAtCommit
	if cfg.LockTimeoutDuration > 0 {
		opts.LockTimeout = cfg.LockTimeoutDuration
	}
	return opts
}

// Engine is the storage engine: a page store holding one B+tree per
// collection and per secondary index, fronted by a write-ahead log. A single
// writer and any number of readers in this process share it; the file lock
// keeps other processes out.
type Engine struct {
	mu    sync.RWMutex
	state State
	opts  Options

	store *page.Store
	wal   *wal.Manager
	lock  *fileLock

	// treeMu guards the tree cache: readers share e.mu, so two of them
	// may race to open the same cold tree.
	treeMu sync.Mutex
	// trees caches open B+trees keyed by namespace plus name.
	trees map[string]*btree.Tree

	// rootsDirty is set when a split or shrink moved a tree root; the
	// header must reach disk before the change counts as durable.
	rootsDirty bool
}

// Open recovers the database at opts.Path and returns an engine ready for
// use. A non-nil engine is returned even on corruption so callers can
// observe StateCorrupt; the error still reports what went wrong.
func Open(opts Options) (*Engine, error) {
	e := &Engine{opts: opts, state: StateClosed, trees: make(map[string]*btree.Tree)}

	if err := util.EnsureParentDir(opts.Path); err != nil {
		return e, err
	}
	if err := util.EnsureParentDir(opts.WALPath); err != nil {
		return e, err
	}

	lock, err := acquireFileLock(opts.Path+".lock", !opts.ReadOnly, opts.LockTimeout)
	if err != nil {
		return e, err
	}
	e.lock = lock

	e.state = StateRecovering
	store, err := page.Open(opts.Path, opts.PageSize)
	if err != nil {
		e.lock.release()
		if storage.IsCorruption(err) {
			e.state = StateCorrupt
		} else {
			e.state = StateClosed
		}
		return e, err
	}
	store.SetCacheSize(opts.BufferPoolPages)
	e.store = store

	walMgr, lastCheckpoint, err := wal.Open(opts.WALPath)
	if err != nil {
		store.Close()
		e.lock.release()
		e.state = StateClosed
		return e, err
	}
	e.wal = walMgr

	if !opts.ReadOnly {
		if err := e.recover(lastCheckpoint); err != nil {
			walMgr.Close()
			store.Close()
			e.lock.release()
			if storage.IsCorruption(err) {
				e.state = StateCorrupt
			} else {
				e.state = StateClosed
			}
			return e, err
		}
	}

	e.state = StateOpen
	logger.Infof("engine open: %s (page size %d, wal %s)", opts.Path, store.File().PageSize(), opts.WALPath)
	return e, nil
}

// recover replays every logged mutation past the last checkpoint onto the
// page trees, then checkpoints so the log does not regrow the same work.
func (e *Engine) recover(lastCheckpoint uint64) error {
	applied := 0
	err := e.wal.Replay(func(rec wal.Record) error {
		if rec.LSN <= lastCheckpoint || rec.Op == wal.OpCheckpoint {
			return nil
		}
		if err := e.applyRecord(rec); err != nil {
			return err
		}
		applied++
		return nil
	})
	if err != nil {
		return err
	}
	if applied > 0 {
		logger.Infof("recovery replayed %d record(s) past checkpoint LSN %d", applied, lastCheckpoint)
		return e.checkpointLocked()
	}
	return nil
}

func (e *Engine) applyRecord(rec wal.Record) error {
	ns, name, key, err := decodeStorageKey(rec.Key)
	if err != nil {
		return err
	}
	switch rec.Op {
	case wal.OpPut:
		tree, err := e.tree(ns, name, true)
		if err != nil {
			return err
		}
		return tree.Put(key, rec.Payload)
	case wal.OpDelete:
		tree, err := e.tree(ns, name, false)
		if err != nil {
			return err
		}
		if tree == nil {
			return nil
		}
		_, err = tree.Delete(key)
		return err
	default:
		return storage.Corruptionf(0, "unexpected op kind %d in log", rec.Op)
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Path returns the database file path.
func (e *Engine) Path() string {
	return e.opts.Path
}

func treeCacheKey(ns byte, name string) string {
	return string([]byte{ns}) + name
}

// tree returns the open B+tree for a collection or index, creating it (and
// its header entry) when create is set. Returns (nil, nil) for a tree that
// does not exist and was not asked for.
func (e *Engine) tree(ns byte, name string, create bool) (*btree.Tree, error) {
	e.treeMu.Lock()
	defer e.treeMu.Unlock()

	cacheKey := treeCacheKey(ns, name)
	if t, ok := e.trees[cacheKey]; ok {
		return t, nil
	}

	header := e.store.Header()
	var root uint32
	var exists bool
	switch ns {
	case nsCollection:
		root, exists = header.CollectionRoot(name)
	case nsIndex:
		meta, ok := header.Index(name)
		root, exists = meta.Root, ok
	}

	var t *btree.Tree
	if exists && root != page.NilPage {
		t = btree.Open(e.store, root, e.opts.BTreeMinDegree)
	} else if create {
		created, err := btree.Create(e.store, e.opts.BTreeMinDegree)
		if err != nil {
			return nil, err
		}
		t = created
		e.setRoot(ns, name, t.Root())
	} else {
		return nil, nil
	}

	nsCopy, nameCopy := ns, name
	t.OnRootChange(func(newRoot uint32) {
		e.setRoot(nsCopy, nameCopy, newRoot)
	})
	e.trees[cacheKey] = t
	return t, nil
}

func (e *Engine) setRoot(ns byte, name string, root uint32) {
	header := e.store.Header()
	switch ns {
	case nsCollection:
		header.SetCollectionRoot(name, root)
	case nsIndex:
		meta, _ := header.Index(name)
		meta.Root = root
		header.SetIndex(name, meta)
	}
	e.rootsDirty = true
}

// flushRootsLocked persists the header after a root move. Without it a crash
// between a checkpoint and the next one would leave the on-disk header naming
// a stale root, stranding every checkpointed entry the split carried away.
// Runs after the log flush for the record that triggered the move.
func (e *Engine) flushRootsLocked() error {
	if !e.rootsDirty {
		return nil
	}
	if err := e.store.FlushHeader(); err != nil {
		return err
	}
	if err := e.store.Sync(); err != nil {
		return err
	}
	e.rootsDirty = false
	return nil
}

// Update runs fn under the writer lock. Any error from fn is returned
// unchanged; there is no rollback, the log is the unit of durability.
func (e *Engine) Update(fn func(*Tx) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.writableLocked(); err != nil {
		return err
	}
	if err := fn(&Tx{e: e, writable: true}); err != nil {
		return err
	}
	return e.maybeCheckpointLocked()
}

// View runs fn under a shared reader lock.
func (e *Engine) View(fn func(*Tx) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != StateOpen {
		return errors.Wrapf(storage.ErrInvalidState, "engine is %s", e.state)
	}
	return fn(&Tx{e: e})
}

func (e *Engine) writableLocked() error {
	if e.state != StateOpen {
		return errors.Wrapf(storage.ErrInvalidState, "engine is %s", e.state)
	}
	if e.opts.ReadOnly {
		return errors.Wrap(storage.ErrInvalidState, "engine is read-only")
	}
	return nil
}

// Put stores doc in collection under key, overwriting any previous document.
func (e *Engine) Put(collection string, key []byte, doc *document.Document) error {
	return e.Update(func(tx *Tx) error {
		return tx.Put(collection, key, doc)
	})
}

// Get returns the document stored under key, or ErrNotFound.
func (e *Engine) Get(collection string, key []byte) (*document.Document, error) {
	var doc *document.Document
	err := e.View(func(tx *Tx) error {
		var err error
		doc, err = tx.Get(collection, key)
		return err
	})
	return doc, err
}

// Delete removes key from collection. Deleting an absent key is a no-op.
func (e *Engine) Delete(collection string, key []byte) error {
	return e.Update(func(tx *Tx) error {
		return tx.Delete(collection, key)
	})
}

// Scan visits documents with start <= key < end in key order. A nil end
// scans to the end of the collection. fn returning false stops the scan.
func (e *Engine) Scan(collection string, start, end []byte, fn func(key []byte, doc *document.Document) (bool, error)) error {
	return e.View(func(tx *Tx) error {
		return tx.Scan(collection, start, end, fn)
	})
}

// Checkpoint flushes pages, fsyncs data, and truncates the log up to a fresh
// checkpoint record.
func (e *Engine) Checkpoint() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.writableLocked(); err != nil {
		return err
	}
	return e.checkpointLocked()
}

func (e *Engine) maybeCheckpointLocked() error {
	if e.opts.CheckpointBytes > 0 && e.wal.Size() >= e.opts.CheckpointBytes {
		return e.checkpointLocked()
	}
	return nil
}

func (e *Engine) checkpointLocked() error {
	if err := e.store.FlushHeader(); err != nil {
		return err
	}
	if err := e.store.Sync(); err != nil {
		return err
	}
	lsn, err := e.wal.Append(wal.OpCheckpoint, nil, nil)
	if err != nil {
		return err
	}
	if err := e.wal.Flush(); err != nil {
		return err
	}
	if err := e.wal.TruncateBefore(lsn); err != nil {
		return err
	}
	e.rootsDirty = false
	logger.Debugf("checkpoint at LSN %d", lsn)
	return nil
}

// Close checkpoints and releases the file lock. The engine is unusable
// afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	if e.state == StateOpen && !e.opts.ReadOnly {
		firstErr = e.checkpointLocked()
	}
	if e.wal != nil {
		if err := e.wal.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.wal = nil
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.store = nil
	}
	if e.lock != nil {
		if err := e.lock.release(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.lock = nil
	}
	e.trees = make(map[string]*btree.Tree)
	if e.state != StateCorrupt {
		e.state = StateClosed
	}
	return firstErr
}
