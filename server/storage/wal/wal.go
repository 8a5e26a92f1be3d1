package wal

import (
	"io/ioutil"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/quokkadb/quokkadb/logger"
	"github.com/quokkadb/quokkadb/util"
)

// Manager owns the append-only log file. Appends go to an in-memory buffer;
// Flush writes the buffer and fsyncs, which is the durability point the
// engine relies on before touching any page.
type Manager struct {
	mu   sync.Mutex
	file *os.File
	path string

	nextLSN  uint64
	buffered []byte
	// size of durable log content, maintained so the engine can decide
	// when to checkpoint without stat calls
	fileSize int64
}

// Open opens (or creates) the log at path and scans it once: the scan finds
// the next LSN, remembers the last checkpoint, and truncates any torn tail so
// later appends never land after garbage. Everything after the first invalid
// record is discarded; that is the crash-recovery boundary.
func Open(path string) (*Manager, uint64, error) {
	if err := util.EnsureParentDir(path); err != nil {
		return nil, 0, errors.Wrap(err, "create wal dir")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "open wal %s", path)
	}

	m := &Manager{file: file, path: path, nextLSN: 1}

	data, err := ioutil.ReadFile(path)
	if err != nil {
		file.Close()
		return nil, 0, errors.Wrap(err, "scan wal")
	}

	var lastCheckpoint uint64
	valid := 0
	for valid < len(data) {
		rec, n, ok := decodeRecord(data[valid:])
		if !ok {
			break
		}
		if rec.Op == OpCheckpoint {
			lastCheckpoint = rec.LSN
		}
		m.nextLSN = rec.LSN + 1
		valid += n
	}

	if valid < len(data) {
		logger.Warnf("wal: torn tail, truncating %d bytes after lsn %d",
			len(data)-valid, m.nextLSN-1)
		if err := file.Truncate(int64(valid)); err != nil {
			file.Close()
			return nil, 0, errors.Wrap(err, "truncate torn wal tail")
		}
	}
	if _, err := file.Seek(0, os.SEEK_END); err != nil {
		file.Close()
		return nil, 0, errors.Wrap(err, "seek wal end")
	}
	m.fileSize = int64(valid)

	return m, lastCheckpoint, nil
}

// NextLSN returns the LSN the next append will receive.
func (m *Manager) NextLSN() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextLSN
}

// Size returns the bytes of log content, buffered appends included.
func (m *Manager) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fileSize + int64(len(m.buffered))
}

// Append assigns the next LSN and buffers the record. The record is not
// durable until Flush returns.
func (m *Manager) Append(op OpKind, key, payload []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file == nil {
		return 0, errors.New("wal: append on closed log")
	}

	rec := Record{LSN: m.nextLSN, Op: op, Key: key, Payload: payload}
	m.buffered = append(m.buffered, encodeRecord(&rec)...)
	m.nextLSN++
	return rec.LSN, nil
}

// Flush writes buffered records and forces them to stable storage. After a
// successful Flush every previously appended record is durable.
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked()
}

func (m *Manager) flushLocked() error {
	if m.file == nil {
		return errors.New("wal: flush on closed log")
	}
	if len(m.buffered) > 0 {
		n, err := m.file.Write(m.buffered)
		if err != nil {
			return errors.Wrap(err, "wal write")
		}
		m.fileSize += int64(n)
		m.buffered = m.buffered[:0]
	}
	return errors.Wrap(m.file.Sync(), "wal sync")
}

// Replay streams every durable record in LSN order into fn and stops early
// when fn fails. It is only meaningful before new appends, i.e. during
// recovery.
func (m *Manager) Replay(fn func(Record) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := ioutil.ReadFile(m.path)
	if err != nil {
		return errors.Wrap(err, "replay read")
	}

	pos := 0
	for pos < len(data) {
		rec, n, ok := decodeRecord(data[pos:])
		if !ok {
			// torn tail; Open already truncated, but a crash between
			// appends can still leave one
			return nil
		}
		if err := fn(rec); err != nil {
			return err
		}
		pos += n
	}
	return nil
}

// TruncateBefore drops every record with LSN < lsn, reclaiming log space
// once a checkpoint made those records redundant. The survivors are written
// to a sidecar file that atomically replaces the log.
func (m *Manager) TruncateBefore(lsn uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.flushLocked(); err != nil {
		return err
	}

	data, err := ioutil.ReadFile(m.path)
	if err != nil {
		return errors.Wrap(err, "truncate read")
	}

	var keep []byte
	pos := 0
	for pos < len(data) {
		rec, n, ok := decodeRecord(data[pos:])
		if !ok {
			break
		}
		if rec.LSN >= lsn {
			keep = append(keep, data[pos:pos+n]...)
		}
		pos += n
	}

	tmp := m.path + ".tmp"
	if err := ioutil.WriteFile(tmp, keep, 0644); err != nil {
		return errors.Wrap(err, "truncate write")
	}
	if err := m.file.Close(); err != nil {
		return errors.Wrap(err, "truncate close")
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return errors.Wrap(err, "truncate rename")
	}

	file, err := os.OpenFile(m.path, os.O_RDWR, 0644)
	if err != nil {
		return errors.Wrap(err, "truncate reopen")
	}
	if _, err := file.Seek(0, os.SEEK_END); err != nil {
		file.Close()
		return errors.Wrap(err, "truncate seek")
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return errors.Wrap(err, "truncate sync")
	}
	m.file = file
	m.fileSize = int64(len(keep))
	return nil
}

// Close flushes and releases the log file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file == nil {
		return nil
	}
	if err := m.flushLocked(); err != nil {
		m.file.Close()
		m.file = nil
		return err
	}
	err := m.file.Close()
	m.file = nil
	return errors.Wrap(err, "wal close")
}
