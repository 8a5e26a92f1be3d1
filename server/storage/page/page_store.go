package page

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/quokkadb/quokkadb/server/storage"
	"github.com/quokkadb/quokkadb/util"
)

// checksumSize is the per-page xxhash trailer.
const checksumSize = 8

// Store manages the database file as checksummed fixed-size pages: page 0 is
// the header, the rest are handed out by Allocate and recycled through an
// intrusive free list threaded through the freed pages themselves.
//
// Callers read and write page bodies of DataSize() bytes; the trailer is
// invisible above this package.
type Store struct {
	mu     sync.Mutex
	file   *PageFile
	header *Header
	cache  *pageCache
}

// defaultCachePages bounds the read cache until the owner sizes it.
const defaultCachePages = 1024

// Open opens or creates the database file. A fresh file is formatted with an
// empty header; an existing file must carry a valid header page or Open
// fails with a CorruptionError.
func Open(path string, pageSize int) (*Store, error) {
	if existing, err := filePageSize(path); err != nil {
		return nil, err
	} else if existing != 0 {
		// the file knows its own page size; the configured value only
		// applies to fresh files
		pageSize = existing
	}

	pf, err := OpenPageFile(path, pageSize)
	if err != nil {
		return nil, err
	}

	s := &Store{file: pf, cache: newPageCache(defaultCachePages)}
	count, err := pf.PageCount()
	if err != nil {
		pf.Close()
		return nil, err
	}

	if count == 0 {
		s.header = newHeader(uint32(pageSize))
		if err := s.FlushHeader(); err != nil {
			pf.Close()
			return nil, err
		}
		if err := pf.Sync(); err != nil {
			pf.Close()
			return nil, err
		}
		return s, nil
	}

	body, err := s.Read(HeaderPageNo)
	if err != nil {
		pf.Close()
		return nil, err
	}
	hdr, err := decodeHeader(body)
	if err != nil {
		pf.Close()
		return nil, err
	}
	s.header = hdr
	return s, nil
}

// filePageSize peeks at an existing file's declared page size; it returns 0
// for a missing or empty file.
func filePageSize(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrapf(err, "probe %s", path)
	}
	defer f.Close()

	var head [12]byte
	n, _ := f.Read(head[:])
	if n < len(head) {
		return 0, nil
	}
	if binary.LittleEndian.Uint32(head[0:]) != Magic {
		return 0, storage.Corruptionf(HeaderPageNo, "bad magic 0x%08x",
			binary.LittleEndian.Uint32(head[0:]))
	}
	size := binary.LittleEndian.Uint32(head[8:])
	if size < 512 || size > 1<<20 {
		return 0, storage.Corruptionf(HeaderPageNo, "implausible page size %d", size)
	}
	return int(size), nil
}

// DataSize is the usable page body size (page size minus checksum trailer).
func (s *Store) DataSize() int {
	return s.file.PageSize() - checksumSize
}

func (s *Store) Header() *Header {
	return s.header
}

func (s *Store) File() *PageFile {
	return s.file
}

// Allocate returns a usable page number, reusing the free list head when one
// exists and extending the file by one page otherwise. The new page body is
// zeroed either way.
func (s *Store) Allocate() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.header.FreeListHead != NilPage {
		pageNo := s.header.FreeListHead
		body, err := s.Read(pageNo)
		if err != nil {
			return NilPage, err
		}
		s.header.FreeListHead = binary.LittleEndian.Uint32(body)
		if err := s.Write(pageNo, make([]byte, s.DataSize())); err != nil {
			return NilPage, err
		}
		return pageNo, nil
	}

	count, err := s.file.PageCount()
	if err != nil {
		return NilPage, err
	}
	if count == 0 {
		count = 1 // header page exists logically even before first flush
	}
	pageNo := count
	if err := s.Write(pageNo, make([]byte, s.DataSize())); err != nil {
		return NilPage, err
	}
	return pageNo, nil
}

// Free pushes pageNo onto the free list. Freeing the header page is a
// programming error and is rejected.
func (s *Store) Free(pageNo uint32) error {
	if pageNo == HeaderPageNo {
		return errors.New("free: page 0 is reserved")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	body := make([]byte, s.DataSize())
	binary.LittleEndian.PutUint32(body, s.header.FreeListHead)
	if err := s.Write(pageNo, body); err != nil {
		return err
	}
	s.header.FreeListHead = pageNo
	return nil
}

// SetCacheSize resizes the read cache to hold up to pages bodies. Existing
// entries are dropped; the next reads repopulate it.
func (s *Store) SetCacheSize(pages int) {
	s.cache = newPageCache(pages)
}

// Read returns the page body after verifying its checksum. Bodies are served
// from the LRU cache when present; callers must treat the result as
// read-only.
func (s *Store) Read(pageNo uint32) ([]byte, error) {
	if body, ok := s.cache.get(pageNo); ok {
		return body, nil
	}
	raw, err := s.file.ReadPage(pageNo)
	if err != nil {
		return nil, err
	}
	body := raw[:s.DataSize()]
	want := binary.LittleEndian.Uint64(raw[s.DataSize():])
	if got := util.HashCode(body); got != want {
		return nil, storage.Corruptionf(pageNo,
			"checksum mismatch: stored %016x computed %016x", want, got)
	}
	s.cache.put(pageNo, body)
	return body, nil
}

// Write stores the page body with a fresh checksum trailer. The write is
// buffered by the OS until Sync.
func (s *Store) Write(pageNo uint32, body []byte) error {
	if len(body) != s.DataSize() {
		return errors.Errorf("write page %d: body must be %d bytes, got %d",
			pageNo, s.DataSize(), len(body))
	}
	raw := make([]byte, s.file.PageSize())
	copy(raw, body)
	binary.LittleEndian.PutUint64(raw[s.DataSize():], util.HashCode(body))
	if err := s.file.WritePage(pageNo, raw); err != nil {
		s.cache.drop(pageNo)
		return err
	}
	s.cache.put(pageNo, raw[:s.DataSize()])
	return nil
}

// FlushHeader rewrites page 0 from the in-memory header.
func (s *Store) FlushHeader() error {
	body, err := s.header.encode(s.DataSize())
	if err != nil {
		return err
	}
	return s.Write(HeaderPageNo, body)
}

// Sync forces all buffered page writes to stable storage.
func (s *Store) Sync() error {
	return s.file.Sync()
}

func (s *Store) Close() error {
	return s.file.Close()
}
