package page

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

// PageFile reads and writes a single database file in fixed-size pages.
// It is the only component that touches raw file offsets; everything above
// it speaks page numbers.
type PageFile struct {
	mu       sync.RWMutex
	file     *os.File
	path     string
	pageSize int
}

// OpenPageFile opens (or creates) the database file at path.
func OpenPageFile(path string, pageSize int) (*PageFile, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open page file %s", path)
	}
	return &PageFile{file: file, path: path, pageSize: pageSize}, nil
}

func (pf *PageFile) PageSize() int {
	return pf.pageSize
}

func (pf *PageFile) Path() string {
	return pf.path
}

// PageCount returns the number of whole pages currently in the file.
func (pf *PageFile) PageCount() (uint32, error) {
	pf.mu.RLock()
	defer pf.mu.RUnlock()

	stat, err := pf.file.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "stat page file")
	}
	return uint32(stat.Size() / int64(pf.pageSize)), nil
}

// ReadPage reads one full page. Reading past the end of the file is an
// error; page numbers come from the allocator and must exist.
func (pf *PageFile) ReadPage(pageNo uint32) ([]byte, error) {
	pf.mu.RLock()
	defer pf.mu.RUnlock()

	buf := make([]byte, pf.pageSize)
	offset := int64(pageNo) * int64(pf.pageSize)
	if _, err := pf.file.ReadAt(buf, offset); err != nil {
		return nil, errors.Wrapf(err, "read page %d", pageNo)
	}
	return buf, nil
}

// WritePage writes one full page at its offset, extending the file as needed.
func (pf *PageFile) WritePage(pageNo uint32, content []byte) error {
	if len(content) != pf.pageSize {
		return errors.Errorf("write page %d: got %d bytes, page size is %d",
			pageNo, len(content), pf.pageSize)
	}

	pf.mu.Lock()
	defer pf.mu.Unlock()

	offset := int64(pageNo) * int64(pf.pageSize)
	if _, err := pf.file.WriteAt(content, offset); err != nil {
		return errors.Wrapf(err, "write page %d", pageNo)
	}
	return nil
}

// Sync forces file contents and metadata to stable storage.
func (pf *PageFile) Sync() error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return errors.Wrap(pf.file.Sync(), "sync page file")
}

// Fd exposes the descriptor for advisory locking.
func (pf *PageFile) Fd() uintptr {
	return pf.file.Fd()
}

func (pf *PageFile) Close() error {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	if pf.file == nil {
		return nil
	}
	err := pf.file.Close()
	pf.file = nil
	return errors.Wrap(err, "close page file")
}
