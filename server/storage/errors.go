package storage

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the storage core. Callers match them with
// errors.Is after unwrapping whatever context the layers added.
var (
	// ErrNotFound reports a missing key; Get returns it, Delete does not.
	ErrNotFound = errors.New("storage: key not found")
	// ErrDuplicateKey reports a unique-index violation.
	ErrDuplicateKey = errors.New("storage: duplicate key in unique index")
	// ErrLockTimeout reports that the advisory file lock stayed busy past
	// the configured deadline and its bounded retries.
	ErrLockTimeout = errors.New("storage: lock acquisition timed out")
	// ErrInvalidState reports an operation issued while the engine is not
	// Open (mutating a Closed, Recovering, or Corrupt engine).
	ErrInvalidState = errors.New("storage: engine is not open")
)

// CorruptionError reports on-disk damage: a page checksum mismatch, an
// invalid page header, or an unreadable header page. Only header-level
// corruption moves the engine to the Corrupt state; everything else is
// surfaced per call and the engine stays open.
type CorruptionError struct {
	PageNo uint32
	Detail string
}

func (e *CorruptionError) Error() string {
	if e.PageNo != 0 {
		return fmt.Sprintf("storage: corruption on page %d: %s", e.PageNo, e.Detail)
	}
	return fmt.Sprintf("storage: corruption: %s", e.Detail)
}

// Corruptionf builds a CorruptionError for pageNo (0 for file-level damage).
func Corruptionf(pageNo uint32, format string, args ...interface{}) error {
	return &CorruptionError{PageNo: pageNo, Detail: fmt.Sprintf(format, args...)}
}

// IsCorruption reports whether err carries a CorruptionError anywhere in its
// chain.
func IsCorruption(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}
