package engine

import (
	"os"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/quokkadb/quokkadb/server/storage"
)

// fileLock is the advisory cross-process lock on a database: exclusive for a
// writer session, shared for read-only ones. It lives on a sidecar .lock
// file so lock acquisition never races with formatting the database file
// itself.
type fileLock struct {
	file *os.File
}

// acquireFileLock retries with doubling backoff until timeout, then fails
// with ErrLockTimeout.
func acquireFileLock(path string, exclusive bool, timeout time.Duration) (*fileLock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open lock file %s", path)
	}

	how := syscall.LOCK_SH
	if exclusive {
		how = syscall.LOCK_EX
	}

	deadline := time.Now().Add(timeout)
	backoff := 5 * time.Millisecond
	for {
		err = syscall.Flock(int(file.Fd()), how|syscall.LOCK_NB)
		if err == nil {
			return &fileLock{file: file}, nil
		}
		if err != syscall.EWOULDBLOCK && err != syscall.EAGAIN {
			file.Close()
			return nil, errors.Wrapf(err, "flock %s", path)
		}
		if time.Now().After(deadline) {
			file.Close()
			return nil, errors.Wrapf(storage.ErrLockTimeout, "lock %s held elsewhere", path)
		}
		time.Sleep(backoff)
		if backoff < 250*time.Millisecond {
			backoff *= 2
		}
	}
}

func (l *fileLock) release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return errors.Wrap(err, "unlock")
	}
	return errors.Wrap(closeErr, "close lock file")
}
