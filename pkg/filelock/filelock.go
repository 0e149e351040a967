package filelock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

// ErrLocked is returned by TryAcquire when another holder has the lock
const ErrLocked = errors.ConstError("lock is held by another process")

// Lock is an advisory flock(2) lock on a file. Locks taken through
// separate Acquire calls exclude each other even within one process.
type Lock struct {
	file *os.File
	path string
}

// Acquire blocks until it holds an exclusive lock on path, creating the
// file and its directory if needed
func Acquire(path string) (*Lock, error) {
	return acquire(path, unix.LOCK_EX)
}

// AcquireShared blocks until it holds a shared lock on path. Shared holders
// exclude exclusive ones but not each other.
func AcquireShared(path string) (*Lock, error) {
	return acquire(path, unix.LOCK_SH)
}

// TryAcquire takes an exclusive lock on path without waiting and records
// the holder's PID in the file. It returns ErrLocked, annotated with the
// current holder, when the lock is taken.
func TryAcquire(path string) (*Lock, error) {
	l, err := acquire(path, unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return nil, errors.Annotatef(ErrLocked, "%s (held by %s)", path, Holder(path))
	}
	if err != nil {
		return nil, err
	}

	if err := l.file.Truncate(0); err == nil {
		_, _ = l.file.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	return l, nil
}

func acquire(path string, how int) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Annotatef(err, "failed to create lock directory for %s", path)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open lock file %s", path)
	}

	for {
		err = unix.Flock(int(f.Fd()), how)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, err
		}
		return nil, errors.Annotatef(err, "failed to lock %s", path)
	}
	return &Lock{file: f, path: path}, nil
}

// Path returns the lock file path
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock. The file is left in place.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	if err != nil {
		return errors.Annotatef(err, "failed to release %s", l.path)
	}
	return nil
}

// Holder returns the PID recorded by the last TryAcquire on path, or
// "unknown"
func Holder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	pid := strings.TrimSpace(string(data))
	if _, err := strconv.Atoi(pid); err != nil {
		return "unknown"
	}
	return fmt.Sprintf("pid %s", pid)
}
