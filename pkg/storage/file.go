package storage

import (
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/gofrs/flock"
)

// acquireLock takes a non-blocking advisory exclusive lock on path, used
// for writable opens so a second process sharing the host OS's file
// locking notices the conflict immediately rather than corrupting the
// append stream. Read-only opens never lock.
func acquireLock(path string) (*flock.Flock, error) {
	l := flock.New(path + ".lock")
	ok, err := l.TryLock()
	if err != nil {
		return nil, ioErrorf("lock", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return l, nil
}

// mapFile (re)maps the entire file (header + records) read-only or
// read-write. Called on open and after every Flush that grows the file.
func mapFile(f *os.File, writable bool, size int64) (mmap.MMap, error) {
	if size <= 0 {
		return nil, nil
	}
	prot := mmap.RDONLY
	if writable {
		prot = mmap.RDWR
	}
	m, err := mmap.Map(f, prot, 0)
	if err != nil {
		return nil, ioErrorf("mmap", err)
	}
	return m, nil
}

// truncateToAligned trims any trailing partial record left by a crashed
// append, returning the number of bytes trimmed.
func truncateToAligned(f *os.File, size int64, dim uint32) (trimmed int64, aligned int64, err error) {
	if size <= HeaderSize {
		return 0, size, nil
	}
	rs := recordSize(dim)
	n := (size - HeaderSize) / rs
	aligned = HeaderSize + n*rs
	if aligned == size {
		return 0, size, nil
	}
	if err := f.Truncate(aligned); err != nil {
		return 0, size, ioErrorf("truncate", err)
	}
	return size - aligned, aligned, nil
}
