package storage

import (
	"errors"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// Database is a handle to one open embeddb file. It is not safe for
// concurrent use from multiple goroutines; external synchronization is the
// caller's responsibility (see spec.md §5). Search may still parallelize
// its own internal scan.
type Database struct {
	mu sync.Mutex

	path string
	mode Mode
	dim  uint32
	rec  int64

	file *os.File
	lock *flock.Flock

	mapped mmap.MMap // nil for ephemeral databases or before the first Flush
	mem    []byte    // header + records, for :temp:/ModeMemory databases only

	dataLen   int64 // bytes of persisted records, excludes the header
	writeBuf  []byte
	truncated int64

	cache  *decodeCache
	logger *zap.Logger
}

// Open creates or opens a database at path with the given mode, using
// default options (CacheSize 100).
func Open(path string, dim uint32, mode Mode) (*Database, error) {
	return OpenWithOptions(path, dim, mode, OpenOptions{CacheSize: 100})
}

// OpenWithOptions is Open with explicit tuning.
func OpenWithOptions(path string, dim uint32, mode Mode, opts OpenOptions) (*Database, error) {
	opts = opts.normalize()

	if path == TempPath || mode == ModeMemory {
		return openEphemeral(dim, opts)
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mode == ModeRead {
			return nil, ioErrorf("open", err)
		}
		return createFile(path, dim, opts)
	case err != nil:
		return nil, ioErrorf("stat", err)
	default:
		return openFile(path, dim, mode, opts, info.Size())
	}
}

func openEphemeral(dim uint32, opts OpenOptions) (*Database, error) {
	h := NewHeader(dim)
	db := &Database{
		path:   TempPath,
		mode:   ModeAppend,
		dim:    dim,
		rec:    recordSize(dim),
		mem:    append([]byte(nil), h.Encode()...),
		cache:  newDecodeCache(opts.CacheSize),
		logger: opts.Logger,
	}
	return db, nil
}

func createFile(path string, dim uint32, opts OpenOptions) (*Database, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, ioErrorf("create", err)
	}

	var l *flock.Flock
	if !opts.DisableLock {
		l, err = acquireLock(path)
		if err != nil {
			f.Close()
			return nil, err
		}
	}

	h := NewHeader(dim)
	if _, err := f.Write(h.Encode()); err != nil {
		f.Close()
		return nil, ioErrorf("write header", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, ioErrorf("sync", err)
	}

	return &Database{
		path:   path,
		mode:   ModeAppend,
		dim:    dim,
		rec:    recordSize(dim),
		file:   f,
		lock:   l,
		cache:  newDecodeCache(opts.CacheSize),
		logger: opts.Logger,
	}, nil
}

func openFile(path string, dim uint32, mode Mode, opts OpenOptions, size int64) (*Database, error) {
	flags := os.O_RDONLY
	if mode != ModeRead {
		flags = os.O_RDWR
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, ioErrorf("open", err)
	}

	var l *flock.Flock
	if mode != ModeRead && !opts.DisableLock {
		l, err = acquireLock(path)
		if err != nil {
			f.Close()
			return nil, err
		}
	}

	if size < HeaderSize {
		f.Close()
		return nil, ErrHeaderMismatch
	}
	hdrBuf := make([]byte, HeaderSize)
	if _, err := f.ReadAt(hdrBuf, 0); err != nil {
		f.Close()
		return nil, ioErrorf("read header", err)
	}
	h := DecodeHeader(hdrBuf)
	if string(h.Magic[:]) != MagicBytes {
		f.Close()
		return nil, ErrHeaderMismatch
	}
	if h.Version != CurrentVersion {
		f.Close()
		return nil, ErrVersionUnsupported
	}
	if dim != 0 && h.Dim != dim {
		f.Close()
		return nil, ErrDimMismatch
	}

	rs := recordSize(h.Dim)
	trimmed, aligned, err := truncateToAligned(f, size, h.Dim)
	if err != nil {
		f.Close()
		return nil, err
	}
	if trimmed > 0 {
		opts.Logger.Warn("truncated trailing partial record on open",
			zap.String("path", path), zap.Int64("bytes", trimmed))
	}

	var mapped mmap.MMap
	if aligned > HeaderSize {
		mapped, err = mapFile(f, mode != ModeRead, aligned)
		if err != nil {
			f.Close()
			return nil, err
		}
	}

	return &Database{
		path:      path,
		mode:      mode,
		dim:       h.Dim,
		rec:       rs,
		file:      f,
		lock:      l,
		mapped:    mapped,
		dataLen:   aligned - HeaderSize,
		truncated: trimmed,
		cache:     newDecodeCache(opts.CacheSize),
		logger:    opts.Logger,
	}, nil
}

// Dim returns the database's fixed vector dimension.
func (db *Database) Dim() uint32 { return db.dim }

// Truncated returns the number of trailing bytes discarded at open due to a
// crashed append (spec.md §4.1's "log the truncation length").
func (db *Database) Truncated() int64 { return db.truncated }

// SetLogger swaps the structured-diagnostics logger. A nil argument resets
// it to a no-op logger.
func (db *Database) SetLogger(l *zap.Logger) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	db.logger = l
}

// Append stages a record for the next Flush. The record is not visible to
// readers started after this call until Flush succeeds.
func (db *Database) Append(id, vec []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.file == nil && db.mem == nil {
		return ErrClosed
	}
	if db.mode == ModeRead {
		return ErrReadonly
	}
	if len(id) != IDLen {
		return ErrIDLen
	}
	if int64(len(vec)) != 4*int64(db.dim) {
		return ErrVecLen
	}

	db.writeBuf = append(db.writeBuf, id...)
	db.writeBuf = append(db.writeBuf, vec...)
	return nil
}

// AppendVector is Append for a native float32 vector.
func (db *Database) AppendVector(id []byte, vec []float32) error {
	if uint32(len(vec)) != db.dim {
		return ErrVecLen
	}
	return db.Append(id, encodeVector(vec))
}

// Flush persists staged appends and makes them durable and visible to
// fresh opens and new cursors/searches.
func (db *Database) Flush() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.flushLocked()
}

func (db *Database) flushLocked() error {
	if db.file == nil && db.mem == nil {
		return ErrClosed
	}
	if len(db.writeBuf) == 0 {
		// Cursor.Update may have written through the mapping without syncing.
		if db.mapped != nil {
			if err := db.mapped.Flush(); err != nil {
				return ioErrorf("msync", err)
			}
		}
		return nil
	}

	if db.mem != nil {
		db.mem = append(db.mem, db.writeBuf...)
		db.dataLen += int64(len(db.writeBuf))
		db.writeBuf = db.writeBuf[:0]
		return nil
	}

	off := HeaderSize + db.dataLen
	if _, err := db.file.WriteAt(db.writeBuf, off); err != nil {
		return ioErrorf("write", err)
	}
	if err := db.file.Sync(); err != nil {
		return ioErrorf("sync", err)
	}

	newDataLen := db.dataLen + int64(len(db.writeBuf))
	if db.mapped != nil {
		if err := db.mapped.Unmap(); err != nil {
			return ioErrorf("munmap", err)
		}
	}
	mapped, err := mapFile(db.file, db.mode != ModeRead, HeaderSize+newDataLen)
	if err != nil {
		return err
	}
	db.mapped = mapped
	db.dataLen = newDataLen
	db.writeBuf = db.writeBuf[:0]

	db.logger.Debug("flushed", zap.String("path", db.path), zap.Int64("data_bytes", db.dataLen))
	return nil
}

// Cursor returns a new scan cursor positioned at the start of the record
// region. The cursor's visible length is fixed at creation time: records
// appended afterward are invisible to it.
func (db *Database) Cursor() (*Cursor, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.file == nil && db.mem == nil {
		return nil, ErrClosed
	}
	return &Cursor{
		db:      db,
		pos:     HeaderSize,
		limit:   HeaderSize + db.dataLen,
		lastPos: -1,
	}, nil
}

// Close flushes any pending writes (on a writable handle), releases OS
// resources, and is idempotent.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.file == nil && db.mem == nil {
		return nil
	}

	var flushErr error
	if db.mode != ModeRead {
		flushErr = db.flushLocked()
	}

	var unmapErr, closeErr, unlockErr error
	if db.mapped != nil {
		unmapErr = db.mapped.Unmap()
		db.mapped = nil
	}
	if db.lock != nil {
		unlockErr = db.lock.Unlock()
	}
	if db.file != nil {
		closeErr = db.file.Close()
	}

	db.file = nil
	db.mem = nil

	for _, err := range []error{flushErr, unmapErr, closeErr, unlockErr} {
		if err != nil {
			return err
		}
	}
	return nil
}

// byteWindow returns the record-region bytes up to end (a HeaderSize-relative
// absolute offset), clamped to whatever is actually backing the database.
// Must be called with db.mu held.
func (db *Database) byteWindow(end int64) []byte {
	if db.mem != nil {
		if end > int64(len(db.mem)) {
			end = int64(len(db.mem))
		}
		if end < HeaderSize {
			return nil
		}
		return db.mem[HeaderSize:end]
	}
	if db.mapped != nil {
		if end > int64(len(db.mapped)) {
			end = int64(len(db.mapped))
		}
		if end < HeaderSize {
			return nil
		}
		return db.mapped[HeaderSize:end]
	}
	return nil
}

// Stats is a read-only diagnostic snapshot of a database.
type Stats struct {
	Records         int64
	Dimension       uint32
	FileSize        int64
	TruncatedAtOpen int64
	CacheLen        int
}

// Stats returns a diagnostic snapshot, generalizing the teacher's loose
// map[string]interface{} into a typed struct for Go callers (the cgo shim
// re-flattens it to JSON for C callers).
func (db *Database) Stats() Stats {
	db.mu.Lock()
	defer db.mu.Unlock()

	var n int64
	if db.rec > 0 {
		n = db.dataLen / db.rec
	}
	return Stats{
		Records:         n,
		Dimension:       db.dim,
		FileSize:        HeaderSize + db.dataLen,
		TruncatedAtOpen: db.truncated,
		CacheLen:        db.cache.Len(),
	}
}
