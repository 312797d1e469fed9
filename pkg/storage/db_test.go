package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testOpts() OpenOptions {
	return OpenOptions{CacheSize: 16, DisableLock: true}
}

func TestOpen_CreatesHeaderAndIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.embd")
	db, err := OpenWithOptions(path, 4, ModeAppend, testOpts())
	require.NoError(t, err)
	defer db.Close()

	require.Equal(t, uint32(4), db.Dim())
	require.Equal(t, int64(0), db.Truncated())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, HeaderSize)

	h := DecodeHeader(raw)
	require.Equal(t, MagicBytes, string(h.Magic[:]))
	require.Equal(t, uint32(4), h.Dim)
}

func TestOpen_ExistingFile_DimMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.embd")
	db, err := OpenWithOptions(path, 4, ModeAppend, testOpts())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = OpenWithOptions(path, 8, ModeAppend, testOpts())
	require.ErrorIs(t, err, ErrDimMismatch)
}

func TestOpen_MissingFile_ReadMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.embd")
	_, err := OpenWithOptions(path, 4, ModeRead, testOpts())
	require.Error(t, err)
}

func TestAppend_ValidatesIDAndVectorLength(t *testing.T) {
	db, err := OpenWithOptions(TempPath, 4, ModeMemory, testOpts())
	require.NoError(t, err)
	defer db.Close()

	require.ErrorIs(t, db.Append(make([]byte, 15), make([]byte, 16)), ErrIDLen)
	require.ErrorIs(t, db.Append(make([]byte, 16), make([]byte, 12)), ErrVecLen)
	require.ErrorIs(t, db.AppendVector(make([]byte, 16), make([]float32, 3)), ErrVecLen)
}

func TestAppend_ReadonlyRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.embd")
	db, err := OpenWithOptions(path, 4, ModeAppend, testOpts())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	ro, err := OpenWithOptions(path, 4, ModeRead, testOpts())
	require.NoError(t, err)
	defer ro.Close()

	err = ro.Append(make([]byte, 16), encodeVector([]float32{1, 2, 3, 4}))
	require.ErrorIs(t, err, ErrReadonly)
}

func TestAppend_ClosedRejected(t *testing.T) {
	db, err := OpenWithOptions(TempPath, 4, ModeMemory, testOpts())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	err = db.Append(make([]byte, 16), make([]byte, 16))
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, db.Close()) // idempotent
}

func TestFlush_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.embd")
	db, err := OpenWithOptions(path, 4, ModeAppend, testOpts())
	require.NoError(t, err)

	id := make([]byte, IDLen)
	id[0] = 0x01
	vec := []float32{1, 2, 3, 4}
	require.NoError(t, db.AppendVector(id, vec))
	require.NoError(t, db.Flush())
	require.NoError(t, db.Close())

	reopened, err := OpenWithOptions(path, 4, ModeRead, testOpts())
	require.NoError(t, err)
	defer reopened.Close()

	cur, err := reopened.Cursor()
	require.NoError(t, err)
	gotID, gotVec, ok, err := cur.Read()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, gotID)
	require.Equal(t, vec, decodeVector(gotVec))

	_, _, ok, err = cur.Read()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFlush_NoPendingWritesIsNoop(t *testing.T) {
	db, err := OpenWithOptions(TempPath, 4, ModeMemory, testOpts())
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Flush())
	require.NoError(t, db.Flush())
}

func TestCrashRecovery_TruncatesTrailingPartialRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.embd")
	db, err := OpenWithOptions(path, 4, ModeAppend, testOpts())
	require.NoError(t, err)

	id := make([]byte, IDLen)
	id[0] = 0xAA
	require.NoError(t, db.AppendVector(id, []float32{1, 2, 3, 4}))
	require.NoError(t, db.Flush())
	require.NoError(t, db.Close())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write(make([]byte, 10)) // less than one full record (32 bytes)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	recovered, err := OpenWithOptions(path, 4, ModeAppend, testOpts())
	require.NoError(t, err)
	defer recovered.Close()

	require.Equal(t, int64(10), recovered.Truncated())
	require.Equal(t, int64(1), recovered.Stats().Records)
}

func TestClose_Idempotent(t *testing.T) {
	db, err := OpenWithOptions(TempPath, 4, ModeMemory, testOpts())
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
}

func TestStats_ReflectsAppendedRecords(t *testing.T) {
	db, err := OpenWithOptions(TempPath, 4, ModeMemory, testOpts())
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 3; i++ {
		id := make([]byte, IDLen)
		id[0] = byte(i + 1)
		require.NoError(t, db.AppendVector(id, []float32{1, 2, 3, 4}))
	}
	require.NoError(t, db.Flush())

	stats := db.Stats()
	require.Equal(t, int64(3), stats.Records)
	require.Equal(t, uint32(4), stats.Dimension)
	require.Equal(t, HeaderSize+3*recordSize(4), stats.FileSize)
}

func TestOpen_WriteLockConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.embd")
	opts := OpenOptions{CacheSize: 16}

	db1, err := OpenWithOptions(path, 4, ModeAppend, opts)
	require.NoError(t, err)
	defer db1.Close()

	_, err = OpenWithOptions(path, 4, ModeAppend, opts)
	require.True(t, errors.Is(err, ErrLocked))
}
