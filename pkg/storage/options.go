package storage

import "go.uber.org/zap"

// Mode selects how Open treats the underlying path.
type Mode int

const (
	// ModeRead opens an existing file read-only. The path must exist.
	ModeRead Mode = iota
	// ModeAppend opens for append+read, creating the file if it is missing.
	ModeAppend
	// ModeMemory is ephemeral: records live only in process memory, never
	// touching disk. Equivalent to passing the ":temp:" sentinel path.
	ModeMemory
)

// TempPath is the sentinel path that forces an ephemeral in-memory
// database regardless of the requested Mode.
const TempPath = ":temp:"

// OpenOptions tunes non-contractual behavior of Open. The zero value is a
// reasonable default for every field.
type OpenOptions struct {
	// CacheSize bounds the decode cache (recently-scanned records, keyed by
	// file offset). 0 disables the cache entirely. Negative defaults to 100.
	CacheSize int

	// DisableLock skips the advisory cross-process flock taken on writable
	// opens. Tests set it; the in-memory sentinel path never locks either way.
	DisableLock bool

	// Logger receives structured diagnostics (flush, remap, crash-recovery
	// truncation). Defaults to a no-op logger.
	Logger *zap.Logger
}

func (o OpenOptions) normalize() OpenOptions {
	if o.CacheSize < 0 {
		o.CacheSize = 100
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
