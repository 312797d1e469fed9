package storage

// Cursor is a linear scan position over a Database's record region, with
// optional in-place replacement of the most recently read record. A Cursor
// borrows its Database; it does not own the file. Its visible length is a
// snapshot taken at Cursor creation: records appended to the database after
// that point are not observed by this cursor, even across a Reset.
type Cursor struct {
	db      *Database
	pos     int64 // absolute offset of the next record to read
	limit   int64 // absolute offset one past the last visible record
	lastPos int64 // absolute offset of the last record returned by Read, -1 if none
	closed  bool
}

// Reset rewinds the cursor to the start of its visible region.
func (c *Cursor) Reset() {
	c.pos = HeaderSize
	c.lastPos = -1
}

// Read returns the next (id, vec) pair in insertion order, advancing the
// cursor. ok is false once the visible region is exhausted; err is non-nil
// only when the cursor or its database is closed (ErrClosed) or the backing
// bytes are shorter than the visible region (ErrCorrupt).
func (c *Cursor) Read() (id []byte, vec []byte, ok bool, err error) {
	if c.closed {
		return nil, nil, false, ErrClosed
	}
	db := c.db
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.file == nil && db.mem == nil {
		return nil, nil, false, ErrClosed
	}
	if c.pos+db.rec > c.limit {
		return nil, nil, false, nil
	}

	window := db.byteWindow(c.limit)
	rel := c.pos - HeaderSize
	if window == nil || rel+db.rec > int64(len(window)) {
		return nil, nil, false, ErrCorrupt
	}

	rec := window[rel : rel+db.rec]
	id = append([]byte(nil), rec[:IDLen]...)
	vec = append([]byte(nil), rec[IDLen:]...)

	c.lastPos = c.pos
	c.pos += db.rec
	return id, vec, true, nil
}

// Update overwrites the record most recently returned by Read. It requires
// a prior successful Read since the last Reset. If flush is true, the
// write is synced to disk before Update returns; otherwise durability is
// deferred to the database's next Flush or Close.
func (c *Cursor) Update(id, vec []byte, flush bool) error {
	if c.closed {
		return ErrClosed
	}
	db := c.db
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.file == nil && db.mem == nil {
		return ErrClosed
	}
	if db.mode == ModeRead {
		return ErrReadonly
	}
	if c.lastPos < 0 {
		return ErrNoCurrent
	}
	if len(id) != IDLen {
		return ErrIDLen
	}
	if int64(len(vec)) != 4*int64(db.dim) {
		return ErrVecLen
	}

	rel := c.lastPos - HeaderSize
	if db.mem != nil {
		copy(db.mem[HeaderSize+rel:HeaderSize+rel+IDLen], id)
		copy(db.mem[HeaderSize+rel+IDLen:HeaderSize+rel+db.rec], vec)
	} else if db.mapped != nil {
		copy(db.mapped[HeaderSize+rel:HeaderSize+rel+IDLen], id)
		copy(db.mapped[HeaderSize+rel+IDLen:HeaderSize+rel+db.rec], vec)
		if flush {
			if err := db.mapped.Flush(); err != nil {
				return ioErrorf("msync", err)
			}
		}
	} else {
		return ErrCorrupt
	}

	db.cache.Invalidate(c.lastPos)
	return nil
}

// Close releases cursor-local state. It never touches the database itself.
func (c *Cursor) Close() error {
	c.closed = true
	return nil
}
