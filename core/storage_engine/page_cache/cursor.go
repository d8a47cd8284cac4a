package pagecache

import "fmt"

// PageCursor reads and writes the pages of one PagedFile. A cursor is owned
// by a single goroutine and pins at most one page at a time.
//
// Offsets are logical: offset 0 is the first byte after the reserved header.
// Accesses that fall outside [0, PayloadSize) do nothing and set a sticky
// bounds flag that callers check with CheckAndClearBoundsFlag.
//
// A read cursor never blocks writers. After reading a page the caller must
// call ShouldRetry and redo the whole read when it returns true.
//
// Page accessors panic on misuse: reading or writing through a cursor that
// is closed or not yet on a page, or writing through a read cursor. Methods
// that already return an error report ErrCursorClosed instead. Close is one
// of them so that a deferred Close after an explicit one is harmless.
type PageCursor struct {
	file    *PagedFile
	table   *frameTable
	flags   PFFlags
	write   bool
	cctx    *CursorContext
	tracing bool

	nextPageID int64
	pageID     int64
	frame      *frame
	page       []byte // payload of the pinned frame
	stamp      uint64
	offset     int

	outOfBounds bool
	cursorErr   error
	closed      bool

	linked *PageCursor
}

func newPageCursor(pf *PagedFile, pageID int64, flags PFFlags, cctx *CursorContext) *PageCursor {
	return &PageCursor{
		file:       pf,
		table:      pf.table,
		flags:      flags,
		write:      flags&PFSharedWriteLock != 0,
		cctx:       cctx,
		tracing:    cctx != nil && cctx.tracing,
		nextPageID: pageID,
		pageID:     UnboundPageID,
	}
}

// Next moves the cursor to the page after the current one, or to the page
// given to Io on the first call. It returns false when a read cursor, or a
// write cursor opened with PFNoGrow, runs past the end of the file.
func (c *PageCursor) Next() (bool, error) {
	if c.closed {
		return false, ErrCursorClosed
	}
	return c.moveTo(c.nextPageID)
}

// NextPage moves the cursor to pageID. Write cursors extend the file as
// needed unless opened with PFNoGrow.
func (c *PageCursor) NextPage(pageID int64) (bool, error) {
	if c.closed {
		return false, ErrCursorClosed
	}
	if pageID < 0 {
		return false, fmt.Errorf("%w: %d", ErrInvalidPageID, pageID)
	}
	return c.moveTo(pageID)
}

func (c *PageCursor) moveTo(pageID int64) (bool, error) {
	c.unpinCurrent()
	if pageID > c.file.lastPageID.Load() && (!c.write || c.flags&PFNoGrow != 0) {
		return false, nil
	}
	idx, err := c.file.pin(pageID, c.cctx, c.tracing)
	if err != nil {
		return false, err
	}
	f := c.table.frame(idx)
	if c.tracing {
		c.cctx.events.Pins++
	}
	if c.write {
		f.writeLock()
		c.file.grow(pageID)
	} else {
		c.stamp = f.tryOptimisticRead()
	}
	end := c.file.pageSize
	c.frame = f
	c.page = f.data[c.file.reserved:end:end]
	c.pageID = pageID
	c.nextPageID = pageID + 1
	c.offset = 0
	return true, nil
}

func (c *PageCursor) unpinCurrent() {
	f := c.frame
	if f == nil {
		return
	}
	if c.write {
		f.unlockWrite()
	}
	c.table.unpin(f)
	if c.tracing {
		c.cctx.events.Unpins++
	}
	c.frame = nil
	c.page = nil
	c.pageID = UnboundPageID
}

// ShouldRetry reports whether a page read through this cursor, or through its
// linked cursor, may have been inconsistent. On true the offset is reset and
// the bounds flag and cursor error are cleared, ready for the read to be
// repeated. It is always false for write cursors.
func (c *PageCursor) ShouldRetry() (bool, error) {
	if c.closed {
		return false, ErrCursorClosed
	}
	retry := false
	if !c.write && c.frame != nil && !c.frame.validateRead(c.stamp) {
		retry = true
		c.stamp = c.frame.tryOptimisticRead()
	}
	if c.linked != nil && !c.linked.closed {
		linkedRetry, err := c.linked.ShouldRetry()
		if err != nil {
			return false, err
		}
		retry = retry || linkedRetry
	}
	if retry {
		c.offset = 0
		c.outOfBounds = false
		c.cursorErr = nil
		if c.tracing {
			c.cctx.events.Retries++
		}
	}
	return retry, nil
}

// CheckAndClearBoundsFlag reports whether any access since the last check,
// on this cursor or its linked cursor, was out of bounds, and clears the
// flag.
func (c *PageCursor) CheckAndClearBoundsFlag() bool {
	oob := c.outOfBounds
	c.outOfBounds = false
	if c.linked != nil && c.linked.CheckAndClearBoundsFlag() {
		oob = true
	}
	return oob
}

// RaiseOutOfBounds sets the bounds flag, for callers that detect an
// inconsistency in the data they read.
func (c *PageCursor) RaiseOutOfBounds() {
	c.outOfBounds = true
}

// SetCursorError records a decoding error to be reported after the read has
// been validated. A retry discards it.
func (c *PageCursor) SetCursorError(err error) {
	c.cursorErr = err
}

// CheckAndClearCursorError returns and clears the recorded error of this
// cursor, or else of its linked cursor.
func (c *PageCursor) CheckAndClearCursorError() error {
	err := c.cursorErr
	c.cursorErr = nil
	if c.linked != nil {
		if linkedErr := c.linked.CheckAndClearCursorError(); err == nil {
			err = linkedErr
		}
	}
	return err
}

// OpenLinkedCursor opens a second cursor on the same file with the same
// flags, positioned before pageID. The parent's ShouldRetry, bounds flag and
// cursor error cover the linked cursor, and closing the parent closes it. A
// previously linked cursor is closed.
func (c *PageCursor) OpenLinkedCursor(pageID int64) (*PageCursor, error) {
	if c.closed {
		return nil, ErrCursorClosed
	}
	if c.linked != nil && !c.linked.closed {
		_ = c.linked.Close()
	}
	lc, err := c.file.Io(pageID, c.flags, c.cctx)
	if err != nil {
		return nil, err
	}
	c.linked = lc
	return lc, nil
}

// Close unpins the current page, releasing its write lock, and closes the
// linked cursor. Closing twice returns ErrCursorClosed and has no other
// effect.
func (c *PageCursor) Close() error {
	if c.closed {
		return ErrCursorClosed
	}
	if c.linked != nil {
		if !c.linked.closed {
			_ = c.linked.Close()
		}
		c.linked = nil
	}
	c.unpinCurrent()
	c.closed = true
	c.file.cursorClosed()
	return nil
}

// CurrentPageID returns the pinned page, or UnboundPageID.
func (c *PageCursor) CurrentPageID() int64 { return c.pageID }

// CurrentFile returns the file the cursor was opened on.
func (c *PageCursor) CurrentFile() *PagedFile { return c.file }

// PayloadSize is the PayloadSize of the cursor's file.
func (c *PageCursor) PayloadSize() int { return c.file.PayloadSize() }

// IsWriteLocked reports whether the cursor was opened with PFSharedWriteLock.
func (c *PageCursor) IsWriteLocked() bool { return c.write }

// Offset is the implicit offset used by accessors without an At suffix.
func (c *PageCursor) Offset() int { return c.offset }

// SetOffset moves the implicit offset. It is not checked until the next
// access.
func (c *PageCursor) SetOffset(offset int) { c.offset = offset }

// Rewind moves the implicit offset back to 0.
func (c *PageCursor) Rewind() { c.offset = 0 }

// window returns page[offset:offset+size], or nil after setting the bounds
// flag. A cursor without a pinned page panics.
func (c *PageCursor) window(offset, size int) []byte {
	if c.page == nil {
		c.misuse()
	}
	if offset < 0 || size < 0 || offset > len(c.page)-size {
		c.outOfBounds = true
		return nil
	}
	return c.page[offset : offset+size]
}

func (c *PageCursor) misuse() {
	if c.closed {
		panic(ErrCursorClosed)
	}
	panic(ErrCursorNotBound)
}

func (c *PageCursor) requireWritable() {
	if !c.write {
		panic(ErrCursorNotWritable)
	}
}
