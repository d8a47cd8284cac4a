package pagecache

// CopyTo copies up to length payload bytes from sourceOffset of this cursor
// to targetOffset of target, which must be a write cursor. The copy is cut
// short at the end of either payload; the number of bytes copied is
// returned. Negative arguments or offsets past the end set the bounds flag.
func (c *PageCursor) CopyTo(sourceOffset int, target *PageCursor, targetOffset, length int) int {
	if c.page == nil {
		c.misuse()
	}
	if target.page == nil {
		target.misuse()
	}
	target.requireWritable()
	if sourceOffset < 0 || targetOffset < 0 || length < 0 ||
		sourceOffset > len(c.page) || targetOffset > len(target.page) {
		c.outOfBounds = true
		return 0
	}
	n := min(length, len(c.page)-sourceOffset, len(target.page)-targetOffset)
	copy(target.page[targetOffset:targetOffset+n], c.page[sourceOffset:sourceOffset+n])
	return n
}

// CopyPage copies this cursor's payload to target's payload. Reserved header
// bytes are never copied. It returns the number of bytes copied.
func (c *PageCursor) CopyPage(target *PageCursor) int {
	if c.page == nil {
		c.misuse()
	}
	if target.page == nil {
		target.misuse()
	}
	target.requireWritable()
	return copy(target.page, c.page)
}

// CopyToBuffer copies payload bytes from sourceOffset into buf and returns
// how many were copied.
func (c *PageCursor) CopyToBuffer(sourceOffset int, buf []byte) int {
	if c.page == nil {
		c.misuse()
	}
	if sourceOffset < 0 || sourceOffset > len(c.page) {
		c.outOfBounds = true
		return 0
	}
	return copy(buf, c.page[sourceOffset:])
}

// ShiftBytes moves length bytes at sourceOffset by shift bytes, toward higher
// offsets when shift is positive. Source and destination may overlap. Both
// ranges must lie within the payload, otherwise nothing moves and the bounds
// flag is set.
func (c *PageCursor) ShiftBytes(sourceOffset, length, shift int) {
	c.requireWritable()
	src := c.window(sourceOffset, length)
	dst := c.window(sourceOffset+shift, length)
	if src == nil || dst == nil {
		c.outOfBounds = true
		return
	}
	copy(dst, src)
}

// ZapPage zero-fills the payload. The reserved header is left alone.
func (c *PageCursor) ZapPage() {
	c.requireWritable()
	if c.page == nil {
		c.misuse()
	}
	clear(c.page)
}
