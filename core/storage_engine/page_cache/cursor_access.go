package pagecache

import "encoding/binary"

// Multi-byte values are stored big-endian. Every accessor comes in an
// explicit-offset form (...At) and an implicit form that uses and then
// advances the cursor offset, whether or not the access was in bounds.
// Out-of-bounds reads return 0 and out-of-bounds writes are discarded.

// GetByteAt returns the byte at offset.
func (c *PageCursor) GetByteAt(offset int) byte {
	if b := c.window(offset, 1); b != nil {
		return b[0]
	}
	return 0
}

// GetByte returns the byte at the cursor offset and advances it by 1.
func (c *PageCursor) GetByte() byte {
	v := c.GetByteAt(c.offset)
	c.offset++
	return v
}

// PutByteAt stores v at offset.
func (c *PageCursor) PutByteAt(offset int, v byte) {
	c.requireWritable()
	if b := c.window(offset, 1); b != nil {
		b[0] = v
	}
}

// PutByte stores v at the cursor offset and advances it by 1.
func (c *PageCursor) PutByte(v byte) {
	c.PutByteAt(c.offset, v)
	c.offset++
}

// GetShortAt returns the int16 at offset.
func (c *PageCursor) GetShortAt(offset int) int16 {
	if b := c.window(offset, 2); b != nil {
		return int16(binary.BigEndian.Uint16(b))
	}
	return 0
}

// GetShort returns the int16 at the cursor offset and advances it by 2.
func (c *PageCursor) GetShort() int16 {
	v := c.GetShortAt(c.offset)
	c.offset += 2
	return v
}

// PutShortAt stores v at offset.
func (c *PageCursor) PutShortAt(offset int, v int16) {
	c.requireWritable()
	if b := c.window(offset, 2); b != nil {
		binary.BigEndian.PutUint16(b, uint16(v))
	}
}

// PutShort stores v at the cursor offset and advances it by 2.
func (c *PageCursor) PutShort(v int16) {
	c.PutShortAt(c.offset, v)
	c.offset += 2
}

// GetIntAt returns the int32 at offset.
func (c *PageCursor) GetIntAt(offset int) int32 {
	if b := c.window(offset, 4); b != nil {
		return int32(binary.BigEndian.Uint32(b))
	}
	return 0
}

// GetInt returns the int32 at the cursor offset and advances it by 4.
func (c *PageCursor) GetInt() int32 {
	v := c.GetIntAt(c.offset)
	c.offset += 4
	return v
}

// PutIntAt stores v at offset.
func (c *PageCursor) PutIntAt(offset int, v int32) {
	c.requireWritable()
	if b := c.window(offset, 4); b != nil {
		binary.BigEndian.PutUint32(b, uint32(v))
	}
}

// PutInt stores v at the cursor offset and advances it by 4.
func (c *PageCursor) PutInt(v int32) {
	c.PutIntAt(c.offset, v)
	c.offset += 4
}

// GetLongAt returns the int64 at offset.
func (c *PageCursor) GetLongAt(offset int) int64 {
	if b := c.window(offset, 8); b != nil {
		return int64(binary.BigEndian.Uint64(b))
	}
	return 0
}

// GetLong returns the int64 at the cursor offset and advances it by 8.
func (c *PageCursor) GetLong() int64 {
	v := c.GetLongAt(c.offset)
	c.offset += 8
	return v
}

// PutLongAt stores v at offset.
func (c *PageCursor) PutLongAt(offset int, v int64) {
	c.requireWritable()
	if b := c.window(offset, 8); b != nil {
		binary.BigEndian.PutUint64(b, uint64(v))
	}
}

// PutLong stores v at the cursor offset and advances it by 8.
func (c *PageCursor) PutLong(v int64) {
	c.PutLongAt(c.offset, v)
	c.offset += 8
}

// GetBytesAt fills dst from offset. If the range is out of bounds dst is left
// untouched.
func (c *PageCursor) GetBytesAt(offset int, dst []byte) {
	if b := c.window(offset, len(dst)); b != nil {
		copy(dst, b)
	}
}

// GetBytes fills dst from the cursor offset and advances it by len(dst).
func (c *PageCursor) GetBytes(dst []byte) {
	c.GetBytesAt(c.offset, dst)
	c.offset += len(dst)
}

// PutBytesAt copies src to offset. Nothing is written if any of it falls
// out of bounds.
func (c *PageCursor) PutBytesAt(offset int, src []byte) {
	c.requireWritable()
	if b := c.window(offset, len(src)); b != nil {
		copy(b, src)
	}
}

// PutBytes copies src to the cursor offset and advances it by len(src).
func (c *PageCursor) PutBytes(src []byte) {
	c.PutBytesAt(c.offset, src)
	c.offset += len(src)
}

// PutBytesRepeatedAt writes count copies of v starting at offset.
func (c *PageCursor) PutBytesRepeatedAt(offset, count int, v byte) {
	c.requireWritable()
	b := c.window(offset, count)
	for i := range b {
		b[i] = v
	}
}

// PutBytesRepeated writes count copies of v at the cursor offset and
// advances it by count.
func (c *PageCursor) PutBytesRepeated(count int, v byte) {
	c.PutBytesRepeatedAt(c.offset, count, v)
	c.offset += count
}
