package pagecache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPageCursor_PayloadIsolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "isolated.db")
	c, err := New(Config{MaxPages: 4, PageSize: 1024, Logger: zap.NewNop()})
	require.NoError(t, err)
	defer c.Close()
	pf := mapFile(t, c, path, 1024, WithReservedBytes(8))
	require.Equal(t, 1016, pf.PayloadSize())

	w := openAt(t, pf, 0, PFSharedWriteLock)
	w.PutIntAt(0, 0x01020304)
	require.False(t, w.CheckAndClearBoundsFlag())
	require.NoError(t, w.Close())
	require.NoError(t, pf.Flush())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, 1024)
	require.Equal(t, make([]byte, 8), raw[:8], "reserved header untouched")
	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, raw[8:12])

	r := openAt(t, pf, 0, PFSharedReadLock)
	require.Equal(t, int32(0x01020304), r.GetIntAt(0))
	require.Equal(t, byte(0x01), r.GetByteAt(0))
	retry, err := r.ShouldRetry()
	require.NoError(t, err)
	require.False(t, retry)
	require.NoError(t, r.Close())
}

func TestPageCursor_IntRoundTrip(t *testing.T) {
	for _, reserved := range []int{0, 8, ReservedBytesMultiVersion} {
		c, _ := newTestCache(t, 2, 1024)
		pf := mapFile(t, c, "ints.db", 1024, WithReservedBytes(reserved))
		payload := pf.PayloadSize()

		w := openAt(t, pf, 0, PFSharedWriteLock)
		written := 0
		for w.Offset()+4 <= payload {
			w.PutInt(int32(written*7 - 3))
			written++
		}
		require.Equal(t, payload/4, written, "reserved %d", reserved)
		require.False(t, w.CheckAndClearBoundsFlag())
		w.PutInt(1)
		require.True(t, w.CheckAndClearBoundsFlag(), "one past the end")
		require.NoError(t, w.Close())

		r := openAt(t, pf, 0, PFSharedReadLock)
		for i := 0; i < written; i++ {
			require.Equal(t, int32(i*7-3), r.GetInt())
		}
		require.False(t, r.CheckAndClearBoundsFlag())
		require.NoError(t, r.Close())
		require.NoError(t, pf.Close())
	}
}

func TestPageCursor_LongRoundTrip(t *testing.T) {
	for _, reserved := range []int{0, 8, ReservedBytesMultiVersion} {
		c, _ := newTestCache(t, 2, 1024)
		pf := mapFile(t, c, "longs.db", 1024, WithReservedBytes(reserved))
		payload := pf.PayloadSize()

		w := openAt(t, pf, 0, PFSharedWriteLock)
		written := 0
		for w.Offset()+8 <= payload {
			w.PutLong(int64(written)<<40 | int64(written))
			written++
		}
		require.Equal(t, payload/8, written, "reserved %d", reserved)
		require.False(t, w.CheckAndClearBoundsFlag())
		require.NoError(t, w.Close())

		r := openAt(t, pf, 0, PFSharedReadLock)
		for i := 0; i < written; i++ {
			require.Equal(t, int64(i)<<40|int64(i), r.GetLong())
		}
		require.False(t, r.CheckAndClearBoundsFlag())
		require.NoError(t, r.Close())
		require.NoError(t, pf.Close())
	}
}

func TestPageCursor_ByteAndShortRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, 2, 256)
	pf := mapFile(t, c, "small.db", 0, WithReservedBytes(6))

	w := openAt(t, pf, 0, PFSharedWriteLock)
	w.PutByte(0x7F)
	w.PutShort(-2)
	w.PutBytes([]byte("graph"))
	w.PutBytesRepeated(3, 0xEE)
	require.Equal(t, 1+2+5+3, w.Offset())
	require.NoError(t, w.Close())

	r := openAt(t, pf, 0, PFSharedReadLock)
	require.Equal(t, byte(0x7F), r.GetByte())
	require.Equal(t, int16(-2), r.GetShort())
	name := make([]byte, 5)
	r.GetBytes(name)
	require.Equal(t, "graph", string(name))
	fill := make([]byte, 3)
	r.GetBytesAt(8, fill)
	require.Equal(t, []byte{0xEE, 0xEE, 0xEE}, fill)
	r.Rewind()
	require.Equal(t, 0, r.Offset())
	require.Equal(t, int16(0x7FFF), r.GetShort())
	require.False(t, r.CheckAndClearBoundsFlag())
	require.NoError(t, r.Close())
}

func TestPageCursor_OutOfBoundsFlag(t *testing.T) {
	c, _ := newTestCache(t, 2, 512)
	pf := mapFile(t, c, "bounds.db", 0, WithReservedBytes(16))
	payload := pf.PayloadSize()

	cases := []struct {
		name   string
		offset int
		size   int
	}{
		{"at payload size", payload, 1},
		{"past payload size", payload + 5, 1},
		{"minus one", -1, 1},
		{"far negative", -100, 4},
		{"int crossing the end", payload - 2, 4},
		{"long crossing the end", payload - 7, 8},
		{"long at payload size", payload, 8},
	}

	w := openAt(t, pf, 0, PFSharedWriteLock)
	defer w.Close()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w.PutLongAt(0, 111)
			w.PutLongAt(payload-8, 222)
			require.False(t, w.CheckAndClearBoundsFlag())

			switch tc.size {
			case 1:
				w.PutByteAt(tc.offset, 0x55)
				require.True(t, w.CheckAndClearBoundsFlag())
				require.Equal(t, byte(0), w.GetByteAt(tc.offset))
			case 4:
				w.PutIntAt(tc.offset, 0x55555555)
				require.True(t, w.CheckAndClearBoundsFlag())
				require.Equal(t, int32(0), w.GetIntAt(tc.offset))
			case 8:
				w.PutLongAt(tc.offset, 0x5555555555555555)
				require.True(t, w.CheckAndClearBoundsFlag())
				require.Equal(t, int64(0), w.GetLongAt(tc.offset))
			}
			require.True(t, w.CheckAndClearBoundsFlag(), "the read sets the flag too")
			require.False(t, w.CheckAndClearBoundsFlag(), "cleared exactly once")

			require.Equal(t, int64(111), w.GetLongAt(0))
			require.Equal(t, int64(222), w.GetLongAt(payload-8))
			require.False(t, w.CheckAndClearBoundsFlag())
		})
	}

	// Implicit accessors still advance past a bad access.
	w.SetOffset(payload - 4)
	require.Equal(t, int64(0), w.GetLong())
	require.Equal(t, payload+4, w.Offset())
	require.True(t, w.CheckAndClearBoundsFlag())

	w.PutBytesAt(payload-2, []byte{1, 2, 3})
	require.True(t, w.CheckAndClearBoundsFlag())
	w.PutBytesRepeatedAt(-1, 2, 9)
	require.True(t, w.CheckAndClearBoundsFlag())
	require.Equal(t, 0, w.CopyToBuffer(-3, make([]byte, 4)))
	require.True(t, w.CheckAndClearBoundsFlag())
	require.Equal(t, 4, w.CopyToBuffer(payload-4, make([]byte, 16)))
	require.False(t, w.CheckAndClearBoundsFlag())

	w.RaiseOutOfBounds()
	require.True(t, w.CheckAndClearBoundsFlag())
}

func TestPageCursor_ShiftBytes(t *testing.T) {
	c, _ := newTestCache(t, 2, 256)
	pf := mapFile(t, c, "shift.db", 0, WithReservedBytes(8))
	payload := pf.PayloadSize()

	w := openAt(t, pf, 0, PFSharedWriteLock)
	defer w.Close()
	values := []int32{0x11111111, 0x22222222, 0x33333333, 0x44444444}
	for i, v := range values {
		w.PutIntAt(i*4, v)
	}

	w.ShiftBytes(0, 16, 4)
	require.False(t, w.CheckAndClearBoundsFlag())
	for i, v := range values {
		require.Equal(t, v, w.GetIntAt(4+i*4))
	}

	w.ShiftBytes(4, 16, -4)
	require.False(t, w.CheckAndClearBoundsFlag())
	for i, v := range values {
		require.Equal(t, v, w.GetIntAt(i*4))
	}

	// Shifts that leave the payload move nothing.
	w.PutLongAt(payload-8, 77)
	w.ShiftBytes(payload-8, 8, 4)
	require.True(t, w.CheckAndClearBoundsFlag())
	w.ShiftBytes(0, 8, -1)
	require.True(t, w.CheckAndClearBoundsFlag())
	w.ShiftBytes(0, -1, 4)
	require.True(t, w.CheckAndClearBoundsFlag())
	require.Equal(t, int64(77), w.GetLongAt(payload-8))
	require.Equal(t, values[0], w.GetIntAt(0))
}

func TestPageCursor_CopyPageKeepsReservedBytes(t *testing.T) {
	const pageSize, reserved = 256, 8
	c, factory := newTestCache(t, 4, pageSize)

	// Lay down reserved headers the way the format above the cache would.
	raw, err := factory.Create("copy.db", pageSize)
	require.NoError(t, err)
	src := bytes.Repeat([]byte{0xAA}, pageSize)
	for i := reserved; i < pageSize; i++ {
		src[i] = byte(i)
	}
	dst := bytes.Repeat([]byte{0xBB}, pageSize)
	_, err = raw.Write(0, src)
	require.NoError(t, err)
	_, err = raw.Write(1, dst)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	pf := mapFile(t, c, "copy.db", pageSize, WithReservedBytes(reserved))
	r := openAt(t, pf, 0, PFSharedReadLock)
	w := openAt(t, pf, 1, PFSharedWriteLock)
	require.Equal(t, pageSize-reserved, r.CopyPage(w))

	retry, err := r.ShouldRetry()
	require.NoError(t, err)
	require.False(t, retry)
	require.NoError(t, w.Close())
	require.NoError(t, r.Close())
	require.NoError(t, pf.Flush())

	contents, ok := factory.Contents("copy.db")
	require.True(t, ok)
	page0, page1 := contents[:pageSize], contents[pageSize:2*pageSize]
	require.Equal(t, src, page0, "source untouched")
	require.Equal(t, bytes.Repeat([]byte{0xBB}, reserved), page1[:reserved], "destination header kept")
	require.Equal(t, src[reserved:], page1[reserved:])
}

func TestPageCursor_CopyTo(t *testing.T) {
	c, _ := newTestCache(t, 4, 128)
	pf := mapFile(t, c, "copyto.db", 0)
	payload := pf.PayloadSize()

	a := openAt(t, pf, 0, PFSharedWriteLock)
	b := openAt(t, pf, 1, PFSharedWriteLock)
	for i := 0; i < payload; i++ {
		a.PutByteAt(i, byte(i))
	}

	require.Equal(t, 10, a.CopyTo(5, b, 20, 10))
	got := make([]byte, 10)
	b.GetBytesAt(20, got)
	require.Equal(t, []byte{5, 6, 7, 8, 9, 10, 11, 12, 13, 14}, got)

	// Cut short by the end of the target payload.
	require.Equal(t, 4, a.CopyTo(0, b, payload-4, 100))
	require.False(t, a.CheckAndClearBoundsFlag())

	require.Equal(t, 0, a.CopyTo(-1, b, 0, 4))
	require.True(t, a.CheckAndClearBoundsFlag())
	require.Equal(t, 0, a.CopyTo(0, b, payload+1, 4))
	require.True(t, a.CheckAndClearBoundsFlag())

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
}

func TestPageCursor_ZapPage(t *testing.T) {
	const pageSize, reserved = 128, 4
	c, factory := newTestCache(t, 2, pageSize)
	pf := mapFile(t, c, "zap.db", 0, WithReservedBytes(reserved))

	w := openAt(t, pf, 0, PFSharedWriteLock)
	w.PutBytesRepeatedAt(0, pf.PayloadSize(), 0xFF)
	w.ZapPage()
	require.NoError(t, w.Close())
	require.NoError(t, pf.Flush())

	contents, ok := factory.Contents("zap.db")
	require.True(t, ok)
	require.Equal(t, make([]byte, pageSize), contents[:pageSize])
}

func TestPageCursor_Growth(t *testing.T) {
	c, _ := newTestCache(t, 4, 128)
	pf := mapFile(t, c, "grow.db", 0)
	require.Equal(t, int64(-1), pf.LastPageID())

	r, err := pf.Io(0, PFSharedReadLock, nil)
	require.NoError(t, err)
	ok, err := r.Next()
	require.NoError(t, err)
	require.False(t, ok, "read cursors do not grow the file")
	require.Equal(t, UnboundPageID, r.CurrentPageID())
	require.NoError(t, r.Close())

	noGrow, err := pf.Io(0, PFSharedWriteLock|PFNoGrow, nil)
	require.NoError(t, err)
	ok, err = noGrow.Next()
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, noGrow.Close())

	w, err := pf.Io(0, PFSharedWriteLock, nil)
	require.NoError(t, err)
	ok, err = w.NextPage(5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(5), w.CurrentPageID())
	require.True(t, w.IsWriteLocked())
	require.NoError(t, w.Close())
	require.Equal(t, int64(5), pf.LastPageID())

	// Pages inside the file but never written read as zeros.
	r = openAt(t, pf, 3, PFSharedReadLock)
	require.Equal(t, int64(0), r.GetLongAt(0))
	require.NoError(t, r.Close())
}

func TestPageCursor_Misuse(t *testing.T) {
	c, _ := newTestCache(t, 4, 128)
	pf := mapFile(t, c, "misuse.db", 0)
	fillPage(t, pf, 0, 1)

	_, err := pf.Io(0, PFSharedReadLock|PFSharedWriteLock, nil)
	require.ErrorIs(t, err, ErrInvalidFlags)
	_, err = pf.Io(0, 0, nil)
	require.ErrorIs(t, err, ErrInvalidFlags)
	_, err = pf.Io(-1, PFSharedReadLock, nil)
	require.ErrorIs(t, err, ErrInvalidPageID)

	r, err := pf.Io(0, PFSharedReadLock, nil)
	require.NoError(t, err)
	require.PanicsWithValue(t, ErrCursorNotBound, func() { r.GetByteAt(0) })
	_, err = r.NextPage(-4)
	require.ErrorIs(t, err, ErrInvalidPageID)

	ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.PanicsWithValue(t, ErrCursorNotWritable, func() { r.PutIntAt(0, 1) })
	require.PanicsWithValue(t, ErrCursorNotWritable, func() { r.ZapPage() })

	other := openAt(t, pf, 0, PFSharedReadLock)
	require.PanicsWithValue(t, ErrCursorNotWritable, func() { r.CopyPage(other) })
	require.NoError(t, other.Close())

	require.NoError(t, r.Close())
	require.ErrorIs(t, r.Close(), ErrCursorClosed)
	pf.mu.Lock()
	require.Zero(t, pf.openCursors, "a repeated Close is not counted again")
	pf.mu.Unlock()
	require.PanicsWithValue(t, ErrCursorClosed, func() { r.GetLongAt(0) })
	_, err = r.Next()
	require.ErrorIs(t, err, ErrCursorClosed)
	_, err = r.ShouldRetry()
	require.ErrorIs(t, err, ErrCursorClosed)
	_, err = r.OpenLinkedCursor(1)
	require.ErrorIs(t, err, ErrCursorClosed)

	// Closed cursors no longer count against the file.
	require.NoError(t, pf.Close())
}

func TestPageCursor_ShouldRetryAfterConcurrentWrite(t *testing.T) {
	c, _ := newTestCache(t, 4, 128)
	pf := mapFile(t, c, "retry.db", 0)
	fillPage(t, pf, 0, 1)

	r := openAt(t, pf, 0, PFSharedReadLock)
	require.Equal(t, int64(1), r.GetLong())
	r.RaiseOutOfBounds()
	r.SetCursorError(errors.New("decoded garbage"))

	fillPage(t, pf, 0, 2)

	retry, err := r.ShouldRetry()
	require.NoError(t, err)
	require.True(t, retry)
	require.Equal(t, 0, r.Offset(), "retry rewinds")
	require.False(t, r.CheckAndClearBoundsFlag(), "retry clears the bounds flag")
	require.NoError(t, r.CheckAndClearCursorError(), "retry clears the cursor error")

	require.Equal(t, int64(2), r.GetLong())
	retry, err = r.ShouldRetry()
	require.NoError(t, err)
	require.False(t, retry)
	require.NoError(t, r.Close())
}

func TestPageCursor_LinkedCursor(t *testing.T) {
	c, _ := newTestCache(t, 4, 128)
	pf := mapFile(t, c, "linked.db", 0)
	fillPage(t, pf, 0, 1)
	fillPage(t, pf, 1, 10)

	parent := openAt(t, pf, 0, PFSharedReadLock)
	linked, err := parent.OpenLinkedCursor(1)
	require.NoError(t, err)
	ok, err := linked.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(10), linked.GetLongAt(0))
	require.False(t, linked.IsWriteLocked())

	// A write to the linked page makes the parent retry.
	fillPage(t, pf, 1, 11)
	retry, err := parent.ShouldRetry()
	require.NoError(t, err)
	require.True(t, retry)
	retry, err = parent.ShouldRetry()
	require.NoError(t, err)
	require.False(t, retry)

	linked.RaiseOutOfBounds()
	require.True(t, parent.CheckAndClearBoundsFlag())
	require.False(t, linked.CheckAndClearBoundsFlag())

	decodeErr := errors.New("bad record")
	linked.SetCursorError(decodeErr)
	require.ErrorIs(t, parent.CheckAndClearCursorError(), decodeErr)
	require.NoError(t, parent.CheckAndClearCursorError())

	// Opening another linked cursor replaces the first.
	second, err := parent.OpenLinkedCursor(0)
	require.NoError(t, err)
	require.ErrorIs(t, linked.Close(), ErrCursorClosed)

	require.NoError(t, parent.Close())
	require.ErrorIs(t, second.Close(), ErrCursorClosed)
	require.NoError(t, pf.Close(), "every cursor was released")
}
