package pagecache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrame_WriteUnlockInvalidatesReaders(t *testing.T) {
	var f frame
	stamp := f.tryOptimisticRead()
	require.True(t, f.validateRead(stamp))

	require.True(t, f.tryWriteLock())
	require.False(t, f.validateRead(stamp), "a held write lock fails validation")
	require.False(t, f.tryWriteLock(), "writers serialise")
	require.False(t, f.tryExclusiveLock())
	require.False(t, f.tryFlushLock())

	f.unlockWrite()
	require.False(t, f.validateRead(stamp), "the sequence moved on")
	require.True(t, f.isModified())

	stamp = f.tryOptimisticRead()
	require.True(t, f.validateRead(stamp))
}

func TestFrame_FlushLockClearsModifiedOnlyOnSuccess(t *testing.T) {
	var f frame
	f.writeLock()
	f.unlockWrite()
	stamp := f.tryOptimisticRead()

	require.True(t, f.tryFlushLock())
	require.False(t, f.tryWriteLock(), "write-back excludes writers")
	require.True(t, f.validateRead(stamp), "write-back does not disturb readers")
	f.unlockFlush(false)
	require.True(t, f.isModified())

	require.True(t, f.tryFlushLock())
	f.unlockFlush(true)
	require.False(t, f.isModified())
}

func TestFrame_ExclusiveLock(t *testing.T) {
	var f frame
	stamp := f.tryOptimisticRead()
	require.True(t, f.tryExclusiveLock())
	require.True(t, f.isExclusivelyLocked())
	require.False(t, f.validateRead(stamp))
	require.False(t, f.tryExclusiveLock())
	f.unlockExclusive()
	require.False(t, f.isExclusivelyLocked())
	require.False(t, f.validateRead(stamp), "a refault may have replaced the contents")
	require.False(t, f.isModified())
}

func TestFrame_PinsAndUsage(t *testing.T) {
	var f frame
	f.pin()
	f.pin()
	require.Equal(t, uint32(1), f.usage.Load())
	require.False(t, f.unpin())
	require.True(t, f.unpin())
}

func TestTranslationTable(t *testing.T) {
	tt := newTranslationTable(5)
	require.Len(t, tt.stripes, 8, "stripes round up to a power of two")

	idx, ok := tt.putIfAbsent(42, 3)
	require.True(t, ok)
	require.Equal(t, int32(3), idx)

	idx, ok = tt.putIfAbsent(42, 7)
	require.False(t, ok)
	require.Equal(t, int32(3), idx, "the first installer wins")

	got, ok := tt.get(42)
	require.True(t, ok)
	require.Equal(t, int32(3), got)

	require.False(t, tt.removeIf(42, 7), "a stale frame index does not remove the entry")
	require.True(t, tt.removeIf(42, 3))
	_, ok = tt.get(42)
	require.False(t, ok)

	for i := int64(0); i < 100; i++ {
		tt.putIfAbsent(i, int32(i))
	}
	require.Equal(t, 100, tt.len())
	seen := make(map[int64]int32)
	for _, e := range tt.entries() {
		seen[e.pageID] = e.frame
	}
	require.Len(t, seen, 100)
	require.Equal(t, int32(99), seen[99])
}
