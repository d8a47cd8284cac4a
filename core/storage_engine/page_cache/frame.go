package pagecache

import (
	"runtime"
	"sync/atomic"
	"time"
)

// Frame lock word layout:
//
//	bit 63     exclusive  (fault in progress, eviction, or sitting on the free list)
//	bit 62     write      (held by one write cursor)
//	bit 61     flush      (page is being written back)
//	bit 60     modified   (dirty since the last successful write-back)
//	bits 0-59  sequence   (version stamp, bumped on write and exclusive unlock)
const (
	exclusiveBit uint64 = 1 << 63
	writeBit     uint64 = 1 << 62
	flushBit     uint64 = 1 << 61
	modifiedBit  uint64 = 1 << 60
	seqMask      uint64 = modifiedBit - 1

	lockBits  = exclusiveBit | writeBit | flushBit
	stampBits = seqMask | writeBit | exclusiveBit
)

// frame is one slot of the frame table. Its memory is a window of the cache
// arena and never moves; the binding (file, pageID) changes on every fault.
type frame struct {
	state  atomic.Uint64
	pins   atomic.Int32
	usage  atomic.Uint32 // clock "recently used" bit
	pageID atomic.Int64
	file   atomic.Pointer[PagedFile]
	data   []byte
	_      [16]byte
}

func (f *frame) boundTo(pf *PagedFile, pageID int64) bool {
	return f.file.Load() == pf && f.pageID.Load() == pageID
}

func (f *frame) bind(pf *PagedFile, pageID int64) {
	f.pageID.Store(pageID)
	f.file.Store(pf)
}

func (f *frame) unbind() {
	f.file.Store(nil)
	f.pageID.Store(UnboundPageID)
}

func (f *frame) pin() {
	f.pins.Add(1)
	f.usage.Store(1)
}

// unpin returns true when the last pin went away.
func (f *frame) unpin() bool {
	return f.pins.Add(-1) == 0
}

func (f *frame) isModified() bool {
	return f.state.Load()&modifiedBit != 0
}

func (f *frame) isExclusivelyLocked() bool {
	return f.state.Load()&exclusiveBit != 0
}

// tryOptimisticRead returns the stamp to validate a lock-free read against.
func (f *frame) tryOptimisticRead() uint64 {
	return f.state.Load() & seqMask
}

// validateRead reports whether no write or exclusive lock was taken, or is
// still held, since stamp was obtained.
func (f *frame) validateRead(stamp uint64) bool {
	return f.state.Load()&stampBits == stamp
}

func (f *frame) tryWriteLock() bool {
	s := f.state.Load()
	return s&lockBits == 0 && f.state.CompareAndSwap(s, s|writeBit)
}

// writeLock blocks until the write lock is held. Writers serialise on the
// frame and also wait out a write-back in progress.
func (f *frame) writeLock() {
	for spins := 0; !f.tryWriteLock(); spins++ {
		backoff(spins)
	}
}

// unlockWrite releases the write lock, marks the frame modified and bumps the
// sequence so that optimistic readers retry.
func (f *frame) unlockWrite() {
	for {
		s := f.state.Load()
		next := (s &^ (writeBit | seqMask)) | modifiedBit | ((s + 1) & seqMask)
		if f.state.CompareAndSwap(s, next) {
			return
		}
	}
}

func (f *frame) tryExclusiveLock() bool {
	s := f.state.Load()
	return s&lockBits == 0 && f.state.CompareAndSwap(s, s|exclusiveBit)
}

// unlockExclusive releases the exclusive lock and bumps the sequence, since
// the frame may now hold a different page.
func (f *frame) unlockExclusive() {
	for {
		s := f.state.Load()
		next := (s &^ (exclusiveBit | seqMask)) | ((s + 1) & seqMask)
		if f.state.CompareAndSwap(s, next) {
			return
		}
	}
}

func (f *frame) tryFlushLock() bool {
	s := f.state.Load()
	return s&lockBits == 0 && f.state.CompareAndSwap(s, s|flushBit)
}

// unlockFlush releases the flush lock. A successful write-back also clears the
// modified bit; writers are excluded while the flush lock is held, so nothing
// can have re-dirtied the page in the meantime.
func (f *frame) unlockFlush(flushed bool) {
	for {
		s := f.state.Load()
		next := s &^ flushBit
		if flushed {
			next &^= modifiedBit
		}
		if f.state.CompareAndSwap(s, next) {
			return
		}
	}
}

// clearModified is used by eviction, which already holds the exclusive lock.
func (f *frame) clearModified() {
	for {
		s := f.state.Load()
		if f.state.CompareAndSwap(s, s&^modifiedBit) {
			return
		}
	}
}

func backoff(spins int) {
	if spins < 128 {
		runtime.Gosched()
		return
	}
	time.Sleep(20 * time.Microsecond)
}
