package pagecache

import (
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ncw/directio"
	"go.uber.org/zap"
)

// cacheCounters are the cache-wide statistics reported by Stats.
type cacheCounters struct {
	hits               atomic.Int64
	faults             atomic.Int64
	evictions          atomic.Int64
	evictionWriteBacks atomic.Int64
	evictionErrors     atomic.Int64
	flushes            atomic.Int64
	bytesFlushed       atomic.Int64
}

// frameTable owns the fixed pool of frames and the clock that reclaims them.
// Frames waiting on the free list hold their exclusive lock, so the sweep
// never considers them.
type frameTable struct {
	pageSize int
	arena    []byte
	frames   []frame
	free     chan int32
	hand     atomic.Uint64
	closed   atomic.Bool

	waitMu   sync.Mutex
	waitCond *sync.Cond
	waiters  atomic.Int32

	// Files with pages written back since they were last forced. A page is
	// added before its frame reads as clean, so a flush that writes nothing
	// still forces what eviction or a concurrent flush wrote.
	pendingForce mapset.Set[*PagedFile]

	counters *cacheCounters
	tracer   PageCacheTracer
	logger   *zap.Logger
}

func newFrameTable(maxPages, pageSize int, counters *cacheCounters, tracer PageCacheTracer, logger *zap.Logger) *frameTable {
	t := &frameTable{
		pageSize:     pageSize,
		frames:       make([]frame, maxPages),
		free:         make(chan int32, maxPages),
		pendingForce: mapset.NewSet[*PagedFile](),
		counters:     counters,
		tracer:       tracer,
		logger:       logger,
	}
	t.waitCond = sync.NewCond(&t.waitMu)

	// Aligned memory lets the direct i/o swapper use frames without a bounce
	// buffer.
	size := maxPages * pageSize
	if pageSize%directio.BlockSize == 0 {
		t.arena = directio.AlignedBlock(size)
	} else {
		t.arena = make([]byte, size)
	}
	for i := range t.frames {
		f := &t.frames[i]
		f.data = t.arena[i*pageSize : (i+1)*pageSize : (i+1)*pageSize]
		f.pageID.Store(UnboundPageID)
		f.state.Store(exclusiveBit)
		t.free <- int32(i)
	}
	return t
}

func (t *frameTable) frame(idx int32) *frame {
	return &t.frames[idx]
}

func (t *frameTable) freeFrames() int {
	return len(t.free)
}

// acquire returns an exclusively locked, unbound frame. It takes one from the
// free list if possible, otherwise evicts, and blocks while every frame is
// pinned.
func (t *frameTable) acquire() (int32, error) {
	for {
		if t.closed.Load() {
			return -1, ErrCacheClosed
		}
		select {
		case idx := <-t.free:
			return idx, nil
		default:
		}
		idx, err := t.evict()
		if err != nil {
			return -1, err
		}
		if idx >= 0 {
			return idx, nil
		}
		if err := t.awaitEvictable(); err != nil {
			return -1, err
		}
	}
}

// release puts an exclusively locked, unbound frame back on the free list.
func (t *frameTable) release(idx int32) {
	t.free <- idx
	t.notify()
}

func (t *frameTable) unpin(f *frame) {
	if f.unpin() {
		t.notify()
	}
}

func (t *frameTable) notify() {
	if t.waiters.Load() == 0 {
		return
	}
	t.waitMu.Lock()
	t.waitCond.Broadcast()
	t.waitMu.Unlock()
}

// awaitEvictable blocks until some frame could be reclaimed. Waiters register
// before checking, and unpinners check for waiters after the pin count hits
// zero, so a wakeup cannot be lost.
func (t *frameTable) awaitEvictable() error {
	t.waitMu.Lock()
	defer t.waitMu.Unlock()
	t.waiters.Add(1)
	defer t.waiters.Add(-1)
	for !t.closed.Load() && len(t.free) == 0 && !t.anyEvictable() {
		t.waitCond.Wait()
	}
	if t.closed.Load() {
		return ErrCacheClosed
	}
	return nil
}

func (t *frameTable) anyEvictable() bool {
	for i := range t.frames {
		f := &t.frames[i]
		if f.pins.Load() == 0 && !f.isExclusivelyLocked() {
			return true
		}
	}
	return false
}

// evict runs the clock from the shared hand for at most two full turns: the
// first turn may only clear recently-used bits. It returns -1 without error
// when every frame stayed pinned or locked.
func (t *frameTable) evict() (int32, error) {
	n := uint64(len(t.frames))
	for step := uint64(0); step < 2*n; step++ {
		idx := int32(t.hand.Add(1) % n)
		f := &t.frames[idx]
		if f.pins.Load() > 0 {
			continue
		}
		if f.usage.Load() != 0 {
			f.usage.Store(0)
			continue
		}
		if !f.tryExclusiveLock() {
			continue
		}
		if f.pins.Load() > 0 {
			f.unlockExclusive()
			continue
		}
		if err := t.evictLocked(idx); err != nil {
			f.unlockExclusive()
			t.notify()
			return -1, err
		}
		return idx, nil
	}
	return -1, nil
}

// evictLocked writes back and unbinds a frame the caller holds exclusively.
// On a write-back error the frame keeps its page and its modified bit.
func (t *frameTable) evictLocked(idx int32) error {
	f := &t.frames[idx]
	pf := f.file.Load()
	if pf == nil {
		return nil
	}
	pageID := f.pageID.Load()
	wroteBack := false
	if f.isModified() {
		// 1. Write the page back. On failure the page stays resident and dirty.
		if err := pf.writePage(pageID, f.data); err != nil {
			t.counters.evictionErrors.Add(1)
			t.tracer.Evicted(pf.path, pageID, true, err)
			t.logger.Error("Failed to write back page during eviction",
				zap.String("file", pf.path), zap.Int64("page_id", pageID), zap.Error(err))
			return err
		}
		// 2. Mark the file as needing a force before the frame reads as clean.
		// A flush that finds the frame clean then also finds the file pending,
		// or finds that a force which started after this write has run.
		t.pendingForce.Add(pf)
		f.clearModified()
		t.counters.evictionWriteBacks.Add(1)
		wroteBack = true
	}
	// 3. Drop the mapping, then the binding, so a concurrent lookup either
	// misses or pins a frame it will find unbound and retry.
	pf.translation.removeIf(pageID, idx)
	f.unbind()
	t.counters.evictions.Add(1)
	t.tracer.Evicted(pf.path, pageID, wroteBack, nil)
	return nil
}

// cool clears the recently-used bit of up to batch frames, starting at pos.
// It returns the position to continue from.
func (t *frameTable) cool(pos, batch int) int {
	n := len(t.frames)
	for i := 0; i < batch && i < n; i++ {
		t.frames[pos].usage.Store(0)
		pos = (pos + 1) % n
	}
	return pos
}

// refill evicts into the free list until keepFree frames are available or
// nothing more can be reclaimed.
func (t *frameTable) refill(keepFree int) (int, error) {
	reclaimed := 0
	for len(t.free) < keepFree && !t.closed.Load() {
		idx, err := t.evict()
		if err != nil {
			return reclaimed, err
		}
		if idx < 0 {
			break
		}
		t.release(idx)
		reclaimed++
	}
	return reclaimed, nil
}

// runSweeper is the background part of the clock. It keeps the
// recently-used bits decaying so that pages touched once do not stay resident
// forever, and tops up the free list.
func (t *frameTable) runSweeper(interval time.Duration, keepFree int, stopChan <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batch := len(t.frames) / 8
	if batch < 64 {
		batch = 64
	}
	pos := 0
	for {
		select {
		case <-stopChan:
			return
		case <-ticker.C:
			pos = t.cool(pos, batch)
			if keepFree <= 0 {
				continue
			}
			if n, err := t.refill(keepFree); err != nil {
				t.logger.Warn("Background sweep could not refill free list", zap.Int("reclaimed", n), zap.Error(err))
			}
		}
	}
}

func (t *frameTable) close() {
	t.closed.Store(true)
	t.waitMu.Lock()
	t.waitCond.Broadcast()
	t.waitMu.Unlock()
}
