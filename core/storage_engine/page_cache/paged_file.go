package pagecache

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sushant-115/gojograph/core/storage_engine/common"
	pageswapper "github.com/sushant-115/gojograph/core/storage_engine/page_swapper"
	"go.uber.org/zap"
)

// PagedFile is a file mapped into the page cache. All access to its pages
// goes through cursors obtained from Io.
type PagedFile struct {
	cache       *PageCache
	table       *frameTable
	swapper     pageswapper.PageSwapper
	translation *translationTable
	logger      *zap.Logger

	id            uuid.UUID
	path          string
	pageSize      int
	reserved      int
	format        PageFormat
	deleteOnClose bool

	lastPageID atomic.Int64
	unmapped   atomic.Bool

	mu          sync.Mutex // guards refCount and openCursors
	refCount    int
	openCursors int

	// ioMu keeps the swapper open while a flush is using it.
	ioMu          sync.RWMutex
	swapperClosed bool

	// forceMu orders forces, so a flush that finds nothing pending knows
	// every earlier force has completed.
	forceMu sync.Mutex
}

// Path is the path the file was mapped under.
func (pf *PagedFile) Path() string { return pf.path }

// PageSize is the file page size, which may be smaller than the cache page
// size.
func (pf *PagedFile) PageSize() int { return pf.pageSize }

// ReservedBytes is the size of the per-page header that cursor offsets skip.
func (pf *PagedFile) ReservedBytes() int { return pf.reserved }

// PayloadSize is the number of bytes addressable by cursor offsets.
func (pf *PagedFile) PayloadSize() int { return pf.pageSize - pf.reserved }

// Format is the page format the file was mapped with.
func (pf *PagedFile) Format() PageFormat { return pf.format }

// LastPageID returns the highest page id in the file, counting pages that
// write cursors have grown the file by but that are not yet written back.
func (pf *PagedFile) LastPageID() int64 { return pf.lastPageID.Load() }

// ResidentPages counts the pages of the file currently held in frames.
func (pf *PagedFile) ResidentPages() int { return pf.translation.len() }

// FileSize is the size in bytes the file has once every page up to
// LastPageID is written back.
func (pf *PagedFile) FileSize() int64 {
	return (pf.lastPageID.Load() + 1) * int64(pf.pageSize)
}

// Io returns a cursor positioned before pageID. The first Next binds it to
// pageID. cctx may be nil.
func (pf *PagedFile) Io(pageID int64, flags PFFlags, cctx *CursorContext) (*PageCursor, error) {
	if !flags.valid() {
		return nil, ErrInvalidFlags
	}
	if pageID < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPageID, pageID)
	}
	if err := pf.cursorOpened(); err != nil {
		return nil, err
	}
	return newPageCursor(pf, pageID, flags, cctx), nil
}

func (pf *PagedFile) cursorOpened() error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if pf.unmapped.Load() {
		return fmt.Errorf("%w: %s", ErrFileUnmapped, pf.path)
	}
	pf.openCursors++
	return nil
}

func (pf *PagedFile) cursorClosed() {
	pf.mu.Lock()
	pf.openCursors--
	pf.mu.Unlock()
}

// grow records that a write cursor has moved onto pageID.
func (pf *PagedFile) grow(pageID int64) {
	for {
		last := pf.lastPageID.Load()
		if pageID <= last || pf.lastPageID.CompareAndSwap(last, pageID) {
			return
		}
	}
}

// pin returns the index of a frame holding pageID, pinned for the caller.
func (pf *PagedFile) pin(pageID int64, cctx *CursorContext, tracing bool) (int32, error) {
	t := pf.table
	for {
		if pf.unmapped.Load() {
			return -1, fmt.Errorf("%w: %s", ErrFileUnmapped, pf.path)
		}
		// 1. Check if the page is already resident.
		if idx, ok := pf.translation.get(pageID); ok {
			f := t.frame(idx)
			f.pin()
			// The exclusive bit is checked after pinning, and eviction checks
			// the pin count after taking the exclusive bit, so at least one
			// side always backs off.
			if f.boundTo(pf, pageID) && !f.isExclusivelyLocked() {
				t.counters.hits.Add(1)
				if tracing {
					cctx.events.Hits++
				}
				return idx, nil
			}
			t.unpin(f)
			runtime.Gosched()
			continue
		}

		// 2. Page fault: take an exclusively locked frame, evicting if needed.
		idx, err := t.acquire()
		if err != nil {
			return -1, err
		}
		f := t.frame(idx)
		f.bind(pf, pageID)
		// 3. Publish the frame. Losing the race to another fault means the
		// page is now resident, so go back to step 1.
		if _, installed := pf.translation.putIfAbsent(pageID, idx); !installed {
			f.unbind()
			t.release(idx)
			continue
		}
		// 4. Load the page. Readers pinning the frame meanwhile see the
		// exclusive bit and retry.
		if err := pf.readPage(pageID, f.data); err != nil {
			pf.translation.removeIf(pageID, idx)
			f.unbind()
			t.release(idx)
			return -1, err
		}
		// 5. Pin for the caller before letting others in.
		f.pin()
		f.unlockExclusive()
		t.counters.faults.Add(1)
		if tracing {
			cctx.events.Faults++
		}
		return idx, nil
	}
}

func (pf *PagedFile) readPage(pageID int64, data []byte) error {
	if _, err := pf.swapper.Read(pageID, data[:pf.pageSize]); err != nil {
		return newStorageError("read", pf.path, pageID, err)
	}
	return nil
}

func (pf *PagedFile) writePage(pageID int64, data []byte) error {
	if _, err := pf.swapper.Write(pageID, data[:pf.pageSize]); err != nil {
		return newStorageError("write", pf.path, pageID, err)
	}
	return nil
}

// Flush writes every dirty page of this file back and forces the file.
func (pf *PagedFile) Flush() error {
	return pf.flushAndForce(context.Background(), common.Unlimited)
}

func (pf *PagedFile) flushAndForce(ctx context.Context, limiter common.IOLimiter) error {
	pf.ioMu.RLock()
	defer pf.ioMu.RUnlock()
	if pf.swapperClosed {
		return nil
	}
	if err := pf.flushPages(ctx, limiter); err != nil {
		return err
	}
	pf.forceMu.Lock()
	defer pf.forceMu.Unlock()
	if !pf.table.pendingForce.Contains(pf) {
		return nil
	}
	// Remove before forcing: a write-back that completes during the force
	// re-adds it.
	pf.table.pendingForce.Remove(pf)
	if err := pf.swapper.Force(); err != nil {
		pf.table.pendingForce.Add(pf)
		return newStorageError("force", pf.path, UnboundPageID, err)
	}
	return nil
}

// flushPages writes back the dirty resident pages of the file. Each page is
// taken under its flush lock only for the duration of its own write.
func (pf *PagedFile) flushPages(ctx context.Context, limiter common.IOLimiter) error {
	t := pf.table
	pages := 0
	var bytes int64
	var flushErr error
	for _, e := range pf.translation.entries() {
		flushed, err := pf.flushFrame(e.pageID, t.frame(e.frame))
		if err != nil {
			flushErr = err
			break
		}
		if !flushed {
			continue
		}
		pages++
		bytes += int64(pf.pageSize)
		if err := limiter.MaybeLimitIO(ctx, pf.pageSize); err != nil {
			flushErr = err
			break
		}
	}
	t.counters.flushes.Add(1)
	t.counters.bytesFlushed.Add(bytes)
	t.tracer.Flushed(pf.path, pages, bytes, flushErr)
	if flushErr != nil {
		pf.logger.Error("Flush failed", zap.Int("pages_written", pages), zap.Error(flushErr))
		return flushErr
	}
	pf.logger.Debug("Flushed file", zap.Int("pages", pages), zap.Int64("bytes", bytes))
	return nil
}

func (pf *PagedFile) flushFrame(pageID int64, f *frame) (bool, error) {
	for spins := 0; ; spins++ {
		if !f.boundTo(pf, pageID) || !f.isModified() {
			return false, nil
		}
		if f.tryFlushLock() {
			break
		}
		backoff(spins)
	}
	// The binding cannot change while the flush lock is held, but it may have
	// changed between the check and the lock.
	if !f.boundTo(pf, pageID) || !f.isModified() {
		f.unlockFlush(false)
		return false, nil
	}
	err := pf.writePage(pageID, f.data)
	if err == nil {
		pf.table.pendingForce.Add(pf)
	}
	f.unlockFlush(err == nil)
	return err == nil, err
}

// evictAll returns every frame of the file to the free list. It must only be
// called once no cursor can pin pages of the file. Dirty pages are written
// back first; a page that cannot be written is dropped and its error
// reported.
func (pf *PagedFile) evictAll() error {
	t := pf.table
	var errs []error
	for _, e := range pf.translation.entries() {
		f := t.frame(e.frame)
		for spins := 0; f.boundTo(pf, e.pageID); spins++ {
			if f.pins.Load() != 0 || !f.tryExclusiveLock() {
				backoff(spins)
				continue
			}
			if !f.boundTo(pf, e.pageID) || f.pins.Load() != 0 {
				f.unlockExclusive()
				continue
			}
			if f.isModified() {
				if err := pf.writePage(e.pageID, f.data); err != nil {
					errs = append(errs, err)
				}
				f.clearModified()
			}
			pf.translation.removeIf(e.pageID, e.frame)
			f.unbind()
			t.release(e.frame)
			break
		}
	}
	return errors.Join(errs...)
}

// Close releases one mapping of the file. The last Close flushes the file,
// evicts its pages and closes the backing storage.
func (pf *PagedFile) Close() error {
	c := pf.cache
	c.mu.Lock()
	pf.mu.Lock()
	if pf.unmapped.Load() {
		pf.mu.Unlock()
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFileUnmapped, pf.path)
	}
	if pf.refCount > 1 {
		pf.refCount--
		pf.mu.Unlock()
		c.mu.Unlock()
		return nil
	}
	if pf.openCursors > 0 {
		n := pf.openCursors
		pf.mu.Unlock()
		c.mu.Unlock()
		return fmt.Errorf("%w: %s has %d", ErrFileHasOpenCursors, pf.path, n)
	}
	pf.refCount = 0
	pf.unmapped.Store(true)
	delete(c.files, pf.path)
	pf.mu.Unlock()
	c.mu.Unlock()

	return pf.unmap(true)
}

// unmap flushes the file, optionally evicts its frames, and closes the
// swapper. The file must already be marked unmapped.
func (pf *PagedFile) unmap(evict bool) error {
	var errs []error
	if err := pf.flushAndForce(context.Background(), common.Unlimited); err != nil {
		errs = append(errs, err)
	}
	if evict {
		if err := pf.evictAll(); err != nil {
			errs = append(errs, err)
		}
	}

	pf.ioMu.Lock()
	pf.swapperClosed = true
	var closeErr error
	if pf.deleteOnClose {
		closeErr = pf.swapper.CloseAndDelete()
	} else {
		closeErr = pf.swapper.Close()
	}
	pf.ioMu.Unlock()
	if closeErr != nil {
		errs = append(errs, newStorageError("close", pf.path, UnboundPageID, closeErr))
	}
	pf.table.pendingForce.Remove(pf)

	err := errors.Join(errs...)
	pf.table.tracer.UnmappedFile(pf.path)
	if err != nil {
		pf.logger.Error("Unmapped file with errors", zap.Error(err))
	} else {
		pf.logger.Info("Unmapped file")
	}
	return err
}
