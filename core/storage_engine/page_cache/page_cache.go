// Package pagecache multiplexes the pages of many mapped files onto a fixed
// pool of memory frames. Callers read and write pages through PageCursors;
// readers are optimistic and validate with ShouldRetry, writers hold a
// per-page write lock.
package pagecache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/sushant-115/gojograph/core/storage_engine/common"
	pageswapper "github.com/sushant-115/gojograph/core/storage_engine/page_swapper"
	"go.uber.org/zap"
)

// PageCache owns the frame pool and the set of mapped files.
type PageCache struct {
	cfg      Config
	id       uuid.UUID
	logger   *zap.Logger
	tracer   PageCacheTracer
	swappers pageswapper.Factory
	frames   *frameTable
	counters cacheCounters

	mu     sync.Mutex // guards files and closed
	files  map[string]*PagedFile
	closed bool

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// Stats is a point-in-time snapshot of cache activity.
type Stats struct {
	Hits               int64
	Faults             int64
	Evictions          int64
	EvictionWriteBacks int64
	EvictionErrors     int64
	Flushes            int64
	BytesFlushed       int64
	FreeFrames         int
	MaxPages           int
	MappedFiles        int
}

// New allocates the frame pool and starts the background sweeper if one is
// configured.
func New(cfg Config) (*PageCache, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := &PageCache{
		cfg:      cfg,
		id:       uuid.New(),
		tracer:   cfg.Tracer,
		swappers: cfg.SwapperFactory,
		files:    make(map[string]*PagedFile),
		stopChan: make(chan struct{}),
	}
	c.logger = cfg.Logger.Named("page_cache").With(zap.String("cache_id", c.id.String()))
	c.frames = newFrameTable(cfg.MaxPages, cfg.PageSize, &c.counters, c.tracer, c.logger)

	if cfg.BackgroundSweepInterval > 0 {
		c.wg.Add(1)
		go c.frames.runSweeper(cfg.BackgroundSweepInterval, cfg.KeepFreeFrames, c.stopChan, &c.wg)
	}
	c.logger.Info("Page cache started",
		zap.Int("max_pages", cfg.MaxPages),
		zap.Int("page_size", cfg.PageSize),
		zap.String("swapper", c.swappers.Name()),
		zap.Bool("multi_versioned", cfg.MultiVersioned))
	return c, nil
}

func (c *PageCache) PageSize() int { return c.cfg.PageSize }

func (c *PageCache) MaxCachedPages() int { return c.cfg.MaxPages }

// NewCursorContext returns a cursor context reporting to the cache's tracer.
func (c *PageCache) NewCursorContext() *CursorContext {
	return NewCursorContext(c.tracer)
}

// Map maps path with the given file page size. A filePageSize of 0 uses the
// cache page size. Mapping a file that is already mapped returns the existing
// PagedFile if the geometry matches and fails with a FileMappingError
// otherwise. Each successful Map must be paired with a PagedFile.Close.
func (c *PageCache) Map(path string, filePageSize int, opts ...MapOption) (*PagedFile, error) {
	o := mapOptions{}
	if c.cfg.MultiVersioned {
		o.format = FormatMultiVersion
	}
	for _, opt := range opts {
		opt(&o)
	}
	if filePageSize == 0 {
		filePageSize = c.cfg.PageSize
	}
	reserved := o.format.reservedBytes()
	if o.reservedSet {
		reserved = o.reserved
	}
	path = filepath.Clean(path)

	if filePageSize < 0 || filePageSize > c.cfg.PageSize {
		return nil, &FileMappingError{Path: path,
			Reason: fmt.Sprintf("file page size %d must be in (0, %d]", filePageSize, c.cfg.PageSize),
			Err:    ErrInvalidPageSize}
	}
	if reserved < 0 || reserved >= filePageSize {
		return nil, &FileMappingError{Path: path,
			Reason: fmt.Sprintf("%d reserved bytes on a %d byte page", reserved, filePageSize),
			Err:    ErrInvalidReservedBytes}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrCacheClosed
	}
	if pf, ok := c.files[path]; ok {
		if pf.pageSize != filePageSize || pf.reserved != reserved {
			return nil, &FileMappingError{Path: path, Reason: fmt.Sprintf(
				"already mapped with page size %d and %d reserved bytes, requested %d and %d",
				pf.pageSize, pf.reserved, filePageSize, reserved)}
		}
		pf.mu.Lock()
		pf.refCount++
		pf.mu.Unlock()
		return pf, nil
	}

	swapper, err := c.swappers.Create(path, filePageSize)
	if err != nil {
		return nil, &FileMappingError{Path: path, Reason: "cannot open backing storage", Err: err}
	}
	last, err := swapper.LastPageID()
	if err != nil {
		_ = swapper.Close()
		return nil, &FileMappingError{Path: path, Reason: "cannot determine file size", Err: err}
	}

	pf := &PagedFile{
		cache:         c,
		table:         c.frames,
		swapper:       swapper,
		translation:   newTranslationTable(c.cfg.TranslationStripes),
		id:            uuid.New(),
		path:          path,
		pageSize:      filePageSize,
		reserved:      reserved,
		format:        o.format,
		deleteOnClose: o.deleteOnClose,
		refCount:      1,
	}
	pf.lastPageID.Store(last)
	pf.logger = c.logger.With(zap.String("file", path), zap.String("mapping_id", pf.id.String()))
	c.files[path] = pf

	c.tracer.MappedFile(path)
	pf.logger.Info("Mapped file",
		zap.Int("page_size", filePageSize),
		zap.Int("reserved_bytes", reserved),
		zap.Stringer("format", o.format),
		zap.Int64("last_page_id", last))
	return pf, nil
}

func (c *PageCache) mappedFiles() []*PagedFile {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*PagedFile, 0, len(c.files))
	for _, pf := range c.files {
		out = append(out, pf)
	}
	return out
}

// FlushAndForce writes back every dirty page of every mapped file and forces
// the files to stable storage. It does not stop the cache: each page is
// locked only while it is written.
func (c *PageCache) FlushAndForce() error {
	return c.FlushAndForceWith(context.Background(), common.Unlimited)
}

// FlushAndForceWith is FlushAndForce with write-back paced by limiter.
func (c *PageCache) FlushAndForceWith(ctx context.Context, limiter common.IOLimiter) error {
	if limiter == nil {
		limiter = common.Unlimited
	}
	var errs []error
	for _, pf := range c.mappedFiles() {
		if err := pf.flushAndForce(ctx, limiter); err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
	}
	return errors.Join(errs...)
}

func (c *PageCache) Stats() Stats {
	c.mu.Lock()
	mapped := len(c.files)
	c.mu.Unlock()
	return Stats{
		Hits:               c.counters.hits.Load(),
		Faults:             c.counters.faults.Load(),
		Evictions:          c.counters.evictions.Load(),
		EvictionWriteBacks: c.counters.evictionWriteBacks.Load(),
		EvictionErrors:     c.counters.evictionErrors.Load(),
		Flushes:            c.counters.flushes.Load(),
		BytesFlushed:       c.counters.bytesFlushed.Load(),
		FreeFrames:         c.frames.freeFrames(),
		MaxPages:           c.cfg.MaxPages,
		MappedFiles:        mapped,
	}
}

// Close stops the background sweeper, flushes and unmaps every file that is
// still mapped, and fails any fault still waiting for a frame with
// ErrCacheClosed. Cursors must be closed before the cache.
func (c *PageCache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrCacheClosed
	}
	c.closed = true
	files := make([]*PagedFile, 0, len(c.files))
	for path, pf := range c.files {
		pf.mu.Lock()
		pf.unmapped.Store(true)
		if pf.openCursors > 0 {
			c.logger.Warn("Closing page cache with open cursors", zap.String("file", path), zap.Int("cursors", pf.openCursors))
		}
		pf.mu.Unlock()
		files = append(files, pf)
	}
	c.files = make(map[string]*PagedFile)
	c.mu.Unlock()

	close(c.stopChan)
	c.wg.Wait()
	c.frames.close()

	var errs []error
	for _, pf := range files {
		if err := pf.unmap(false); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	c.logger.Info("Page cache closed", zap.Error(err))
	return err
}
