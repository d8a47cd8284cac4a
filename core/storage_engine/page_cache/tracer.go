package pagecache

// PageCacheTracer receives page cache events. Cache-wide events are delivered
// as they happen; cursor events are accumulated in a CursorContext and
// delivered in batches by CursorContext.Report.
type PageCacheTracer interface {
	MappedFile(path string)
	UnmappedFile(path string)
	// Evicted is called for every frame reclaimed by the sweep. wroteBack is
	// true when the page was dirty and had to be written first.
	Evicted(path string, pageID int64, wroteBack bool, err error)
	// Flushed is called once per file per flush.
	Flushed(path string, pages int, bytes int64, err error)
	CursorEvents(events CursorEvents)
}

// NullPageCacheTracer discards everything. Cursors opened under it skip event
// accounting entirely.
type NullPageCacheTracer struct{}

func (NullPageCacheTracer) MappedFile(string)                  {}
func (NullPageCacheTracer) UnmappedFile(string)                {}
func (NullPageCacheTracer) Evicted(string, int64, bool, error) {}
func (NullPageCacheTracer) Flushed(string, int, int64, error)  {}
func (NullPageCacheTracer) CursorEvents(CursorEvents)          {}

func isNullTracer(t PageCacheTracer) bool {
	switch t.(type) {
	case nil, NullPageCacheTracer, *NullPageCacheTracer:
		return true
	}
	return false
}

// CursorEvents counts what the cursors of one CursorContext did.
type CursorEvents struct {
	Pins    int64
	Unpins  int64
	Hits    int64
	Faults  int64
	Retries int64
}

// CursorContext carries per-operation state for the cursors of one caller.
// Like cursors it must not be shared between goroutines.
type CursorContext struct {
	tracer  PageCacheTracer
	tracing bool
	events  CursorEvents
}

// NewCursorContext returns a context reporting to tracer. A nil or null
// tracer disables cursor tracing.
func NewCursorContext(tracer PageCacheTracer) *CursorContext {
	return &CursorContext{tracer: tracer, tracing: !isNullTracer(tracer)}
}

// Events returns the events accumulated since the last Report.
func (c *CursorContext) Events() CursorEvents { return c.events }

// Report hands the accumulated events to the tracer and resets them.
func (c *CursorContext) Report() {
	if !c.tracing {
		return
	}
	if c.events != (CursorEvents{}) {
		c.tracer.CursorEvents(c.events)
	}
	c.events = CursorEvents{}
}
