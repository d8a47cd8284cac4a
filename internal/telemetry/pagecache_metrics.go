package internaltelemetry

import (
	"context"

	pagecache "github.com/sushant-115/gojograph/core/storage_engine/page_cache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PageCacheMetrics holds the metric instruments of the page cache.
type PageCacheMetrics struct {
	FaultsCounter         metric.Int64Counter
	HitsCounter           metric.Int64Counter
	PinsCounter           metric.Int64Counter
	UnpinsCounter         metric.Int64Counter
	RetriesCounter        metric.Int64Counter
	EvictionsCounter      metric.Int64Counter
	EvictionErrorsCounter metric.Int64Counter
	FlushesCounter        metric.Int64Counter
	BytesFlushedCounter   metric.Int64Counter
	MappedFilesUpDown     metric.Int64UpDownCounter
}

// NewPageCacheMetrics creates and registers the page cache instruments.
func NewPageCacheMetrics(meter metric.Meter) (*PageCacheMetrics, error) {
	m := &PageCacheMetrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.FaultsCounter, "gojograph.pagecache.faults_total", "Pages read from storage into a frame.", "1"},
		{&m.HitsCounter, "gojograph.pagecache.hits_total", "Pins satisfied by a resident page.", "1"},
		{&m.PinsCounter, "gojograph.pagecache.pins_total", "Pages pinned by cursors.", "1"},
		{&m.UnpinsCounter, "gojograph.pagecache.unpins_total", "Pages unpinned by cursors.", "1"},
		{&m.RetriesCounter, "gojograph.pagecache.retries_total", "Optimistic reads that had to be repeated.", "1"},
		{&m.EvictionsCounter, "gojograph.pagecache.evictions_total", "Frames reclaimed by the clock sweep.", "1"},
		{&m.EvictionErrorsCounter, "gojograph.pagecache.eviction_errors_total", "Evictions aborted by a failed write-back.", "1"},
		{&m.FlushesCounter, "gojograph.pagecache.flushes_total", "Per-file flushes.", "1"},
		{&m.BytesFlushedCounter, "gojograph.pagecache.flushed_bytes_total", "Bytes written back by flushes.", "By"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	mapped, err := meter.Int64UpDownCounter(
		"gojograph.pagecache.mapped_files",
		metric.WithDescription("Number of files currently mapped."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	m.MappedFilesUpDown = mapped
	return m, nil
}

// MetricsTracer is a pagecache.PageCacheTracer that records into
// PageCacheMetrics.
type MetricsTracer struct {
	metrics *PageCacheMetrics
}

var _ pagecache.PageCacheTracer = (*MetricsTracer)(nil)

func NewMetricsTracer(metrics *PageCacheMetrics) *MetricsTracer {
	return &MetricsTracer{metrics: metrics}
}

func fileAttr(path string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("file", path))
}

func (t *MetricsTracer) MappedFile(path string) {
	t.metrics.MappedFilesUpDown.Add(context.Background(), 1)
}

func (t *MetricsTracer) UnmappedFile(path string) {
	t.metrics.MappedFilesUpDown.Add(context.Background(), -1)
}

func (t *MetricsTracer) Evicted(path string, pageID int64, wroteBack bool, err error) {
	ctx := context.Background()
	if err != nil {
		t.metrics.EvictionErrorsCounter.Add(ctx, 1, fileAttr(path))
		return
	}
	t.metrics.EvictionsCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("file", path), attribute.Bool("write_back", wroteBack)))
}

func (t *MetricsTracer) Flushed(path string, pages int, bytes int64, err error) {
	ctx := context.Background()
	t.metrics.FlushesCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("file", path), attribute.Bool("error", err != nil)))
	if bytes > 0 {
		t.metrics.BytesFlushedCounter.Add(ctx, bytes, fileAttr(path))
	}
}

func (t *MetricsTracer) CursorEvents(ev pagecache.CursorEvents) {
	ctx := context.Background()
	t.metrics.PinsCounter.Add(ctx, ev.Pins)
	t.metrics.UnpinsCounter.Add(ctx, ev.Unpins)
	t.metrics.HitsCounter.Add(ctx, ev.Hits)
	t.metrics.FaultsCounter.Add(ctx, ev.Faults)
	t.metrics.RetriesCounter.Add(ctx, ev.Retries)
}
