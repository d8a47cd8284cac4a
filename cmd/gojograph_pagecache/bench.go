package main

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	pagecache "github.com/sushant-115/gojograph/core/storage_engine/page_cache"
	"go.uber.org/zap"
)

var errTornRead = errors.New("reader observed a torn page")

type BenchCmd struct {
	File     string        `help:"File to map" default:"gojograph-bench.db"`
	Pages    int64         `help:"Number of pages to spread the load over" default:"1024"`
	Writers  int           `help:"Concurrent writers" default:"2"`
	Readers  int           `help:"Concurrent optimistic readers" default:"4"`
	Duration time.Duration `help:"How long to run" default:"5s"`
	Keep     bool          `help:"Keep the file after the run"`
}

// benchResult is what one bench run observed.
type benchResult struct {
	Writes  int64
	Reads   int64
	Retries int64
	Torn    int64
	Elapsed time.Duration
	Stats   pagecache.Stats
}

func (c *BenchCmd) Run(kctx *kong.Context, g *Globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	rt, err := openRuntime(cfg, true)
	if err != nil {
		return err
	}
	res, err := c.bench(rt)
	closeErr := rt.close()
	if err != nil {
		return err
	}
	printBench(kctx.Stdout, res)
	return closeErr
}

func (c *BenchCmd) bench(rt *runtime) (benchResult, error) {
	if c.Pages <= 0 || c.Writers < 0 || c.Readers < 0 {
		return benchResult{}, fmt.Errorf("pages must be positive and worker counts non-negative")
	}
	var opts []pagecache.MapOption
	if !c.Keep {
		opts = append(opts, pagecache.WithDeleteOnClose())
	}
	pf, err := rt.cache.Map(c.File, 0, opts...)
	if err != nil {
		return benchResult{}, err
	}
	defer pf.Close()
	if pf.PayloadSize() < 16 {
		return benchResult{}, fmt.Errorf("payload of %d bytes is too small for the bench record", pf.PayloadSize())
	}
	tail := pf.PayloadSize() - 8

	// Every page carries the same counter at the start and the end of its
	// payload, so a reader that sees them differ read a torn page.
	seed, err := pf.Io(0, pagecache.PFSharedWriteLock, rt.cache.NewCursorContext())
	if err != nil {
		return benchResult{}, err
	}
	for id := int64(0); id < c.Pages; id++ {
		if _, err := seed.Next(); err != nil {
			seed.Close()
			return benchResult{}, err
		}
		seed.PutLongAt(0, 0)
		seed.PutLongAt(tail, 0)
	}
	if err := seed.Close(); err != nil {
		return benchResult{}, err
	}

	var (
		res      benchResult
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() { firstErr = err })
	}
	deadline := time.Now().Add(c.Duration)
	started := time.Now()

	for w := 0; w < c.Writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx := rt.cache.NewCursorContext()
			defer cctx.Report()
			for time.Now().Before(deadline) {
				if err := benchWrite(pf, cctx, rand.Int64N(c.Pages), tail); err != nil {
					fail(err)
					return
				}
				atomic.AddInt64(&res.Writes, 1)
			}
		}()
	}
	for r := 0; r < c.Readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx := rt.cache.NewCursorContext()
			defer cctx.Report()
			for time.Now().Before(deadline) {
				retries, err := benchRead(pf, cctx, rand.Int64N(c.Pages), tail)
				if errors.Is(err, errTornRead) {
					atomic.AddInt64(&res.Torn, 1)
				} else if err != nil {
					fail(err)
					return
				}
				atomic.AddInt64(&res.Reads, 1)
				atomic.AddInt64(&res.Retries, retries)
			}
		}()
	}
	wg.Wait()
	res.Elapsed = time.Since(started)
	if firstErr != nil {
		return res, firstErr
	}
	if err := pf.Flush(); err != nil {
		return res, err
	}
	res.Stats = rt.cache.Stats()
	rt.logger.Info("Bench finished",
		zap.Int64("writes", res.Writes),
		zap.Int64("reads", res.Reads),
		zap.Int64("torn", res.Torn),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

func benchWrite(pf *pagecache.PagedFile, cctx *pagecache.CursorContext, pageID int64, tail int) error {
	cur, err := pf.Io(pageID, pagecache.PFSharedWriteLock|pagecache.PFNoGrow, cctx)
	if err != nil {
		return err
	}
	defer cur.Close()
	ok, err := cur.Next()
	if err != nil || !ok {
		return err
	}
	v := cur.GetLongAt(0) + 1
	cur.PutLongAt(0, v)
	cur.PutLongAt(tail, v)
	return nil
}

func benchRead(pf *pagecache.PagedFile, cctx *pagecache.CursorContext, pageID int64, tail int) (int64, error) {
	cur, err := pf.Io(pageID, pagecache.PFSharedReadLock, cctx)
	if err != nil {
		return 0, err
	}
	defer cur.Close()
	ok, err := cur.Next()
	if err != nil || !ok {
		return 0, err
	}
	var retries int64
	for {
		head, end := cur.GetLongAt(0), cur.GetLongAt(tail)
		retry, err := cur.ShouldRetry()
		if err != nil {
			return retries, err
		}
		if !retry {
			if head != end {
				return retries, errTornRead
			}
			return retries, nil
		}
		retries++
	}
}

func printBench(out io.Writer, res benchResult) {
	secs := res.Elapsed.Seconds()
	if secs <= 0 {
		secs = 1
	}
	fmt.Fprintf(out, "elapsed:     %s\n", res.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "writes:      %s (%s/s)\n", humanize.Comma(res.Writes), humanize.Comma(int64(float64(res.Writes)/secs)))
	fmt.Fprintf(out, "reads:       %s (%s/s)\n", humanize.Comma(res.Reads), humanize.Comma(int64(float64(res.Reads)/secs)))
	fmt.Fprintf(out, "retries:     %s\n", humanize.Comma(res.Retries))
	fmt.Fprintf(out, "torn reads:  %d\n", res.Torn)
	printStats(out, res.Stats)
}

func printStats(out io.Writer, s pagecache.Stats) {
	fmt.Fprintf(out, "hits:        %s\n", humanize.Comma(s.Hits))
	fmt.Fprintf(out, "faults:      %s\n", humanize.Comma(s.Faults))
	fmt.Fprintf(out, "evictions:   %s (%s written back, %d failed)\n",
		humanize.Comma(s.Evictions), humanize.Comma(s.EvictionWriteBacks), s.EvictionErrors)
	fmt.Fprintf(out, "flushes:     %s (%s)\n", humanize.Comma(s.Flushes), humanize.IBytes(uint64(s.BytesFlushed)))
	fmt.Fprintf(out, "free frames: %d / %d\n", s.FreeFrames, s.MaxPages)
	fmt.Fprintf(out, "mapped:      %d\n", s.MappedFiles)
}
