package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/sushant-115/gojograph/config"
)

func newTestRuntime(t *testing.T) *runtime {
	t.Helper()
	cfg := config.Default()
	cfg.PageCache.Memory = "16KiB"
	cfg.PageCache.PageSize = "1KiB"
	cfg.PageCache.Swapper = "memory"
	cfg.PageCache.BackgroundSweepInterval = 0
	cfg.Checkpoint.Interval = 0
	cfg.Logger.Level = "error"
	require.NoError(t, cfg.Validate())

	rt, err := openRuntime(cfg, true)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, rt.close()) })
	return rt
}

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	cfg, err := loadConfig(&Globals{})
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}

func TestShell_WriteReadAndStats(t *testing.T) {
	rt := newTestRuntime(t)
	shell := &ShellCmd{FileFlags: FileFlags{File: "graph.db", Reserved: -1}}
	pf, err := shell.open(rt)
	require.NoError(t, err)
	defer pf.Close()
	sess := &shellSession{rt: rt, pf: pf, cctx: rt.cache.NewCursorContext()}

	var out bytes.Buffer
	_, err = sess.exec("write 2 4 hello graph", &out)
	require.NoError(t, err)
	require.Contains(t, out.String(), "wrote 11 bytes to page 2")
	require.Equal(t, int64(2), pf.LastPageID())

	out.Reset()
	_, err = sess.exec("read 2 4 11", &out)
	require.NoError(t, err)
	require.Contains(t, out.String(), "|hello graph|")

	out.Reset()
	_, err = sess.exec("long 1 8 -42", &out)
	require.NoError(t, err)
	out.Reset()
	_, err = sess.exec("long 1 8", &out)
	require.NoError(t, err)
	require.Equal(t, "-42\n", out.String())

	_, err = sess.exec("read 9", &out)
	require.ErrorContains(t, err, "past the end")
	_, err = sess.exec("write 0 1020 too long", &out)
	require.ErrorContains(t, err, "do not fit")
	_, err = sess.exec("long 0 1020", &out)
	require.ErrorContains(t, err, "outside the payload")
	_, err = sess.exec("bogus", &out)
	require.Error(t, err)

	out.Reset()
	_, err = sess.exec("flush", &out)
	require.NoError(t, err)
	_, err = sess.exec("stats", &out)
	require.NoError(t, err)
	require.Contains(t, out.String(), "last page:   2")

	quit, err := sess.exec("quit", &out)
	require.NoError(t, err)
	require.True(t, quit)
}

func TestDumpAndDigest(t *testing.T) {
	rt := newTestRuntime(t)
	flags := FileFlags{File: "graph.db", Reserved: -1}
	pf, err := flags.open(rt)
	require.NoError(t, err)
	defer pf.Close()
	sess := &shellSession{rt: rt, pf: pf}
	_, err = sess.exec("write 1 0 gojograph", &bytes.Buffer{})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, (&DumpCmd{FileFlags: flags, Page: 1}).dump(rt, &out))
	require.Contains(t, out.String(), "page 1 of graph.db")
	require.Contains(t, out.String(), "|gojograph")

	require.Error(t, (&DumpCmd{FileFlags: flags, Page: 5}).dump(rt, &out))

	out.Reset()
	require.NoError(t, (&DigestCmd{FileFlags: flags}).digest(rt, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[2], "2 pages"))
	require.NotEqual(t, strings.Fields(lines[0])[1], strings.Fields(lines[1])[1], "page 0 is empty, page 1 is not")
}

func TestBench_NoTornReads(t *testing.T) {
	rt := newTestRuntime(t)
	cmd := &BenchCmd{File: "bench.db", Pages: 48, Writers: 2, Readers: 3, Duration: 150 * time.Millisecond}
	res, err := cmd.bench(rt)
	require.NoError(t, err)
	require.Zero(t, res.Torn)
	require.Positive(t, res.Writes)
	require.Positive(t, res.Reads)
	require.Positive(t, res.Stats.Evictions, "48 pages do not fit in 16 frames")

	var out bytes.Buffer
	printBench(&out, res)
	require.Contains(t, out.String(), "torn reads:  0")
}
