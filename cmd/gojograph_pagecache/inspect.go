package main

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	pagecache "github.com/sushant-115/gojograph/core/storage_engine/page_cache"
	"github.com/zeebo/blake3"
)

// FileFlags select the file and its page geometry.
type FileFlags struct {
	File     string `help:"File to map" required:"" type:"path"`
	PageSize int    `name:"page-size" help:"Page size of the file, 0 for the cache page size" default:"0"`
	Reserved int    `help:"Reserved bytes at the start of every page, -1 for the configured format" default:"-1"`
}

func (f FileFlags) mapOptions() []pagecache.MapOption {
	if f.Reserved < 0 {
		return nil
	}
	return []pagecache.MapOption{pagecache.WithReservedBytes(f.Reserved)}
}

func (f FileFlags) open(rt *runtime) (*pagecache.PagedFile, error) {
	return rt.cache.Map(f.File, f.PageSize, f.mapOptions()...)
}

// readPayload copies the payload of pageID into buf, retrying until the
// copy is consistent. It returns false when the page is past the end of the
// file.
func readPayload(cur *pagecache.PageCursor, pageID int64, buf []byte) (bool, error) {
	ok, err := cur.NextPage(pageID)
	if err != nil || !ok {
		return false, err
	}
	for {
		cur.CopyToBuffer(0, buf)
		retry, err := cur.ShouldRetry()
		if err != nil {
			return false, err
		}
		if !retry {
			return true, nil
		}
	}
}

type DumpCmd struct {
	FileFlags `embed:""`
	Page      int64 `help:"Page to dump" default:"0"`
}

func (c *DumpCmd) Run(kctx *kong.Context, g *Globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	rt, err := openRuntime(cfg, false)
	if err != nil {
		return err
	}
	err = c.dump(rt, kctx.Stdout)
	if closeErr := rt.close(); err == nil {
		err = closeErr
	}
	return err
}

func (c *DumpCmd) dump(rt *runtime, out io.Writer) error {
	pf, err := c.open(rt)
	if err != nil {
		return err
	}
	defer pf.Close()

	cur, err := pf.Io(0, pagecache.PFSharedReadLock, nil)
	if err != nil {
		return err
	}
	defer cur.Close()

	buf := make([]byte, pf.PayloadSize())
	ok, err := readPayload(cur, c.Page, buf)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("page %d is past the end of %s (last page %d)", c.Page, pf.Path(), pf.LastPageID())
	}
	fmt.Fprintf(out, "page %d of %s, %s payload after %d reserved bytes\n",
		c.Page, pf.Path(), humanize.IBytes(uint64(len(buf))), pf.ReservedBytes())
	_, err = io.WriteString(out, hex.Dump(buf))
	return err
}

type DigestCmd struct {
	FileFlags `embed:""`
}

func (c *DigestCmd) Run(kctx *kong.Context, g *Globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	rt, err := openRuntime(cfg, false)
	if err != nil {
		return err
	}
	err = c.digest(rt, kctx.Stdout)
	if closeErr := rt.close(); err == nil {
		err = closeErr
	}
	return err
}

// digest prints one blake3 sum per page payload and a sum over all of them.
func (c *DigestCmd) digest(rt *runtime, out io.Writer) error {
	pf, err := c.open(rt)
	if err != nil {
		return err
	}
	defer pf.Close()

	cur, err := pf.Io(0, pagecache.PFSharedReadLock, rt.cache.NewCursorContext())
	if err != nil {
		return err
	}
	defer cur.Close()

	buf := make([]byte, pf.PayloadSize())
	total := blake3.New()
	var pages int64
	for id := int64(0); ; id++ {
		ok, err := readPayload(cur, id, buf)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		sum := blake3.Sum256(buf)
		fmt.Fprintf(out, "%8d  %x\n", id, sum)
		_, _ = total.Write(buf)
		pages++
	}
	fmt.Fprintf(out, "%s pages  %x\n", humanize.Comma(pages), total.Sum(nil))
	return nil
}
