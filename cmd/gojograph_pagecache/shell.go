package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/chzyer/readline"
	pagecache "github.com/sushant-115/gojograph/core/storage_engine/page_cache"
	"go.uber.org/zap"
)

const shellHelp = `commands:
  read  <page> [offset] [length]   hex dump payload bytes
  write <page> <offset> <text>     store text at offset, growing the file if needed
  long  <page> <offset> [value]    read or write a big-endian int64
  flush                            flush and force the file
  stats                            page cache counters
  quit                             leave the shell`

type ShellCmd struct {
	FileFlags `embed:""`
	History   string `help:"History file" default:"~/.gojograph_history" type:"path"`
}

func (c *ShellCmd) Run(kctx *kong.Context, g *Globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	rt, err := openRuntime(cfg, true)
	if err != nil {
		return err
	}
	err = c.repl(rt, kctx.Stdout)
	if closeErr := rt.close(); err == nil {
		err = closeErr
	}
	return err
}

func (c *ShellCmd) repl(rt *runtime, out io.Writer) error {
	pf, err := c.open(rt)
	if err != nil {
		return err
	}
	defer pf.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s> ", filepath.Base(pf.Path())),
		HistoryFile:     c.History,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("read"),
			readline.PcItem("write"),
			readline.PcItem("long"),
			readline.PcItem("flush"),
			readline.PcItem("stats"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
		Stdout: out,
	})
	if err != nil {
		return fmt.Errorf("failed to start shell: %w", err)
	}
	defer rl.Close()

	sess := &shellSession{rt: rt, pf: pf, cctx: rt.cache.NewCursorContext()}
	defer sess.cctx.Report()
	fmt.Fprintln(out, shellHelp)
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		quit, err := sess.exec(line, out)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// shellSession runs shell commands against one mapped file.
type shellSession struct {
	rt   *runtime
	pf   *pagecache.PagedFile
	cctx *pagecache.CursorContext
}

func (s *shellSession) exec(line string, out io.Writer) (bool, error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false, nil
	}
	switch strings.ToLower(args[0]) {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(out, shellHelp)
	case "read":
		return false, s.read(args[1:], out)
	case "write":
		if len(args) < 4 {
			return false, fmt.Errorf("usage: write <page> <offset> <text>")
		}
		return false, s.write(args[1], args[2], strings.Join(args[3:], " "), out)
	case "long":
		return false, s.long(args[1:], out)
	case "flush":
		if err := s.pf.Flush(); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "flushed %s\n", s.pf.Path())
	case "stats":
		s.cctx.Report()
		printStats(out, s.rt.cache.Stats())
		fmt.Fprintf(out, "last page:   %d\n", s.pf.LastPageID())
		fmt.Fprintf(out, "resident:    %d\n", s.pf.ResidentPages())
	default:
		return false, fmt.Errorf("unknown command %q, try help", args[0])
	}
	return false, nil
}

func parseInts(args []string) ([]int64, error) {
	vals := make([]int64, len(args))
	for i, a := range args {
		v, err := strconv.ParseInt(a, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", a)
		}
		vals[i] = v
	}
	return vals, nil
}

func (s *shellSession) read(args []string, out io.Writer) error {
	if len(args) < 1 || len(args) > 3 {
		return fmt.Errorf("usage: read <page> [offset] [length]")
	}
	vals, err := parseInts(args)
	if err != nil {
		return err
	}
	offset, length := int64(0), int64(s.pf.PayloadSize())
	if len(vals) > 1 {
		offset = vals[1]
		length -= offset
	}
	if len(vals) > 2 {
		length = vals[2]
	}
	if offset < 0 || length < 0 || offset+length > int64(s.pf.PayloadSize()) {
		return fmt.Errorf("range [%d, %d) is outside the %d byte payload", offset, offset+length, s.pf.PayloadSize())
	}

	cur, err := s.pf.Io(vals[0], pagecache.PFSharedReadLock, s.cctx)
	if err != nil {
		return err
	}
	defer cur.Close()
	buf := make([]byte, length)
	ok, err := cur.Next()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("page %d is past the end of the file", vals[0])
	}
	for {
		cur.GetBytesAt(int(offset), buf)
		retry, err := cur.ShouldRetry()
		if err != nil {
			return err
		}
		if !retry {
			break
		}
	}
	_, err = io.WriteString(out, hex.Dump(buf))
	return err
}

func (s *shellSession) write(page, offset, text string, out io.Writer) error {
	vals, err := parseInts([]string{page, offset})
	if err != nil {
		return err
	}
	cur, err := s.pf.Io(vals[0], pagecache.PFSharedWriteLock, s.cctx)
	if err != nil {
		return err
	}
	defer cur.Close()
	if _, err := cur.Next(); err != nil {
		return err
	}
	cur.PutBytesAt(int(vals[1]), []byte(text))
	if cur.CheckAndClearBoundsFlag() {
		return fmt.Errorf("%d bytes at offset %d do not fit in the %d byte payload", len(text), vals[1], s.pf.PayloadSize())
	}
	s.rt.logger.Debug("Shell write", zap.Int64("page_id", vals[0]), zap.Int64("offset", vals[1]), zap.Int("bytes", len(text)))
	fmt.Fprintf(out, "wrote %d bytes to page %d\n", len(text), vals[0])
	return nil
}

func (s *shellSession) long(args []string, out io.Writer) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("usage: long <page> <offset> [value]")
	}
	vals, err := parseInts(args)
	if err != nil {
		return err
	}
	if len(vals) == 3 {
		cur, err := s.pf.Io(vals[0], pagecache.PFSharedWriteLock, s.cctx)
		if err != nil {
			return err
		}
		defer cur.Close()
		if _, err := cur.Next(); err != nil {
			return err
		}
		cur.PutLongAt(int(vals[1]), vals[2])
		if cur.CheckAndClearBoundsFlag() {
			return fmt.Errorf("offset %d is outside the payload", vals[1])
		}
		fmt.Fprintf(out, "%d\n", vals[2])
		return nil
	}

	cur, err := s.pf.Io(vals[0], pagecache.PFSharedReadLock, s.cctx)
	if err != nil {
		return err
	}
	defer cur.Close()
	ok, err := cur.Next()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("page %d is past the end of the file", vals[0])
	}
	var v int64
	for {
		v = cur.GetLongAt(int(vals[1]))
		retry, err := cur.ShouldRetry()
		if err != nil {
			return err
		}
		if !retry {
			break
		}
	}
	if cur.CheckAndClearBoundsFlag() {
		return fmt.Errorf("offset %d is outside the payload", vals[1])
	}
	fmt.Fprintf(out, "%d\n", v)
	return nil
}
