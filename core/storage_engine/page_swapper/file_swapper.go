package pageswapper

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"unsafe"

	"github.com/ncw/directio"
)

// FileSwapperFactory creates swappers over regular files. With DirectIO set
// the files are opened with O_DIRECT and every transfer goes through a
// block-aligned buffer.
type FileSwapperFactory struct {
	DirectIO bool
}

func (f *FileSwapperFactory) Name() string {
	if f.DirectIO {
		return string(KindDirectIO)
	}
	return string(KindFile)
}

// Create opens path, creating it when it does not exist.
func (f *FileSwapperFactory) Create(path string, pageSize int) (PageSwapper, error) {
	if err := checkGeometry(path, pageSize); err != nil {
		return nil, err
	}
	if f.DirectIO && pageSize%directio.BlockSize != 0 {
		return nil, fmt.Errorf("%w: page size %d, block size %d", ErrUnalignedPage, pageSize, directio.BlockSize)
	}

	var file *os.File
	var err error
	if f.DirectIO {
		file, err = directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	} else {
		file, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: opening file %s: %v", ErrIO, path, err)
	}
	return &FileSwapper{
		path:     path,
		file:     file,
		pageSize: pageSize,
		directIO: f.DirectIO,
	}, nil
}

// FileSwapper is the PageSwapper for a file on disk. Reads and writes use
// positional I/O so concurrent transfers of different pages do not contend;
// the mutex only guards the open/closed state.
type FileSwapper struct {
	path     string
	pageSize int
	directIO bool

	mu     sync.RWMutex
	file   *os.File
	closed bool
}

// isAligned reports whether b starts on a directio.AlignSize boundary.
func isAligned(b []byte) bool {
	align := uintptr(directio.AlignSize)
	if align == 0 || len(b) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(&b[0]))&(align-1) == 0
}

func (s *FileSwapper) Path() string  { return s.path }
func (s *FileSwapper) PageSize() int { return s.pageSize }

func (s *FileSwapper) acquire() (*os.File, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrSwapperClosed, s.path)
	}
	return s.file, nil
}

// Read reads one page. Short reads at the end of the file are zero-filled.
func (s *FileSwapper) Read(filePageID int64, buf []byte) (int, error) {
	if filePageID < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativePageID, filePageID)
	}
	if len(buf) != s.pageSize {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrBufferSize, len(buf), s.pageSize)
	}
	file, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer s.mu.RUnlock()

	target := buf
	if s.directIO && !isAligned(buf) {
		target = directio.AlignedBlock(s.pageSize)
	}
	offset := filePageID * int64(s.pageSize)
	n, err := file.ReadAt(target, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("%w: reading page %d at offset %d of %s: %v", ErrIO, filePageID, offset, s.path, err)
	}
	clear(target[n:])
	if &target[0] != &buf[0] {
		copy(buf, target)
	}
	return n, nil
}

// Write writes one page at its slot in the file.
func (s *FileSwapper) Write(filePageID int64, buf []byte) (int, error) {
	if filePageID < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativePageID, filePageID)
	}
	if len(buf) != s.pageSize {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrBufferSize, len(buf), s.pageSize)
	}
	file, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer s.mu.RUnlock()

	source := buf
	if s.directIO && !isAligned(buf) {
		source = directio.AlignedBlock(s.pageSize)
		copy(source, buf)
	}
	offset := filePageID * int64(s.pageSize)
	n, err := file.WriteAt(source, offset)
	if err != nil {
		return n, fmt.Errorf("%w: writing page %d at offset %d of %s: %v", ErrIO, filePageID, offset, s.path, err)
	}
	return n, nil
}

func (s *FileSwapper) Force() error {
	file, err := s.acquire()
	if err != nil {
		return err
	}
	defer s.mu.RUnlock()
	if err := file.Sync(); err != nil {
		return fmt.Errorf("%w: syncing %s: %v", ErrIO, s.path, err)
	}
	return nil
}

func (s *FileSwapper) LastPageID() (int64, error) {
	file, err := s.acquire()
	if err != nil {
		return -1, err
	}
	defer s.mu.RUnlock()
	fi, err := file.Stat()
	if err != nil {
		return -1, fmt.Errorf("%w: getting file info of %s: %v", ErrIO, s.path, err)
	}
	return lastPageIDForSize(fi.Size(), s.pageSize), nil
}

// Close syncs and closes the file. Closing twice is a no-op.
func (s *FileSwapper) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	syncErr := s.file.Sync()
	closeErr := s.file.Close()
	if syncErr != nil {
		return fmt.Errorf("%w: syncing %s on close: %v", ErrIO, s.path, syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("%w: closing %s: %v", ErrIO, s.path, closeErr)
	}
	return nil
}

func (s *FileSwapper) CloseAndDelete() error {
	if err := s.Close(); err != nil {
		return err
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: removing %s: %v", ErrIO, s.path, err)
	}
	return nil
}
