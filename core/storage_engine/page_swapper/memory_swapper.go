package pageswapper

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dsnet/golib/memfile"
)

// MemorySwapperFactory keeps file contents in memory. Files survive being
// closed and re-created through the same factory, which makes it behave like
// a small volatile file system.
type MemorySwapperFactory struct {
	mu    sync.Mutex
	files map[string]*memfile.File
}

func NewMemorySwapperFactory() *MemorySwapperFactory {
	return &MemorySwapperFactory{files: make(map[string]*memfile.File)}
}

func (f *MemorySwapperFactory) Name() string { return string(KindMemory) }

func (f *MemorySwapperFactory) Create(path string, pageSize int) (PageSwapper, error) {
	if err := checkGeometry(path, pageSize); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[path]
	if !ok {
		file = memfile.New(make([]byte, 0))
		f.files[path] = file
	}
	return &MemorySwapper{factory: f, path: path, pageSize: pageSize, file: file}, nil
}

// Contents returns a copy of the bytes stored for path.
func (f *MemorySwapperFactory) Contents(path string) ([]byte, bool) {
	f.mu.Lock()
	file, ok := f.files[path]
	f.mu.Unlock()
	if !ok {
		return nil, false
	}
	return append([]byte(nil), file.Bytes()...), true
}

func (f *MemorySwapperFactory) remove(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
}

// MemorySwapper is a PageSwapper over a memfile.File.
type MemorySwapper struct {
	factory  *MemorySwapperFactory
	path     string
	pageSize int

	mu     sync.RWMutex
	file   *memfile.File
	closed bool
}

func (s *MemorySwapper) Path() string  { return s.path }
func (s *MemorySwapper) PageSize() int { return s.pageSize }

func (s *MemorySwapper) Read(filePageID int64, buf []byte) (int, error) {
	if filePageID < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativePageID, filePageID)
	}
	if len(buf) != s.pageSize {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrBufferSize, len(buf), s.pageSize)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, fmt.Errorf("%w: %s", ErrSwapperClosed, s.path)
	}
	n, err := s.file.ReadAt(buf, filePageID*int64(s.pageSize))
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("%w: reading page %d of %s: %v", ErrIO, filePageID, s.path, err)
	}
	clear(buf[n:])
	return n, nil
}

func (s *MemorySwapper) Write(filePageID int64, buf []byte) (int, error) {
	if filePageID < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativePageID, filePageID)
	}
	if len(buf) != s.pageSize {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrBufferSize, len(buf), s.pageSize)
	}
	// memfile grows its backing slice on write, so writers are serialised.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("%w: %s", ErrSwapperClosed, s.path)
	}
	n, err := s.file.WriteAt(buf, filePageID*int64(s.pageSize))
	if err != nil {
		return n, fmt.Errorf("%w: writing page %d of %s: %v", ErrIO, filePageID, s.path, err)
	}
	return n, nil
}

func (s *MemorySwapper) Force() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("%w: %s", ErrSwapperClosed, s.path)
	}
	return nil
}

func (s *MemorySwapper) LastPageID() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return -1, fmt.Errorf("%w: %s", ErrSwapperClosed, s.path)
	}
	return lastPageIDForSize(int64(len(s.file.Bytes())), s.pageSize), nil
}

func (s *MemorySwapper) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemorySwapper) CloseAndDelete() error {
	if err := s.Close(); err != nil {
		return err
	}
	s.factory.remove(s.path)
	return nil
}
