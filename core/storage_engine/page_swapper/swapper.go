// Package pageswapper translates page ids of one mapped file into byte ranges
// of the backing storage and performs the actual read, write and force calls
// on behalf of the page cache.
package pageswapper

import (
	"errors"
	"fmt"
)

// --- Error Definitions ---

var (
	ErrIO               = errors.New("i/o error")
	ErrSwapperClosed    = errors.New("page swapper is closed")
	ErrInvalidPageSize  = errors.New("invalid page size for swapper")
	ErrUnalignedPage    = errors.New("page size is not a multiple of the direct i/o block size")
	ErrBufferSize       = errors.New("buffer size does not match swapper page size")
	ErrNegativePageID   = errors.New("negative file page id")
	ErrFileNameTooLong  = errors.New("file path too long")
	ErrUnknownSwapperFS = errors.New("unknown swapper kind")
)

// MaxFilenameLength bounds the path accepted by the file swappers.
const MaxFilenameLength = 4096

// PageSwapper moves whole pages between a frame buffer and the backing
// storage of a single file. Implementations must be safe for concurrent use
// by different frames; the page cache never issues two concurrent operations
// for the same page.
type PageSwapper interface {
	// Read fills buf with the page contents. Bytes past the end of the
	// file read as zero; the returned count is the number of bytes that
	// actually came from storage.
	Read(filePageID int64, buf []byte) (int, error)
	// Write stores buf as the contents of filePageID, extending the file
	// when needed.
	Write(filePageID int64, buf []byte) (int, error)
	// Force makes every completed Write durable.
	Force() error
	// LastPageID returns the id of the last page in the file, or -1 for an
	// empty file.
	LastPageID() (int64, error)
	Path() string
	PageSize() int
	Close() error
	// CloseAndDelete closes the swapper and removes its backing storage.
	CloseAndDelete() error
}

// Factory creates swappers for mapped files.
type Factory interface {
	Create(path string, pageSize int) (PageSwapper, error)
	Name() string
}

// Kind selects a swapper implementation by name, as used in configuration.
type Kind string

const (
	KindFile     Kind = "file"
	KindDirectIO Kind = "direct_io"
	KindMemory   Kind = "memory"
)

// NewFactory returns the factory registered for kind.
func NewFactory(kind Kind) (Factory, error) {
	switch kind {
	case KindFile, "":
		return &FileSwapperFactory{}, nil
	case KindDirectIO:
		return &FileSwapperFactory{DirectIO: true}, nil
	case KindMemory:
		return NewMemorySwapperFactory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSwapperFS, kind)
	}
}

func checkGeometry(path string, pageSize int) error {
	if len(path) > MaxFilenameLength {
		return fmt.Errorf("%w: %s", ErrFileNameTooLong, path)
	}
	if pageSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPageSize, pageSize)
	}
	return nil
}

func lastPageIDForSize(size int64, pageSize int) int64 {
	if size <= 0 {
		return -1
	}
	return (size+int64(pageSize)-1)/int64(pageSize) - 1
}
