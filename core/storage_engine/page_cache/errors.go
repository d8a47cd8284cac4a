package pagecache

import (
	"errors"
	"fmt"
)

// --- Error Definitions ---

var (
	ErrIO                   = errors.New("i/o error in underlying storage")
	ErrFileMapping          = errors.New("file mapping error")
	ErrCacheClosed          = errors.New("page cache is closed")
	ErrFileUnmapped         = errors.New("paged file is unmapped")
	ErrFileHasOpenCursors   = errors.New("paged file still has open cursors")
	ErrInvalidPageSize      = errors.New("invalid page size")
	ErrInvalidReservedBytes = errors.New("reserved bytes must leave a non-empty payload")
	ErrInvalidConfig        = errors.New("invalid page cache configuration")
	ErrInvalidFlags         = errors.New("exactly one of PFSharedReadLock and PFSharedWriteLock is required")
	ErrInvalidPageID        = errors.New("invalid page id")

	// Cursor misuse. Byte accessors report these by panicking, since they
	// have no error return and misuse is a programming error.
	ErrCursorClosed      = errors.New("page cursor is closed")
	ErrCursorNotBound    = errors.New("page cursor is not positioned on a page")
	ErrCursorNotWritable = errors.New("page cursor was not opened for writing")
)

// StorageError reports a failed swapper operation for one page of one file.
type StorageError struct {
	Op     string // "read", "write", "force", ...
	Path   string
	PageID int64
	Err    error
}

func (e *StorageError) Error() string {
	if e.PageID >= 0 {
		return fmt.Sprintf("%s page %d of %s: %v", e.Op, e.PageID, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrIO }

func newStorageError(op, path string, pageID int64, err error) error {
	return &StorageError{Op: op, Path: path, PageID: pageID, Err: err}
}

// FileMappingError is returned by Map when a file cannot be mapped.
type FileMappingError struct {
	Path   string
	Reason string
	Err    error
}

func (e *FileMappingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot map %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("cannot map %s: %s", e.Path, e.Reason)
}

func (e *FileMappingError) Unwrap() error { return e.Err }

func (e *FileMappingError) Is(target error) bool { return target == ErrFileMapping }

// IsIOError reports whether err came from the underlying storage.
func IsIOError(err error) bool {
	return errors.Is(err, ErrIO)
}

// IsFileMapping reports whether err is a mapping failure.
func IsFileMapping(err error) bool {
	return errors.Is(err, ErrFileMapping)
}
