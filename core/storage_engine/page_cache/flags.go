package pagecache

// PFFlags select the lock intent and behaviour of a cursor opened by
// PagedFile.Io.
type PFFlags uint32

const (
	// PFSharedReadLock opens an optimistic read cursor. Readers never block
	// writers; they validate with ShouldRetry instead.
	PFSharedReadLock PFFlags = 1 << iota
	// PFSharedWriteLock opens a write cursor. Each page it is positioned on
	// is held under the frame's exclusive write lock.
	PFSharedWriteLock
	// PFNoGrow stops a write cursor from extending the file.
	PFNoGrow
)

func (f PFFlags) valid() bool {
	read := f&PFSharedReadLock != 0
	write := f&PFSharedWriteLock != 0
	return read != write
}

// PageFormat is the closed set of page layouts a PagedFile can use. It fixes
// how many bytes at the start of every page are reserved for the storage
// format above the cache.
type PageFormat uint8

const (
	FormatStandard PageFormat = iota
	FormatMultiVersion
)

// ReservedBytesMultiVersion is the per-page header size in multi-version
// mode: three longs owned by the version chain bookkeeping above the cache.
const ReservedBytesMultiVersion = 3 * 8

func (f PageFormat) reservedBytes() int {
	if f == FormatMultiVersion {
		return ReservedBytesMultiVersion
	}
	return 0
}

func (f PageFormat) String() string {
	switch f {
	case FormatStandard:
		return "standard"
	case FormatMultiVersion:
		return "multi_version"
	default:
		return "unknown"
	}
}

// UnboundPageID marks a cursor or frame that is not bound to any page.
const UnboundPageID int64 = -1
