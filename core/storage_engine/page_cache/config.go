package pagecache

import (
	"fmt"
	"time"

	pageswapper "github.com/sushant-115/gojograph/core/storage_engine/page_swapper"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 8192
	// MinMaxPages is the smallest usable pool: one frame for a cursor and one
	// for its linked cursor.
	MinMaxPages = 2
)

// Config configures a PageCache.
type Config struct {
	// MaxPages is the number of frames. The memory budget of the cache is
	// MaxPages * PageSize.
	MaxPages int
	// PageSize is the frame size. Mapped files may use any page size up to
	// this value.
	PageSize int
	// MultiVersioned makes FormatMultiVersion the default page format.
	MultiVersioned bool
	// SwapperFactory opens the backing storage of mapped files. Defaults to
	// plain file i/o.
	SwapperFactory pageswapper.Factory
	Logger         *zap.Logger
	Tracer         PageCacheTracer
	// BackgroundSweepInterval enables the background sweeper when positive.
	BackgroundSweepInterval time.Duration
	// KeepFreeFrames is the free-list reserve the background sweeper tries
	// to maintain.
	KeepFreeFrames int
	// TranslationStripes is the lock striping of each file's translation
	// table.
	TranslationStripes int
}

func (c Config) withDefaults() Config {
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if c.SwapperFactory == nil {
		c.SwapperFactory = &pageswapper.FileSwapperFactory{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Tracer == nil {
		c.Tracer = NullPageCacheTracer{}
	}
	if c.TranslationStripes <= 0 {
		c.TranslationStripes = defaultTranslationStripes
	}
	return c
}

func (c Config) validate() error {
	if c.PageSize <= 0 {
		return fmt.Errorf("%w: page size %d", ErrInvalidConfig, c.PageSize)
	}
	if c.MaxPages < MinMaxPages {
		return fmt.Errorf("%w: max pages %d is below the minimum of %d", ErrInvalidConfig, c.MaxPages, MinMaxPages)
	}
	if c.MultiVersioned && c.PageSize <= ReservedBytesMultiVersion {
		return fmt.Errorf("%w: page size %d leaves no payload in multi-version mode", ErrInvalidConfig, c.PageSize)
	}
	if c.KeepFreeFrames < 0 || c.KeepFreeFrames >= c.MaxPages {
		return fmt.Errorf("%w: keep free frames %d must be in [0, %d)", ErrInvalidConfig, c.KeepFreeFrames, c.MaxPages)
	}
	return nil
}

type mapOptions struct {
	format        PageFormat
	reserved      int
	reservedSet   bool
	deleteOnClose bool
}

// MapOption customises a single Map call.
type MapOption func(*mapOptions)

// WithFormat selects the page format, and with it the reserved header size.
func WithFormat(format PageFormat) MapOption {
	return func(o *mapOptions) { o.format = format }
}

// WithReservedBytes overrides the reserved header size of the page format.
func WithReservedBytes(n int) MapOption {
	return func(o *mapOptions) {
		o.reserved = n
		o.reservedSet = true
	}
}

// WithDeleteOnClose removes the backing storage when the last mapping of the
// file is closed.
func WithDeleteOnClose() MapOption {
	return func(o *mapOptions) { o.deleteOnClose = true }
}
