// Package config loads the YAML configuration of gojograph processes.
//
// Sizes are written the way humans write them ("64MiB", "8KiB") and are
// parsed with go-humanize. Durations use Go duration syntax ("250ms").
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sushant-115/gojograph/core/storage_engine/checkpoint"
	pagecache "github.com/sushant-115/gojograph/core/storage_engine/page_cache"
	pageswapper "github.com/sushant-115/gojograph/core/storage_engine/page_swapper"
	"github.com/sushant-115/gojograph/pkg/logger"
	"github.com/sushant-115/gojograph/pkg/telemetry"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root of the configuration file.
type Config struct {
	PageCache  PageCacheConfig  `yaml:"page_cache"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Logger     logger.Config    `yaml:"logger"`
	Telemetry  telemetry.Config `yaml:"telemetry"`
}

// PageCacheConfig configures the page cache.
type PageCacheConfig struct {
	// Memory is the total frame budget, e.g. "64MiB".
	Memory string `yaml:"memory"`
	// PageSize is the frame size, e.g. "8KiB".
	PageSize string `yaml:"page_size"`
	// MultiVersioned maps files with 24 reserved bytes per page by default.
	MultiVersioned bool `yaml:"multi_versioned"`
	// Swapper is "file", "direct_io" or "memory".
	Swapper                 string        `yaml:"swapper"`
	BackgroundSweepInterval time.Duration `yaml:"background_sweep_interval"`
	KeepFreeFrames          int           `yaml:"keep_free_frames"`
	TranslationStripes      int           `yaml:"translation_stripes"`
}

// CheckpointConfig configures the background checkpointer.
type CheckpointConfig struct {
	// Interval between checkpoints. Zero disables the background loop.
	Interval time.Duration `yaml:"interval"`
	// IORate caps checkpoint write-back per second, e.g. "32MiB". Empty
	// means unlimited.
	IORate string `yaml:"io_rate"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		PageCache: PageCacheConfig{
			Memory:                  "64MiB",
			PageSize:                "8KiB",
			Swapper:                 string(pageswapper.KindFile),
			BackgroundSweepInterval: 100 * time.Millisecond,
		},
		Checkpoint: CheckpointConfig{
			Interval: time.Minute,
			IORate:   "32MiB",
		},
		Logger: logger.Config{
			Level:      "info",
			Format:     "console",
			OutputFile: "stderr",
		},
		Telemetry: telemetry.Config{
			ServiceName:      telemetry.DefaultServiceName,
			TraceSampleRatio: 1.0,
		},
	}
}

// Load reads path on top of Default. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks every section that can be checked without side effects.
func (c Config) Validate() error {
	maxPages, err := c.PageCache.MaxPages()
	if err != nil {
		return err
	}
	pc := c.PageCache
	if maxPages < pagecache.MinMaxPages {
		return fmt.Errorf("%w: memory %s holds %d pages, need at least %d", ErrInvalidConfig, pc.Memory, maxPages, pagecache.MinMaxPages)
	}
	if pc.KeepFreeFrames < 0 || pc.KeepFreeFrames >= maxPages {
		return fmt.Errorf("%w: keep_free_frames %d must be in [0, %d)", ErrInvalidConfig, pc.KeepFreeFrames, maxPages)
	}
	if pc.BackgroundSweepInterval < 0 {
		return fmt.Errorf("%w: negative background_sweep_interval", ErrInvalidConfig)
	}
	if _, err := pageswapper.NewFactory(pageswapper.Kind(pc.Swapper)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := c.Checkpoint.ToCheckpointConfig(); err != nil {
		return err
	}
	return nil
}

// PageSizeBytes parses PageSize. An empty value means the cache default.
func (p PageCacheConfig) PageSizeBytes() (int, error) {
	if p.PageSize == "" {
		return pagecache.DefaultPageSize, nil
	}
	n, err := humanize.ParseBytes(p.PageSize)
	if err != nil {
		return 0, fmt.Errorf("%w: page_size %q: %v", ErrInvalidConfig, p.PageSize, err)
	}
	if n == 0 || n > 1<<30 {
		return 0, fmt.Errorf("%w: page_size %q out of range", ErrInvalidConfig, p.PageSize)
	}
	if p.MultiVersioned && n <= pagecache.ReservedBytesMultiVersion {
		return 0, fmt.Errorf("%w: page_size %q leaves no payload in multi-version mode", ErrInvalidConfig, p.PageSize)
	}
	return int(n), nil
}

// MaxPages is the number of frames the memory budget buys.
func (p PageCacheConfig) MaxPages() (int, error) {
	pageSize, err := p.PageSizeBytes()
	if err != nil {
		return 0, err
	}
	mem, err := humanize.ParseBytes(p.Memory)
	if err != nil {
		return 0, fmt.Errorf("%w: memory %q: %v", ErrInvalidConfig, p.Memory, err)
	}
	return int(mem / uint64(pageSize)), nil
}

// ToCacheConfig builds the page cache configuration. The swapper factory is
// created here, so two calls yield independent memory swappers.
func (p PageCacheConfig) ToCacheConfig(log *zap.Logger, tracer pagecache.PageCacheTracer) (pagecache.Config, error) {
	maxPages, err := p.MaxPages()
	if err != nil {
		return pagecache.Config{}, err
	}
	pageSize, err := p.PageSizeBytes()
	if err != nil {
		return pagecache.Config{}, err
	}
	factory, err := pageswapper.NewFactory(pageswapper.Kind(p.Swapper))
	if err != nil {
		return pagecache.Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return pagecache.Config{
		MaxPages:                maxPages,
		PageSize:                pageSize,
		MultiVersioned:          p.MultiVersioned,
		SwapperFactory:          factory,
		Logger:                  log,
		Tracer:                  tracer,
		BackgroundSweepInterval: p.BackgroundSweepInterval,
		KeepFreeFrames:          p.KeepFreeFrames,
		TranslationStripes:      p.TranslationStripes,
	}, nil
}

func (c CheckpointConfig) ToCheckpointConfig() (checkpoint.Config, error) {
	if c.Interval < 0 {
		return checkpoint.Config{}, fmt.Errorf("%w: negative checkpoint interval", ErrInvalidConfig)
	}
	var rate uint64
	if c.IORate != "" {
		n, err := humanize.ParseBytes(c.IORate)
		if err != nil {
			return checkpoint.Config{}, fmt.Errorf("%w: io_rate %q: %v", ErrInvalidConfig, c.IORate, err)
		}
		rate = n
	}
	return checkpoint.Config{Interval: c.Interval, IORate: int64(rate)}, nil
}
