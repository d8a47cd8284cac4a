// Command gojograph_pagecache exercises and inspects page cache stores.
package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/alecthomas/kong"
	"github.com/sushant-115/gojograph/config"
	"github.com/sushant-115/gojograph/core/storage_engine/checkpoint"
	pagecache "github.com/sushant-115/gojograph/core/storage_engine/page_cache"
	internaltelemetry "github.com/sushant-115/gojograph/internal/telemetry"
	"github.com/sushant-115/gojograph/pkg/logger"
	"github.com/sushant-115/gojograph/pkg/telemetry"
	"go.uber.org/zap"
)

// Globals are the flags shared by every command.
type Globals struct {
	Config string `name:"config" short:"c" help:"YAML configuration file" type:"existingfile"`
}

var CLI struct {
	Globals

	Bench  BenchCmd  `cmd:"" help:"Run concurrent writers and optimistic readers against one file"`
	Dump   DumpCmd   `cmd:"" help:"Hex dump the payload of one page"`
	Digest DigestCmd `cmd:"" help:"Print a blake3 digest of every page payload"`
	Shell  ShellCmd  `cmd:"" help:"Interactive shell over one mapped file"`
}

// runtime is a page cache with its logging, telemetry and checkpointer
// wired from the configuration.
type runtime struct {
	cfg          config.Config
	logger       *zap.Logger
	cache        *pagecache.PageCache
	checkpointer *checkpoint.Checkpointer
	shutdown     telemetry.ShutdownFunc
}

func loadConfig(g *Globals) (config.Config, error) {
	if g == nil || g.Config == "" {
		return config.Default(), nil
	}
	return config.Load(g.Config)
}

func openRuntime(cfg config.Config, withCheckpoints bool) (*runtime, error) {
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise telemetry: %w", err)
	}
	metrics, err := internaltelemetry.NewPageCacheMetrics(tel.Meter)
	if err != nil {
		_ = shutdown(context.Background())
		return nil, fmt.Errorf("failed to create page cache metrics: %w", err)
	}

	cacheCfg, err := cfg.PageCache.ToCacheConfig(log, internaltelemetry.NewMetricsTracer(metrics))
	if err != nil {
		_ = shutdown(context.Background())
		return nil, err
	}
	cache, err := pagecache.New(cacheCfg)
	if err != nil {
		_ = shutdown(context.Background())
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: log, cache: cache, shutdown: shutdown}

	if withCheckpoints {
		cpCfg, err := cfg.Checkpoint.ToCheckpointConfig()
		if err != nil {
			_ = rt.close()
			return nil, err
		}
		rt.checkpointer = checkpoint.New(cache, cpCfg, log, tel.Tracer)
		if err := rt.checkpointer.Start(); err != nil {
			_ = rt.close()
			return nil, err
		}
	}
	return rt, nil
}

func (rt *runtime) close() error {
	var errs []error
	if rt.checkpointer != nil {
		errs = append(errs, rt.checkpointer.Stop())
	}
	errs = append(errs, rt.cache.Close())
	errs = append(errs, rt.shutdown(context.Background()))
	_ = rt.logger.Sync()
	return errors.Join(errs...)
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("gojograph_pagecache"),
		kong.Description("Page cache tools for gojograph stores"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	err := ctx.Run(&CLI.Globals)
	ctx.FatalIfErrorf(err)
}
