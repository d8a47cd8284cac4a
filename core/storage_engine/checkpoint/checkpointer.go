// Package checkpoint periodically makes the page cache durable. Each
// checkpoint flushes every dirty page and forces the mapped files, paced by
// an I/O rate limit so that it does not starve foreground faults.
package checkpoint

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sushant-115/gojograph/core/storage_engine/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

var ErrAlreadyStarted = errors.New("checkpointer already started")

// Flusher is what the checkpointer makes durable. *pagecache.PageCache
// implements it.
type Flusher interface {
	FlushAndForceWith(ctx context.Context, limiter common.IOLimiter) error
}

// Config configures a Checkpointer.
type Config struct {
	// Interval between background checkpoints. Zero disables the
	// background loop; CheckpointNow still works.
	Interval time.Duration
	// IORate limits checkpoint write-back in bytes per second. Zero or
	// negative means unlimited.
	IORate int64
}

// Result describes one completed checkpoint.
type Result struct {
	Started  time.Time
	Duration time.Duration
	Err      error
}

// Checkpointer runs checkpoints on demand and on an interval.
type Checkpointer struct {
	flusher Flusher
	cfg     Config
	limiter common.IOLimiter
	logger  *zap.Logger
	tracer  trace.Tracer

	runMu sync.Mutex // one checkpoint at a time

	mu      sync.Mutex // guards the fields below
	last    Result
	count   int64
	started bool

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a checkpointer. logger and tracer may be nil.
func New(flusher Flusher, cfg Config, logger *zap.Logger, tracer trace.Tracer) *Checkpointer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer("")
	}
	return &Checkpointer{
		flusher:  flusher,
		cfg:      cfg,
		limiter:  common.NewRateLimiter(cfg.IORate),
		logger:   logger.Named("checkpoint"),
		tracer:   tracer,
		stopChan: make(chan struct{}),
	}
}

// Start launches the background loop. It is a no-op when no interval is
// configured.
func (c *Checkpointer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true
	if c.cfg.Interval <= 0 {
		return nil
	}
	c.wg.Add(1)
	go c.loop()
	c.logger.Info("Checkpointer started", zap.Duration("interval", c.cfg.Interval), zap.Int64("io_rate", c.cfg.IORate))
	return nil
}

func (c *Checkpointer) loop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.stopChan
		cancel()
	}()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			if err := c.CheckpointNow(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("Periodic checkpoint failed", zap.Error(err))
			}
		}
	}
}

// Stop ends the background loop, interrupting a paced checkpoint in
// progress, and then runs a final unthrottled checkpoint.
func (c *Checkpointer) Stop() error {
	c.mu.Lock()
	select {
	case <-c.stopChan:
		c.mu.Unlock()
		return nil
	default:
	}
	close(c.stopChan)
	c.mu.Unlock()
	c.wg.Wait()

	c.runMu.Lock()
	defer c.runMu.Unlock()
	err := c.run(context.Background(), common.Unlimited, "final")
	c.logger.Info("Checkpointer stopped", zap.Error(err))
	return err
}

// CheckpointNow runs a checkpoint and waits for it. A checkpoint already in
// progress is waited for first.
func (c *Checkpointer) CheckpointNow(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.run(ctx, c.limiter, "on_demand")
}

func (c *Checkpointer) run(ctx context.Context, limiter common.IOLimiter, trigger string) error {
	ctx, span := c.tracer.Start(ctx, "checkpoint.flush_and_force",
		trace.WithAttributes(
			attribute.String("checkpoint.trigger", trigger),
			attribute.Int64("checkpoint.io_rate", c.cfg.IORate),
		))
	defer span.End()

	started := time.Now()
	err := c.flusher.FlushAndForceWith(ctx, limiter)
	elapsed := time.Since(started)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("Checkpoint failed", zap.String("trigger", trigger), zap.Duration("duration", elapsed), zap.Error(err))
	} else {
		span.SetStatus(codes.Ok, "")
		c.logger.Debug("Checkpoint completed", zap.String("trigger", trigger), zap.Duration("duration", elapsed))
	}

	c.mu.Lock()
	c.last = Result{Started: started, Duration: elapsed, Err: err}
	c.count++
	c.mu.Unlock()
	return err
}

// LastCheckpoint returns the outcome of the most recent checkpoint.
func (c *Checkpointer) LastCheckpoint() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Count returns the number of checkpoints run so far.
func (c *Checkpointer) Count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}
