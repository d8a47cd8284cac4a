// Package common holds helpers shared by the storage engine's background
// I/O paths.
package common

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// chunkSize bounds a single token request so that large flushes are paced
// in steps instead of one long wait.
const chunkSize = 4 * 1024 * 1024 // 4 MiB

// IOLimiter paces write-back traffic. Implementations must be safe for
// concurrent use.
type IOLimiter interface {
	// MaybeLimitIO blocks until n bytes may be written, or ctx is done.
	MaybeLimitIO(ctx context.Context, n int) error
}

type unlimited struct{}

func (unlimited) MaybeLimitIO(context.Context, int) error { return nil }

// Unlimited never blocks.
var Unlimited IOLimiter = unlimited{}

// RateLimiter is a token-bucket IOLimiter over golang.org/x/time/rate.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter returns a limiter allowing bytesPerSec on average. A
// non-positive rate yields Unlimited.
func NewRateLimiter(bytesPerSec int64) IOLimiter {
	if bytesPerSec <= 0 {
		return Unlimited
	}
	burst := chunkSize
	if bytesPerSec < int64(burst) {
		burst = int(bytesPerSec)
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst)}
}

func (l *RateLimiter) MaybeLimitIO(ctx context.Context, n int) error {
	burst := l.limiter.Burst()
	for n > 0 {
		step := n
		if step > burst {
			step = burst
		}
		if err := l.limiter.WaitN(ctx, step); err != nil {
			return fmt.Errorf("rate limiter error: %w", err)
		}
		n -= step
	}
	return nil
}
