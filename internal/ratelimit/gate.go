// Package ratelimit implements the serialized interval gate in front of
// the fiction archive.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/fandomtools/ficbot/internal/metrics"
)

// Gate enforces a minimum interval between grants, globally across all
// callers. Waiters are served in the order they call Wait, so the gate
// doubles as the pipeline's only cross-request ordering primitive.
type Gate struct {
	limiter *rate.Limiter
}

// New creates a Gate with the given minimum inter-request interval.
// A non-positive interval disables the gate.
func New(minInterval time.Duration) *Gate {
	if minInterval <= 0 {
		return &Gate{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Gate{limiter: rate.NewLimiter(rate.Every(minInterval), 1)}
}

// Wait blocks until a slot is granted or the context ends. There are no
// other error conditions; this is a pure delay primitive.
func (g *Gate) Wait(ctx context.Context) error {
	start := time.Now()
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate gate wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateGateDelay(waited)
	}
	return nil
}
