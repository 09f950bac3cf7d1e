package crawl

import (
	"context"
	"math/rand/v2"
	"time"
)

// Sleeper blocks for a duration or until ctx ends.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RandomPacer sleeps a uniformly random duration in [0, Max] before each read.
type RandomPacer struct {
	Max     time.Duration
	Sleeper Sleeper
	// Rand returns a value in [0, n]; nil uses math/rand/v2.
	Rand func(n int64) int64
}

// Pace sleeps for a random delay or until ctx ends.
func (p RandomPacer) Pace(ctx context.Context) error {
	if p.Max <= 0 {
		return ctx.Err()
	}
	pick := p.Rand
	if pick == nil {
		pick = func(n int64) int64 { return rand.Int64N(n + 1) }
	}
	return p.Sleeper.Sleep(ctx, time.Duration(pick(int64(p.Max))))
}

// NoPacer never sleeps.
type NoPacer struct{}

// Pace only reports context cancellation.
func (NoPacer) Pace(ctx context.Context) error {
	return ctx.Err()
}
