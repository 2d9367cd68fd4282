package poller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ftfeed/apps/ftfeed/internal/chain"
	"ftfeed/apps/ftfeed/internal/observability"
)

// TimestampLayout is the wall-clock format shown next to each event.
const TimestampLayout = "3:04:05 PM"

// runLoop polls once immediately, then on every tick until ctx is done. A
// failed iteration is logged and the next tick proceeds as usual.
func runLoop(ctx context.Context, name string, interval time.Duration, logger *zap.Logger, metrics *observability.Metrics, poll func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.PollIterations.WithLabelValues(name, "error").Inc()
			logger.Error("Poll iteration failed", zap.String("loop", name), zap.Error(err))
		} else {
			metrics.PollIterations.WithLabelValues(name, "ok").Inc()
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// windowStart returns the first block of a trailing window ending at head.
func windowStart(head, window uint64) uint64 {
	if head < window {
		return 0
	}
	return head - window
}

// blockClock resolves block timestamps, caching lookups for one iteration.
type blockClock struct {
	client   chain.Client
	location *time.Location
	logger   *zap.Logger
	now      func() time.Time
	cache    map[uint64]time.Time
}

func newBlockClock(client chain.Client, location *time.Location, logger *zap.Logger, now func() time.Time) *blockClock {
	if location == nil {
		location = time.Local
	}
	return &blockClock{client: client, location: location, logger: logger, now: now, cache: make(map[uint64]time.Time)}
}

// Timestamp falls back to the wall clock when the block cannot be fetched.
func (c *blockClock) Timestamp(ctx context.Context, number uint64) string {
	at, ok := c.cache[number]
	if !ok {
		var err error
		at, err = c.client.BlockTime(ctx, number)
		if err != nil {
			c.logger.Warn("Failed to get block time, using wall clock", zap.Uint64("block", number), zap.Error(err))
			at = c.now()
		} else {
			c.cache[number] = at
		}
	}
	return at.In(c.location).Format(TimestampLayout)
}
