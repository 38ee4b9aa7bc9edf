package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// Evicter drops navigation sessions that have been idle for too long
type Evicter interface {
	EvictIdle(idle time.Duration) int
}

// Cleaner handles periodic eviction of idle participant sessions
type Cleaner struct {
	sessions Evicter
	interval time.Duration
	idle     time.Duration
}

// NewCleaner creates a new cleanup worker
func NewCleaner(sessions Evicter, interval, idle time.Duration) *Cleaner {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if idle <= 0 {
		idle = 2 * time.Hour
	}

	return &Cleaner{
		sessions: sessions,
		interval: interval,
		idle:     idle,
	}
}

// Start begins the cleanup worker in a goroutine
func (c *Cleaner) Start(ctx context.Context) {
	go c.run(ctx)
}

// run is the main loop for the cleanup worker
func (c *Cleaner) run(ctx context.Context) {
	slog.Info("cleanup worker started", "interval", c.interval, "idle_timeout", c.idle)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup worker stopped")
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// cleanup evicts idle sessions; their participants resume from storage on return
func (c *Cleaner) cleanup() int {
	slog.Debug("running cleanup cycle")

	evicted := c.sessions.EvictIdle(c.idle)
	if evicted == 0 {
		slog.Debug("no idle sessions found")
		return 0
	}

	slog.Info("idle sessions evicted", "count", evicted, "idle_timeout", c.idle)
	return evicted
}
