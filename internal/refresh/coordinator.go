package refresh

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/lox/ubikemap/internal/metrics"
)

// DefaultInterval is how often the station feed is polled.
const DefaultInterval = 60 * time.Second

// Func performs one refresh.
type Func func(ctx context.Context) error

// Coordinator polls on an interval unless one or more suspend reasons are held.
// Reasons form a set: two overlays pausing independently keep refresh paused
// until both have resumed.
type Coordinator struct {
	mu       sync.Mutex
	reasons  map[string]struct{}
	interval time.Duration
	refresh  Func
}

func NewCoordinator(interval time.Duration, refresh Func) *Coordinator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Coordinator{
		reasons:  make(map[string]struct{}),
		interval: interval,
		refresh:  refresh,
	}
}

// Pause adds a suspend reason.
func (c *Coordinator) Pause(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reasons[reason] = struct{}{}
}

// Resume removes a suspend reason. Unknown reasons are ignored.
func (c *Coordinator) Resume(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.reasons, reason)
}

// Paused reports whether any suspend reason is held.
func (c *Coordinator) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reasons) > 0
}

// Reasons returns the held suspend reasons, sorted.
func (c *Coordinator) Reasons() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.reasons))
	for r := range c.reasons {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Interval returns the polling interval.
func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

// Run refreshes once immediately, then on every tick while not paused.
func (c *Coordinator) Run(ctx context.Context) {
	c.tick(ctx, true)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("refresh: shutting down")
			return
		case <-ticker.C:
			c.tick(ctx, false)
		}
	}
}

// tick runs a refresh unless paused. The initial load ignores pauses.
func (c *Coordinator) tick(ctx context.Context, initial bool) bool {
	if !initial && c.Paused() {
		metrics.RefreshesSkipped.Inc()
		log.Printf("refresh: paused by %v, skipping", c.Reasons())
		return false
	}
	if err := c.refresh(ctx); err != nil {
		log.Printf("refresh: %v", err)
	}
	return true
}
