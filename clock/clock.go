// Package clock provides the server-synchronized time every auction decision
// is made against.
package clock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/logger"
)

// DefaultMaxAge is how long a successful sync is trusted before the clock is
// reported stale again.
const DefaultMaxAge = 5 * time.Minute

// Source returns the trusted current time.
type Source interface {
	Fetch(ctx context.Context) (time.Time, error)
}

// Clock is the local monotonic clock corrected by the offset measured at the
// last successful sync. It is safe for concurrent use.
type Clock struct {
	source Source
	maxAge time.Duration
	local  func() time.Time

	mu       sync.RWMutex
	offset   time.Duration
	lastSync time.Time
	synced   bool
	failed   bool
}

// Option configures a Clock.
type Option func(*Clock)

// WithMaxAge overrides DefaultMaxAge. A non-positive value disables the age
// check.
func WithMaxAge(d time.Duration) Option {
	return func(c *Clock) { c.maxAge = d }
}

// WithLocal replaces the local time function. Tests use it to drive the
// clock deterministically.
func WithLocal(local func() time.Time) Option {
	return func(c *Clock) { c.local = local }
}

// New creates an unsynchronized clock. Until the first successful Sync it
// reports local time and is stale.
func New(source Source, opts ...Option) *Clock {
	c := &Clock{
		source: source,
		maxAge: DefaultMaxAge,
		local:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the server-synchronized current time.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.local().Add(c.offset)
}

// Stale reports whether the clock cannot currently vouch for its reading:
// it was never synchronized, the last sync attempt failed, or the last
// success is older than the max age.
func (c *Clock) Stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.synced || c.failed {
		return true
	}
	return c.maxAge > 0 && c.local().Sub(c.lastSync) > c.maxAge
}

// Offset returns the correction currently applied to local time.
func (c *Clock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// Sync fetches the trusted time once and updates the offset. The server
// reading is assumed to be taken halfway through the round trip. On failure
// the previous offset is kept and the clock turns stale.
func (c *Clock) Sync(ctx context.Context) error {
	if c.source == nil {
		return fmt.Errorf("time source is not configured")
	}

	sent := c.local()
	serverTime, err := c.source.Fetch(ctx)
	received := c.local()

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.failed = true
		return fmt.Errorf("fetch server time: %w", err)
	}

	midpoint := sent.Add(received.Sub(sent) / 2)
	c.offset = serverTime.Sub(midpoint)
	c.lastSync = received
	c.synced = true
	c.failed = false
	return nil
}

// Run syncs immediately and then on every interval until ctx is done.
func (c *Clock) Run(ctx context.Context, interval time.Duration) {
	if err := c.Sync(ctx); err != nil {
		logger.Warningf("Clock sync failed, using previous offset: %v", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Sync(ctx); err != nil {
				logger.Warningf("Clock sync failed, using previous offset: %v", err)
				continue
			}
			logger.V(1).Infof("Clock synchronized, offset %v", c.Offset())
		}
	}
}
