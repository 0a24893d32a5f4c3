package backend

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/GriffinCanCode/ragstudio/internal/domain/events"
	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/logging"
)

// StatusFetcher loads the status snapshot of a resource.
type StatusFetcher interface {
	GetStatus(ctx context.Context, resource string) (events.Status, error)
}

type cachedStatus struct {
	status  events.Status
	fetched time.Time
}

// StatusCache keeps the last status snapshot per resource. Concurrent
// misses for one resource share a single fetch. A snapshot is served
// until it is invalidated or older than the TTL; a zero TTL keeps it
// until invalidation.
type StatusCache struct {
	fetcher StatusFetcher
	ttl     time.Duration
	group   singleflight.Group
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]cachedStatus
	gens    map[string]uint64
	fetches uint64
}

// NewStatusCache creates a cache over fetcher.
func NewStatusCache(fetcher StatusFetcher, ttl time.Duration, logger *zap.Logger) *StatusCache {
	return &StatusCache{
		fetcher: fetcher,
		ttl:     ttl,
		logger:  logging.OrNop(logger).Named("status_cache"),
		now:     time.Now,
		entries: make(map[string]cachedStatus),
		gens:    make(map[string]uint64),
	}
}

// Get returns the cached snapshot or fetches a fresh one.
func (c *StatusCache) Get(ctx context.Context, resource string) (events.Status, error) {
	if status, ok := c.Peek(resource); ok {
		return status, nil
	}

	c.mu.RLock()
	gen := c.gens[resource]
	c.mu.RUnlock()

	v, err, _ := c.group.Do(resource, func() (interface{}, error) {
		status, err := c.fetcher.GetStatus(ctx, resource)
		if err != nil {
			return events.Status{}, err
		}

		c.mu.Lock()
		c.fetches++
		// A snapshot fetched across an invalidation is returned but not kept.
		if c.gens[resource] == gen {
			c.entries[resource] = cachedStatus{status: status, fetched: c.now()}
		}
		c.mu.Unlock()
		return status, nil
	})
	if err != nil {
		return events.Status{}, err
	}
	return v.(events.Status), nil
}

// Peek returns a fresh cached snapshot without fetching.
func (c *StatusCache) Peek(resource string) (events.Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[resource]
	if !ok {
		return events.Status{}, false
	}
	if c.ttl > 0 && c.now().Sub(entry.fetched) > c.ttl {
		return events.Status{}, false
	}
	return entry.status, true
}

// Invalidate drops the snapshot of resource so the next Get refetches.
func (c *StatusCache) Invalidate(resource string) {
	c.mu.Lock()
	delete(c.entries, resource)
	c.gens[resource]++
	c.mu.Unlock()

	c.group.Forget(resource)
	c.logger.Debug("Status snapshot invalidated", zap.String("resource", resource))
}

// Fetches returns how many fetches completed successfully.
func (c *StatusCache) Fetches() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetches
}
