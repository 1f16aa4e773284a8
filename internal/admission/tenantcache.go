package admission

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/karat-app/karat/internal/domain"
	"github.com/karat-app/karat/internal/metrics"
)

// TenantResolver looks a tenant up in the persistent store by external
// identity (chat id, API key id). Implementations return a domain error
// with code ENOTFOUND when no tenant is linked to the identity.
type TenantResolver interface {
	ResolveTenant(ctx context.Context, externalID string) (domain.TenantRef, error)
}

// TenantResolverFunc adapts a function to the TenantResolver interface.
type TenantResolverFunc func(ctx context.Context, externalID string) (domain.TenantRef, error)

func (f TenantResolverFunc) ResolveTenant(ctx context.Context, externalID string) (domain.TenantRef, error) {
	return f(ctx, externalID)
}

const (
	// DefaultTenantCacheTTL bounds how stale a cached tenant resolution may
	// be when it feeds a plan-dependent decision.
	DefaultTenantCacheTTL = 300 * time.Second

	// DefaultTenantCacheMaxSize caps the cache before capacity eviction
	// kicks in.
	DefaultTenantCacheMaxSize = 1000
)

// TenantCache maps external identities to resolved tenants with bounded
// staleness. Entries expire after the TTL; when the cache exceeds its max
// size, the entries with the oldest cached_at go first. Safe for concurrent
// use.
type TenantCache struct {
	ttl     time.Duration
	maxSize int
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]domain.CachedTenant
}

// NewTenantCache creates a cache with the given TTL and capacity.
// Non-positive values fall back to the defaults.
func NewTenantCache(ttl time.Duration, maxSize int, logger *slog.Logger) *TenantCache {
	if ttl <= 0 {
		ttl = DefaultTenantCacheTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultTenantCacheMaxSize
	}
	return &TenantCache{
		ttl:     ttl,
		maxSize: maxSize,
		logger:  logger,
		entries: make(map[string]domain.CachedTenant),
	}
}

// Get returns the cached entry for the identity if it is younger than the
// TTL at now. Expired entries behave as absent (and are dropped so they do
// not linger until capacity pressure).
func (c *TenantCache) Get(externalID string, now time.Time) (domain.CachedTenant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[externalID]
	if !ok {
		metrics.TenantCacheLookups.WithLabelValues("miss").Inc()
		return domain.CachedTenant{}, false
	}
	if entry.Expired(now, c.ttl) {
		delete(c.entries, externalID)
		metrics.TenantCacheLookups.WithLabelValues("expired").Inc()
		return domain.CachedTenant{}, false
	}
	metrics.TenantCacheLookups.WithLabelValues("hit").Inc()
	return entry, true
}

// Set inserts or overwrites the resolution for an identity, stamped at now.
// If the cache grows past its max size, the oldest entries (by cached_at)
// are evicted until it fits.
func (c *TenantCache) Set(externalID, tenantID, planName string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[externalID] = domain.CachedTenant{
		TenantID: tenantID,
		PlanName: planName,
		CachedAt: now,
	}
	c.evictOverCapacityLocked()
}

// evictOverCapacityLocked removes oldest-cached entries until the cache is
// within its size limit. Linear scans are fine at the configured sizes
// (~1000 entries) and only run on inserts that exceed capacity.
func (c *TenantCache) evictOverCapacityLocked() {
	for len(c.entries) > c.maxSize {
		var oldestKey string
		var oldestAt time.Time
		first := true
		for key, entry := range c.entries {
			if first || entry.CachedAt.Before(oldestAt) {
				oldestKey = key
				oldestAt = entry.CachedAt
				first = false
			}
		}
		delete(c.entries, oldestKey)
		metrics.TenantCacheEvictions.Inc()
		c.logger.Debug("evicted tenant cache entry over capacity",
			"external_id", oldestKey,
			"cached_at", oldestAt,
		)
	}
}

// Invalidate removes the identity immediately. Called when a tenant's plan
// changes or the tenant is deactivated, so no plan-dependent decision runs
// on a stale mapping.
func (c *TenantCache) Invalidate(externalID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, externalID)
}

// Sweep drops every expired entry and returns how many were removed. The
// cron scheduler calls this alongside the window-store sweep.
func (c *TenantCache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for key, entry := range c.entries {
		if entry.Expired(now, c.ttl) {
			delete(c.entries, key)
			dropped++
		}
	}
	if dropped > 0 {
		c.logger.Debug("swept expired tenant cache entries", "dropped", dropped)
	}
	return dropped
}

// Len returns the number of live entries. Intended for tests.
func (c *TenantCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// TTL returns the configured entry lifetime.
func (c *TenantCache) TTL() time.Duration {
	return c.ttl
}
