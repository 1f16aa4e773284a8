// Package admission implements the plan-based admission-control layer:
// per-tenant windowed request counters, the rate-limit gate, the tenant
// resolution cache, the feature gate, and the pipeline that combines them
// into a single allow/deny verdict per inbound action.
//
// All components are explicitly constructed, injectable instances. The
// process wires one of each at startup and passes them by reference; tests
// build fresh instances for isolation.
package admission

import (
	"log/slog"
	"sync"
	"time"

	"github.com/karat-app/karat/internal/metrics"
)

// Granularity identifies one of the three time windows used for rate
// limiting.
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
)

// Granularities lists all windows in check order (finest first).
var Granularities = [3]Granularity{GranularityMinute, GranularityHour, GranularityDay}

// bucketLayout returns the time layout that labels buckets of a granularity.
// Labels come from UTC wall-clock truncation, so a timestamp falls in
// exactly one bucket: 12:00:59 and 12:01:00 label different minute buckets
// but the same hour bucket.
func bucketLayout(g Granularity) string {
	switch g {
	case GranularityMinute:
		return "200601021504"
	case GranularityHour:
		return "2006010215"
	default:
		return "20060102"
	}
}

// BucketLabel returns the deterministic bucket label for a timestamp at the
// given granularity.
func BucketLabel(t time.Time, g Granularity) string {
	return t.UTC().Format(bucketLayout(g))
}

// bucketStart returns the UTC start of the bucket containing t.
func bucketStart(t time.Time, g Granularity) time.Time {
	u := t.UTC()
	switch g {
	case GranularityMinute:
		return u.Truncate(time.Minute)
	case GranularityHour:
		return u.Truncate(time.Hour)
	default:
		return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	}
}

type counterKey struct {
	tenantID    string
	granularity Granularity
	bucket      string
}

type windowCounter struct {
	count int
	start time.Time
}

const (
	// maxBucketAge is the retention horizon: a bucket whose start is older
	// than this is stale regardless of granularity. Dropping day buckets
	// after one day transitively drops the minute and hour buckets of the
	// same period.
	maxBucketAge = 24 * time.Hour

	// defaultSweepInterval throttles the inline sweep triggered from
	// Increment so the hot path stays O(1) in the common case.
	defaultSweepInterval = time.Hour
)

// WindowCounterStore holds per-tenant, per-granularity request counts in
// memory. All methods are safe for concurrent use. Stale buckets are swept
// lazily (at most once per sweep interval from the write path) and can also
// be swept explicitly by the scheduler.
type WindowCounterStore struct {
	logger *slog.Logger

	mu            sync.Mutex
	counters      map[counterKey]windowCounter
	lastSweep     time.Time
	sweepInterval time.Duration
}

// NewWindowCounterStore creates an empty store.
func NewWindowCounterStore(logger *slog.Logger) *WindowCounterStore {
	return &WindowCounterStore{
		logger:        logger,
		counters:      make(map[counterKey]windowCounter),
		sweepInterval: defaultSweepInterval,
	}
}

// GetCount returns the count for the bucket containing now. An absent
// bucket counts as zero.
func (s *WindowCounterStore) GetCount(tenantID string, g Granularity, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCountLocked(tenantID, g, now)
}

func (s *WindowCounterStore) getCountLocked(tenantID string, g Granularity, now time.Time) int {
	key := counterKey{tenantID: tenantID, granularity: g, bucket: BucketLabel(now, g)}
	return s.counters[key].count
}

// Increment adds one to the bucket containing now, creating it if absent.
// It may also trigger a throttled sweep of stale buckets.
func (s *WindowCounterStore) Increment(tenantID string, g Granularity, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incrementLocked(tenantID, g, now)
	s.maybeSweepLocked(now)
}

func (s *WindowCounterStore) incrementLocked(tenantID string, g Granularity, now time.Time) {
	key := counterKey{tenantID: tenantID, granularity: g, bucket: BucketLabel(now, g)}
	c, ok := s.counters[key]
	if !ok {
		c = windowCounter{start: bucketStart(now, g)}
	}
	c.count++
	s.counters[key] = c
}

// Reset zeroes counters for one tenant: the named granularities, or all
// three when none are given. Used by administrative tooling and tests.
func (s *WindowCounterStore) Reset(tenantID string, granularities ...Granularity) {
	if len(granularities) == 0 {
		granularities = Granularities[:]
	}
	wanted := make(map[Granularity]bool, len(granularities))
	for _, g := range granularities {
		wanted[g] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.counters {
		if key.tenantID == tenantID && wanted[key.granularity] {
			delete(s.counters, key)
		}
	}
}

// Sweep removes every bucket older than the retention horizon and returns
// how many were dropped. The cron scheduler calls this hourly; Increment
// also calls it opportunistically, throttled to the sweep interval.
func (s *WindowCounterStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now)
}

func (s *WindowCounterStore) maybeSweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < s.sweepInterval {
		return
	}
	s.sweepLocked(now)
}

func (s *WindowCounterStore) sweepLocked(now time.Time) int {
	s.lastSweep = now

	dropped := 0
	horizon := now.UTC().Add(-maxBucketAge)
	for key, c := range s.counters {
		if c.start.Before(horizon) {
			delete(s.counters, key)
			dropped++
		}
	}

	if dropped > 0 {
		metrics.WindowBucketsEvicted.Add(float64(dropped))
		s.logger.Debug("swept stale window buckets",
			"dropped", dropped,
			"remaining", len(s.counters),
		)
	}
	return dropped
}

// Len returns the number of live buckets. Intended for tests and metrics.
func (s *WindowCounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}
