package admission

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karat-app/karat/internal/domain"
	"github.com/karat-app/karat/internal/metrics"
)

// AnonymousTenantID is the shared bucket used when a request carries no
// tenant identity. Unauthenticated traffic is limited under basic-tier
// numbers rather than skipped.
const AnonymousTenantID = "anonymous"

// RateLimitGate admits or denies a single request for a tenant under its
// plan's per-minute, per-hour, and per-day limits.
//
// The gate serializes admissions with its own mutex so that "check all
// three windows, then increment all three" is one critical section: two
// concurrent requests can never both read count == limit-1 and both be
// admitted. This is strict enforcement with no over-admission, at the cost
// of a global lock; the guarded work is a handful of map reads and the
// store never suspends.
type RateLimitGate struct {
	mu       sync.Mutex
	counters *WindowCounterStore
	catalog  *domain.PlanCatalog
	logger   *slog.Logger
}

// NewRateLimitGate creates a gate over the given counter store and catalog.
func NewRateLimitGate(counters *WindowCounterStore, catalog *domain.PlanCatalog, logger *slog.Logger) *RateLimitGate {
	return &RateLimitGate{
		counters: counters,
		catalog:  catalog,
		logger:   logger,
	}
}

// windowLimit pairs a granularity with its configured limit.
type windowLimit struct {
	granularity Granularity
	limit       int
}

// Check evaluates the request at now and, when every window passes,
// increments all three counters as one logical unit. Denied requests do not
// consume quota: no counter moves on a deny.
func (g *RateLimitGate) Check(tenantID, planName string, now time.Time) domain.Verdict {
	if tenantID == "" {
		tenantID = AnonymousTenantID
		planName = string(domain.PlanTierBasic)
	}

	limits := g.catalog.LimitsFor(planName)
	windows := [3]windowLimit{
		{GranularityMinute, limits.RequestsPerMinute},
		{GranularityHour, limits.RequestsPerHour},
		{GranularityDay, limits.RequestsPerDay},
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Check finest window first and exit early on the first violation so a
	// minute-limited tenant never touches the hour and day counters.
	for _, w := range windows {
		if w.limit == domain.Unlimited {
			continue
		}
		count := g.counters.GetCount(tenantID, w.granularity, now)
		if count >= w.limit {
			g.logger.Info("rate limit exceeded",
				"tenant_id", tenantID,
				"plan", planName,
				"window", string(w.granularity),
				"count", count,
				"limit", w.limit,
			)
			metrics.RateLimitDenials.WithLabelValues(string(w.granularity)).Inc()
			return domain.Denied(domain.ERATELIMIT, denyReason(w.granularity, w.limit))
		}
	}

	for _, w := range windows {
		g.counters.Increment(tenantID, w.granularity, now)
	}
	return domain.Allowed()
}

// denyReason builds the user-facing reason naming the violated window.
func denyReason(g Granularity, limit int) string {
	var window string
	switch g {
	case GranularityMinute:
		window = "per-minute"
	case GranularityHour:
		window = "per-hour"
	default:
		window = "per-day"
	}
	return fmt.Sprintf("Too many requests: %s limit of %d reached. Please try again later.", window, limit)
}
