package admission

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karat-app/karat/internal/domain"
)

// testCatalog builds a catalog with small basic-tier numbers so tests can
// hit limits without thousands of iterations.
func testCatalog(basic domain.PlanLimits) *domain.PlanCatalog {
	return domain.NewPlanCatalogWithLimits(map[domain.PlanTier]domain.PlanLimits{
		domain.PlanTierBasic: basic,
	})
}

func TestRateLimitGate_AllowsUnderLimit(t *testing.T) {
	store := NewWindowCounterStore(testLogger())
	catalog := testCatalog(domain.PlanLimits{RequestsPerMinute: 5, RequestsPerHour: 100, RequestsPerDay: 1000})
	gate := NewRateLimitGate(store, catalog, testLogger())
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		verdict := gate.Check("org-1", "basic", now)
		assert.True(t, verdict.Allow, "request %d should be admitted", i+1)
	}
}

func TestRateLimitGate_DeniesAtMinuteLimit(t *testing.T) {
	store := NewWindowCounterStore(testLogger())
	catalog := testCatalog(domain.PlanLimits{RequestsPerMinute: 2, RequestsPerHour: 100, RequestsPerDay: 1000})
	gate := NewRateLimitGate(store, catalog, testLogger())
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	gate.Check("org-1", "basic", now)
	gate.Check("org-1", "basic", now)
	verdict := gate.Check("org-1", "basic", now)

	require.False(t, verdict.Allow)
	assert.Equal(t, domain.ERATELIMIT, verdict.Code)
	assert.Contains(t, verdict.Reason, "per-minute")
}

func TestRateLimitGate_DeniedRequestsDoNotConsumeQuota(t *testing.T) {
	store := NewWindowCounterStore(testLogger())
	catalog := testCatalog(domain.PlanLimits{RequestsPerMinute: 1, RequestsPerHour: 100, RequestsPerDay: 1000})
	gate := NewRateLimitGate(store, catalog, testLogger())
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	require.True(t, gate.Check("org-1", "basic", now).Allow)

	before := [3]int{}
	for i, g := range Granularities {
		before[i] = store.GetCount("org-1", g, now)
	}

	require.False(t, gate.Check("org-1", "basic", now).Allow)

	for i, g := range Granularities {
		assert.Equal(t, before[i], store.GetCount("org-1", g, now),
			"deny must not move the %s counter", g)
	}
}

func TestRateLimitGate_AllowIncrementsAllThreeWindows(t *testing.T) {
	store := NewWindowCounterStore(testLogger())
	catalog := testCatalog(domain.PlanLimits{RequestsPerMinute: 10, RequestsPerHour: 10, RequestsPerDay: 10})
	gate := NewRateLimitGate(store, catalog, testLogger())
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	require.True(t, gate.Check("org-1", "basic", now).Allow)

	for _, g := range Granularities {
		assert.Equal(t, 1, store.GetCount("org-1", g, now))
	}
}

func TestRateLimitGate_HourLimitNamesHourWindow(t *testing.T) {
	store := NewWindowCounterStore(testLogger())
	catalog := testCatalog(domain.PlanLimits{RequestsPerMinute: 100, RequestsPerHour: 1, RequestsPerDay: 1000})
	gate := NewRateLimitGate(store, catalog, testLogger())
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	require.True(t, gate.Check("org-1", "basic", now).Allow)
	verdict := gate.Check("org-1", "basic", now)

	require.False(t, verdict.Allow)
	assert.Contains(t, verdict.Reason, "per-hour")
}

func TestRateLimitGate_DayLimitNamesDayWindow(t *testing.T) {
	store := NewWindowCounterStore(testLogger())
	catalog := testCatalog(domain.PlanLimits{RequestsPerMinute: 100, RequestsPerHour: 100, RequestsPerDay: 1})
	gate := NewRateLimitGate(store, catalog, testLogger())
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	require.True(t, gate.Check("org-1", "basic", now).Allow)
	verdict := gate.Check("org-1", "basic", now)

	require.False(t, verdict.Allow)
	assert.Contains(t, verdict.Reason, "per-day")
}

func TestRateLimitGate_UnlimitedAlwaysPasses(t *testing.T) {
	store := NewWindowCounterStore(testLogger())
	gate := NewRateLimitGate(store, domain.NewPlanCatalog(), testLogger())
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	// Enterprise carries -1 on all three request windows.
	for i := 0; i < 200; i++ {
		require.True(t, gate.Check("org-ent", "enterprise", now).Allow)
	}
}

func TestRateLimitGate_EmptyTenantUsesSharedAnonymousBucket(t *testing.T) {
	store := NewWindowCounterStore(testLogger())
	catalog := testCatalog(domain.PlanLimits{RequestsPerMinute: 2, RequestsPerHour: 100, RequestsPerDay: 1000})
	gate := NewRateLimitGate(store, catalog, testLogger())
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	// Unauthenticated traffic is never exempt: it shares one anonymous
	// bucket under basic limits, even if the caller claims a bigger plan.
	assert.True(t, gate.Check("", "enterprise", now).Allow)
	assert.True(t, gate.Check("", "enterprise", now).Allow)
	verdict := gate.Check("", "enterprise", now)

	assert.False(t, verdict.Allow)
	assert.Equal(t, 2, store.GetCount(AnonymousTenantID, GranularityMinute, now))
}

func TestRateLimitGate_BasicMinuteScenario(t *testing.T) {
	// 30 requests/minute on basic; the 31st in the same
	// bucket is denied with a reason mentioning the minute window; one
	// bucket later the tenant is admitted again.
	store := NewWindowCounterStore(testLogger())
	gate := NewRateLimitGate(store, domain.NewPlanCatalog(), testLogger())
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 30; i++ {
		require.True(t, gate.Check("org-1", "basic", now).Allow, "request %d", i+1)
	}

	verdict := gate.Check("org-1", "basic", now)
	require.False(t, verdict.Allow)
	assert.True(t, strings.Contains(verdict.Reason, "minute"), "reason %q should mention the minute window", verdict.Reason)

	nextBucket := now.Add(time.Minute)
	assert.True(t, gate.Check("org-1", "basic", nextBucket).Allow)
}

func TestRateLimitGate_NoOverAdmissionUnderConcurrency(t *testing.T) {
	const limit = 40
	store := NewWindowCounterStore(testLogger())
	catalog := testCatalog(domain.PlanLimits{RequestsPerMinute: limit, RequestsPerHour: 10000, RequestsPerDay: 10000})
	gate := NewRateLimitGate(store, catalog, testLogger())
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	wg.Add(2 * limit)
	for i := 0; i < 2*limit; i++ {
		go func() {
			defer wg.Done()
			if gate.Check("org-1", "basic", now).Allow {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, admitted, "check-and-increment is one critical section")
	assert.Equal(t, limit, store.GetCount("org-1", GranularityMinute, now))
}
