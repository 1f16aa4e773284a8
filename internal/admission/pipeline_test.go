package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karat-app/karat/internal/domain"
)

// fakeResolver is a TenantResolver with a canned answer and a call counter.
type fakeResolver struct {
	mu     sync.Mutex
	calls  int
	tenant domain.TenantRef
	err    error
}

func (r *fakeResolver) ResolveTenant(ctx context.Context, externalID string) (domain.TenantRef, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.err != nil {
		return domain.TenantRef{}, r.err
	}
	return r.tenant, nil
}

func (r *fakeResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newTestPipeline(t *testing.T, resolver TenantResolver, cfg PipelineConfig, catalog *domain.PlanCatalog) *Pipeline {
	t.Helper()
	if catalog == nil {
		catalog = domain.NewPlanCatalog()
	}
	logger := testLogger()
	cache := NewTenantCache(300*time.Second, 100, logger)
	gate := NewRateLimitGate(NewWindowCounterStore(logger), catalog, logger)
	return NewPipeline(cache, resolver, gate, NewFeatureGate(catalog), cfg, logger)
}

func TestPipeline_AllowsResolvedTenant(t *testing.T) {
	resolver := &fakeResolver{tenant: domain.TenantRef{TenantID: "org-1", PlanName: "pro"}}
	p := newTestPipeline(t, resolver, PipelineConfig{}, nil)

	result := p.Evaluate(context.Background(), "chat:42", Action{Kind: "chat.message"})

	assert.True(t, result.Verdict.Allow)
	assert.Equal(t, "org-1", result.Tenant.TenantID)
	assert.Equal(t, "pro", result.Tenant.PlanName)
}

func TestPipeline_CachesResolution(t *testing.T) {
	resolver := &fakeResolver{tenant: domain.TenantRef{TenantID: "t1", PlanName: "enterprise"}}
	p := newTestPipeline(t, resolver, PipelineConfig{}, nil)

	for i := 0; i < 5; i++ {
		result := p.Evaluate(context.Background(), "chat:42", Action{Kind: "chat.message"})
		require.True(t, result.Verdict.Allow)
		require.Equal(t, "t1", result.Tenant.TenantID)
	}

	assert.Equal(t, 1, resolver.callCount(), "subsequent calls within TTL must not hit the store")
}

func TestPipeline_UnresolvedWithoutDefaultDenies(t *testing.T) {
	resolver := &fakeResolver{err: domain.NotFound("tenant.resolve", "organization", "chat:42")}
	p := newTestPipeline(t, resolver, PipelineConfig{}, nil)

	result := p.Evaluate(context.Background(), "chat:42", Action{Kind: "chat.message"})

	require.False(t, result.Verdict.Allow)
	assert.Equal(t, domain.EUNAUTHORIZED, result.Verdict.Code)
	assert.Contains(t, result.Verdict.Reason, "no tenant context")
	assert.Empty(t, result.Tenant.TenantID)
}

func TestPipeline_UnresolvedFallsBackToDefaultTenant(t *testing.T) {
	resolver := &fakeResolver{err: domain.NotFound("tenant.resolve", "organization", "chat:42")}
	p := newTestPipeline(t, resolver, PipelineConfig{DefaultTenantID: "org-default"}, nil)

	result := p.Evaluate(context.Background(), "chat:42", Action{Kind: "chat.message"})

	require.True(t, result.Verdict.Allow)
	assert.Equal(t, "org-default", result.Tenant.TenantID)
	assert.Equal(t, string(domain.PlanTierBasic), result.Tenant.PlanName)
}

func TestPipeline_ResolverErrorDegradesToUnresolved(t *testing.T) {
	resolver := &fakeResolver{err: domain.Internal(context.DeadlineExceeded, "tenant.resolve", "database unavailable")}
	p := newTestPipeline(t, resolver, PipelineConfig{}, nil)

	// Must not panic or surface an error; a failed lookup is a deny.
	result := p.Evaluate(context.Background(), "chat:42", Action{Kind: "chat.message"})

	assert.False(t, result.Verdict.Allow)
	assert.Contains(t, result.Verdict.Reason, "no tenant context")
}

func TestPipeline_FeatureGateByPlan(t *testing.T) {
	t.Run("pro tenant may use voice input", func(t *testing.T) {
		resolver := &fakeResolver{tenant: domain.TenantRef{TenantID: "org-pro", PlanName: "pro"}}
		p := newTestPipeline(t, resolver, PipelineConfig{}, nil)

		result := p.Evaluate(context.Background(), "chat:1",
			Action{Kind: "chat.voice", RequiredFeature: domain.FeatureVoiceInput})

		assert.True(t, result.Verdict.Allow)
	})

	t.Run("basic tenant is denied voice input with feature and plan in reason", func(t *testing.T) {
		resolver := &fakeResolver{tenant: domain.TenantRef{TenantID: "org-basic", PlanName: "basic"}}
		p := newTestPipeline(t, resolver, PipelineConfig{}, nil)

		result := p.Evaluate(context.Background(), "chat:2",
			Action{Kind: "chat.voice", RequiredFeature: domain.FeatureVoiceInput})

		require.False(t, result.Verdict.Allow)
		assert.Equal(t, domain.EPAYMENT, result.Verdict.Code)
		assert.Contains(t, result.Verdict.Reason, "voice_input")
		assert.Contains(t, result.Verdict.Reason, "basic")
	})
}

func TestPipeline_RateLimitTakesPriorityOverFeatureGate(t *testing.T) {
	catalog := domain.NewPlanCatalogWithLimits(map[domain.PlanTier]domain.PlanLimits{
		domain.PlanTierBasic: {RequestsPerMinute: 1, RequestsPerHour: 100, RequestsPerDay: 100},
	})
	resolver := &fakeResolver{tenant: domain.TenantRef{TenantID: "org-1", PlanName: "basic"}}
	p := newTestPipeline(t, resolver, PipelineConfig{}, catalog)

	first := p.Evaluate(context.Background(), "chat:1", Action{Kind: "chat.message"})
	require.True(t, first.Verdict.Allow)

	// The second request is both over the minute limit and asking for a
	// feature basic lacks; the rate-limit denial must win.
	second := p.Evaluate(context.Background(), "chat:1",
		Action{Kind: "chat.voice", RequiredFeature: domain.FeatureVoiceInput})

	require.False(t, second.Verdict.Allow)
	assert.Equal(t, domain.ERATELIMIT, second.Verdict.Code)
	assert.Contains(t, second.Verdict.Reason, "per-minute")
}

func TestPipeline_FeatureDenialFollowsGateAdmission(t *testing.T) {
	catalog := domain.NewPlanCatalogWithLimits(map[domain.PlanTier]domain.PlanLimits{
		domain.PlanTierBasic: {RequestsPerMinute: 100, RequestsPerHour: 100, RequestsPerDay: 100},
	})
	logger := testLogger()
	store := NewWindowCounterStore(logger)
	cache := NewTenantCache(300*time.Second, 100, logger)
	gate := NewRateLimitGate(store, catalog, logger)
	resolver := &fakeResolver{tenant: domain.TenantRef{TenantID: "org-1", PlanName: "basic"}}
	p := NewPipeline(cache, resolver, gate, NewFeatureGate(catalog), PipelineConfig{}, logger)

	// Feature denial happens after the gate admitted (and counted) the
	// request; verify the counter reflects only the gate-admitted pass.
	result := p.Evaluate(context.Background(), "chat:1",
		Action{Kind: "api.create", RequiredFeature: domain.FeatureAPIAccess})

	require.False(t, result.Verdict.Allow)
	assert.Equal(t, 1, store.GetCount("org-1", GranularityMinute, time.Now()))
}

func TestPipeline_ConcurrentEvaluationsAreSafe(t *testing.T) {
	resolver := &fakeResolver{tenant: domain.TenantRef{TenantID: "org-1", PlanName: "enterprise"}}
	p := newTestPipeline(t, resolver, PipelineConfig{}, nil)

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			result := p.Evaluate(context.Background(), "chat:42", Action{Kind: "chat.message"})
			assert.True(t, result.Verdict.Allow)
		}()
	}
	wg.Wait()
}
