package admission

import (
	"context"
	"log/slog"
	"time"

	"github.com/karat-app/karat/internal/domain"
	"github.com/karat-app/karat/internal/metrics"
)

// Action describes the inbound operation being admitted. Kind is a short
// label for logs and metrics ("chat.message", "api.invoice.create");
// RequiredFeature is set when the action only exists on some plans.
type Action struct {
	Kind            string
	RequiredFeature domain.Feature
}

// Result is the outcome of one pipeline evaluation: the verdict plus the
// resolved tenant, which callers pass explicitly to downstream handlers
// instead of re-resolving or reading ambient state.
type Result struct {
	Verdict domain.Verdict
	Tenant  domain.TenantRef
}

// PipelineConfig carries the deploy-time knobs of the pipeline.
type PipelineConfig struct {
	// DefaultTenantID, when set, absorbs traffic from identities that
	// resolve to no tenant (under basic-tier limits). When empty, such
	// traffic is denied.
	DefaultTenantID string

	// ResolveTimeout bounds the database lookup on a cache miss. A timeout
	// is treated like any other lookup failure: the request degrades to
	// "no tenant resolved" instead of blocking the pipeline.
	ResolveTimeout time.Duration
}

// DefaultResolveTimeout bounds tenant lookups when no timeout is configured.
const DefaultResolveTimeout = 2 * time.Second

// Pipeline evaluates every inbound action: tenant resolution, rate-limit
// gate, then feature gate. Each stage is synchronous; the only state
// mutation is the gate's counter increment on a final allow, and the only
// suspension point is the database lookup on a tenant-cache miss.
//
// Safe for concurrent use across the same and different tenants.
type Pipeline struct {
	cache    *TenantCache
	resolver TenantResolver
	gate     *RateLimitGate
	features *FeatureGate
	cfg      PipelineConfig
	logger   *slog.Logger
}

// NewPipeline wires the admission stages together.
func NewPipeline(cache *TenantCache, resolver TenantResolver, gate *RateLimitGate, features *FeatureGate, cfg PipelineConfig, logger *slog.Logger) *Pipeline {
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultResolveTimeout
	}
	return &Pipeline{
		cache:    cache,
		resolver: resolver,
		gate:     gate,
		features: features,
		cfg:      cfg,
		logger:   logger,
	}
}

// Evaluate runs the full pipeline for one action. Expected outcomes,
// including quota exhaustion and feature denials, come back as verdicts,
// never as errors.
func (p *Pipeline) Evaluate(ctx context.Context, externalID string, action Action) Result {
	now := time.Now()

	// Stage 1: resolve the tenant.
	tenant, ok := p.resolveTenant(ctx, externalID, now)
	if !ok {
		verdict := domain.Denied(domain.EUNAUTHORIZED,
			"no tenant context: this account is not linked to an organization")
		p.record(action, verdict)
		return Result{Verdict: verdict}
	}

	// Stage 2: rate limit. A deny ends the pipeline before any feature
	// work; rate limiting is the cheaper check and takes priority.
	if verdict := p.gate.Check(tenant.TenantID, tenant.PlanName, now); !verdict.Allow {
		p.record(action, verdict)
		return Result{Verdict: verdict, Tenant: tenant}
	}

	// Stage 3: feature gate, only for feature-declaring actions.
	if action.RequiredFeature != "" && !p.features.Check(tenant.PlanName, action.RequiredFeature) {
		tier := p.features.catalog.TierFor(tenant.PlanName)
		verdict := domain.Denied(domain.EPAYMENT,
			domain.UpgradeRequired(action.Kind, action.RequiredFeature, tier).Message)
		p.record(action, verdict)
		return Result{Verdict: verdict, Tenant: tenant}
	}

	verdict := domain.Allowed()
	p.record(action, verdict)
	return Result{Verdict: verdict, Tenant: tenant}
}

// resolveTenant returns the tenant for the identity: cache hit, database
// lookup on miss, then the configured default tenant. The boolean is false
// only when no tenant context exists at all.
func (p *Pipeline) resolveTenant(ctx context.Context, externalID string, now time.Time) (domain.TenantRef, bool) {
	if externalID != "" {
		if entry, ok := p.cache.Get(externalID, now); ok {
			return entry.Ref(), true
		}

		rctx, cancel := context.WithTimeout(ctx, p.cfg.ResolveTimeout)
		ref, err := p.resolver.ResolveTenant(rctx, externalID)
		cancel()
		switch {
		case err == nil:
			p.cache.Set(externalID, ref.TenantID, ref.PlanName, now)
			return ref, true
		case domain.ErrorCode(err) == domain.ENOTFOUND:
			// Unlinked identity; fall through to the default tenant.
		default:
			// Database unavailable or lookup timed out: degrade to "no
			// tenant resolved" rather than failing the caller.
			p.logger.Warn("tenant resolution failed, treating as unresolved",
				"external_id", externalID,
				"error", err,
			)
		}
	}

	if p.cfg.DefaultTenantID != "" {
		return domain.TenantRef{
			TenantID: p.cfg.DefaultTenantID,
			PlanName: string(domain.PlanTierBasic),
		}, true
	}
	return domain.TenantRef{}, false
}

func (p *Pipeline) record(action Action, verdict domain.Verdict) {
	outcome := "allow"
	code := "none"
	if !verdict.Allow {
		outcome = "deny"
		code = verdict.Code
	}
	metrics.AdmissionVerdicts.WithLabelValues(action.Kind, outcome, code).Inc()
}
