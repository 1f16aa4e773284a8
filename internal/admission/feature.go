package admission

import "github.com/karat-app/karat/internal/domain"

// FeatureGate answers whether a resolved tenant's plan includes a named
// capability. Denials are surfaced by the caller as an upgrade prompt; only
// the boolean decision lives here.
type FeatureGate struct {
	catalog *domain.PlanCatalog
}

// NewFeatureGate creates a gate over the plan catalog.
func NewFeatureGate(catalog *domain.PlanCatalog) *FeatureGate {
	return &FeatureGate{catalog: catalog}
}

// Check reports whether the plan includes the feature. Unknown plans fall
// back to basic-tier flags; unknown features are always false.
func (g *FeatureGate) Check(planName string, feature domain.Feature) bool {
	return g.catalog.FeatureEnabled(planName, feature)
}
