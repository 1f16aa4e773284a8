// Package domain contains core business types and interfaces.
//
// This file defines plan tiers, per-tier limits, and the plan catalog that
// the admission layer consults on every inbound action.
package domain

import "strings"

// PlanTier represents the subscription level of an organization.
type PlanTier string

const (
	PlanTierBasic      PlanTier = "basic"
	PlanTierPro        PlanTier = "pro"
	PlanTierEnterprise PlanTier = "enterprise"
)

// Unlimited marks a limit that is never enforced.
const Unlimited = -1

// Feature identifies a plan-gated capability.
type Feature string

const (
	FeatureAIExtraction    Feature = "ai_extraction"
	FeatureVoiceInput      Feature = "voice_input"
	FeaturePhotoInput      Feature = "photo_input"
	FeatureCustomTemplates Feature = "custom_templates"
	FeatureAPIAccess       Feature = "api_access"
	FeaturePrioritySupport Feature = "priority_support"
)

// PlanLimits holds the limits and feature flags for one tier.
//
// Values are set once when the catalog is built and never mutated afterward,
// so concurrent readers need no locking. A limit of Unlimited (-1) means the
// corresponding check always passes.
type PlanLimits struct {
	RequestsPerMinute int
	RequestsPerHour   int
	RequestsPerDay    int

	InvoicesPerMonth   int
	UsersPerOrg        int
	MaxItemsPerInvoice int

	AIExtraction    bool
	VoiceInput      bool
	PhotoInput      bool
	CustomTemplates bool
	APIAccess       bool
	PrioritySupport bool
}

// HasFeature reports whether the named feature flag is set.
// Unknown feature names resolve to false.
func (l PlanLimits) HasFeature(f Feature) bool {
	switch f {
	case FeatureAIExtraction:
		return l.AIExtraction
	case FeatureVoiceInput:
		return l.VoiceInput
	case FeaturePhotoInput:
		return l.PhotoInput
	case FeatureCustomTemplates:
		return l.CustomTemplates
	case FeatureAPIAccess:
		return l.APIAccess
	case FeaturePrioritySupport:
		return l.PrioritySupport
	default:
		return false
	}
}

// ParsePlanTier matches a plan name against the known tiers,
// case-insensitively. The second return value reports whether the name was
// recognized; callers that need a usable tier regardless should fall back to
// PlanTierBasic (the catalog does this at its boundary).
func ParsePlanTier(name string) (PlanTier, bool) {
	switch PlanTier(strings.ToLower(strings.TrimSpace(name))) {
	case PlanTierBasic:
		return PlanTierBasic, true
	case PlanTierPro:
		return PlanTierPro, true
	case PlanTierEnterprise:
		return PlanTierEnterprise, true
	default:
		return PlanTierBasic, false
	}
}

// DefaultPlanLimits returns the built-in limits table. Per-tier numbers can
// be overridden from configuration before the catalog is constructed.
func DefaultPlanLimits() map[PlanTier]PlanLimits {
	return map[PlanTier]PlanLimits{
		PlanTierBasic: {
			RequestsPerMinute:  30,
			RequestsPerHour:    300,
			RequestsPerDay:     1000,
			InvoicesPerMonth:   50,
			UsersPerOrg:        2,
			MaxItemsPerInvoice: 20,
		},
		PlanTierPro: {
			RequestsPerMinute:  120,
			RequestsPerHour:    2000,
			RequestsPerDay:     10000,
			InvoicesPerMonth:   500,
			UsersPerOrg:        10,
			MaxItemsPerInvoice: 100,
			AIExtraction:       true,
			VoiceInput:         true,
			PhotoInput:         true,
			CustomTemplates:    true,
		},
		PlanTierEnterprise: {
			RequestsPerMinute:  Unlimited,
			RequestsPerHour:    Unlimited,
			RequestsPerDay:     Unlimited,
			InvoicesPerMonth:   Unlimited,
			UsersPerOrg:        Unlimited,
			MaxItemsPerInvoice: 500,
			AIExtraction:       true,
			VoiceInput:         true,
			PhotoInput:         true,
			CustomTemplates:    true,
			APIAccess:          true,
			PrioritySupport:    true,
		},
	}
}

// PlanCatalog is a write-once lookup of limits by tier.
//
// The catalog is constructed at process start and passed by reference to
// every component that needs plan information; it is never mutated after
// construction.
type PlanCatalog struct {
	limits map[PlanTier]PlanLimits
}

// NewPlanCatalog builds a catalog from the built-in limits table.
func NewPlanCatalog() *PlanCatalog {
	return NewPlanCatalogWithLimits(DefaultPlanLimits())
}

// NewPlanCatalogWithLimits builds a catalog from the given table. Tiers
// missing from the table fall back to the built-in defaults, so partial
// overrides (e.g. from tests or configuration) stay safe.
func NewPlanCatalogWithLimits(limits map[PlanTier]PlanLimits) *PlanCatalog {
	table := DefaultPlanLimits()
	for tier, l := range limits {
		table[tier] = l
	}
	return &PlanCatalog{limits: table}
}

// LimitsFor returns the limits for the named plan. Unknown or malformed
// plan names resolve to the basic tier: the catalog always fails closed to
// the most restrictive known tier, never open to unlimited.
func (c *PlanCatalog) LimitsFor(planName string) PlanLimits {
	tier, _ := ParsePlanTier(planName)
	return c.limits[tier]
}

// TierFor returns the parsed tier for the named plan, falling back to basic.
func (c *PlanCatalog) TierFor(planName string) PlanTier {
	tier, _ := ParsePlanTier(planName)
	return tier
}

// FeatureEnabled reports whether the named plan includes the feature.
// Unknown plans fall back to basic; unknown features resolve to false.
func (c *PlanCatalog) FeatureEnabled(planName string, feature Feature) bool {
	return c.LimitsFor(planName).HasFeature(feature)
}
