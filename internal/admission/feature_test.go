package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/karat-app/karat/internal/domain"
)

func TestFeatureGate_Check(t *testing.T) {
	gate := NewFeatureGate(domain.NewPlanCatalog())

	assert.False(t, gate.Check("basic", domain.FeatureVoiceInput))
	assert.True(t, gate.Check("pro", domain.FeatureVoiceInput))
	assert.True(t, gate.Check("enterprise", domain.FeatureAPIAccess))
	assert.False(t, gate.Check("pro", domain.FeatureAPIAccess))

	// Unknown plans collapse to basic; unknown features are never enabled.
	assert.False(t, gate.Check("bogus", domain.FeaturePhotoInput))
	assert.False(t, gate.Check("enterprise", domain.Feature("holograms")))
}
