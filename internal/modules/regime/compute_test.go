package regime

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bentrade/bentrade/internal/domain"
)

func components(trend, vol, breadth, rates, momentum float64) map[string]domain.RegimeComponent {
	return map[string]domain.RegimeComponent{
		"trend":      {Score: trend},
		"volatility": {Score: vol},
		"breadth":    {Score: breadth},
		"rates":      {Score: rates},
		"momentum":   {Score: momentum},
	}
}

func TestComputeRiskOn(t *testing.T) {
	r := Compute(components(80, 75, 70, 65, 85))

	assert.Equal(t, domain.RegimeRiskOn, r.Label)
	assert.Greater(t, r.Score, 60.0)
	assert.Contains(t, r.SuggestedPlaybook.Primary, "credit_put")
	assert.Contains(t, r.SuggestedPlaybook.Avoid, "credit_call")
}

func TestComputeRiskOff(t *testing.T) {
	r := Compute(components(20, 25, 30, 35, 15))

	assert.Equal(t, domain.RegimeRiskOff, r.Label)
	assert.Less(t, r.Score, 40.0)
	assert.Contains(t, r.SuggestedPlaybook.Avoid, "equity")
}

func TestComputeNeutralBand(t *testing.T) {
	r := Compute(components(50, 50, 50, 50, 50))

	assert.Equal(t, domain.RegimeNeutral, r.Label)
	assert.InDelta(t, 50.0, r.Score, 1e-9)
	assert.Contains(t, r.SuggestedPlaybook.Primary, "iron_condor")
}

func TestComputeWeightsTrendOverRates(t *testing.T) {
	// Trend carries 0.25, rates 0.15; a high trend score moves the composite
	// more than the same score on rates.
	highTrend := Compute(components(100, 50, 50, 50, 50))
	highRates := Compute(components(50, 50, 50, 100, 50))

	assert.Greater(t, highTrend.Score, highRates.Score)
}

func TestComputeDisagreementNote(t *testing.T) {
	r := Compute(components(95, 5, 90, 10, 50))

	assert.Contains(t, r.SuggestedPlaybook.Notes, "regime components disagree, size positions down")
}

func TestComputeEmptyComponents(t *testing.T) {
	r := Compute(map[string]domain.RegimeComponent{})

	assert.Equal(t, domain.RegimeNeutral, r.Label)
	assert.Equal(t, 50.0, r.Score)
}
