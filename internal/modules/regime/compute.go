// Package regime derives the composite market regime from its component
// scores when the provider reports components without an aggregate.
package regime

import (
	"gonum.org/v1/gonum/stat"

	"github.com/bentrade/bentrade/internal/domain"
)

// componentWeights is the fixed weighting of the regime dimensions.
var componentWeights = map[string]float64{
	"trend":      0.25,
	"volatility": 0.25,
	"breadth":    0.20,
	"rates":      0.15,
	"momentum":   0.15,
}

const (
	riskOnThreshold  = 60.0
	riskOffThreshold = 40.0

	// Above this spread between component scores the components disagree
	// and the playbook carries a caution note.
	disagreementStdDev = 25.0
)

// Compute aggregates component scores into a labelled regime. Unknown
// component names weigh in at the residual average weight; missing components
// simply drop out of the mean.
func Compute(components map[string]domain.RegimeComponent) domain.Regime {
	var scores, weights []float64
	for name, component := range components {
		weight, ok := componentWeights[name]
		if !ok {
			weight = 0.1
		}
		scores = append(scores, component.Score)
		weights = append(weights, weight)
	}

	score := 50.0
	spread := 0.0
	if len(scores) > 0 {
		score = stat.Mean(scores, weights)
		spread = stat.StdDev(scores, weights)
	}

	label := domain.RegimeNeutral
	switch {
	case score >= riskOnThreshold:
		label = domain.RegimeRiskOn
	case score <= riskOffThreshold:
		label = domain.RegimeRiskOff
	}

	regime := domain.Regime{
		Label:             label,
		Score:             score,
		Components:        components,
		SuggestedPlaybook: suggestedPlaybook(label),
	}
	if spread > disagreementStdDev {
		regime.SuggestedPlaybook.Notes = append(regime.SuggestedPlaybook.Notes,
			"regime components disagree, size positions down")
	}
	return regime
}

// suggestedPlaybook maps a regime label to its coarse strategy guidance.
func suggestedPlaybook(label domain.RegimeLabel) domain.SuggestedPlaybook {
	switch label {
	case domain.RegimeRiskOn:
		return domain.SuggestedPlaybook{
			Primary: []string{"credit_put", "debit_spread", "equity"},
			Avoid:   []string{"credit_call"},
			Notes:   []string{"risk-on: favor bullish premium selling and directional debit spreads"},
		}
	case domain.RegimeRiskOff:
		return domain.SuggestedPlaybook{
			Primary: []string{"credit_call", "iron_condor"},
			Avoid:   []string{"equity", "debit_spread"},
			Notes:   []string{"risk-off: sell call-side premium, stay defined-risk"},
		}
	default:
		return domain.SuggestedPlaybook{
			Primary: []string{"iron_condor", "calendar", "income"},
			Avoid:   []string{},
			Notes:   []string{"neutral: favor range-bound structures"},
		}
	}
}
