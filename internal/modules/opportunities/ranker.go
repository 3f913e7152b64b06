package opportunities

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/bentrade/bentrade/internal/domain"
)

const (
	multiplierAvoid   = 0.60
	multiplierNeutral = 0.85
	multiplierFull    = 1.00

	// tieEpsilon is the adjusted-score gap under which two opportunities
	// count as tied and fall through to the secondary sort keys.
	tieEpsilon = 0.1
)

// laneSet is the flattened view of a playbook the ranker classifies against.
type laneSet struct {
	primary   []string
	secondary []string
	avoid     []string
}

func (ls laneSet) empty() bool {
	return len(ls.primary) == 0 && len(ls.secondary) == 0 && len(ls.avoid) == 0
}

// Ranker re-scores opportunities under the active playbook and sorts them.
type Ranker struct {
	log zerolog.Logger
}

// NewRanker creates a ranker.
func NewRanker(log zerolog.Logger) *Ranker {
	return &Ranker{log: log.With().Str("component", "ranker").Logger()}
}

// Rank returns a playbook-adjusted, sorted copy of opps. The inputs are never
// mutated; each returned opportunity carries a _pb annotation recording the
// base score, multiplier, lane and reasons. The enriched playbook wins when it
// has any lane entry; otherwise the regime's suggested playbook is used, and
// with neither the ranking is a plain score sort with no penalty.
func (r *Ranker) Rank(opps []domain.Opportunity, regime *domain.Regime, playbook *domain.Playbook) []domain.Opportunity {
	lanes := resolveLanes(regime, playbook)

	ranked := make([]domain.Opportunity, len(opps))
	for i, opp := range opps {
		ranked[i] = r.annotate(opp, lanes)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return rankLess(ranked[i], ranked[j])
	})

	r.log.Debug().
		Int("count", len(ranked)).
		Bool("playbook_empty", lanes.empty()).
		Msg("Ranked opportunities")
	return ranked
}

// resolveLanes flattens the active playbook into plain lane strategy lists.
func resolveLanes(regime *domain.Regime, playbook *domain.Playbook) laneSet {
	if !playbook.Empty() {
		return laneSet{
			primary:   itemStrategies(playbook.Primary),
			secondary: itemStrategies(playbook.Secondary),
			avoid:     itemStrategies(playbook.Avoid),
		}
	}
	if regime != nil {
		return laneSet{
			primary: append([]string(nil), regime.SuggestedPlaybook.Primary...),
			avoid:   append([]string(nil), regime.SuggestedPlaybook.Avoid...),
		}
	}
	return laneSet{}
}

func itemStrategies(items []domain.PlaybookItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Strategy)
	}
	return out
}

// annotate classifies one opportunity's lane and applies the multiplier to a
// copy of the record.
func (r *Ranker) annotate(opp domain.Opportunity, lanes laneSet) domain.Opportunity {
	lane, reasons := classifyLane(opp.Strategy, lanes)

	multiplier := multiplierFull
	switch lane {
	case domain.LaneAvoid:
		multiplier = multiplierAvoid
	case domain.LaneNeutral:
		if !lanes.empty() {
			multiplier = multiplierNeutral
		} else {
			reasons = append(reasons, "no playbook active, score unchanged")
		}
	}

	adjusted := roundTo1(clamp(opp.Score*multiplier, 0, 100))
	opp.Playbook = &domain.PlaybookAnnotation{
		BaseScore:     opp.Score,
		AdjustedScore: adjusted,
		Multiplier:    multiplier,
		Lane:          lane,
		Reasons:       reasons,
	}
	return opp
}

// classifyLane matches a strategy against the lanes. Avoid dominates: a
// strategy listed in both primary and avoid lands in avoid.
func classifyLane(strategy string, lanes laneSet) (domain.Lane, []string) {
	if match := laneMatch(strategy, lanes.avoid); match != "" {
		return domain.LaneAvoid, []string{fmt.Sprintf("%s is in the avoid lane", match)}
	}
	if match := laneMatch(strategy, lanes.primary); match != "" {
		return domain.LanePrimary, []string{fmt.Sprintf("%s is a primary strategy for this regime", match)}
	}
	if match := laneMatch(strategy, lanes.secondary); match != "" {
		return domain.LaneSecondary, []string{fmt.Sprintf("%s is a secondary strategy for this regime", match)}
	}
	if lanes.empty() {
		return domain.LaneNeutral, nil
	}
	return domain.LaneNeutral, []string{"strategy is not in any playbook lane"}
}

func laneMatch(strategy string, lane []string) string {
	for _, candidate := range lane {
		if StrategiesMatch(strategy, candidate) {
			return CanonicalStrategy(candidate)
		}
	}
	return ""
}

// rankLess orders two annotated opportunities: adjusted score descending,
// then within the tie epsilon lane priority, base score, liquidity and
// return-on-risk.
func rankLess(a, b domain.Opportunity) bool {
	sa, sb := a.Playbook.AdjustedScore, b.Playbook.AdjustedScore
	if diff := sa - sb; diff > tieEpsilon || diff < -tieEpsilon {
		return sa > sb
	}

	pa, pb := domain.LanePriority(a.Playbook.Lane), domain.LanePriority(b.Playbook.Lane)
	if pa != pb {
		return pa < pb
	}
	if a.Playbook.BaseScore != b.Playbook.BaseScore {
		return a.Playbook.BaseScore > b.Playbook.BaseScore
	}
	if la, lb := floatOrZero(a.KeyMetrics.Liquidity), floatOrZero(b.KeyMetrics.Liquidity); la != lb {
		return la > lb
	}
	return floatOrZero(a.ROR) > floatOrZero(b.ROR)
}

func floatOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
