package opportunities

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bentrade/bentrade/internal/domain"
)

func testRanker() *Ranker {
	return NewRanker(zerolog.Nop())
}

func opp(symbol, strategy string, score float64) domain.Opportunity {
	return domain.Opportunity{
		Symbol:   symbol,
		Strategy: strategy,
		Score:    score,
	}
}

func playbookWith(primary, secondary, avoid []string) *domain.Playbook {
	items := func(tags []string) []domain.PlaybookItem {
		out := make([]domain.PlaybookItem, 0, len(tags))
		for _, tag := range tags {
			out = append(out, domain.PlaybookItem{Strategy: tag})
		}
		return out
	}
	return &domain.Playbook{
		Primary:   items(primary),
		Secondary: items(secondary),
		Avoid:     items(avoid),
	}
}

func TestRankAvoidDominates(t *testing.T) {
	r := testRanker()
	pb := playbookWith([]string{"iron_condor"}, nil, []string{"iron_condor"})

	ranked := r.Rank([]domain.Opportunity{opp("SPY", "iron_condor", 80)}, nil, pb)

	require.Len(t, ranked, 1)
	pbAnn := ranked[0].Playbook
	require.NotNil(t, pbAnn)
	assert.Equal(t, domain.LaneAvoid, pbAnn.Lane)
	assert.Equal(t, 0.60, pbAnn.Multiplier)
	assert.Equal(t, 48.0, pbAnn.AdjustedScore)
	assert.Equal(t, 80.0, pbAnn.BaseScore)
}

func TestRankNeutralPenaltyOnlyWithPlaybook(t *testing.T) {
	r := testRanker()

	// Populated playbook that does not mention the strategy: 0.85 penalty.
	pb := playbookWith([]string{"credit_spread"}, nil, nil)
	ranked := r.Rank([]domain.Opportunity{opp("SPY", "calendar", 60)}, nil, pb)
	require.Len(t, ranked, 1)
	assert.Equal(t, domain.LaneNeutral, ranked[0].Playbook.Lane)
	assert.Equal(t, 0.85, ranked[0].Playbook.Multiplier)
	assert.Equal(t, 51.0, ranked[0].Playbook.AdjustedScore)

	// Empty playbook: no penalty at all.
	ranked = r.Rank([]domain.Opportunity{opp("SPY", "calendar", 60)}, nil, &domain.Playbook{})
	require.Len(t, ranked, 1)
	assert.Equal(t, domain.LaneNeutral, ranked[0].Playbook.Lane)
	assert.Equal(t, 1.00, ranked[0].Playbook.Multiplier)
	assert.Equal(t, 60.0, ranked[0].Playbook.AdjustedScore)
}

func TestRankPrimaryAndSecondaryKeepBaseScore(t *testing.T) {
	r := testRanker()
	pb := playbookWith([]string{"credit_spread"}, []string{"calendar"}, nil)

	ranked := r.Rank([]domain.Opportunity{
		opp("SPY", "put_credit_spread", 72.3),
		opp("QQQ", "calendar_spread", 55),
	}, nil, pb)

	require.Len(t, ranked, 2)
	assert.Equal(t, domain.LanePrimary, ranked[0].Playbook.Lane)
	assert.Equal(t, 72.3, ranked[0].Playbook.AdjustedScore)
	assert.Equal(t, domain.LaneSecondary, ranked[1].Playbook.Lane)
	assert.Equal(t, 55.0, ranked[1].Playbook.AdjustedScore)
}

func TestRankAliasMatchesLane(t *testing.T) {
	r := testRanker()
	pb := playbookWith([]string{"credit_spread"}, nil, nil)

	ranked := r.Rank([]domain.Opportunity{opp("SPY", "bull_put_spread", 70)}, nil, pb)

	require.Len(t, ranked, 1)
	assert.Equal(t, domain.LanePrimary, ranked[0].Playbook.Lane)
}

func TestRankTieBreakLanePriority(t *testing.T) {
	r := testRanker()
	pb := playbookWith([]string{"credit_spread"}, []string{"calendar"}, nil)

	// 70.0 (secondary) vs 69.95 (primary): within the 0.1 epsilon the primary
	// lane wins despite the slightly lower adjusted score.
	secondary := opp("QQQ", "calendar", 70.0)
	primary := opp("SPY", "credit_spread", 69.95)

	ranked := r.Rank([]domain.Opportunity{secondary, primary}, nil, pb)

	require.Len(t, ranked, 2)
	assert.Equal(t, "SPY", ranked[0].Symbol)
	assert.Equal(t, "QQQ", ranked[1].Symbol)
}

func TestRankTieBreakLiquidityAndRoR(t *testing.T) {
	r := testRanker()

	liquid := opp("A", "iron_condor", 70)
	liquid.KeyMetrics.Liquidity = domain.Float(90)
	thin := opp("B", "iron_condor", 70)
	thin.KeyMetrics.Liquidity = domain.Float(40)

	ranked := r.Rank([]domain.Opportunity{thin, liquid}, nil, &domain.Playbook{})
	require.Len(t, ranked, 2)
	assert.Equal(t, "A", ranked[0].Symbol, "higher liquidity wins the tie")

	low := opp("C", "iron_condor", 70)
	low.ROR = domain.Float(0.2)
	high := opp("D", "iron_condor", 70)
	high.ROR = domain.Float(0.5)

	ranked = r.Rank([]domain.Opportunity{low, high}, nil, &domain.Playbook{})
	require.Len(t, ranked, 2)
	assert.Equal(t, "D", ranked[0].Symbol, "higher return-on-risk wins the tie")
}

func TestRankFallsBackToSuggestedPlaybook(t *testing.T) {
	r := testRanker()
	regime := &domain.Regime{
		SuggestedPlaybook: domain.SuggestedPlaybook{
			Primary: []string{"credit_spread"},
			Avoid:   []string{"calendar"},
		},
	}

	ranked := r.Rank([]domain.Opportunity{
		opp("SPY", "credit_put", 50),
		opp("QQQ", "calendar", 90),
	}, regime, nil)

	require.Len(t, ranked, 2)
	// 90 * 0.60 = 54.0 beats 50, so the avoided calendar still leads on score.
	assert.Equal(t, "QQQ", ranked[0].Symbol)
	assert.Equal(t, domain.LaneAvoid, ranked[0].Playbook.Lane)
	assert.Equal(t, 54.0, ranked[0].Playbook.AdjustedScore)
	assert.Equal(t, domain.LanePrimary, ranked[1].Playbook.Lane)
}

func TestRankDoesNotMutateInputs(t *testing.T) {
	r := testRanker()
	input := []domain.Opportunity{opp("SPY", "iron_condor", 80)}
	pb := playbookWith(nil, nil, []string{"iron_condor"})

	_ = r.Rank(input, nil, pb)

	assert.Nil(t, input[0].Playbook, "input records stay unannotated")
	assert.Equal(t, 80.0, input[0].Score)
}

func TestRankEmptyInput(t *testing.T) {
	r := testRanker()
	ranked := r.Rank(nil, nil, nil)
	assert.Empty(t, ranked)
}

func TestRankAdjustedScoreRounded(t *testing.T) {
	r := testRanker()
	pb := playbookWith([]string{"credit_spread"}, nil, nil)

	ranked := r.Rank([]domain.Opportunity{opp("SPY", "butterfly", 70.33)}, nil, pb)

	require.Len(t, ranked, 1)
	// 70.33 * 0.85 = 59.7805, rounded to one decimal.
	assert.Equal(t, 59.8, ranked[0].Playbook.AdjustedScore)
}
