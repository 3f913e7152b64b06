// Package scanner fans heterogeneous scanner jobs out against market
// providers, normalizes the candidates and returns a ranked run result.
package scanner

import (
	"time"

	"github.com/bentrade/bentrade/internal/domain"
)

// TopN is how many opportunities a run surfaces after the base sort.
const TopN = 9

// FilterLevel widens or tightens per-step timeouts.
type FilterLevel string

const (
	LevelStrict       FilterLevel = "strict"
	LevelConservative FilterLevel = "conservative"
	LevelBalanced     FilterLevel = "balanced"
	LevelWide         FilterLevel = "wide"
)

// TimeoutFactor returns the level's timeout multiplier. Unknown levels read
// as balanced.
func (l FilterLevel) TimeoutFactor() float64 {
	switch l {
	case LevelStrict:
		return 0.8
	case LevelWide:
		return 1.4
	default:
		return 1.0
	}
}

const (
	defaultOptionsTimeout = 90 * time.Second
	defaultStockTimeout   = 180 * time.Second
)

// Def describes one scanner the orchestrator can run.
type Def struct {
	ID         string
	Label      string
	StrategyID string
	SourceType domain.SourceType
	Timeout    time.Duration
	// Optional steps log their failure and let the suite continue. A
	// non-optional failure stops the whole run.
	Optional bool
}

// defs is the scanner registry in declaration order. The stock scanner runs
// first; providers pace it the loosest.
var defs = []Def{
	{ID: "stock_scanner", Label: "Stock Scanner", StrategyID: "equity", SourceType: domain.SourceStock, Timeout: defaultStockTimeout, Optional: true},
	{ID: "credit_put", Label: "Put Credit Spreads", StrategyID: "credit_put", SourceType: domain.SourceOptions, Timeout: defaultOptionsTimeout},
	{ID: "credit_call", Label: "Call Credit Spreads", StrategyID: "credit_call", SourceType: domain.SourceOptions, Timeout: defaultOptionsTimeout},
	{ID: "iron_condor", Label: "Iron Condors", StrategyID: "iron_condor", SourceType: domain.SourceOptions, Timeout: defaultOptionsTimeout},
	{ID: "debit_spreads", Label: "Debit Spreads", StrategyID: "debit_spread", SourceType: domain.SourceOptions, Timeout: defaultOptionsTimeout, Optional: true},
	{ID: "butterflies", Label: "Butterflies", StrategyID: "butterfly", SourceType: domain.SourceOptions, Timeout: defaultOptionsTimeout, Optional: true},
	{ID: "income", Label: "Income Strategies", StrategyID: "income", SourceType: domain.SourceOptions, Timeout: defaultOptionsTimeout, Optional: true},
	{ID: "calendar", Label: "Calendar Spreads", StrategyID: "calendar", SourceType: domain.SourceOptions, Timeout: defaultOptionsTimeout, Optional: true},
}

// DefaultScannerIDs lists every registered scanner in run order.
func DefaultScannerIDs() []string {
	ids := make([]string, len(defs))
	for i, d := range defs {
		ids[i] = d.ID
	}
	return ids
}

// lookupDef finds a registered scanner by id.
func lookupDef(id string) (Def, bool) {
	for _, d := range defs {
		if d.ID == id {
			return d, true
		}
	}
	return Def{}, false
}
