package scanner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/bentrade/bentrade/internal/domain"
	"github.com/bentrade/bentrade/internal/events"
	"github.com/bentrade/bentrade/internal/modules/opportunities"
	"github.com/bentrade/bentrade/internal/providers"
	"github.com/bentrade/bentrade/internal/ratelimit"
)

// StepUpdate is delivered to the run's OnStep callback exactly once per
// scanner step.
type StepUpdate struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	TradeCount int    `json:"trade_count"`
}

// RunOptions parameterizes one scanner suite run. Zero values mean defaults:
// all registered scanners, the active symbol universe, balanced timeouts.
type RunOptions struct {
	ScannerIDs []string
	Symbols    []string
	Level      FilterLevel
	OnStep     func(StepUpdate)
}

// ScanMeta summarizes a completed run.
type ScanMeta struct {
	RanAt           time.Time `json:"ran_at"`
	DurationMS      int64     `json:"duration_ms"`
	ScannersRun     int       `json:"scanners_run"`
	ScannersFailed  int       `json:"scanners_failed"`
	TotalCandidates int       `json:"total_candidates"`
	TopN            int       `json:"top_n"`
}

// RunResult is what a scanner suite run produces. Failures never escape as
// errors; they land in Errors with Partial set.
type RunResult struct {
	Opportunities []domain.Opportunity `json:"opportunities"`
	AllCandidates []domain.Opportunity `json:"all_candidates"`
	ScanMeta      ScanMeta             `json:"scan_meta"`
	Errors        []string             `json:"errors"`
	Warnings      []string             `json:"warnings,omitempty"`
	Partial       bool                 `json:"partial"`
}

// SymbolSource supplies the symbol universe when a run names no symbols.
type SymbolSource interface {
	Get() []string
}

// Orchestrator fans scanner steps out against a provider, rate limited and
// timeout guarded, and assembles the normalized result set.
type Orchestrator struct {
	provider   providers.MarketProvider
	limiter    *ratelimit.Limiter
	normalizer *opportunities.Normalizer
	symbols    SymbolSource
	bus        *events.Bus
	log        zerolog.Logger
}

// NewOrchestrator creates an orchestrator. bus may be nil.
func NewOrchestrator(provider providers.MarketProvider, limiter *ratelimit.Limiter, normalizer *opportunities.Normalizer, symbols SymbolSource, bus *events.Bus, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		provider:   provider,
		limiter:    limiter,
		normalizer: normalizer,
		symbols:    symbols,
		bus:        bus,
		log:        log.With().Str("module", "scanner").Logger(),
	}
}

// RunScannerSuite executes the selected scanners in registry order, the stock
// scanner first. Optional step failures are recorded and the suite continues;
// a non-optional failure stops the suite. The result always comes back, even
// when every step failed.
func (o *Orchestrator) RunScannerSuite(ctx context.Context, opts RunOptions) *RunResult {
	started := time.Now()
	result := &RunResult{
		Opportunities: []domain.Opportunity{},
		AllCandidates: []domain.Opportunity{},
		Errors:        []string{},
	}

	selected, unknown := o.selectDefs(opts.ScannerIDs)
	for _, id := range unknown {
		result.Warnings = append(result.Warnings, fmt.Sprintf("unknown scanner %q skipped", id))
	}

	symbols := opts.Symbols
	if len(symbols) == 0 && o.symbols != nil {
		symbols = o.symbols.Get()
	}

	factor := opts.Level.TimeoutFactor()
	var ranIDs, failedIDs []string

	for _, def := range selected {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("suite cancelled before %s: %v", def.ID, err))
			result.Partial = true
			break
		}

		candidates, err := o.runStep(ctx, def, symbols, factor)
		ranIDs = append(ranIDs, def.ID)

		update := StepUpdate{ID: def.ID, Label: def.Label, OK: err == nil, TradeCount: len(candidates)}
		if err != nil {
			update.Error = err.Error()
		}
		if opts.OnStep != nil {
			opts.OnStep(update)
		}

		if err != nil {
			failedIDs = append(failedIDs, def.ID)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", def.ID, err))
			result.Partial = true
			if !def.Optional {
				o.log.Error().Err(err).Str("scanner", def.ID).Msg("Critical scanner failed, stopping suite")
				break
			}
			o.log.Warn().Err(err).Str("scanner", def.ID).Msg("Optional scanner failed, continuing")
			result.Warnings = append(result.Warnings, fmt.Sprintf("optional scanner %s failed", def.ID))
			continue
		}

		info := opportunities.ScannerInfo{ID: def.ID, StrategyID: def.StrategyID}
		for _, raw := range candidates {
			result.AllCandidates = append(result.AllCandidates, o.normalizer.Normalize(raw, info, def.SourceType))
		}
	}

	baseSort(result.AllCandidates)
	result.Opportunities = topN(result.AllCandidates, TopN)

	duration := time.Since(started)
	result.ScanMeta = ScanMeta{
		RanAt:           started.UTC(),
		DurationMS:      duration.Milliseconds(),
		ScannersRun:     len(ranIDs),
		ScannersFailed:  len(failedIDs),
		TotalCandidates: len(result.AllCandidates),
		TopN:            TopN,
	}

	if o.bus != nil {
		o.bus.Publish(events.ScanCompleted, "scanner", events.ScanCompletedData{
			ScannersRun:     ranIDs,
			ScannersFailed:  failedIDs,
			TotalCandidates: len(result.AllCandidates),
			DurationMs:      duration.Milliseconds(),
		})
	}

	o.log.Info().
		Int("scanners_run", len(ranIDs)).
		Int("scanners_failed", len(failedIDs)).
		Int("candidates", len(result.AllCandidates)).
		Dur("duration", duration).
		Msg("Scanner suite finished")
	return result
}

// selectDefs resolves requested ids against the registry, preserving the
// registry's run order (stock first). Unknown ids come back separately.
func (o *Orchestrator) selectDefs(ids []string) ([]Def, []string) {
	if len(ids) == 0 {
		return defs, nil
	}

	requested := make(map[string]bool, len(ids))
	var unknown []string
	for _, id := range ids {
		if requested[id] {
			continue
		}
		requested[id] = true
		if _, ok := lookupDef(id); !ok {
			unknown = append(unknown, id)
		}
	}

	var selected []Def
	for _, def := range defs {
		if requested[def.ID] {
			selected = append(selected, def)
		}
	}
	return selected, unknown
}

// runStep executes one scanner behind the rate limiter with its level-scaled
// timeout.
func (o *Orchestrator) runStep(ctx context.Context, def Def, symbols []string, factor float64) ([]domain.Candidate, error) {
	timeout := time.Duration(float64(def.Timeout) * factor)
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := o.limiter.RunStep(stepCtx, o.provider.Tag(), def.Label, func(ctx context.Context) (interface{}, error) {
		if def.SourceType == domain.SourceStock {
			return o.provider.FetchStockScanner(ctx, symbols)
		}
		return o.provider.ScanStrategy(ctx, def.StrategyID, symbols)
	})
	if err != nil {
		return nil, err
	}

	candidates, ok := res.Value.([]domain.Candidate)
	if !ok {
		return nil, fmt.Errorf("scanner %s returned unexpected payload", def.ID)
	}
	return candidates, nil
}

// baseSort orders candidates before playbook re-weighting: score desc, then
// liquidity desc with nulls last, then expected value desc with nulls last.
func baseSort(opps []domain.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		a, b := opps[i], opps[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if less, decided := nullsLastDesc(a.KeyMetrics.Liquidity, b.KeyMetrics.Liquidity); decided {
			return less
		}
		if less, decided := nullsLastDesc(a.EV, b.EV); decided {
			return less
		}
		return false
	})
}

// nullsLastDesc compares two nullable metrics descending with nulls sorting
// last. decided is false when the pair gives no ordering.
func nullsLastDesc(a, b *float64) (less, decided bool) {
	switch {
	case a == nil && b == nil:
		return false, false
	case a == nil:
		return false, true
	case b == nil:
		return true, true
	case *a != *b:
		return *a > *b, true
	}
	return false, false
}

func topN(opps []domain.Opportunity, n int) []domain.Opportunity {
	if len(opps) < n {
		n = len(opps)
	}
	top := make([]domain.Opportunity, n)
	copy(top, opps[:n])
	return top
}
