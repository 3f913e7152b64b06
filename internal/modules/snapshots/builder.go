package snapshots

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bentrade/bentrade/internal/domain"
	"github.com/bentrade/bentrade/internal/modules/opportunities"
	"github.com/bentrade/bentrade/internal/modules/regime"
	"github.com/bentrade/bentrade/internal/modules/scanner"
	"github.com/bentrade/bentrade/internal/providers"
	"github.com/bentrade/bentrade/internal/ratelimit"
)

// Refresher builds a fresh snapshot from the previous one. Implementations
// never fail outright; field-level problems land in the snapshot's meta.
type Refresher interface {
	Refresh(ctx context.Context, prev *domain.Snapshot, homeOnly bool) *domain.Snapshot
}

// Builder is the production refresher. Every field fetch goes through the
// rate limiter; a failed field keeps its previous value and is recorded in
// meta.errors.
type Builder struct {
	provider     providers.MarketProvider
	broker       providers.Broker // nil when no broker is configured
	limiter      *ratelimit.Limiter
	orchestrator *scanner.Orchestrator
	ranker       *opportunities.Ranker
	log          zerolog.Logger
}

// NewBuilder creates a snapshot builder. broker may be nil.
func NewBuilder(provider providers.MarketProvider, broker providers.Broker, limiter *ratelimit.Limiter, orchestrator *scanner.Orchestrator, ranker *opportunities.Ranker, log zerolog.Logger) *Builder {
	return &Builder{
		provider:     provider,
		broker:       broker,
		limiter:      limiter,
		orchestrator: orchestrator,
		ranker:       ranker,
		log:          log.With().Str("component", "snapshot_builder").Logger(),
	}
}

// Refresh assembles the next snapshot. homeOnly skips the broker fields and
// the scanner suite, carrying their previous values forward.
func (b *Builder) Refresh(ctx context.Context, prev *domain.Snapshot, homeOnly bool) *domain.Snapshot {
	next := &domain.Snapshot{}
	if prev != nil {
		next.Data = prev.Data
		next.Meta.LastSuccessAt = prev.Meta.LastSuccessAt
	}
	next.Meta.Errors = []string{}
	next.Meta.Partial = false

	record := func(field string, err error) {
		if len(next.Meta.Errors) < maxMetaErrors {
			if providers.IsCancelled(err) {
				next.Meta.Errors = append(next.Meta.Errors, fmt.Sprintf("%s: cancelled", field))
			} else {
				next.Meta.Errors = append(next.Meta.Errors, fmt.Sprintf("%s: %v", field, err))
			}
		}
		next.Meta.Partial = true
		b.log.Warn().Err(err).Str("field", field).Msg("Snapshot field refresh failed, keeping cached value")
	}

	if regime, err := b.fetchRegime(ctx); err != nil {
		record("regime", err)
	} else {
		next.Data.Regime = regime
	}

	if playbook, err := b.fetchPlaybook(ctx); err != nil {
		record("playbook", err)
	} else {
		next.Data.Playbook = playbook
	}

	if quote, err := b.fetchQuote(ctx, "SPY"); err != nil {
		record("spy", err)
	} else {
		next.Data.SPY = quote
	}

	if quote, err := b.fetchQuote(ctx, "^VIX"); err != nil {
		record("vix", err)
	} else {
		next.Data.VIX = quote
	}

	if macro, err := b.fetchMacro(ctx); err != nil {
		record("macro", err)
	} else {
		next.Data.Macro = macro
	}

	if sectors, err := b.fetchSectors(ctx); err != nil {
		record("sectors", err)
	} else {
		next.Data.Sectors = sectors
	}

	if signals, err := b.fetchSignals(ctx); err != nil {
		record("signals", err)
	} else {
		next.Data.Signals = signals
	}

	if !homeOnly {
		b.refreshBroker(ctx, next, record)
		b.refreshOpportunities(ctx, next, record)
	}

	if !next.Meta.Partial {
		now := time.Now().UTC()
		next.Meta.LastSuccessAt = &now
	}
	return next
}

func (b *Builder) refreshBroker(ctx context.Context, next *domain.Snapshot, record func(string, error)) {
	if b.broker == nil {
		return
	}

	if trades, err := b.fetchPositions(ctx); err != nil {
		record("active_trades", err)
	} else {
		next.Data.ActiveTrades = trades
	}

	if risk, err := b.fetchAccount(ctx); err != nil {
		record("risk", err)
	} else {
		next.Data.Risk = risk
	}
}

// refreshOpportunities runs the scanner suite and re-ranks the result under
// the snapshot's playbook.
func (b *Builder) refreshOpportunities(ctx context.Context, next *domain.Snapshot, record func(string, error)) {
	if b.orchestrator == nil {
		return
	}

	result := b.orchestrator.RunScannerSuite(ctx, scanner.RunOptions{})
	for _, msg := range result.Errors {
		if len(next.Meta.Errors) >= maxMetaErrors {
			break
		}
		next.Meta.Errors = append(next.Meta.Errors, "scanner: "+msg)
	}
	if result.Partial {
		next.Meta.Partial = true
	}
	if len(result.Opportunities) == 0 && result.Partial {
		// Keep the previous list rather than blanking the dashboard.
		return
	}

	ranked := result.Opportunities
	if b.ranker != nil {
		ranked = b.ranker.Rank(result.Opportunities, next.Data.Regime, next.Data.Playbook)
	}
	b.enrichIndicators(ctx, ranked)
	next.Data.Opportunities = ranked
}

const (
	enrichHistoryDays = 60
	maxEnrichSymbols  = 5

	// maxMetaErrors bounds the error list one refresh can accumulate. Partial
	// still flags every failure; only the per-line detail is truncated.
	maxMetaErrors = 10
)

// enrichIndicators backfills price, RSI and EMA for opportunities whose
// scanner left them null, one history fetch per symbol. Enrichment is best
// effort: a failed fetch leaves the metrics null without marking the
// snapshot partial.
func (b *Builder) enrichIndicators(ctx context.Context, opps []domain.Opportunity) {
	histories := map[string][]float64{}
	for i := range opps {
		opp := &opps[i]
		if opp.KeyMetrics.Price != nil && opp.KeyMetrics.RSI14 != nil && opp.KeyMetrics.EMA20 != nil {
			continue
		}

		closes, seen := histories[opp.Symbol]
		if !seen {
			if len(histories) >= maxEnrichSymbols {
				continue
			}
			fetched, err := b.fetchCloses(ctx, opp.Symbol)
			if err != nil {
				b.log.Debug().Err(err).Str("symbol", opp.Symbol).Msg("Indicator enrichment skipped")
			}
			histories[opp.Symbol] = fetched
			closes = fetched
		}
		opportunities.Enrich(opp, closes)
	}
}

func (b *Builder) fetchCloses(ctx context.Context, symbol string) ([]float64, error) {
	res, err := b.limiter.RunStep(ctx, b.provider.Tag(), "closes "+symbol, func(ctx context.Context) (interface{}, error) {
		return b.provider.GetCloses(ctx, symbol, enrichHistoryDays)
	})
	if err != nil {
		return nil, err
	}
	return res.Value.([]float64), nil
}

// fetchRegime loads the regime, deriving the aggregate locally when the
// provider reports component scores without a label.
func (b *Builder) fetchRegime(ctx context.Context) (*domain.Regime, error) {
	res, err := b.limiter.RunStep(ctx, b.provider.Tag(), "regime", func(ctx context.Context) (interface{}, error) {
		return b.provider.GetRegime(ctx)
	})
	if err != nil {
		return nil, err
	}

	reg := res.Value.(*domain.Regime)
	if reg != nil && reg.Label == "" && len(reg.Components) > 0 {
		derived := regime.Compute(reg.Components)
		derived.SourceHealth = reg.SourceHealth
		reg = &derived
	}
	return reg, nil
}

func (b *Builder) fetchPlaybook(ctx context.Context) (*domain.Playbook, error) {
	res, err := b.limiter.RunStep(ctx, b.provider.Tag(), "playbook", func(ctx context.Context) (interface{}, error) {
		return b.provider.GetPlaybook(ctx)
	})
	if err != nil {
		return nil, err
	}
	return res.Value.(*domain.Playbook), nil
}

func (b *Builder) fetchQuote(ctx context.Context, symbol string) (*domain.QuoteSummary, error) {
	res, err := b.limiter.RunStep(ctx, b.provider.Tag(), "quote "+symbol, func(ctx context.Context) (interface{}, error) {
		return b.provider.GetQuote(ctx, symbol)
	})
	if err != nil {
		return nil, err
	}
	return res.Value.(*domain.QuoteSummary), nil
}

func (b *Builder) fetchMacro(ctx context.Context) (*domain.MacroSummary, error) {
	res, err := b.limiter.RunStep(ctx, b.provider.Tag(), "macro", func(ctx context.Context) (interface{}, error) {
		return b.provider.GetMacro(ctx)
	})
	if err != nil {
		return nil, err
	}
	return res.Value.(*domain.MacroSummary), nil
}

func (b *Builder) fetchSectors(ctx context.Context) (map[string]float64, error) {
	res, err := b.limiter.RunStep(ctx, b.provider.Tag(), "sectors", func(ctx context.Context) (interface{}, error) {
		return b.provider.GetSectors(ctx)
	})
	if err != nil {
		return nil, err
	}
	return res.Value.(map[string]float64), nil
}

func (b *Builder) fetchSignals(ctx context.Context) ([]domain.Signal, error) {
	res, err := b.limiter.RunStep(ctx, b.provider.Tag(), "signals", func(ctx context.Context) (interface{}, error) {
		return b.provider.GetSignals(ctx)
	})
	if err != nil {
		return nil, err
	}
	return res.Value.([]domain.Signal), nil
}

func (b *Builder) fetchPositions(ctx context.Context) ([]domain.ActiveTrade, error) {
	res, err := b.limiter.RunStep(ctx, "broker", "positions", func(ctx context.Context) (interface{}, error) {
		return b.broker.GetPositions(ctx)
	})
	if err != nil {
		return nil, err
	}
	return res.Value.([]domain.ActiveTrade), nil
}

func (b *Builder) fetchAccount(ctx context.Context) (*domain.RiskSummary, error) {
	res, err := b.limiter.RunStep(ctx, "broker", "account", func(ctx context.Context) (interface{}, error) {
		return b.broker.GetAccount(ctx)
	})
	if err != nil {
		return nil, err
	}
	return res.Value.(*domain.RiskSummary), nil
}
