package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/bentrade/bentrade/internal/domain"
	"github.com/bentrade/bentrade/internal/modules/opportunities"
	"github.com/bentrade/bentrade/internal/modules/scanner"
	"github.com/bentrade/bentrade/internal/modules/snapshots"
	"github.com/bentrade/bentrade/internal/providers"
	"github.com/bentrade/bentrade/internal/ratelimit"
)

// Deps carries everything the default refresh phases touch. Broker may be
// nil; its phases then report skipped.
type Deps struct {
	Store        *snapshots.Store
	Provider     providers.MarketProvider
	Broker       providers.Broker
	Limiter      *ratelimit.Limiter
	Orchestrator *scanner.Orchestrator
	Ranker       *opportunities.Ranker
}

// DefaultPhases builds the standard full-app refresh sequence.
func DefaultPhases(d Deps) []Phase {
	return []Phase{
		{
			ID:      "home_dashboard",
			Timeout: 2 * time.Minute,
			Run: func(ctx context.Context) error {
				snap := d.Store.RefreshNow(ctx, true)
				if snap == nil {
					return fmt.Errorf("dashboard refresh produced no snapshot")
				}
				if snap.Meta.Partial {
					return Warning(fmt.Errorf("dashboard refresh partial, %d errors", len(snap.Meta.Errors)))
				}
				return nil
			},
		},
		{
			ID:       "broker_positions",
			Timeout:  30 * time.Second,
			Optional: true,
			Run: func(ctx context.Context) error {
				if d.Broker == nil {
					return ErrSkipped
				}
				res, err := d.Limiter.RunStep(ctx, "broker", "positions", func(ctx context.Context) (interface{}, error) {
					return d.Broker.GetPositions(ctx)
				})
				if err != nil {
					return err
				}
				d.updateSnapshot(func(data *domain.SnapshotData) {
					data.ActiveTrades = res.Value.([]domain.ActiveTrade)
				})
				return nil
			},
		},
		{
			ID:       "broker_orders",
			Timeout:  30 * time.Second,
			Optional: true,
			Run: func(ctx context.Context) error {
				if d.Broker == nil {
					return ErrSkipped
				}
				res, err := d.Limiter.RunStep(ctx, "broker", "orders", func(ctx context.Context) (interface{}, error) {
					return d.Broker.GetOrders(ctx)
				})
				if err != nil {
					return err
				}
				d.updateSnapshot(func(data *domain.SnapshotData) {
					data.OpenOrders = res.Value.([]domain.ActiveTrade)
				})
				return nil
			},
		},
		{
			ID:       "broker_account",
			Timeout:  30 * time.Second,
			Optional: true,
			Run: func(ctx context.Context) error {
				if d.Broker == nil {
					return ErrSkipped
				}
				res, err := d.Limiter.RunStep(ctx, "broker", "account", func(ctx context.Context) (interface{}, error) {
					return d.Broker.GetAccount(ctx)
				})
				if err != nil {
					return err
				}
				d.updateSnapshot(func(data *domain.SnapshotData) {
					data.Risk = res.Value.(*domain.RiskSummary)
				})
				return nil
			},
		},
		{
			ID:       "scanner_suite",
			Timeout:  15 * time.Minute,
			Critical: true,
			Run: func(ctx context.Context) error {
				result := d.Orchestrator.RunScannerSuite(ctx, scanner.RunOptions{})
				if len(result.AllCandidates) == 0 && result.Partial {
					return fmt.Errorf("every scanner failed: %v", result.Errors)
				}

				d.updateSnapshot(func(data *domain.SnapshotData) {
					ranked := result.Opportunities
					if d.Ranker != nil {
						ranked = d.Ranker.Rank(result.Opportunities, data.Regime, data.Playbook)
					}
					data.Opportunities = ranked
				})

				if result.Partial {
					return Warning(fmt.Errorf("%d scanner(s) failed", result.ScanMeta.ScannersFailed))
				}
				return nil
			},
		},
		{
			ID:      "regime_refresh",
			Timeout: time.Minute,
			Run: func(ctx context.Context) error {
				res, err := d.Limiter.RunStep(ctx, d.Provider.Tag(), "regime", func(ctx context.Context) (interface{}, error) {
					return d.Provider.GetRegime(ctx)
				})
				if err != nil {
					return err
				}
				d.updateSnapshot(func(data *domain.SnapshotData) {
					data.Regime = res.Value.(*domain.Regime)
				})
				return nil
			},
		},
		{
			ID:      "signals_refresh",
			Timeout: time.Minute,
			Run: func(ctx context.Context) error {
				res, err := d.Limiter.RunStep(ctx, d.Provider.Tag(), "signals", func(ctx context.Context) (interface{}, error) {
					return d.Provider.GetSignals(ctx)
				})
				if err != nil {
					return err
				}
				d.updateSnapshot(func(data *domain.SnapshotData) {
					data.Signals = res.Value.([]domain.Signal)
				})
				return nil
			},
		},
		{
			ID:       "source_health_refresh",
			Timeout:  30 * time.Second,
			Optional: true,
			Run: func(ctx context.Context) error {
				res, err := d.Limiter.RunStep(ctx, d.Provider.Tag(), "source health", func(ctx context.Context) (interface{}, error) {
					return d.Provider.GetSourceHealth(ctx)
				})
				if err != nil {
					return err
				}
				health := res.Value.(domain.SourceHealth)
				d.updateSnapshot(func(data *domain.SnapshotData) {
					if data.Regime != nil {
						regime := *data.Regime
						regime.SourceHealth = health
						data.Regime = &regime
					}
				})
				return nil
			},
		},
	}
}

// updateSnapshot publishes a copy of the current snapshot with one field
// mutation applied. The published value is fresh; readers of the old value
// are unaffected.
func (d Deps) updateSnapshot(mutate func(*domain.SnapshotData)) {
	next := &domain.Snapshot{}
	if current := d.Store.GetSnapshot(); current != nil {
		*next = *current
	}
	mutate(&next.Data)
	d.Store.SetSnapshot(next)
}
