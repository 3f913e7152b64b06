package providers

import (
	"context"

	"github.com/bentrade/bentrade/internal/domain"
)

// GenerateParams carries the request parameters of a report generation run.
type GenerateParams struct {
	Preset          string            `json:"preset,omitempty"`
	Symbols         []string          `json:"symbols,omitempty"`
	AdvancedEnabled bool              `json:"advanced_enabled,omitempty"`
	Filters         map[string]string `json:"filters,omitempty"`
}

// MarketProvider is the capability the engine uses to reach market data.
// Implementations tag every call with a provider name so the rate limiter
// can pace by it, and map wire failures into the providers error taxonomy.
type MarketProvider interface {
	// Tag identifies the provider for rate limiting and source health.
	Tag() string

	// FetchStockScanner runs the equity scanner over the given symbols.
	FetchStockScanner(ctx context.Context, symbols []string) ([]domain.Candidate, error)

	// ScanStrategy runs one options scanner route and returns raw candidates.
	ScanStrategy(ctx context.Context, strategyID string, symbols []string) ([]domain.Candidate, error)

	// GenerateStrategyReport runs a full analysis for a strategy. It calls
	// emit for intermediate stages and returns the persisted report filename.
	GenerateStrategyReport(ctx context.Context, strategyID string, params GenerateParams, emit func(stage, message string)) (string, error)

	// ListReports returns report filenames for a strategy, newest first.
	ListReports(ctx context.Context, strategyID string) ([]string, error)

	// FetchReport loads one report by name.
	FetchReport(ctx context.Context, strategyID, name string) (*domain.Report, error)

	// GetCloses returns up to days of daily closing prices for a symbol,
	// oldest first.
	GetCloses(ctx context.Context, symbol string, days int) ([]float64, error)

	GetRegime(ctx context.Context) (*domain.Regime, error)
	GetPlaybook(ctx context.Context) (*domain.Playbook, error)
	GetSignals(ctx context.Context) ([]domain.Signal, error)
	GetQuote(ctx context.Context, symbol string) (*domain.QuoteSummary, error)
	GetMacro(ctx context.Context) (*domain.MacroSummary, error)
	GetSectors(ctx context.Context) (map[string]float64, error)
	GetSourceHealth(ctx context.Context) (domain.SourceHealth, error)
}

// ModelAnalyzer is the capability for model-based trade evaluation.
type ModelAnalyzer interface {
	AnalyzeTrade(ctx context.Context, trade domain.Candidate, source string) (*domain.ModelEvaluation, error)
}

// Broker is the capability for broker-reported state. Read-only: BenTrade
// surfaces active trades but never routes orders.
type Broker interface {
	GetPositions(ctx context.Context) ([]domain.ActiveTrade, error)
	GetOrders(ctx context.Context) ([]domain.ActiveTrade, error)
	GetAccount(ctx context.Context) (*domain.RiskSummary, error)
}
