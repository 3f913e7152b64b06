package domain

import "time"

// RegimeLabel is the categorical market state.
type RegimeLabel string

const (
	RegimeRiskOn  RegimeLabel = "RISK_ON"
	RegimeRiskOff RegimeLabel = "RISK_OFF"
	RegimeNeutral RegimeLabel = "NEUTRAL"
)

// RegimeComponent is one scored dimension of the regime breakdown.
type RegimeComponent struct {
	Score   float64  `json:"score"` // 0..100
	Signals []string `json:"signals"`
}

// SuggestedPlaybook is the regime's own coarse strategy guidance. It carries
// primary and avoid lanes only; the enriched playbook adds secondary.
type SuggestedPlaybook struct {
	Primary []string `json:"primary"`
	Avoid   []string `json:"avoid"`
	Notes   []string `json:"notes"`
}

// Regime is the current market regime with its component breakdown.
type Regime struct {
	Label             RegimeLabel                `json:"regime_label"`
	Score             float64                    `json:"regime_score"` // 0..100
	Components        map[string]RegimeComponent `json:"components"`
	SuggestedPlaybook SuggestedPlaybook          `json:"suggested_playbook"`
	SourceHealth      SourceHealth               `json:"source_health,omitempty"`
}

// PlaybookItem is one strategy entry in an enriched playbook lane.
type PlaybookItem struct {
	Strategy   string   `json:"strategy"`
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"` // 0..1
	Why        []string `json:"why"`
}

// Playbook is the enriched, regime-aware strategy playbook.
type Playbook struct {
	Primary   []PlaybookItem `json:"primary"`
	Secondary []PlaybookItem `json:"secondary"`
	Avoid     []PlaybookItem `json:"avoid"`
	Notes     []string       `json:"notes"`
}

// Empty reports whether no lane has any entry.
func (p *Playbook) Empty() bool {
	if p == nil {
		return true
	}
	return len(p.Primary) == 0 && len(p.Secondary) == 0 && len(p.Avoid) == 0
}

// SourceStatus describes the health of one upstream provider.
type SourceStatus struct {
	Status   string `json:"status"` // green, yellow, red
	Message  string `json:"message,omitempty"`
	LastHTTP int    `json:"last_http,omitempty"`
}

// SourceHealth maps provider tag to its current status.
type SourceHealth map[string]SourceStatus

// QuoteSummary is a compact market summary for an index or proxy symbol.
type QuoteSummary struct {
	Symbol    string   `json:"symbol"`
	Price     float64  `json:"price"`
	ChangePct float64  `json:"change_pct"`
	IV        *float64 `json:"iv,omitempty"`
	RV        *float64 `json:"rv,omitempty"`
}

// MacroSummary aggregates the macro indicators shown on the dashboard.
type MacroSummary struct {
	TenYearYield  *float64 `json:"ten_year_yield"`
	DollarIndex   *float64 `json:"dollar_index"`
	CreditSpreads *float64 `json:"credit_spreads"`
	Notes         []string `json:"notes,omitempty"`
}

// RiskSummary aggregates portfolio-level risk shown on the dashboard.
type RiskSummary struct {
	BuyingPower    *float64 `json:"buying_power"`
	PortfolioDelta *float64 `json:"portfolio_delta"`
	PortfolioTheta *float64 `json:"portfolio_theta"`
	Notes          []string `json:"notes,omitempty"`
}

// ActiveTrade is a broker-reported open position, passed through opaquely.
type ActiveTrade map[string]interface{}

// Signal is one market signal surfaced on the dashboard.
type Signal struct {
	Name      string  `json:"name"`
	Direction string  `json:"direction"`
	Strength  float64 `json:"strength"`
	Note      string  `json:"note,omitempty"`
}

// SnapshotData is the dashboard payload of a snapshot.
type SnapshotData struct {
	Regime        *Regime            `json:"regime"`
	SPY           *QuoteSummary      `json:"spy"`
	VIX           *QuoteSummary      `json:"vix"`
	Macro         *MacroSummary      `json:"macro"`
	Opportunities []Opportunity      `json:"opportunities"`
	Playbook      *Playbook          `json:"playbook"`
	Risk          *RiskSummary       `json:"risk"`
	ActiveTrades  []ActiveTrade      `json:"active_trades"`
	OpenOrders    []ActiveTrade      `json:"open_orders"`
	Signals       []Signal           `json:"signals"`
	Sectors       map[string]float64 `json:"sectors"`
}

// SnapshotMeta describes how the snapshot was produced.
type SnapshotMeta struct {
	LastSuccessAt *time.Time `json:"last_success_at"`
	Errors        []string   `json:"errors"`
	Partial       bool       `json:"partial"`
}

// Snapshot is the immutable aggregate of all dashboard inputs for one
// instant. Once published it is never mutated; refreshes publish a new value.
type Snapshot struct {
	Data SnapshotData `json:"data"`
	Meta SnapshotMeta `json:"meta"`
}
