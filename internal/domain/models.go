// Package domain contains the core data model for the BenTrade research
// workstation: raw scanner candidates, canonical opportunities, playbooks,
// snapshots and decision records. The domain layer is pure - it has no
// infrastructure dependencies.
package domain

import "time"

// Candidate is a raw record produced by a scanner. The shape varies by
// strategy; canonical numeric metrics live under the nested "computed" map
// when the scanner provides them.
type Candidate map[string]interface{}

// SourceType distinguishes options-strategy candidates from equity picks.
type SourceType string

const (
	SourceOptions SourceType = "options"
	SourceStock   SourceType = "stock"
)

// Trend values surfaced in key metrics.
const (
	TrendUp    = "up"
	TrendDown  = "down"
	TrendRange = "range"
)

// IV/RV flag values surfaced in key metrics.
const (
	IVRVRich     = "rich"
	IVRVCheap    = "cheap"
	IVRVBalanced = "balanced"
)

// KeyMetrics holds auxiliary display metrics on an opportunity. All fields
// are nullable; scanners rarely provide every one.
type KeyMetrics struct {
	Price     *float64 `json:"price"`
	RSI14     *float64 `json:"rsi14"`
	EMA20     *float64 `json:"ema20"`
	IVRVRatio *float64 `json:"iv_rv_ratio"`
	Trend     *string  `json:"trend"`
	IVRVFlag  *string  `json:"iv_rv_flag"`
	Liquidity *float64 `json:"liquidity"`
}

// ModelEvaluation is the result of a prior model-analysis pass over a trade.
type ModelEvaluation struct {
	Status         string   `json:"status"`
	Recommendation string   `json:"recommendation"` // ACCEPT, REJECT, NEUTRAL, ERROR
	Confidence     *float64 `json:"confidence"`
	Summary        string   `json:"summary"`
	RiskLevel      string   `json:"risk_level,omitempty"`
	KeyFactors     []string `json:"key_factors,omitempty"`
}

// Opportunity is the canonical record every scanner payload normalizes into.
type Opportunity struct {
	Symbol        string           `json:"symbol"`
	Strategy      string           `json:"strategy"`
	SourceType    SourceType       `json:"source_type"`
	SourceScanner string           `json:"source_scanner"`
	Score         float64          `json:"score"`
	EV            *float64         `json:"ev"`
	POP           *float64         `json:"pop"`
	ROR           *float64         `json:"ror"`
	KeyMetrics    KeyMetrics       `json:"key_metrics"`
	Model         *ModelEvaluation `json:"model"`
	Trade         Candidate        `json:"trade"`
	TradeKey      string           `json:"trade_key"`
	Notes         []string         `json:"notes,omitempty"`

	// Playbook is populated by the ranker on its annotated copy.
	Playbook *PlaybookAnnotation `json:"_pb,omitempty"`
}

// Lane classifies an opportunity's strategy against the active playbook.
type Lane string

const (
	LanePrimary   Lane = "primary"
	LaneSecondary Lane = "secondary"
	LaneAvoid     Lane = "avoid"
	LaneNeutral   Lane = "neutral"
)

// LanePriority returns the sort priority of a lane (lower sorts first).
func LanePriority(l Lane) int {
	switch l {
	case LanePrimary:
		return 0
	case LaneSecondary:
		return 1
	case LaneNeutral:
		return 2
	case LaneAvoid:
		return 3
	default:
		return 2
	}
}

// PlaybookAnnotation records how the playbook ranker adjusted an opportunity.
type PlaybookAnnotation struct {
	BaseScore     float64  `json:"baseScore"`
	AdjustedScore float64  `json:"adjustedScore"`
	Multiplier    float64  `json:"multiplier"`
	Lane          Lane     `json:"lane"`
	Reasons       []string `json:"reasons"`
}

// RejectDecision is one append-only entry in a report's decision log.
type RejectDecision struct {
	Type     string    `json:"type"` // always "reject"
	TradeKey string    `json:"trade_key"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// Report is a persisted strategy analysis report.
type Report struct {
	Trades             []Candidate            `json:"trades"`
	ReportStats        map[string]interface{} `json:"report_stats"`
	Diagnostics        map[string]interface{} `json:"diagnostics"`
	SourceHealth       SourceHealth           `json:"source_health,omitempty"`
	DebugStageCounts   map[string]int         `json:"debug_stage_counts,omitempty"`
	ValidationWarnings []string               `json:"validation_warnings,omitempty"`
	GeneratedAt        time.Time              `json:"generated_at"`
}

// Float returns a pointer to v. Convenience for nullable metric fields.
func Float(v float64) *float64 { return &v }

// String returns a pointer to s.
func String(s string) *string { return &s }
