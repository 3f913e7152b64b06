package opportunities

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bentrade/bentrade/internal/domain"
)

// ScannerInfo identifies the scanner a candidate came from.
type ScannerInfo struct {
	ID         string // e.g. "credit_put"
	StrategyID string // default strategy tag when the candidate has none
}

// metricAliases is the global tier-3 alias table: alternative field names a
// scanner may use for each canonical metric.
var metricAliases = map[string][]string{
	"pop":                {"probability_of_profit", "win_rate", "pop_pct"},
	"expected_value":     {"ev", "expected_return"},
	"return_on_risk":     {"ror", "reward_risk", "return_risk"},
	"max_profit":         {"max_gain", "credit"},
	"max_loss":           {"max_risk", "risk"},
	"composite_score":    {"score", "rank_score"},
	"price":              {"last", "close", "underlying_price"},
	"rsi14":              {"rsi", "rsi_14"},
	"ema20":              {"ema_20"},
	"iv_rv_ratio":        {"ivrv", "iv_rv"},
	"bid_ask_spread_pct": {"spread_pct", "bid_ask_spread"},
	"volume":             {"vol"},
	"open_interest":      {"oi"},
}

// strategyMetricAliases adds strategy-family-local aliases on top of the
// global table.
var strategyMetricAliases = map[string]map[string][]string{
	"credit_spread": {
		"max_profit": {"net_credit"},
		"max_loss":   {"width_risk"},
	},
	"income": {
		"max_profit": {"premium", "premium_collected"},
	},
	"calendar": {
		"max_loss": {"net_debit", "debit"},
	},
}

// Normalizer maps heterogeneous scanner payloads into canonical
// opportunities. Normalize never fails: degenerate rows come back with null
// metrics and a notes entry explaining the gap.
type Normalizer struct {
	log zerolog.Logger
}

// NewNormalizer creates a normalizer.
func NewNormalizer(log zerolog.Logger) *Normalizer {
	return &Normalizer{log: log.With().Str("component", "normalizer").Logger()}
}

// Normalize converts one raw candidate into a canonical opportunity.
func (n *Normalizer) Normalize(raw domain.Candidate, scanner ScannerInfo, sourceType domain.SourceType) domain.Opportunity {
	var notes []string

	symbol := "N/A"
	if raw != nil {
		if s, ok := raw["symbol"].(string); ok && strings.TrimSpace(s) != "" {
			symbol = strings.ToUpper(strings.TrimSpace(s))
		}
	}
	if symbol == "N/A" {
		notes = append(notes, "candidate carried no symbol")
	}

	strategyTag := scanner.StrategyID
	if raw != nil {
		if s, ok := raw["strategy_id"].(string); ok && strings.TrimSpace(s) != "" {
			strategyTag = s
		}
	}
	if sourceType == domain.SourceStock && strategyTag == "" {
		strategyTag = "equity"
	}
	strategy := CanonicalStrategy(strategyTag)
	family := StrategyFamily(strategy)

	score := 0.0
	if v := n.resolve(raw, family, "composite_score"); v != nil {
		score = clamp(*v, 0, 100)
	} else {
		notes = append(notes, "no composite score reported, defaulting to 0")
	}

	opp := domain.Opportunity{
		Symbol:        symbol,
		Strategy:      strategy,
		SourceType:    sourceType,
		SourceScanner: scanner.ID,
		Score:         score,
		Trade:         raw,
	}

	if sourceType == domain.SourceOptions {
		opp.EV = n.resolve(raw, family, "expected_value")
		opp.POP = n.normalizePOP(n.resolve(raw, family, "pop"))
		opp.ROR = n.returnOnRisk(raw, family, &notes)
	}
	// Stock opportunities hold ev/pop/ror null by contract.

	opp.KeyMetrics = n.keyMetrics(raw, family)
	opp.Model = n.modelEvaluation(raw)
	opp.TradeKey = TradeKey(symbol, strategy, raw)

	if opp.KeyMetrics.Liquidity == nil && sourceType == domain.SourceOptions {
		notes = append(notes, "no liquidity inputs (spread, volume or open interest)")
	}
	opp.Notes = notes
	return opp
}

// resolve applies the strict 4-tier resolution order for a numeric metric:
// (1) raw.computed[key], (2) raw[key], (3) alias list, (4) null.
func (n *Normalizer) resolve(raw domain.Candidate, family, key string) *float64 {
	if raw == nil {
		return nil
	}

	computed, _ := raw["computed"].(map[string]interface{})
	if computed != nil {
		if v := toFloat(computed[key]); v != nil {
			return v
		}
	}
	if v := toFloat(raw[key]); v != nil {
		return v
	}

	aliases := append([]string(nil), metricAliases[key]...)
	if local, ok := strategyMetricAliases[family]; ok {
		aliases = append(aliases, local[key]...)
	}
	for _, alias := range aliases {
		if v := toFloat(raw[alias]); v != nil {
			return v
		}
		if computed != nil {
			if v := toFloat(computed[alias]); v != nil {
				return v
			}
		}
	}
	return nil
}

// normalizePOP applies the legacy percent-encoding shim: a probability
// reported above 1.0 is divided by 100 exactly once. This is the only place
// the shim lives.
func (n *Normalizer) normalizePOP(pop *float64) *float64 {
	if pop == nil {
		return nil
	}
	v := *pop
	if v > 1.0 {
		v = v / 100
	}
	v = clamp(v, 0, 1)
	return &v
}

// returnOnRisk prefers the directly reported value, then derives from
// max_profit/max_loss when max_loss is positive.
func (n *Normalizer) returnOnRisk(raw domain.Candidate, family string, notes *[]string) *float64 {
	if direct := n.resolve(raw, family, "return_on_risk"); direct != nil {
		return direct
	}

	maxProfit := n.resolve(raw, family, "max_profit")
	maxLoss := n.resolve(raw, family, "max_loss")
	if maxProfit != nil && maxLoss != nil && *maxLoss > 0 {
		ror := *maxProfit / *maxLoss
		return &ror
	}
	if maxLoss != nil && *maxLoss <= 0 {
		*notes = append(*notes, "max_loss not positive, return-on-risk unavailable")
	}
	return nil
}

func (n *Normalizer) keyMetrics(raw domain.Candidate, family string) domain.KeyMetrics {
	km := domain.KeyMetrics{
		Price:     n.resolve(raw, family, "price"),
		RSI14:     n.resolve(raw, family, "rsi14"),
		EMA20:     n.resolve(raw, family, "ema20"),
		IVRVRatio: n.resolve(raw, family, "iv_rv_ratio"),
		Liquidity: n.liquidity(raw, family),
	}

	if raw != nil {
		if s, ok := raw["trend"].(string); ok {
			switch s {
			case domain.TrendUp, domain.TrendDown, domain.TrendRange:
				km.Trend = domain.String(s)
			}
		}
		if s, ok := raw["iv_rv_flag"].(string); ok {
			switch s {
			case domain.IVRVRich, domain.IVRVCheap, domain.IVRVBalanced:
				km.IVRVFlag = domain.String(s)
			}
		}
	}

	// Derive the flag from the ratio when the scanner did not set it.
	if km.IVRVFlag == nil && km.IVRVRatio != nil {
		switch {
		case *km.IVRVRatio >= 1.2:
			km.IVRVFlag = domain.String(domain.IVRVRich)
		case *km.IVRVRatio <= 0.8:
			km.IVRVFlag = domain.String(domain.IVRVCheap)
		default:
			km.IVRVFlag = domain.String(domain.IVRVBalanced)
		}
	}
	return km
}

// liquidity derives the 0-100 liquidity score. Spread wins over volume and
// open interest; with neither, liquidity is null.
func (n *Normalizer) liquidity(raw domain.Candidate, family string) *float64 {
	if spread := n.resolve(raw, family, "bid_ask_spread_pct"); spread != nil {
		v := clamp(100-*spread*100, 0, 100)
		return &v
	}

	volume := n.resolve(raw, family, "volume")
	openInterest := n.resolve(raw, family, "open_interest")
	if volume == nil && openInterest == nil {
		return nil
	}

	var vol, oi float64
	if volume != nil {
		vol = *volume
	}
	if openInterest != nil {
		oi = *openInterest
	}
	v := clamp((vol/1000)*40+(oi/3000)*60, 0, 100)
	return &v
}

func (n *Normalizer) modelEvaluation(raw domain.Candidate) *domain.ModelEvaluation {
	if raw == nil {
		return nil
	}
	m, ok := raw["model"].(map[string]interface{})
	if !ok {
		if m, ok = raw["model_evaluation"].(map[string]interface{}); !ok {
			return nil
		}
	}

	eval := &domain.ModelEvaluation{}
	if s, ok := m["status"].(string); ok {
		eval.Status = s
	}
	if s, ok := m["recommendation"].(string); ok {
		eval.Recommendation = strings.ToUpper(s)
	}
	if s, ok := m["summary"].(string); ok {
		eval.Summary = s
	}
	eval.Confidence = toFloat(m["confidence"])
	return eval
}

// toFloat coerces the numeric shapes JSON decoding produces.
func toFloat(v interface{}) *float64 {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return &x
	case float32:
		f := float64(x)
		return &f
	case int:
		f := float64(x)
		return &f
	case int64:
		f := float64(x)
		return &f
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return &f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return &f
		}
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// roundTo1 rounds to one decimal place, the precision adjusted scores carry.
func roundTo1(v float64) float64 {
	return math.Round(v*10) / 10
}
