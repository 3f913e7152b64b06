package opportunities

import (
	"math"

	"github.com/markcheno/go-talib"

	"github.com/bentrade/bentrade/internal/domain"
)

const (
	rsiPeriod = 14
	emaPeriod = 20
)

// Enrich fills indicator gaps in an opportunity's key metrics from the
// underlying's closing-price history. Scanner-reported values always win;
// enrichment only computes what the scanner left null. A short or empty
// history leaves the metrics untouched.
func Enrich(opp *domain.Opportunity, closes []float64) {
	if opp == nil || len(closes) == 0 {
		return
	}

	if opp.KeyMetrics.Price == nil {
		last := closes[len(closes)-1]
		opp.KeyMetrics.Price = &last
	}
	if opp.KeyMetrics.RSI14 == nil {
		opp.KeyMetrics.RSI14 = rsi14(closes)
	}
	if opp.KeyMetrics.EMA20 == nil {
		opp.KeyMetrics.EMA20 = ema20(closes)
	}
	if opp.KeyMetrics.Trend == nil {
		opp.KeyMetrics.Trend = trendLabel(opp.KeyMetrics.Price, opp.KeyMetrics.EMA20, opp.KeyMetrics.RSI14)
	}
}

func rsi14(closes []float64) *float64 {
	if len(closes) < rsiPeriod+1 {
		return nil
	}
	rsi := talib.Rsi(closes, rsiPeriod)
	return lastValid(rsi)
}

func ema20(closes []float64) *float64 {
	if len(closes) < emaPeriod {
		return nil
	}
	ema := talib.Ema(closes, emaPeriod)
	return lastValid(ema)
}

// trendLabel classifies the underlying's trend from price versus EMA20, with
// RSI pulling borderline reads toward ranging.
func trendLabel(price, ema, rsi *float64) *string {
	if price == nil || ema == nil || *ema == 0 {
		return nil
	}

	drift := (*price - *ema) / *ema
	switch {
	case drift > 0.01:
		return domain.String(domain.TrendUp)
	case drift < -0.01:
		return domain.String(domain.TrendDown)
	}
	if rsi != nil && (*rsi > 60 || *rsi < 40) {
		if *rsi > 60 {
			return domain.String(domain.TrendUp)
		}
		return domain.String(domain.TrendDown)
	}
	return domain.String(domain.TrendRange)
}

func lastValid(series []float64) *float64 {
	for i := len(series) - 1; i >= 0; i-- {
		v := series[i]
		if !math.IsNaN(v) && v != 0 {
			return &v
		}
	}
	return nil
}
