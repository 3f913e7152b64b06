package opportunities

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bentrade/bentrade/internal/domain"
)

// TradeKey builds the deterministic opportunity identifier:
// <SYMBOL>|<EXPIRATION-or-NA>|<STRATEGY>|<SHORT_STRIKE-or-NA>|<LONG_STRIKE-or-NA>|<DTE-or-NA>.
// Strikes render without a trailing ".0"; missing parts render as NA.
func TradeKey(symbol, strategy string, raw domain.Candidate) string {
	parts := []string{
		strings.ToUpper(strings.TrimSpace(symbol)),
		stringPart(raw, "expiration"),
		CanonicalStrategy(strategy),
		strikePart(raw, "short_strike"),
		strikePart(raw, "long_strike"),
		intPart(raw, "dte"),
	}
	return strings.Join(parts, "|")
}

func stringPart(raw domain.Candidate, key string) string {
	if raw != nil {
		if v, ok := raw[key]; ok {
			if s := strings.TrimSpace(fmt.Sprintf("%v", v)); s != "" && s != "<nil>" {
				return s
			}
		}
	}
	return "NA"
}

func strikePart(raw domain.Candidate, key string) string {
	if raw != nil {
		if f := toFloat(raw[key]); f != nil {
			return strconv.FormatFloat(*f, 'f', -1, 64)
		}
	}
	return "NA"
}

func intPart(raw domain.Candidate, key string) string {
	if raw != nil {
		if f := toFloat(raw[key]); f != nil {
			return strconv.Itoa(int(*f))
		}
	}
	return "NA"
}
