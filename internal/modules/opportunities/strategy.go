// Package opportunities normalizes raw scanner candidates into canonical
// opportunity records and re-ranks them under the regime playbook.
package opportunities

import "strings"

// aliasGroups is the closed alias table for strategy matching. Two strategy
// tags match when they are identical after canonicalization or when they
// fall in the same group. The first member of each group names its family.
var aliasGroups = [][]string{
	{"credit_spread", "put_credit_spread", "call_credit_spread", "credit_put", "credit_call", "bull_put_spread", "bear_call_spread"},
	{"debit_spread", "put_debit_spread", "call_debit_spread", "debit_spreads", "bull_call_spread", "bear_put_spread"},
	{"iron_condor", "condor", "jade_lizard"},
	{"butterfly", "butterflies", "iron_butterfly", "broken_wing_butterfly"},
	{"calendar", "calendar_spread", "double_calendar", "diagonal"},
	{"income", "covered_call", "cash_secured_put", "wheel"},
	{"equity", "stock", "stock_pick"},
}

var aliasFamily = func() map[string]string {
	m := make(map[string]string)
	for _, group := range aliasGroups {
		family := group[0]
		for _, member := range group {
			m[member] = family
		}
	}
	return m
}()

// CanonicalStrategy lowercases a strategy tag and normalizes separators.
// It does not collapse aliases; put_credit_spread stays distinct from
// credit_spread, they merely match each other in lane classification.
func CanonicalStrategy(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	tag = strings.ReplaceAll(tag, " ", "_")
	tag = strings.ReplaceAll(tag, "-", "_")
	return tag
}

// StrategyFamily returns the alias-group family of a tag, or the canonical
// tag itself when it belongs to no group.
func StrategyFamily(tag string) string {
	canonical := CanonicalStrategy(tag)
	if family, ok := aliasFamily[canonical]; ok {
		return family
	}
	return canonical
}

// StrategiesMatch reports whether two strategy tags refer to the same
// strategy: exact canonical equality or shared alias group.
func StrategiesMatch(a, b string) bool {
	ca, cb := CanonicalStrategy(a), CanonicalStrategy(b)
	if ca == cb {
		return true
	}
	fa, okA := aliasFamily[ca]
	fb, okB := aliasFamily[cb]
	return okA && okB && fa == fb
}
