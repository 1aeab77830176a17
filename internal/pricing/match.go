package pricing

import (
	"strings"

	"github.com/noah-isme/backend-pricing/internal/rule"
)

// Match returns the candidates that apply to agg, keeping their order.
func Match(candidates []rule.Rule, agg SalesAggregate) []rule.Rule {
	matched := make([]rule.Rule, 0, len(candidates))
	for _, r := range candidates {
		if Matches(r, agg) {
			matched = append(matched, r)
		}
	}
	return matched
}

// Matches reports whether a single rule applies to agg. Unknown condition
// types and empty condition values never match.
func Matches(r rule.Rule, agg SalesAggregate) bool {
	if code := strings.TrimSpace(r.CustomerCode); code != "" && !strings.EqualFold(code, strings.TrimSpace(agg.CustomerCode)) {
		return false
	}
	switch r.ConditionType {
	case rule.AllProducts:
		return true
	case rule.Category:
		return sameCode(r.ConditionValue, agg.Category)
	case rule.ProductCode:
		return sameCode(r.ConditionValue, agg.ProductCode)
	default:
		return false
	}
}

func sameCode(want, got string) bool {
	want = strings.TrimSpace(want)
	if want == "" {
		return false
	}
	return strings.EqualFold(want, strings.TrimSpace(got))
}
