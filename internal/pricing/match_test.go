package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pricing/internal/rule"
)

func TestMatches(t *testing.T) {
	agg := aggregate("10")
	cases := []struct {
		name string
		rule rule.Rule
		want bool
	}{
		{"all products", rule.Rule{ConditionType: rule.AllProducts}, true},
		{"category case insensitive", rule.Rule{ConditionType: rule.Category, ConditionValue: "beef"}, true},
		{"other category", rule.Rule{ConditionType: rule.Category, ConditionValue: "PORK"}, false},
		{"product code", rule.Rule{ConditionType: rule.ProductCode, ConditionValue: "beef-rib"}, true},
		{"other product", rule.Rule{ConditionType: rule.ProductCode, ConditionValue: "BEEF-BRISKET"}, false},
		{"empty value", rule.Rule{ConditionType: rule.Category, ConditionValue: "  "}, false},
		{"unknown type", rule.Rule{ConditionType: "SUPPLIER", ConditionValue: "BEEF"}, false},
		{"same customer", rule.Rule{CustomerCode: "C001", ConditionType: rule.AllProducts}, true},
		{"other customer", rule.Rule{CustomerCode: "C002", ConditionType: rule.AllProducts}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Matches(tc.rule, agg))
		})
	}
}

func TestMatchKeepsOrder(t *testing.T) {
	candidates := []rule.Rule{
		{Name: "first", ConditionType: rule.AllProducts},
		{Name: "pork", ConditionType: rule.Category, ConditionValue: "PORK"},
		{Name: "second", ConditionType: rule.Category, ConditionValue: "BEEF"},
		{Name: "third", ConditionType: rule.ProductCode, ConditionValue: "BEEF-RIB"},
	}
	matched := Match(candidates, aggregate("10"))

	names := make([]string, 0, len(matched))
	for _, r := range matched {
		names = append(names, r.Name)
	}
	require.Equal(t, []string{"first", "second", "third"}, names)
}

func TestHistoricalGPUnavailable(t *testing.T) {
	agg := aggregate("10")
	_, ok := HistoricalGP(agg)
	require.False(t, ok)

	agg.LastAmount = nd("100")
	_, ok = HistoricalGP(agg)
	require.False(t, ok)

	agg = withHistory(agg, "0", "5")
	_, ok = HistoricalGP(agg)
	require.False(t, ok)
}

func TestGPPercent(t *testing.T) {
	gp, ok := GPPercent(dec("13.33"), dec("10"))
	require.True(t, ok)
	requireDecimal(t, "0.249812", gp)

	_, ok = GPPercent(dec("0"), dec("10"))
	require.False(t, ok)
}
