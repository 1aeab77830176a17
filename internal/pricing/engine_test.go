package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pricing/internal/rule"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, got.Equal(dec(want)), "expected %s, got %s", want, got.String())
}

func markup(name, multiplier string, order int) rule.Rule {
	return rule.Rule{
		Origin:         rule.Global(int64(order)),
		Name:           name,
		ConditionType:  rule.AllProducts,
		Method:         rule.CostPlusPercent,
		Value:          nd(multiplier),
		ExecutionOrder: order,
		Active:         true,
	}
}

func withMethod(name string, method rule.Method, value decimal.NullDecimal, order int) rule.Rule {
	r := markup(name, "1", order)
	r.Method = method
	r.Value = value
	return r
}

func aggregate(cost string) SalesAggregate {
	return SalesAggregate{
		CustomerCode: "C001",
		ProductCode:  "BEEF-RIB",
		Category:     "BEEF",
		IncomingCost: nd(cost),
	}
}

func withHistory(agg SalesAggregate, amount, grossProfit string) SalesAggregate {
	agg.LastAmount = nd(amount)
	agg.LastGrossProfit = nd(grossProfit)
	return agg
}

func TestCostPlusPercentIsExact(t *testing.T) {
	res, snaps := Engine{}.Run(aggregate("10.00"), []rule.Rule{markup("Markup", "1.20", 1)})
	requireDecimal(t, "12.00", res.FinalPrice)
	require.Len(t, snaps, 1)

	res, _ = Engine{}.Run(aggregate("10.00"), []rule.Rule{markup("Rebate", "0.90", 1)})
	requireDecimal(t, "9.00", res.FinalPrice)

	res, _ = Engine{}.Run(aggregate("3.333"), []rule.Rule{markup("Odd", "1.1", 1)})
	requireDecimal(t, "3.6663", res.FinalPrice)
}

func TestCostPlusFixedAndFixedPrice(t *testing.T) {
	rules := []rule.Rule{
		withMethod("Handling", rule.CostPlusFixed, nd("2.50"), 1),
	}
	res, _ := Engine{}.Run(aggregate("10"), rules)
	requireDecimal(t, "12.50", res.FinalPrice)
	require.Equal(t, "Handling (Cost+$2.50)", res.Description)

	rules = append(rules, withMethod("Contract", rule.FixedPrice, nd("15"), 2))
	res, snaps := Engine{}.Run(aggregate("10"), rules)
	requireDecimal(t, "15", res.FinalPrice)
	require.Len(t, snaps, 2)
	requireDecimal(t, "12.50", snaps[1].InputPrice)
	requireDecimal(t, "15", snaps[1].OutputPrice)
}

func TestMaintainGPFromHistory(t *testing.T) {
	agg := withHistory(aggregate("10.00"), "100", "25")
	rules := []rule.Rule{withMethod("Keep GP", rule.MaintainGPPercent, decimal.NullDecimal{}, 1)}

	res, _ := Engine{}.Run(agg, rules)
	requireDecimal(t, "13.333333", res.FinalPrice)

	res, _ = Engine{Options: Options{StepRounding: RoundCurrency}}.Run(agg, rules)
	requireDecimal(t, "13.33", res.FinalPrice)
	gp, ok := GPPercent(res.FinalPrice, dec("10.00"))
	require.True(t, ok)
	assert.InDelta(t, 0.25, gp.InexactFloat64(), 0.0002)
	require.Equal(t, "Keep GP (Maintained 25.0% GP)", res.Description)
}

func TestMaintainGPHistoricalRoundTrip(t *testing.T) {
	// Last sale: 24.95 revenue on 16.50 cost.
	agg := withHistory(aggregate("18.25"), "24.95", "8.45")
	historical, ok := HistoricalGP(agg)
	require.True(t, ok)
	requireDecimal(t, "0.338677", historical)

	res, _ := Engine{}.Run(agg, []rule.Rule{withMethod("Keep GP", rule.MaintainGPPercent, decimal.NullDecimal{}, 1)})
	price := res.FinalPrice.InexactFloat64()
	assert.Greater(t, price, 27.0)
	assert.Less(t, price, 28.0)

	gp, ok := GPPercent(res.FinalPrice, dec("18.25"))
	require.True(t, ok)
	assert.InDelta(t, 0.3386, gp.InexactFloat64(), 0.0001)
}

func TestMaintainGPAdjustment(t *testing.T) {
	agg := withHistory(aggregate("10"), "100", "25")
	res, snaps := Engine{}.Run(agg, []rule.Rule{withMethod("Keep GP", rule.MaintainGPPercent, nd("0.05"), 1)})
	requireDecimal(t, "14.285714", res.FinalPrice)
	require.Equal(t, "Keep GP (Maintained 25.0% GP, adjusted to 30.0%)", res.Description)
	require.True(t, snaps[0].Value.Valid)
	requireDecimal(t, "0.05", snaps[0].Value.Decimal)
}

func TestMaintainGPClampsBelowHundredPercent(t *testing.T) {
	agg := withHistory(aggregate("10"), "100", "30")
	res, snaps := Engine{}.Run(agg, []rule.Rule{withMethod("Keep GP", rule.MaintainGPPercent, nd("0.75"), 1)})

	requireDecimal(t, "1000", res.FinalPrice)
	require.Len(t, snaps, 1)
	require.Len(t, res.Diagnostics, 1)
	require.Equal(t, ReasonGPClamped, res.Diagnostics[0].Reason)
	require.False(t, res.Diagnostics[0].Skipped)
	require.Equal(t, []string{"maintained GP 99.0% is above 70.0%"}, res.Warnings)
}

func TestMaintainGPAllowsNegativeMargin(t *testing.T) {
	agg := withHistory(aggregate("10"), "100", "-25")
	res, _ := Engine{}.Run(agg, []rule.Rule{withMethod("Keep GP", rule.MaintainGPPercent, decimal.NullDecimal{}, 1)})
	requireDecimal(t, "8", res.FinalPrice)
	require.Len(t, res.Warnings, 1)
}

func TestMaintainGPOnlyAsFirstApplication(t *testing.T) {
	agg := withHistory(aggregate("10"), "100", "25")
	rules := []rule.Rule{
		markup("Markup", "1.20", 1),
		withMethod("Keep GP", rule.MaintainGPPercent, decimal.NullDecimal{}, 2),
	}
	res, snaps := Engine{}.Run(agg, rules)

	requireDecimal(t, "12", res.FinalPrice)
	require.Len(t, snaps, 1)
	require.Len(t, res.Diagnostics, 1)
	require.Equal(t, ReasonNotFirst, res.Diagnostics[0].Reason)
}

func TestMaintainGPFirstAfterSkippedRule(t *testing.T) {
	agg := withHistory(aggregate("10"), "100", "25")
	rules := []rule.Rule{
		withMethod("Broken", rule.CostPlusPercent, decimal.NullDecimal{}, 1),
		withMethod("Keep GP", rule.MaintainGPPercent, decimal.NullDecimal{}, 2),
	}
	res, snaps := Engine{}.Run(agg, rules)

	requireDecimal(t, "13.333333", res.FinalPrice)
	require.Len(t, snaps, 1)
	require.Equal(t, 1, snaps[0].ApplicationOrder)
	require.Equal(t, ReasonMissingValue, res.Diagnostics[0].Reason)
}

func TestMaintainGPWithoutHistoryIsSkipped(t *testing.T) {
	agg := aggregate("10")
	agg.LastAmount = nd("0")
	agg.LastGrossProfit = nd("0")
	res, snaps := Engine{}.Run(agg, []rule.Rule{withMethod("Keep GP", rule.MaintainGPPercent, nd("0.25"), 1)})

	requireDecimal(t, "10", res.FinalPrice)
	require.Empty(t, snaps)
	require.Equal(t, "No rules applied (1 skipped)", res.Description)
	require.Equal(t, ReasonNoHistory, res.Diagnostics[0].Reason)
}

func TestTargetGPBasis(t *testing.T) {
	res, _ := Engine{}.Run(aggregate("10"), []rule.Rule{withMethod("Target", rule.TargetGPPercent, nd("0.30"), 1)})
	requireDecimal(t, "14.285714", res.FinalPrice)
	require.Equal(t, "Target (Target 30.0% GP)", res.Description)

	rules := []rule.Rule{
		markup("Markup", "1.20", 1),
		withMethod("Target", rule.TargetGPPercent, nd("0.30"), 2),
	}
	res, _ = Engine{}.Run(aggregate("10"), rules)
	requireDecimal(t, "17.142857", res.FinalPrice)
	require.Equal(t, "Markup → Target", res.Description)
}

func TestTargetGPWithoutDivisorIsSkipped(t *testing.T) {
	rules := []rule.Rule{
		withMethod("Impossible", rule.TargetGPPercent, nd("1"), 1),
		markup("Markup", "1.10", 2),
	}
	res, snaps := Engine{}.Run(aggregate("10"), rules)
	requireDecimal(t, "11", res.FinalPrice)
	require.Len(t, snaps, 1)
	require.Equal(t, ReasonInvalidDivisor, res.Diagnostics[0].Reason)
}

func TestUnknownMethodIsSkipped(t *testing.T) {
	res, snaps := Engine{}.Run(aggregate("10"), []rule.Rule{withMethod("Odd", "BUNDLE", nd("2"), 1)})
	requireDecimal(t, "10", res.FinalPrice)
	require.Empty(t, snaps)
	require.Equal(t, ReasonUnknownMethod, res.Diagnostics[0].Reason)
	require.Equal(t, StatusUnmatched, res.Status())
}

func TestFiveRuleChain(t *testing.T) {
	rules := []rule.Rule{
		markup("Base markup", "1.20", 1),
		markup("Volume rebate", "0.90", 2),
		markup("Loyalty", "0.95", 3),
		withMethod("Freight", rule.CostPlusFixed, nd("2.00"), 4),
		markup("Promo", "0.85", 5),
	}

	t.Run("currency rounding", func(t *testing.T) {
		res, snaps := Engine{Options: Options{StepRounding: RoundCurrency}}.Run(aggregate("10.00"), rules)
		want := []string{"10.00", "12.00", "10.80", "10.26", "12.26", "10.42"}
		require.Len(t, res.Intermediate, len(want))
		for i, w := range want {
			requireDecimal(t, w, res.Intermediate[i])
		}
		requireDecimal(t, "10.42", res.FinalPrice)
		require.Len(t, snaps, 5)
		for i, s := range snaps {
			require.Equal(t, i+1, s.ApplicationOrder)
			require.True(t, s.InputPrice.Equal(res.Intermediate[i]))
			require.True(t, s.OutputPrice.Equal(res.Intermediate[i+1]))
		}
		require.Equal(t, "Base markup → Volume rebate → Loyalty → Freight → Promo", res.Description)
	})

	t.Run("full precision", func(t *testing.T) {
		res, _ := Engine{}.Run(aggregate("10.00"), rules)
		want := []string{"10.00", "12.00", "10.80", "10.26", "12.26", "10.421"}
		for i, w := range want {
			requireDecimal(t, w, res.Intermediate[i])
		}
		requireDecimal(t, "10.421", res.FinalPrice)
	})
}

func TestRunIsIdempotent(t *testing.T) {
	agg := withHistory(aggregate("18.25"), "24.95", "8.45")
	rules := []rule.Rule{
		withMethod("Keep GP", rule.MaintainGPPercent, nd("0.01"), 1),
		markup("Markup", "1.05", 2),
	}
	first, firstSnaps := Engine{}.Run(agg, rules)
	second, secondSnaps := Engine{}.Run(agg, rules)

	require.True(t, first.FinalPrice.Equal(second.FinalPrice))
	require.Equal(t, first.Description, second.Description)
	require.Equal(t, len(firstSnaps), len(secondSnaps))
	for i := range firstSnaps {
		require.True(t, firstSnaps[i].OutputPrice.Equal(secondSnaps[i].OutputPrice))
	}
	require.Equal(t, "18.25", agg.IncomingCost.Decimal.String())
}

func TestNoMatchesKeepsCost(t *testing.T) {
	res, snaps := Engine{}.Run(aggregate("10.5"), nil)
	requireDecimal(t, "10.5", res.FinalPrice)
	require.Empty(t, snaps)
	require.Empty(t, res.AppliedRules)
	require.Len(t, res.Intermediate, 1)
	require.Equal(t, "No rules matched", res.Description)
	require.Equal(t, StatusUnmatched, res.Status())
}

func TestMissingCostReturnsNoData(t *testing.T) {
	agg := aggregate("1")
	agg.IncomingCost = decimal.NullDecimal{}
	res, snaps := Engine{}.Run(agg, []rule.Rule{markup("Markup", "1.20", 1)})

	require.Empty(t, snaps)
	require.True(t, res.FinalPrice.IsZero())
	require.True(t, res.Cost.IsZero())
	require.Equal(t, "No data", res.Description)
	require.Equal(t, StatusNoData, res.Status())
	require.Equal(t, ReasonMissingCost, res.Diagnostics[0].Reason)
}

func TestLowMarginWarning(t *testing.T) {
	agg := withHistory(aggregate("10"), "100", "3")
	res, _ := Engine{}.Run(agg, []rule.Rule{withMethod("Keep GP", rule.MaintainGPPercent, decimal.NullDecimal{}, 1)})

	require.Equal(t, []string{"maintained GP 3.0% is below 5.0%"}, res.Warnings)
	require.Equal(t, "Keep GP (Maintained 3.0% GP) [warning: maintained GP 3.0% is below 5.0%]", res.Description)
}

func TestCustomThresholds(t *testing.T) {
	agg := withHistory(aggregate("10"), "100", "25")
	engine := Engine{Options: Options{Thresholds: Thresholds{LowGP: dec("0.30"), HighGP: dec("0.90")}}}
	res, _ := engine.Run(agg, []rule.Rule{withMethod("Keep GP", rule.MaintainGPPercent, decimal.NullDecimal{}, 1)})
	require.Equal(t, []string{"maintained GP 25.0% is below 30.0%"}, res.Warnings)
}

func TestSnapshotsCarryOrigin(t *testing.T) {
	r := markup("Customer markup", "1.10", 1)
	r.Origin = rule.CustomerSpecific(42)
	_, snaps := Engine{}.Run(aggregate("10"), []rule.Rule{r})

	require.Len(t, snaps, 1)
	id, ok := snaps[0].Origin.CustomerRuleID()
	require.True(t, ok)
	require.Equal(t, int64(42), id)
	require.Equal(t, rule.CostPlusPercent, snaps[0].Method)
	requireDecimal(t, "10", snaps[0].InputPrice)
	requireDecimal(t, "11", snaps[0].OutputPrice)
}
