package pricing

import "github.com/shopspring/decimal"

// Scale is the number of decimal places kept by divisions in the engine.
const Scale = 6

// CurrencyScale is the number of decimal places used when a chain is rounded to cents.
const CurrencyScale = 2

var (
	one         = decimal.NewFromInt(1)
	maxTargetGP = decimal.RequireFromString("0.99")
)

// HistoricalGP returns LastGrossProfit / LastAmount at six decimals, rounded half up.
// It reports false when either total is missing or the amount is zero.
func HistoricalGP(agg SalesAggregate) (decimal.Decimal, bool) {
	if !agg.LastGrossProfit.Valid || !agg.LastAmount.Valid {
		return decimal.Zero, false
	}
	if agg.LastAmount.Decimal.IsZero() {
		return decimal.Zero, false
	}
	return agg.LastGrossProfit.Decimal.DivRound(agg.LastAmount.Decimal, Scale), true
}

// GPPercent returns the gross margin (price - cost) / price at six decimals.
// A zero price has no margin and reports false.
func GPPercent(price, cost decimal.Decimal) (decimal.Decimal, bool) {
	if price.IsZero() {
		return decimal.Zero, false
	}
	return price.Sub(cost).DivRound(price, Scale), true
}

// PriceForMargin returns basis / (1 - gp) at six decimals. It reports false
// when the divisor is not positive.
func PriceForMargin(basis, gp decimal.Decimal) (decimal.Decimal, bool) {
	divisor := one.Sub(gp)
	if !divisor.IsPositive() {
		return decimal.Zero, false
	}
	return basis.DivRound(divisor, Scale), true
}
