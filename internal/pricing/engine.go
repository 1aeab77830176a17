package pricing

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pricing/internal/rule"
)

var engineNopLogger = zerolog.Nop()

// Rounding controls whether the running price is rounded between rules.
type Rounding int

const (
	// RoundNone keeps full precision between rules.
	RoundNone Rounding = iota
	// RoundCurrency rounds the running price to cents, half up, after each rule.
	RoundCurrency
)

// Thresholds bound the maintained margin outside of which a warning is raised.
type Thresholds struct {
	LowGP  decimal.Decimal
	HighGP decimal.Decimal
}

// DefaultThresholds returns the 5% / 70% warning band.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LowGP:  decimal.RequireFromString("0.05"),
		HighGP: decimal.RequireFromString("0.70"),
	}
}

// Options tune the engine.
type Options struct {
	StepRounding Rounding
	// Thresholds default to DefaultThresholds when both bounds are zero.
	Thresholds Thresholds
}

// Engine walks a matched rule chain and transforms the incoming cost into a sell price.
// It holds no state between calls and never returns an error: bad input degrades to
// a skipped rule or a zero-price result with a diagnostic.
type Engine struct {
	Options Options
	Logger  *zerolog.Logger
}

// step is the effect of one successfully applied rule.
type step struct {
	rule  rule.Rule
	input decimal.Decimal
	price decimal.Decimal
	// historical and target are set for MAINTAIN_GP_PERCENT.
	historical decimal.NullDecimal
	target     decimal.NullDecimal
}

// Run applies matched, in order, to agg.
func (e Engine) Run(agg SalesAggregate, matched []rule.Rule) (Result, []Snapshot) {
	if !agg.IncomingCost.Valid {
		res := NoData(agg)
		e.report(agg, res.Diagnostics[0])
		return res, nil
	}

	cost := agg.IncomingCost.Decimal
	res := Result{
		Cost:         cost,
		Intermediate: []decimal.Decimal{cost},
	}
	current := cost
	var (
		steps     []step
		snapshots []Snapshot
	)
	for _, r := range matched {
		st, diags, ok := e.apply(r, agg, cost, current, len(steps))
		for _, d := range diags {
			res.Diagnostics = append(res.Diagnostics, d)
			e.report(agg, d)
		}
		if !ok {
			continue
		}
		st.price = e.round(st.price)
		steps = append(steps, st)
		snapshots = append(snapshots, Snapshot{
			Origin:           r.Origin,
			RuleName:         r.Name,
			Method:           r.Method,
			Value:            r.Value,
			ApplicationOrder: len(steps),
			InputPrice:       current,
			OutputPrice:      st.price,
		})
		res.AppliedRules = append(res.AppliedRules, r)
		res.Intermediate = append(res.Intermediate, st.price)
		current = st.price

		e.logger().Debug().
			Str("rule", r.Name).
			Str("method", string(r.Method)).
			Str("input", st.input.String()).
			Str("output", st.price.String()).
			Str("product", agg.ProductCode).
			Str("customer", agg.CustomerCode).
			Msg("pricing rule applied")
	}

	if len(steps) == 0 {
		res.FinalPrice = cost
		switch {
		case len(matched) == 0:
			res.Description = "No rules matched"
		default:
			res.Description = fmt.Sprintf("No rules applied (%d skipped)", res.Skipped())
		}
		return res, nil
	}

	res.FinalPrice = current.Round(Scale)
	res.Warnings = e.warnings(steps)
	res.Description = describe(steps, res.Warnings)
	return res, snapshots
}

// NoData is the result for an aggregate without an incoming cost.
func NoData(agg SalesAggregate) Result {
	return Result{
		Cost:         decimal.Zero,
		FinalPrice:   decimal.Zero,
		Intermediate: []decimal.Decimal{decimal.Zero},
		Description:  "No data",
		Diagnostics: []Diagnostic{{
			Reason:  ReasonMissingCost,
			Message: fmt.Sprintf("aggregate %s has no incoming cost", agg.AggregateKey()),
			Skipped: false,
		}},
	}
}

func (e Engine) apply(r rule.Rule, agg SalesAggregate, cost, current decimal.Decimal, applied int) (step, []Diagnostic, bool) {
	st := step{rule: r, input: current}
	skip := func(reason Reason, format string, args ...any) (step, []Diagnostic, bool) {
		return st, []Diagnostic{{
			Rule:    r.Name,
			Origin:  r.Origin,
			Reason:  reason,
			Message: fmt.Sprintf(format, args...),
			Skipped: true,
		}}, false
	}

	if !r.Method.Known() {
		return skip(ReasonUnknownMethod, "unknown pricing method %q", r.Method)
	}
	if !r.Value.Valid && !r.Method.ValueOptional() {
		return skip(ReasonMissingValue, "%s requires a pricing value", r.Method)
	}
	value := r.Value.Decimal

	switch r.Method {
	case rule.CostPlusPercent:
		st.price = current.Mul(value)
	case rule.CostPlusFixed:
		st.price = current.Add(value)
	case rule.FixedPrice:
		st.price = value
	case rule.MaintainGPPercent:
		if applied > 0 {
			return skip(ReasonNotFirst, "maintain GP must be the first applied rule, %d already applied", applied)
		}
		historical, ok := HistoricalGP(agg)
		if !ok {
			return skip(ReasonNoHistory, "no historical amount and gross profit to maintain")
		}
		target := historical.Add(value)
		var notes []Diagnostic
		if target.GreaterThanOrEqual(one) {
			notes = append(notes, Diagnostic{
				Rule:    r.Name,
				Origin:  r.Origin,
				Reason:  ReasonGPClamped,
				Message: fmt.Sprintf("target GP %s clamped to %s", rule.Percent(target), rule.Percent(maxTargetGP)),
			})
			target = maxTargetGP
		}
		price, ok := PriceForMargin(cost, target)
		if !ok {
			return skip(ReasonInvalidDivisor, "target GP %s leaves no divisor", rule.Percent(target))
		}
		st.price = price
		st.historical = decimal.NewNullDecimal(historical)
		st.target = decimal.NewNullDecimal(target)
		return st, notes, true
	case rule.TargetGPPercent:
		basis := current
		if applied == 0 {
			basis = cost
		}
		price, ok := PriceForMargin(basis, value)
		if !ok {
			return skip(ReasonInvalidDivisor, "target GP %s must be below 100%%", rule.Percent(value))
		}
		st.price = price
	}
	return st, nil, true
}

func (e Engine) round(price decimal.Decimal) decimal.Decimal {
	if e.Options.StepRounding == RoundCurrency {
		return price.Round(CurrencyScale)
	}
	return price
}

func (e Engine) thresholds() Thresholds {
	t := e.Options.Thresholds
	if t.LowGP.IsZero() && t.HighGP.IsZero() {
		return DefaultThresholds()
	}
	return t
}

func (e Engine) warnings(steps []step) []string {
	t := e.thresholds()
	var out []string
	for _, st := range steps {
		if !st.target.Valid {
			continue
		}
		gp := st.target.Decimal
		switch {
		case gp.LessThan(t.LowGP):
			out = append(out, fmt.Sprintf("maintained GP %s is below %s", rule.Percent(gp), rule.Percent(t.LowGP)))
		case gp.GreaterThan(t.HighGP):
			out = append(out, fmt.Sprintf("maintained GP %s is above %s", rule.Percent(gp), rule.Percent(t.HighGP)))
		}
	}
	return out
}

func (e Engine) report(agg SalesAggregate, d Diagnostic) {
	evt := e.logger().Warn()
	if !d.Skipped && d.Reason == ReasonGPClamped {
		evt = e.logger().Info()
	}
	evt.Str("rule", d.Rule).
		Str("reason", string(d.Reason)).
		Str("product", agg.ProductCode).
		Str("customer", agg.CustomerCode).
		Msg(d.Message)
}

func (e Engine) logger() *zerolog.Logger {
	if e.Logger == nil {
		return &engineNopLogger
	}
	return e.Logger
}
