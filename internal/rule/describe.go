package rule

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Percent renders a fraction as a percentage with one decimal place (0.339 -> "33.9%").
func Percent(fraction decimal.Decimal) string {
	return fraction.Mul(hundred).StringFixed(1) + "%"
}

// Money renders an amount with two decimal places and a dollar sign.
func Money(amount decimal.Decimal) string {
	return "$" + amount.StringFixed(2)
}

// MarkupLabel renders a COST_PLUS_PERCENT multiplier as a signed change (1.20 -> "+20.0%").
func MarkupLabel(multiplier decimal.Decimal) string {
	change := multiplier.Sub(decimal.NewFromInt(1))
	sign := ""
	if !change.IsNegative() {
		sign = "+"
	}
	return sign + Percent(change)
}

// MethodLabel renders the method and value of a rule without historical context.
func (r Rule) MethodLabel() string {
	v := r.Value.Decimal
	switch r.Method {
	case CostPlusPercent:
		if !r.Value.Valid {
			return "markup, no value"
		}
		return MarkupLabel(v)
	case CostPlusFixed:
		if !r.Value.Valid {
			return "Cost+, no value"
		}
		return "Cost+" + Money(v)
	case FixedPrice:
		if !r.Value.Valid {
			return "Fixed, no value"
		}
		return "Fixed " + Money(v)
	case MaintainGPPercent:
		if !r.Value.Valid || v.IsZero() {
			return "Maintain GP%"
		}
		sign := ""
		if v.IsPositive() {
			sign = "+"
		}
		return "Maintain GP% " + sign + Percent(v)
	case TargetGPPercent:
		if !r.Value.Valid {
			return "Target GP, no value"
		}
		return "Target " + Percent(v) + " GP"
	default:
		return string(r.Method)
	}
}

// Describe renders the rule for listings, including its validity status on asOf.
func (r Rule) Describe(asOf time.Time) string {
	var sb strings.Builder
	name := strings.TrimSpace(r.Name)
	if name == "" {
		name = "Unnamed rule"
	}
	sb.WriteString(name)
	sb.WriteString(" (")
	sb.WriteString(r.MethodLabel())
	sb.WriteString(")")

	day := DateOf(asOf)
	switch {
	case r.ValidFrom != nil && day.Before(DateOf(*r.ValidFrom)):
		sb.WriteString(" [starts " + r.ValidFrom.Format(time.DateOnly) + "]")
	case r.ValidTo != nil && day.After(DateOf(*r.ValidTo)):
		sb.WriteString(" [expired " + r.ValidTo.Format(time.DateOnly) + "]")
	}
	if !r.Active {
		sb.WriteString(" [inactive]")
	}
	return sb.String()
}
