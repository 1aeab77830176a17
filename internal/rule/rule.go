package rule

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalid is returned when a rule definition breaks one of its invariants.
var ErrInvalid = errors.New("rule invalid")

// ConditionType selects the aggregate attribute a rule is matched against.
type ConditionType string

const (
	// AllProducts matches every aggregate.
	AllProducts ConditionType = "ALL_PRODUCTS"
	// Category matches the aggregate's primary group.
	Category ConditionType = "CATEGORY"
	// ProductCode matches the aggregate's product code.
	ProductCode ConditionType = "PRODUCT_CODE"
)

// Known reports whether the condition type is one the matcher understands.
func (c ConditionType) Known() bool {
	switch c {
	case AllProducts, Category, ProductCode:
		return true
	default:
		return false
	}
}

// Method names the price transformation a rule performs.
type Method string

const (
	// CostPlusPercent multiplies the running price by the rule value (1.20 = +20%).
	CostPlusPercent Method = "COST_PLUS_PERCENT"
	// CostPlusFixed adds the rule value to the running price.
	CostPlusFixed Method = "COST_PLUS_FIXED"
	// FixedPrice replaces the running price with the rule value.
	FixedPrice Method = "FIXED_PRICE"
	// MaintainGPPercent reprices the cost at the historical gross margin plus an adjustment.
	MaintainGPPercent Method = "MAINTAIN_GP_PERCENT"
	// TargetGPPercent reprices the basis at the gross margin given by the rule value.
	TargetGPPercent Method = "TARGET_GP_PERCENT"
)

// Known reports whether the engine has semantics for the method.
func (m Method) Known() bool {
	switch m {
	case CostPlusPercent, CostPlusFixed, FixedPrice, MaintainGPPercent, TargetGPPercent:
		return true
	default:
		return false
	}
}

// ValueOptional reports whether a rule using the method may omit its pricing value.
func (m Method) ValueOptional() bool {
	return m == MaintainGPPercent
}

// Rule describes one pricing rule. Rules are read-only once loaded.
type Rule struct {
	Origin         Origin
	Name           string
	CustomerCode   string
	ConditionType  ConditionType
	ConditionValue string
	Method         Method
	Value          decimal.NullDecimal
	ExecutionOrder int
	Active         bool
	ValidFrom      *time.Time
	ValidTo        *time.Time
}

// Standard reports whether the rule is not bound to a customer code.
func (r Rule) Standard() bool {
	return strings.TrimSpace(r.CustomerCode) == ""
}

// ValidOn reports whether date falls inside the rule's inclusive validity window.
// Only the calendar date of each bound is compared.
func (r Rule) ValidOn(date time.Time) bool {
	d := DateOf(date)
	if r.ValidFrom != nil && d.Before(DateOf(*r.ValidFrom)) {
		return false
	}
	if r.ValidTo != nil && d.After(DateOf(*r.ValidTo)) {
		return false
	}
	return true
}

// ActiveOn reports whether the rule is enabled and valid on date.
func (r Rule) ActiveOn(date time.Time) bool {
	return r.Active && r.ValidOn(date)
}

// Validate checks the structural invariants of a rule definition.
func (r Rule) Validate() error {
	var problems []string
	if strings.TrimSpace(r.Name) == "" {
		problems = append(problems, "name is required")
	}
	switch {
	case !r.ConditionType.Known():
		problems = append(problems, fmt.Sprintf("unknown condition type %q", r.ConditionType))
	case r.ConditionType != AllProducts && strings.TrimSpace(r.ConditionValue) == "":
		problems = append(problems, fmt.Sprintf("condition value is required for %s", r.ConditionType))
	}
	switch {
	case !r.Method.Known():
		problems = append(problems, fmt.Sprintf("unknown pricing method %q", r.Method))
	case !r.Method.ValueOptional() && !r.Value.Valid:
		problems = append(problems, fmt.Sprintf("pricing value is required for %s", r.Method))
	}
	if r.ValidFrom != nil && r.ValidTo != nil && DateOf(*r.ValidTo).Before(DateOf(*r.ValidFrom)) {
		problems = append(problems, "valid_to must not be before valid_from")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// DateOf drops the clock portion of t, keeping the calendar date t carries in its own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SortByExecutionOrder orders rules by ascending execution order. Ties keep their input order.
func SortByExecutionOrder(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].ExecutionOrder < rules[j].ExecutionOrder
	})
}
