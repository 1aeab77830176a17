package pricing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pricing/internal/rule"
)

// Customer identifies the buyer an aggregate belongs to.
type Customer struct {
	ID   int64
	Code string
}

// AggregateKey joins an outcome back to the aggregate it was computed from.
type AggregateKey struct {
	CustomerCode string
	ProductCode  string
}

func (k AggregateKey) String() string {
	return k.CustomerCode + "/" + k.ProductCode
}

// SalesAggregate is the per (customer, product) input of a calculation. It is never mutated.
type SalesAggregate struct {
	Key             AggregateKey
	CustomerCode    string
	ProductCode     string
	Category        string
	IncomingCost    decimal.NullDecimal
	LastAmount      decimal.NullDecimal
	LastGrossProfit decimal.NullDecimal
}

// AggregateKey returns the explicit key or one derived from the aggregate codes.
func (a SalesAggregate) AggregateKey() AggregateKey {
	if a.Key != (AggregateKey{}) {
		return a.Key
	}
	return AggregateKey{CustomerCode: a.CustomerCode, ProductCode: a.ProductCode}
}

// Snapshot records one applied rule exactly as it stood when it changed the price.
type Snapshot struct {
	Origin           rule.Origin
	RuleName         string
	Method           rule.Method
	Value            decimal.NullDecimal
	ApplicationOrder int
	InputPrice       decimal.Decimal
	OutputPrice      decimal.Decimal
}

// Reason classifies a diagnostic raised while walking the rule chain.
type Reason string

const (
	ReasonMissingValue   Reason = "missing_value"
	ReasonNoHistory      Reason = "no_history"
	ReasonNotFirst       Reason = "not_first"
	ReasonInvalidDivisor Reason = "invalid_divisor"
	ReasonUnknownMethod  Reason = "unknown_method"
	ReasonMissingCost    Reason = "missing_cost"
	// ReasonGPClamped is informational; the rule is still applied.
	ReasonGPClamped Reason = "gp_clamped"
)

// Diagnostic explains why a rule was skipped or adjusted.
type Diagnostic struct {
	Rule    string
	Origin  rule.Origin
	Reason  Reason
	Message string
	Skipped bool
}

// Result is the price produced for one aggregate and how it was reached.
type Result struct {
	Cost         decimal.Decimal
	FinalPrice   decimal.Decimal
	AppliedRules []rule.Rule
	// Intermediate holds the starting cost followed by the price after each applied rule.
	Intermediate []decimal.Decimal
	Description  string
	Warnings     []string
	Diagnostics  []Diagnostic
}

// Skipped counts diagnostics that removed a rule from the chain.
func (r Result) Skipped() int {
	n := 0
	for _, d := range r.Diagnostics {
		if d.Skipped {
			n++
		}
	}
	return n
}

// Status summarises the result for metrics and batch accounting.
func (r Result) Status() string {
	switch {
	case r.hasReason(ReasonMissingCost):
		return StatusNoData
	case len(r.AppliedRules) == 0:
		return StatusUnmatched
	default:
		return StatusPriced
	}
}

func (r Result) hasReason(reason Reason) bool {
	for _, d := range r.Diagnostics {
		if d.Reason == reason {
			return true
		}
	}
	return false
}

const (
	StatusPriced    = "priced"
	StatusUnmatched = "unmatched"
	StatusNoData    = "no_data"
)

// Outcome is the persisted form of a calculation, kept apart from its aggregate.
type Outcome struct {
	ID        uuid.UUID
	Key       AggregateKey
	AsOf      time.Time
	Result    Result
	Snapshots []Snapshot
}
