package pricing

import (
	"context"
	"time"

	"github.com/noah-isme/backend-pricing/internal/rule"
)

// MemoryRules is a RuleStore backed by slices. It is used by tests and tools
// that price from a rule pack without a database.
type MemoryRules struct {
	Global   []rule.Rule
	Customer map[int64][]rule.Rule
}

// GlobalRulesValidOn implements RuleStore.
func (m *MemoryRules) GlobalRulesValidOn(_ context.Context, date time.Time) ([]rule.Rule, error) {
	out := make([]rule.Rule, 0, len(m.Global))
	for _, r := range m.Global {
		if r.ActiveOn(date) {
			out = append(out, r)
		}
	}
	rule.SortByExecutionOrder(out)
	return out, nil
}

// ActiveCustomerRules implements RuleStore.
func (m *MemoryRules) ActiveCustomerRules(_ context.Context, customerID int64) ([]rule.Rule, error) {
	var out []rule.Rule
	for _, r := range m.Customer[customerID] {
		if r.Active {
			out = append(out, r)
		}
	}
	rule.SortByExecutionOrder(out)
	return out, nil
}

// CustomerHasRules implements RuleStore.
func (m *MemoryRules) CustomerHasRules(_ context.Context, customerID int64) (bool, error) {
	for _, r := range m.Customer[customerID] {
		if r.Active {
			return true, nil
		}
	}
	return false, nil
}
