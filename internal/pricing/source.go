package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/noah-isme/backend-pricing/internal/rule"
)

// RuleStore exposes the rule lookups a calculation needs.
type RuleStore interface {
	GlobalRulesValidOn(ctx context.Context, date time.Time) ([]rule.Rule, error)
	ActiveCustomerRules(ctx context.Context, customerID int64) ([]rule.Rule, error)
	CustomerHasRules(ctx context.Context, customerID int64) (bool, error)
}

// Source picks the candidate rules for one calculation.
type Source struct {
	Store RuleStore
}

// Candidates returns the customer's own active rules when it has any, otherwise the
// global rules valid on asOf. Customer rules replace global rules; they are never merged.
func (s Source) Candidates(ctx context.Context, customer *Customer, asOf time.Time) ([]rule.Rule, error) {
	if s.Store == nil {
		return nil, errors.New("pricing rule source not configured")
	}
	if customer != nil {
		has, err := s.Store.CustomerHasRules(ctx, customer.ID)
		if err != nil {
			return nil, fmt.Errorf("check customer %d rules: %w", customer.ID, err)
		}
		if has {
			own, err := s.Store.ActiveCustomerRules(ctx, customer.ID)
			if err != nil {
				return nil, fmt.Errorf("load customer %d rules: %w", customer.ID, err)
			}
			candidates := make([]rule.Rule, 0, len(own))
			for _, r := range own {
				if !r.Active {
					continue
				}
				r.Origin.Kind = rule.OriginCustomer
				candidates = append(candidates, r)
			}
			if len(candidates) > 0 {
				rule.SortByExecutionOrder(candidates)
				return candidates, nil
			}
		}
	}

	global, err := s.Store.GlobalRulesValidOn(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("load global rules: %w", err)
	}
	candidates := make([]rule.Rule, 0, len(global))
	for _, r := range global {
		if !r.ActiveOn(asOf) {
			continue
		}
		r.Origin.Kind = rule.OriginGlobal
		candidates = append(candidates, r)
	}
	rule.SortByExecutionOrder(candidates)
	return candidates, nil
}
