package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/rule"
)

// DefaultRuleName names the catch-all rule every installation carries.
const DefaultRuleName = "System Default - Maintain GP%"

// DefaultRule returns the catch-all rule that holds the historical margin, with a 25%
// fallback value, after every other rule.
func DefaultRule() rule.Rule {
	return rule.Rule{
		Origin:         rule.Global(0),
		Name:           DefaultRuleName,
		ConditionType:  rule.AllProducts,
		Method:         rule.MaintainGPPercent,
		Value:          decimal.NewNullDecimal(decimal.RequireFromString("0.25")),
		ExecutionOrder: 999999,
		Active:         true,
	}
}

const globalRuleColumns = `id, rule_name, customer_code, condition_type, condition_value, pricing_method, pricing_value, execution_order, is_active, valid_from, valid_to`

const customerRuleColumns = `id, rule_name, condition_type, condition_value, pricing_method, pricing_value, execution_order, is_active`

// RuleRepo reads and writes pricing rules. It implements pricing.RuleStore.
type RuleRepo struct {
	DB DBTX
}

var _ pricing.RuleStore = RuleRepo{}

type ruleRow struct {
	ID             int64
	Name           string
	CustomerCode   pgtype.Text
	ConditionType  string
	ConditionValue pgtype.Text
	Method         string
	Value          pgtype.Numeric
	ExecutionOrder int32
	Active         bool
	ValidFrom      pgtype.Date
	ValidTo        pgtype.Date
}

func (r ruleRow) toRule(origin rule.Origin) rule.Rule {
	return rule.Rule{
		Origin:         origin,
		Name:           r.Name,
		CustomerCode:   r.CustomerCode.String,
		ConditionType:  rule.ConditionType(r.ConditionType),
		ConditionValue: r.ConditionValue.String,
		Method:         rule.Method(r.Method),
		Value:          fromNumeric(r.Value),
		ExecutionOrder: int(r.ExecutionOrder),
		Active:         r.Active,
		ValidFrom:      fromDate(r.ValidFrom),
		ValidTo:        fromDate(r.ValidTo),
	}
}

func scanGlobalRule(row pgx.CollectableRow) (rule.Rule, error) {
	var r ruleRow
	err := row.Scan(&r.ID, &r.Name, &r.CustomerCode, &r.ConditionType, &r.ConditionValue, &r.Method, &r.Value, &r.ExecutionOrder, &r.Active, &r.ValidFrom, &r.ValidTo)
	if err != nil {
		return rule.Rule{}, err
	}
	return r.toRule(rule.Global(r.ID)), nil
}

func scanCustomerRule(row pgx.CollectableRow) (rule.Rule, error) {
	var r ruleRow
	err := row.Scan(&r.ID, &r.Name, &r.ConditionType, &r.ConditionValue, &r.Method, &r.Value, &r.ExecutionOrder, &r.Active)
	if err != nil {
		return rule.Rule{}, err
	}
	return r.toRule(rule.CustomerSpecific(r.ID)), nil
}

// GlobalRulesValidOn returns active global rules valid on date in execution order.
func (r RuleRepo) GlobalRulesValidOn(ctx context.Context, date time.Time) ([]rule.Rule, error) {
	if r.DB == nil {
		return nil, ErrStoreUnavailable
	}
	day := pgtype.Date{Time: rule.DateOf(date), Valid: true}
	rows, err := r.DB.Query(ctx, `SELECT `+globalRuleColumns+` FROM pricing_rule
WHERE is_active
  AND (valid_from IS NULL OR valid_from <= $1)
  AND (valid_to IS NULL OR valid_to >= $1)
ORDER BY execution_order, id`, day)
	if err != nil {
		return nil, fmt.Errorf("query global rules: %w", err)
	}
	rules, err := pgx.CollectRows(rows, scanGlobalRule)
	if err != nil {
		return nil, fmt.Errorf("scan global rules: %w", err)
	}
	return rules, nil
}

// ActiveCustomerRules returns a customer's active rules in execution order.
func (r RuleRepo) ActiveCustomerRules(ctx context.Context, customerID int64) ([]rule.Rule, error) {
	if r.DB == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := r.DB.Query(ctx, `SELECT `+customerRuleColumns+` FROM customer_pricing_rule
WHERE customer_id = $1 AND is_active
ORDER BY execution_order, id`, customerID)
	if err != nil {
		return nil, fmt.Errorf("query customer rules: %w", err)
	}
	rules, err := pgx.CollectRows(rows, scanCustomerRule)
	if err != nil {
		return nil, fmt.Errorf("scan customer rules: %w", err)
	}
	return rules, nil
}

// CustomerHasRules reports whether the customer owns at least one active rule.
func (r RuleRepo) CustomerHasRules(ctx context.Context, customerID int64) (bool, error) {
	if r.DB == nil {
		return false, ErrStoreUnavailable
	}
	var exists bool
	err := r.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM customer_pricing_rule WHERE customer_id = $1 AND is_active)`, customerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check customer rules: %w", err)
	}
	return exists, nil
}

// ListGlobalRules returns every global rule, active or not, in execution order.
func (r RuleRepo) ListGlobalRules(ctx context.Context) ([]rule.Rule, error) {
	if r.DB == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := r.DB.Query(ctx, `SELECT `+globalRuleColumns+` FROM pricing_rule ORDER BY execution_order, id`)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	return pgx.CollectRows(rows, scanGlobalRule)
}

// FindRuleByName returns the global rule with the given name.
func (r RuleRepo) FindRuleByName(ctx context.Context, name string) (rule.Rule, error) {
	if r.DB == nil {
		return rule.Rule{}, ErrStoreUnavailable
	}
	rows, err := r.DB.Query(ctx, `SELECT `+globalRuleColumns+` FROM pricing_rule WHERE rule_name = $1`, strings.TrimSpace(name))
	if err != nil {
		return rule.Rule{}, fmt.Errorf("query rule %q: %w", name, err)
	}
	found, err := pgx.CollectExactlyOneRow(rows, scanGlobalRule)
	if err != nil {
		return rule.Rule{}, notFound(err, fmt.Sprintf("rule %q", name))
	}
	return found, nil
}

// CreateRule validates and stores a global rule, returning it with its stored origin.
func (r RuleRepo) CreateRule(ctx context.Context, in rule.Rule) (rule.Rule, error) {
	if r.DB == nil {
		return rule.Rule{}, ErrStoreUnavailable
	}
	if err := in.Validate(); err != nil {
		return rule.Rule{}, err
	}
	var id int64
	err := r.DB.QueryRow(ctx, `INSERT INTO pricing_rule
(rule_name, customer_code, condition_type, condition_value, pricing_method, pricing_value, execution_order, is_active, valid_from, valid_to)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`, globalRuleArgs(in)...).Scan(&id)
	if err != nil {
		return rule.Rule{}, fmt.Errorf("insert rule %q: %w", in.Name, err)
	}
	in.Origin = rule.Global(id)
	return in, nil
}

// EnsureRule inserts a global rule unless one with the same name exists. It reports
// whether a row was written.
func (r RuleRepo) EnsureRule(ctx context.Context, in rule.Rule) (bool, error) {
	if r.DB == nil {
		return false, ErrStoreUnavailable
	}
	if err := in.Validate(); err != nil {
		return false, err
	}
	tag, err := r.DB.Exec(ctx, `INSERT INTO pricing_rule
(rule_name, customer_code, condition_type, condition_value, pricing_method, pricing_value, execution_order, is_active, valid_from, valid_to)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (rule_name) DO NOTHING`, globalRuleArgs(in)...)
	if err != nil {
		return false, fmt.Errorf("ensure rule %q: %w", in.Name, err)
	}
	return tag.RowsAffected() == 1, nil
}

// EnsureDefaultRule makes sure the system default rule exists.
func (r RuleRepo) EnsureDefaultRule(ctx context.Context) (bool, error) {
	return r.EnsureRule(ctx, DefaultRule())
}

// UpsertCustomer stores a customer by code and returns it with its id.
func (r RuleRepo) UpsertCustomer(ctx context.Context, code, name string) (pricing.Customer, error) {
	if r.DB == nil {
		return pricing.Customer{}, ErrStoreUnavailable
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return pricing.Customer{}, fmt.Errorf("%w: customer code is required", rule.ErrInvalid)
	}
	var id int64
	err := r.DB.QueryRow(ctx, `INSERT INTO customer (customer_code, customer_name) VALUES ($1, $2)
ON CONFLICT (customer_code) DO UPDATE SET customer_name = COALESCE(EXCLUDED.customer_name, customer.customer_name)
RETURNING id`, code, toText(strings.TrimSpace(name))).Scan(&id)
	if err != nil {
		return pricing.Customer{}, fmt.Errorf("upsert customer %q: %w", code, err)
	}
	return pricing.Customer{ID: id, Code: code}, nil
}

// CustomerByCode looks up a customer. Unknown codes return ErrNotFound.
func (r RuleRepo) CustomerByCode(ctx context.Context, code string) (pricing.Customer, error) {
	if r.DB == nil {
		return pricing.Customer{}, ErrStoreUnavailable
	}
	var c pricing.Customer
	err := r.DB.QueryRow(ctx, `SELECT id, customer_code FROM customer WHERE customer_code = $1`, strings.TrimSpace(code)).Scan(&c.ID, &c.Code)
	if err != nil {
		return pricing.Customer{}, notFound(err, fmt.Sprintf("customer %q", code))
	}
	return c, nil
}

// CreateCustomerRule stores a rule owned by customerID. The rule's customer code and
// validity dates are not part of the customer rule table and are ignored.
func (r RuleRepo) CreateCustomerRule(ctx context.Context, customerID int64, in rule.Rule) (rule.Rule, error) {
	if r.DB == nil {
		return rule.Rule{}, ErrStoreUnavailable
	}
	if err := in.Validate(); err != nil {
		return rule.Rule{}, err
	}
	var id int64
	err := r.DB.QueryRow(ctx, `INSERT INTO customer_pricing_rule
(customer_id, rule_name, condition_type, condition_value, pricing_method, pricing_value, execution_order, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (customer_id, rule_name) DO UPDATE SET
    condition_type = EXCLUDED.condition_type,
    condition_value = EXCLUDED.condition_value,
    pricing_method = EXCLUDED.pricing_method,
    pricing_value = EXCLUDED.pricing_value,
    execution_order = EXCLUDED.execution_order,
    is_active = EXCLUDED.is_active
RETURNING id`,
		customerID,
		strings.TrimSpace(in.Name),
		string(in.ConditionType),
		toText(strings.TrimSpace(in.ConditionValue)),
		string(in.Method),
		toNullNumeric(in.Value),
		int32(in.ExecutionOrder),
		in.Active,
	).Scan(&id)
	if err != nil {
		return rule.Rule{}, fmt.Errorf("insert customer rule %q: %w", in.Name, err)
	}
	in.Origin = rule.CustomerSpecific(id)
	in.CustomerCode = ""
	in.ValidFrom, in.ValidTo = nil, nil
	return in, nil
}

func globalRuleArgs(in rule.Rule) []any {
	return []any{
		strings.TrimSpace(in.Name),
		toText(strings.TrimSpace(in.CustomerCode)),
		string(in.ConditionType),
		toText(strings.TrimSpace(in.ConditionValue)),
		string(in.Method),
		toNullNumeric(in.Value),
		int32(in.ExecutionOrder),
		in.Active,
		toDate(in.ValidFrom),
		toDate(in.ValidTo),
	}
}
