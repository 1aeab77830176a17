package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/rule"
)

// RulePack is a YAML fixture of rules, customers, products and aggregates.
type RulePack struct {
	Rules      []rule.Rule
	Customers  []PackCustomer
	Products   []pricing.Product
	Aggregates []pricing.SalesAggregate
}

// PackCustomer is a customer with its own rule set.
type PackCustomer struct {
	Code  string
	Name  string
	Rules []rule.Rule
}

type packFile struct {
	Rules     []packRule `yaml:"rules"`
	Customers []struct {
		Code  string     `yaml:"code"`
		Name  string     `yaml:"name"`
		Rules []packRule `yaml:"rules"`
	} `yaml:"customers"`
	Products []struct {
		Code         string `yaml:"code"`
		Description  string `yaml:"description"`
		Category     string `yaml:"category"`
		StandardCost string `yaml:"standard_cost"`
	} `yaml:"products"`
	Aggregates []struct {
		Customer        string `yaml:"customer"`
		Product         string `yaml:"product"`
		Category        string `yaml:"category"`
		IncomingCost    string `yaml:"incoming_cost"`
		LastAmount      string `yaml:"last_amount"`
		LastGrossProfit string `yaml:"last_gross_profit"`
	} `yaml:"aggregates"`
}

type packRule struct {
	Name           string `yaml:"name"`
	CustomerCode   string `yaml:"customer_code"`
	ConditionType  string `yaml:"condition_type"`
	ConditionValue string `yaml:"condition_value"`
	Method         string `yaml:"method"`
	Value          string `yaml:"value"`
	ExecutionOrder int    `yaml:"execution_order"`
	Active         *bool  `yaml:"active"`
	ValidFrom      string `yaml:"valid_from"`
	ValidTo        string `yaml:"valid_to"`
}

func (p packRule) toRule() (rule.Rule, error) {
	r := rule.Rule{
		Name:           strings.TrimSpace(p.Name),
		CustomerCode:   strings.TrimSpace(p.CustomerCode),
		ConditionType:  rule.ConditionType(strings.ToUpper(strings.TrimSpace(p.ConditionType))),
		ConditionValue: strings.TrimSpace(p.ConditionValue),
		Method:         rule.Method(strings.ToUpper(strings.TrimSpace(p.Method))),
		ExecutionOrder: p.ExecutionOrder,
		Active:         p.Active == nil || *p.Active,
	}
	var err error
	if r.Value, err = parseNullDecimal(p.Value); err != nil {
		return rule.Rule{}, fmt.Errorf("rule %q value: %w", r.Name, err)
	}
	if r.ValidFrom, err = parseDate(p.ValidFrom); err != nil {
		return rule.Rule{}, fmt.Errorf("rule %q valid_from: %w", r.Name, err)
	}
	if r.ValidTo, err = parseDate(p.ValidTo); err != nil {
		return rule.Rule{}, fmt.Errorf("rule %q valid_to: %w", r.Name, err)
	}
	if err := r.Validate(); err != nil {
		return rule.Rule{}, err
	}
	return r, nil
}

// LoadRulePack reads and validates a rule pack file.
func LoadRulePack(path string) (*RulePack, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rule pack: %w", err)
	}
	defer f.Close()
	return ParseRulePack(f)
}

// ParseRulePack decodes a rule pack. Every rule is validated; the first invalid entry fails the pack.
func ParseRulePack(r io.Reader) (*RulePack, error) {
	var file packFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode rule pack: %w", err)
	}

	pack := &RulePack{}
	for _, pr := range file.Rules {
		r, err := pr.toRule()
		if err != nil {
			return nil, err
		}
		pack.Rules = append(pack.Rules, r)
	}
	for _, pc := range file.Customers {
		c := PackCustomer{Code: strings.TrimSpace(pc.Code), Name: strings.TrimSpace(pc.Name)}
		if c.Code == "" {
			return nil, fmt.Errorf("%w: customer code is required", rule.ErrInvalid)
		}
		for _, pr := range pc.Rules {
			r, err := pr.toRule()
			if err != nil {
				return nil, fmt.Errorf("customer %s: %w", c.Code, err)
			}
			c.Rules = append(c.Rules, r)
		}
		pack.Customers = append(pack.Customers, c)
	}
	for _, pp := range file.Products {
		cost, err := parseNullDecimal(pp.StandardCost)
		if err != nil {
			return nil, fmt.Errorf("product %s standard_cost: %w", pp.Code, err)
		}
		pack.Products = append(pack.Products, pricing.Product{
			Code:         strings.TrimSpace(pp.Code),
			Description:  strings.TrimSpace(pp.Description),
			Category:     strings.TrimSpace(pp.Category),
			StandardCost: cost,
		})
	}
	for _, pa := range file.Aggregates {
		agg := pricing.SalesAggregate{
			CustomerCode: strings.TrimSpace(pa.Customer),
			ProductCode:  strings.TrimSpace(pa.Product),
			Category:     strings.TrimSpace(pa.Category),
		}
		var err error
		if agg.IncomingCost, err = parseNullDecimal(pa.IncomingCost); err != nil {
			return nil, fmt.Errorf("aggregate %s/%s incoming_cost: %w", pa.Customer, pa.Product, err)
		}
		if agg.LastAmount, err = parseNullDecimal(pa.LastAmount); err != nil {
			return nil, fmt.Errorf("aggregate %s/%s last_amount: %w", pa.Customer, pa.Product, err)
		}
		if agg.LastGrossProfit, err = parseNullDecimal(pa.LastGrossProfit); err != nil {
			return nil, fmt.Errorf("aggregate %s/%s last_gross_profit: %w", pa.Customer, pa.Product, err)
		}
		agg.Key = agg.AggregateKey()
		pack.Aggregates = append(pack.Aggregates, agg)
	}
	return pack, nil
}

// MemoryRules exposes the pack as an in-memory rule store. Customers are numbered
// from 1 in pack order; Customers returns the matching lookup.
func (p *RulePack) MemoryRules() *pricing.MemoryRules {
	m := &pricing.MemoryRules{Customer: make(map[int64][]rule.Rule, len(p.Customers))}
	for i, r := range p.Rules {
		r.Origin = rule.Global(int64(i + 1))
		m.Global = append(m.Global, r)
	}
	var next int64
	for i, c := range p.Customers {
		id := int64(i + 1)
		for _, r := range c.Rules {
			next++
			r.Origin = rule.CustomerSpecific(next)
			m.Customer[id] = append(m.Customer[id], r)
		}
	}
	return m
}

// CustomerIndex maps customer codes to the ids MemoryRules assigns.
func (p *RulePack) CustomerIndex() map[string]pricing.Customer {
	out := make(map[string]pricing.Customer, len(p.Customers))
	for i, c := range p.Customers {
		out[c.Code] = pricing.Customer{ID: int64(i + 1), Code: c.Code}
	}
	return out
}

// SeedSummary counts rows written by Seed.
type SeedSummary struct {
	Rules         int
	Customers     int
	CustomerRules int
	Products      int
	Aggregates    int
	DefaultRule   bool
}

// Seed writes the pack to the database. Global rules that already exist by name are left untouched.
func (p *RulePack) Seed(ctx context.Context, rules RuleRepo, aggs AggregateRepo) (SeedSummary, error) {
	var sum SeedSummary
	for _, r := range p.Rules {
		created, err := rules.EnsureRule(ctx, r)
		if err != nil {
			return sum, err
		}
		if created {
			sum.Rules++
		}
	}
	for _, c := range p.Customers {
		customer, err := rules.UpsertCustomer(ctx, c.Code, c.Name)
		if err != nil {
			return sum, err
		}
		sum.Customers++
		for _, r := range c.Rules {
			if _, err := rules.CreateCustomerRule(ctx, customer.ID, r); err != nil {
				return sum, err
			}
			sum.CustomerRules++
		}
	}
	for _, prod := range p.Products {
		if err := aggs.UpsertProduct(ctx, prod); err != nil {
			return sum, err
		}
		sum.Products++
	}
	for _, agg := range p.Aggregates {
		if err := aggs.UpsertAggregate(ctx, agg); err != nil {
			return sum, err
		}
		sum.Aggregates++
	}
	created, err := rules.EnsureDefaultRule(ctx)
	if err != nil {
		return sum, err
	}
	sum.DefaultRule = created
	return sum, nil
}

func parseNullDecimal(s string) (decimal.NullDecimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
