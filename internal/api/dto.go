package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pricing/internal/batch"
	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/rule"
)

type aggregatePayload struct {
	CustomerCode    string              `json:"customer_code" validate:"required,max=64"`
	ProductCode     string              `json:"product_code" validate:"required,max=64"`
	Category        string              `json:"category" validate:"max=64"`
	IncomingCost    decimal.NullDecimal `json:"incoming_cost"`
	LastAmount      decimal.NullDecimal `json:"last_amount"`
	LastGrossProfit decimal.NullDecimal `json:"last_gross_profit"`
}

func (p aggregatePayload) toAggregate() pricing.SalesAggregate {
	return pricing.SalesAggregate{
		CustomerCode:    strings.TrimSpace(p.CustomerCode),
		ProductCode:     strings.TrimSpace(p.ProductCode),
		Category:        strings.TrimSpace(p.Category),
		IncomingCost:    p.IncomingCost,
		LastAmount:      p.LastAmount,
		LastGrossProfit: p.LastGrossProfit,
	}
}

type calculateRequest struct {
	Aggregate aggregatePayload `json:"aggregate" validate:"required"`
	AsOf      string           `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
}

type rulePayload struct {
	Name           string              `json:"name" validate:"required,max=200"`
	CustomerCode   string              `json:"customer_code" validate:"max=64"`
	ConditionType  string              `json:"condition_type" validate:"required,oneof=ALL_PRODUCTS CATEGORY PRODUCT_CODE"`
	ConditionValue string              `json:"condition_value" validate:"required_unless=ConditionType ALL_PRODUCTS,max=200"`
	Method         string              `json:"method" validate:"required,oneof=COST_PLUS_PERCENT COST_PLUS_FIXED FIXED_PRICE MAINTAIN_GP_PERCENT TARGET_GP_PERCENT"`
	Value          decimal.NullDecimal `json:"value"`
	ExecutionOrder int                 `json:"execution_order"`
	ValidFrom      string              `json:"valid_from" validate:"omitempty,datetime=2006-01-02"`
	ValidTo        string              `json:"valid_to" validate:"omitempty,datetime=2006-01-02"`
}

func (p *rulePayload) normalise() {
	p.Name = strings.TrimSpace(p.Name)
	p.ConditionType = strings.ToUpper(strings.TrimSpace(p.ConditionType))
	p.ConditionValue = strings.TrimSpace(p.ConditionValue)
	p.Method = strings.ToUpper(strings.TrimSpace(p.Method))
}

func (p rulePayload) toRule() (rule.Rule, error) {
	r := rule.Rule{
		Origin:         rule.Global(0),
		Name:           p.Name,
		CustomerCode:   strings.TrimSpace(p.CustomerCode),
		ConditionType:  rule.ConditionType(p.ConditionType),
		ConditionValue: p.ConditionValue,
		Method:         rule.Method(p.Method),
		Value:          p.Value,
		ExecutionOrder: p.ExecutionOrder,
		Active:         true,
	}
	var err error
	if r.ValidFrom, err = parseDate("valid_from", p.ValidFrom); err != nil {
		return rule.Rule{}, err
	}
	if r.ValidTo, err = parseDate("valid_to", p.ValidTo); err != nil {
		return rule.Rule{}, err
	}
	if r.CustomerCode != "" {
		r.Origin = rule.CustomerSpecific(0)
	}
	return r, nil
}

type productPayload struct {
	Code         string              `json:"code" validate:"required,max=64"`
	Description  string              `json:"description" validate:"max=200"`
	Category     string              `json:"category" validate:"max=64"`
	StandardCost decimal.NullDecimal `json:"standard_cost"`
}

type previewRequest struct {
	Rule rulePayload `json:"rule" validate:"required"`
	// Products defaults to the stored catalogue when omitted.
	Products []productPayload `json:"products" validate:"omitempty,max=5000,dive"`
}

type batchRequest struct {
	CustomerCode string `json:"customer_code" validate:"max=64"`
	ProductCode  string `json:"product_code" validate:"max=64"`
	AsOf         string `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
	Limit        int    `json:"limit" validate:"gte=0,lte=1000000"`
}

func (b batchRequest) toPayload() batch.RecalculatePayload {
	return batch.RecalculatePayload{
		CustomerCode: strings.TrimSpace(b.CustomerCode),
		ProductCode:  strings.TrimSpace(b.ProductCode),
		AsOf:         strings.TrimSpace(b.AsOf),
		Limit:        b.Limit,
	}
}

type appliedRuleResponse struct {
	Name   string `json:"name"`
	Origin string `json:"origin"`
	Method string `json:"method"`
	Label  string `json:"label"`
}

type diagnosticResponse struct {
	Rule    string `json:"rule"`
	Origin  string `json:"origin"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
	Skipped bool   `json:"skipped"`
}

type snapshotResponse struct {
	ApplicationOrder int                 `json:"application_order"`
	RuleName         string              `json:"rule_name"`
	Origin           string              `json:"origin"`
	Method           string              `json:"method"`
	Value            decimal.NullDecimal `json:"value"`
	InputPrice       decimal.Decimal     `json:"input_price"`
	OutputPrice      decimal.Decimal     `json:"output_price"`
}

type calculationResponse struct {
	OutcomeID    string                `json:"outcome_id"`
	CustomerCode string                `json:"customer_code"`
	ProductCode  string                `json:"product_code"`
	AsOf         string                `json:"as_of"`
	Status       string                `json:"status"`
	Cost         decimal.Decimal       `json:"cost"`
	FinalPrice   decimal.Decimal       `json:"final_price"`
	Intermediate []decimal.Decimal     `json:"intermediate"`
	Description  string                `json:"description"`
	Warnings     []string              `json:"warnings"`
	AppliedRules []appliedRuleResponse `json:"applied_rules"`
	Diagnostics  []diagnosticResponse  `json:"diagnostics"`
	Snapshots    []snapshotResponse    `json:"snapshots"`
}

func toCalculationResponse(o pricing.Outcome) calculationResponse {
	res := o.Result
	out := calculationResponse{
		OutcomeID:    o.ID.String(),
		CustomerCode: o.Key.CustomerCode,
		ProductCode:  o.Key.ProductCode,
		AsOf:         o.AsOf.Format(time.DateOnly),
		Status:       res.Status(),
		Cost:         res.Cost,
		FinalPrice:   res.FinalPrice,
		Intermediate: res.Intermediate,
		Description:  res.Description,
		Warnings:     res.Warnings,
		AppliedRules: make([]appliedRuleResponse, 0, len(res.AppliedRules)),
		Diagnostics:  make([]diagnosticResponse, 0, len(res.Diagnostics)),
		Snapshots:    toSnapshotResponses(o.Snapshots),
	}
	if out.Warnings == nil {
		out.Warnings = []string{}
	}
	for _, r := range res.AppliedRules {
		out.AppliedRules = append(out.AppliedRules, appliedRuleResponse{
			Name:   r.Name,
			Origin: r.Origin.String(),
			Method: string(r.Method),
			Label:  r.MethodLabel(),
		})
	}
	for _, d := range res.Diagnostics {
		out.Diagnostics = append(out.Diagnostics, diagnosticResponse{
			Rule:    d.Rule,
			Origin:  d.Origin.String(),
			Reason:  string(d.Reason),
			Message: d.Message,
			Skipped: d.Skipped,
		})
	}
	return out
}

func toSnapshotResponses(snaps []pricing.Snapshot) []snapshotResponse {
	out := make([]snapshotResponse, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, snapshotResponse{
			ApplicationOrder: s.ApplicationOrder,
			RuleName:         s.RuleName,
			Origin:           s.Origin.String(),
			Method:           string(s.Method),
			Value:            s.Value,
			InputPrice:       s.InputPrice,
			OutputPrice:      s.OutputPrice,
		})
	}
	return out
}

type pricePreviewResponse struct {
	ProductCode string          `json:"product_code"`
	Description string          `json:"description"`
	Cost        decimal.Decimal `json:"cost"`
	Price       decimal.Decimal `json:"price"`
}

type rulePreviewResponse struct {
	Description string                 `json:"description"`
	MatchCount  int                    `json:"match_count"`
	AllProducts bool                   `json:"all_products"`
	Previews    []pricePreviewResponse `json:"previews"`
}

type ruleResponse struct {
	ID             int64               `json:"id"`
	Name           string              `json:"name"`
	ConditionType  string              `json:"condition_type"`
	ConditionValue string              `json:"condition_value,omitempty"`
	Method         string              `json:"method"`
	Value          decimal.NullDecimal `json:"value"`
	ExecutionOrder int                 `json:"execution_order"`
	Active         bool                `json:"active"`
	ValidFrom      *string             `json:"valid_from"`
	ValidTo        *string             `json:"valid_to"`
	Description    string              `json:"description"`
}

func toRuleResponse(r rule.Rule, asOf time.Time) ruleResponse {
	id, _ := r.Origin.GlobalID()
	return ruleResponse{
		ID:             id,
		Name:           r.Name,
		ConditionType:  string(r.ConditionType),
		ConditionValue: r.ConditionValue,
		Method:         string(r.Method),
		Value:          r.Value,
		ExecutionOrder: r.ExecutionOrder,
		Active:         r.Active,
		ValidFrom:      formatDate(r.ValidFrom),
		ValidTo:        formatDate(r.ValidTo),
		Description:    r.Describe(asOf),
	}
}

func parseDate(field, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return &t, nil
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.DateOnly)
	return &s
}

type batchStatusResponse struct {
	TaskID      string               `json:"task_id"`
	Queue       string               `json:"queue"`
	State       string               `json:"state"`
	Retried     int                  `json:"retried"`
	MaxRetry    int                  `json:"max_retry"`
	LastError   string               `json:"last_error,omitempty"`
	CompletedAt *time.Time           `json:"completed_at"`
	Summary     *batch.SummaryResult `json:"summary"`
}

func toBatchStatusResponse(st batch.Status) batchStatusResponse {
	return batchStatusResponse{
		TaskID:      st.TaskID,
		Queue:       st.Queue,
		State:       st.State,
		Retried:     st.Retried,
		MaxRetry:    st.MaxRetry,
		LastError:   st.LastError,
		CompletedAt: st.CompletedAt,
		Summary:     st.Result,
	}
}
