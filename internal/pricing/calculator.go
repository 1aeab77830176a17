package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/backend-pricing/internal/obs"
	"github.com/noah-isme/backend-pricing/internal/rule"
)

// Calculator loads candidate rules and runs the engine for one aggregate at a time.
// It is safe for concurrent use.
type Calculator struct {
	Source Source
	Engine Engine
	Logger *zerolog.Logger
	Now    func() time.Time
}

// Calculate prices agg as of asOf. A zero asOf means today. customer may be nil,
// in which case only global rules are considered.
func (c *Calculator) Calculate(ctx context.Context, agg SalesAggregate, asOf time.Time, customer *Customer) (Outcome, error) {
	if c == nil {
		return Outcome{}, errors.New("pricing calculator not configured")
	}
	ctx, span := otel.Tracer("pricing.Calculator").Start(ctx, "Calculator.Calculate")
	defer span.End()

	if asOf.IsZero() {
		asOf = c.now()
	}
	asOf = rule.DateOf(asOf)
	key := agg.AggregateKey()
	span.SetAttributes(
		attribute.String("pricing.customer", key.CustomerCode),
		attribute.String("pricing.product", key.ProductCode),
		attribute.String("pricing.as_of", asOf.Format(time.DateOnly)),
	)

	outcome := Outcome{ID: uuid.New(), Key: key, AsOf: asOf}

	engine := c.Engine
	if engine.Logger == nil {
		engine.Logger = c.Logger
	}

	var matched []rule.Rule
	if agg.IncomingCost.Valid {
		candidates, err := c.Source.Candidates(ctx, customer, asOf)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "load rules")
			record("error", Result{})
			return Outcome{}, err
		}
		matched = Match(candidates, agg)
	}
	outcome.Result, outcome.Snapshots = engine.Run(agg, matched)

	status := outcome.Result.Status()
	span.SetAttributes(
		attribute.String("pricing.result", status),
		attribute.Int("pricing.rules_matched", len(matched)),
		attribute.Int("pricing.rules_applied", len(outcome.Snapshots)),
		attribute.String("pricing.final_price", outcome.Result.FinalPrice.String()),
	)
	record(status, outcome.Result)
	return outcome, nil
}

func (c *Calculator) now() time.Time {
	if c != nil && c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func record(status string, res Result) {
	if obs.PricingCalculationsTotal != nil {
		obs.PricingCalculationsTotal.WithLabelValues(status).Inc()
	}
	if obs.PricingRuleApplicationsTotal != nil {
		for _, r := range res.AppliedRules {
			obs.PricingRuleApplicationsTotal.WithLabelValues(string(r.Method)).Inc()
		}
	}
	if obs.PricingRuleSkipsTotal != nil {
		for _, d := range res.Diagnostics {
			obs.PricingRuleSkipsTotal.WithLabelValues(string(d.Reason)).Inc()
		}
	}
}
