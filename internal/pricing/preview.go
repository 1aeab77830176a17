package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pricing/internal/rule"
)

var previewDefaultGP = decimal.RequireFromString("0.25")

// Product is the catalogue view a rule preview is run against.
type Product struct {
	Code         string
	Description  string
	Category     string
	StandardCost decimal.NullDecimal
}

// PricePreview is the single-rule price of one product.
type PricePreview struct {
	ProductCode string
	Description string
	Cost        decimal.Decimal
	Price       decimal.Decimal
}

// RulePreview summarises which products an unsaved rule would touch.
// AllProducts previews carry the count only.
type RulePreview struct {
	MatchCount  int
	AllProducts bool
	Previews    []PricePreview
}

// PreviewRule evaluates r on its own against products. Previews have no sales history,
// so MAINTAIN_GP_PERCENT treats its value as the margin to hold.
func PreviewRule(r rule.Rule, products []Product) (RulePreview, error) {
	if err := r.Validate(); err != nil {
		return RulePreview{}, err
	}
	if r.ConditionType == rule.AllProducts {
		return RulePreview{MatchCount: len(products), AllProducts: true}, nil
	}

	out := RulePreview{Previews: []PricePreview{}}
	for _, p := range products {
		if !Matches(r, SalesAggregate{ProductCode: p.Code, Category: p.Category, CustomerCode: r.CustomerCode}) {
			continue
		}
		cost := decimal.Zero
		if p.StandardCost.Valid {
			cost = p.StandardCost.Decimal
		}
		out.Previews = append(out.Previews, PricePreview{
			ProductCode: p.Code,
			Description: p.Description,
			Cost:        cost,
			Price:       previewPrice(r, cost),
		})
	}
	out.MatchCount = len(out.Previews)
	return out, nil
}

func previewPrice(r rule.Rule, cost decimal.Decimal) decimal.Decimal {
	value := r.Value.Decimal
	switch r.Method {
	case rule.CostPlusPercent:
		return cost.Mul(value).Round(Scale)
	case rule.CostPlusFixed:
		return cost.Add(value).Round(Scale)
	case rule.FixedPrice:
		return value.Round(Scale)
	case rule.MaintainGPPercent:
		gp := value
		if !r.Value.Valid || gp.GreaterThanOrEqual(one) {
			gp = previewDefaultGP
		}
		price, _ := PriceForMargin(cost, gp)
		return price
	case rule.TargetGPPercent:
		if price, ok := PriceForMargin(cost, value); ok {
			return price
		}
	}
	return cost
}
