package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/rule"
)

// OutcomeRepo persists calculation outcomes and their applied rule trail.
type OutcomeRepo struct {
	DB TxDB
}

// SaveOutcome writes the outcome and its snapshots in one transaction.
func (r OutcomeRepo) SaveOutcome(ctx context.Context, outcome pricing.Outcome) error {
	if r.DB == nil {
		return ErrStoreUnavailable
	}
	if outcome.ID == uuid.Nil {
		outcome.ID = uuid.New()
	}
	res := outcome.Result
	warnings := res.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return pgx.BeginFunc(ctx, r.DB, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO pricing_outcome (id, customer_code, product_code, as_of, status, cost, final_price, description, warnings)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			outcome.ID,
			outcome.Key.CustomerCode,
			outcome.Key.ProductCode,
			pgtype.Date{Time: rule.DateOf(outcome.AsOf), Valid: true},
			res.Status(),
			toNumeric(res.Cost),
			toNumeric(res.FinalPrice),
			res.Description,
			warnings,
		)
		if err != nil {
			return fmt.Errorf("insert outcome %s: %w", outcome.ID, err)
		}

		batch := &pgx.Batch{}
		for _, s := range outcome.Snapshots {
			batch.Queue(`INSERT INTO pricing_applied_rule
(outcome_id, rule_id, customer_rule_id, rule_name, pricing_method, pricing_value, application_order, input_price, output_price)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, snapshotArgs(outcome.ID, s)...)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert applied rules for %s: %w", outcome.ID, err)
		}
		return nil
	})
}

// snapshotArgs maps a snapshot to its row. Only the origin's own table id is set.
func snapshotArgs(outcomeID uuid.UUID, s pricing.Snapshot) []any {
	return []any{
		outcomeID,
		toInt8(s.Origin.GlobalID()),
		toInt8(s.Origin.CustomerRuleID()),
		s.RuleName,
		string(s.Method),
		toNullNumeric(s.Value),
		int32(s.ApplicationOrder),
		toNumeric(s.InputPrice),
		toNumeric(s.OutputPrice),
	}
}

func scanSnapshot(row pgx.CollectableRow) (pricing.Snapshot, error) {
	var (
		s                    pricing.Snapshot
		ruleID, customerID   pgtype.Int8
		method               string
		value, input, output pgtype.Numeric
		order                int32
	)
	if err := row.Scan(&ruleID, &customerID, &s.RuleName, &method, &value, &order, &input, &output); err != nil {
		return pricing.Snapshot{}, err
	}
	switch {
	case customerID.Valid:
		s.Origin = rule.CustomerSpecific(customerID.Int64)
	case ruleID.Valid:
		s.Origin = rule.Global(ruleID.Int64)
	default:
		s.Origin = rule.Origin{Kind: rule.OriginGlobal}
	}
	s.Method = rule.Method(method)
	s.Value = fromNumeric(value)
	s.ApplicationOrder = int(order)
	s.InputPrice = fromNumeric(input).Decimal
	s.OutputPrice = fromNumeric(output).Decimal
	return s, nil
}

// Trail returns the applied rules of an outcome in application order.
// An unknown outcome returns ErrNotFound; an outcome with no applied rules returns an empty trail.
func (r OutcomeRepo) Trail(ctx context.Context, outcomeID uuid.UUID) ([]pricing.Snapshot, error) {
	if r.DB == nil {
		return nil, ErrStoreUnavailable
	}
	var exists bool
	if err := r.DB.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pricing_outcome WHERE id = $1)`, outcomeID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("lookup outcome %s: %w", outcomeID, err)
	}
	if !exists {
		return nil, fmt.Errorf("outcome %s: %w", outcomeID, ErrNotFound)
	}
	rows, err := r.DB.Query(ctx, `SELECT rule_id, customer_rule_id, rule_name, pricing_method, pricing_value, application_order, input_price, output_price
FROM pricing_applied_rule WHERE outcome_id = $1 ORDER BY application_order`, outcomeID)
	if err != nil {
		return nil, fmt.Errorf("query trail %s: %w", outcomeID, err)
	}
	trail, err := pgx.CollectRows(rows, scanSnapshot)
	if err != nil {
		return nil, fmt.Errorf("scan trail %s: %w", outcomeID, err)
	}
	return trail, nil
}
