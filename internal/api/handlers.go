package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pricing/internal/batch"
	"github.com/noah-isme/backend-pricing/internal/common"
	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/resilience"
	"github.com/noah-isme/backend-pricing/internal/rule"
	"github.com/noah-isme/backend-pricing/internal/store"
)

const maxBodyBytes = 4 << 20

var (
	nopLogger       = zerolog.Nop()
	defaultValidate = validator.New(validator.WithRequiredStructEnabled())
)

// BatchEnqueuer submits recalculation work; *batch.Enqueuer satisfies it.
type BatchEnqueuer interface {
	Enqueue(ctx context.Context, payload batch.RecalculatePayload) (string, error)
}

// BatchStatusReader reports on queued recalculations; batch.StatusReader satisfies it.
type BatchStatusReader interface {
	Status(ctx context.Context, id string) (batch.Status, error)
}

// TrailReader loads the persisted snapshots of an outcome.
type TrailReader interface {
	Trail(ctx context.Context, outcomeID uuid.UUID) ([]pricing.Snapshot, error)
}

// ProductSource lists the catalogue a rule preview runs against.
type ProductSource interface {
	Products(ctx context.Context) ([]pricing.Product, error)
}

// RuleLister lists the shared rule table.
type RuleLister interface {
	ListGlobalRules(ctx context.Context) ([]rule.Rule, error)
}

// Handler exposes the pricing HTTP endpoints. Unset dependencies disable the
// endpoints that need them.
type Handler struct {
	Calculator batch.Calculator
	Customers  batch.CustomerLookup
	Batches    BatchEnqueuer
	BatchState BatchStatusReader
	Trails     TrailReader
	Products   ProductSource
	Rules      RuleLister
	Validate   *validator.Validate
	Logger     *zerolog.Logger
	Now        func() time.Time
}

// Calculate prices one aggregate without persisting the outcome.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	if h.Calculator == nil {
		common.JSONError(w, common.CodeInternal, "calculator not configured", nil)
		return
	}
	var req calculateRequest
	if !h.decode(w, r, &req) {
		return
	}
	asOf, err := parseDate("as_of", req.AsOf)
	if err != nil {
		h.writeError(w, r, common.NewAppError(common.CodeValidation, err.Error(), err))
		return
	}
	agg := req.Aggregate.toAggregate()

	customer, err := h.customer(r.Context(), agg.CustomerCode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var day time.Time
	if asOf != nil {
		day = *asOf
	}
	outcome, err := h.Calculator.Calculate(r.Context(), agg, day, customer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, toCalculationResponse(outcome))
}

// PreviewRule shows what an unsaved rule would do to the catalogue.
func (h *Handler) PreviewRule(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	req.Rule.normalise()
	if !h.validate(w, r, &req) {
		return
	}
	candidate, err := req.Rule.toRule()
	if err != nil {
		h.writeError(w, r, common.NewAppError(common.CodeValidation, err.Error(), err))
		return
	}

	var products []pricing.Product
	if req.Products != nil {
		products = make([]pricing.Product, 0, len(req.Products))
		for _, p := range req.Products {
			products = append(products, pricing.Product{
				Code:         strings.TrimSpace(p.Code),
				Description:  p.Description,
				Category:     strings.TrimSpace(p.Category),
				StandardCost: p.StandardCost,
			})
		}
	} else {
		if h.Products == nil {
			common.JSONError(w, common.CodeBadRequest, "products are required", nil)
			return
		}
		if products, err = h.Products.Products(r.Context()); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	preview, err := pricing.PreviewRule(candidate, products)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := rulePreviewResponse{
		Description: candidate.Describe(h.now()),
		MatchCount:  preview.MatchCount,
		AllProducts: preview.AllProducts,
		Previews:    make([]pricePreviewResponse, 0, len(preview.Previews)),
	}
	for _, p := range preview.Previews {
		resp.Previews = append(resp.Previews, pricePreviewResponse{
			ProductCode: p.ProductCode,
			Description: p.Description,
			Cost:        p.Cost,
			Price:       p.Price,
		})
	}
	common.Data(w, http.StatusOK, resp)
}

// ListRules returns the shared rule table in execution order, one page at a time.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if h.Rules == nil {
		common.JSONError(w, common.CodeInternal, "rule store not configured", nil)
		return
	}
	rules, err := h.Rules.ListGlobalRules(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	page := common.ParsePagination(r, 50)
	lo, hi := page.Window(len(rules))

	now := h.now()
	items := make([]ruleResponse, 0, hi-lo)
	for _, rl := range rules[lo:hi] {
		items = append(items, toRuleResponse(rl, now))
	}
	common.Page(w, items, page)
}

// EnqueueBatch queues a recalculation of the selected aggregates.
func (h *Handler) EnqueueBatch(w http.ResponseWriter, r *http.Request) {
	if h.Batches == nil {
		common.JSONError(w, common.CodeInternal, "task queue not configured", nil)
		return
	}
	var req batchRequest
	if !h.decode(w, r, &req) {
		return
	}
	payload := req.toPayload()
	taskID, err := h.Batches.Enqueue(r.Context(), payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger().Info().
		Str("task_id", taskID).
		Str("customer_code", payload.CustomerCode).
		Str("product_code", payload.ProductCode).
		Msg("recalculation queued")
	common.Data(w, http.StatusAccepted, map[string]string{"task_id": taskID, "task_type": batch.TaskRecalculate})
}

// BatchStatus reports the state of a queued recalculation.
func (h *Handler) BatchStatus(w http.ResponseWriter, r *http.Request) {
	if h.BatchState == nil {
		common.JSONError(w, common.CodeInternal, "task inspector not configured", nil)
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		common.JSONError(w, common.CodeBadRequest, "task id is required", nil)
		return
	}
	st, err := h.BatchState.Status(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, toBatchStatusResponse(st))
}

// Trail returns the audit snapshots persisted for an outcome.
func (h *Handler) Trail(w http.ResponseWriter, r *http.Request) {
	if h.Trails == nil {
		common.JSONError(w, common.CodeInternal, "outcome store not configured", nil)
		return
	}
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		common.JSONError(w, common.CodeBadRequest, "invalid outcome id", nil)
		return
	}
	snaps, err := h.Trails.Trail(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.Data(w, http.StatusOK, map[string]any{"outcome_id": id.String(), "snapshots": toSnapshotResponses(snaps)})
}

func (h *Handler) customer(ctx context.Context, code string) (*pricing.Customer, error) {
	if h.Customers == nil || code == "" {
		return nil, nil
	}
	c, err := h.Customers.CustomerByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := h.readJSON(w, r, dst); err != nil {
		h.writeError(w, r, err)
		return false
	}
	return h.validate(w, r, dst)
}

func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return common.NewAppError(common.CodeBadRequest, "invalid payload", err)
	}
	return nil
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := h.validator().Struct(v); err != nil {
		var verrs validator.ValidationErrors
		details := []string{}
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details = append(details, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
		}
		h.writeError(w, r, common.NewAppError(common.CodeValidation, "request validation failed", err).WithDetails(details))
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var app *common.AppError
	switch {
	case errors.As(err, &app):
		common.WriteAppError(w, app)
	case errors.Is(err, rule.ErrInvalid):
		common.JSONError(w, common.CodeInvalidRule, err.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		common.JSONError(w, common.CodeNotFound, "resource not found", nil)
	case errors.Is(err, resilience.ErrOpenCircuit):
		w.Header().Set("Retry-After", "30")
		common.JSONError(w, common.CodeUnavailable, "task queue unavailable", nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		common.JSONError(w, common.CodeUnavailable, "request cancelled", nil)
	default:
		h.logger().Error().Err(err).Str("path", r.URL.Path).Msg("pricing request failed")
		common.JSONError(w, common.CodeInternal, "internal error", nil)
	}
}

func (h *Handler) validator() *validator.Validate {
	if h.Validate == nil {
		return defaultValidate
	}
	return h.Validate
}

func (h *Handler) logger() *zerolog.Logger {
	if h.Logger == nil {
		return &nopLogger
	}
	return h.Logger
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}
