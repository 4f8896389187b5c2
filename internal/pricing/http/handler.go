// Package http exposes the pricing engine as JSON endpoints.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/demand-pricing/internal/platform/httpx"
	"github.com/odyssey-erp/demand-pricing/internal/pricing"
)

// ReferenceData supplies the cached reference lists.
type ReferenceData interface {
	Catalog(ctx context.Context) (*pricing.CurrencyCatalog, error)
	OfficialRates(ctx context.Context, asOf time.Time) ([]pricing.ExchangeRate, error)
	DiscountLimits(ctx context.Context, salespersonID int64) ([]pricing.DiscountLimit, error)
}

// ApprovalRequester hands a demand with waiting lines to the approval workflow.
type ApprovalRequester interface {
	RequestApproval(ctx context.Context, demandID string, representativeID int64, waitingLines []int) error
}

// Metrics counts handler outcomes.
type Metrics interface {
	ApprovalRequired(lines int)
}

// Handler serves the pricing endpoints.
type Handler struct {
	logger    *slog.Logger
	session   *pricing.Session
	refdata   ReferenceData
	approvals ApprovalRequester
	metrics   Metrics
	validator *validator.Validate
	rateLimit func(http.Handler) http.Handler
	now       func() time.Time
}

// NewHandler constructs the pricing handler. approvals and metrics may be nil.
func NewHandler(logger *slog.Logger, session *pricing.Session, refdata ReferenceData, approvals ApprovalRequester, metrics Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		session:   session,
		refdata:   refdata,
		approvals: approvals,
		metrics:   metrics,
		validator: newValidator(),
		rateLimit: httprate.Limit(30, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
		now:       time.Now,
	}
}

// WithProductRateLimit sets the per-IP request budget per minute of the
// add-product endpoint.
func (h *Handler) WithProductRateLimit(requests int) *Handler {
	if requests > 0 {
		h.rateLimit = httprate.Limit(requests, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
	}
	return h
}

// MountRoutes registers the pricing endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/lines/calculate", h.CalculateLines)
	r.Post("/lines/reprice", h.RepriceLines)
	r.Post("/discount-limits/evaluate", h.EvaluateDiscountLimit)
	r.With(h.rateLimit).Post("/products", h.AddProduct)
	r.Get("/rates/{currency}", h.GetRate)
	r.Post("/demands/submit", h.SubmitDemand)
}

// CalculateLines recalculates derived amounts of every posted line.
func (h *Handler) CalculateLines(w http.ResponseWriter, r *http.Request) {
	var req CalculateLinesRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc := &pricing.Document{}
	doc.AppendLines(toLines(req.Lines, 0)...)
	httpx.JSON(w, http.StatusOK, LinesResponse{Lines: doc.Lines, Totals: doc.Totals()})
}

// RepriceLines converts line prices into another currency.
func (h *Handler) RepriceLines(w http.ResponseWriter, r *http.Request) {
	var req RepriceRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	catalog, err := h.refdata.Catalog(ctx)
	if err != nil {
		h.fail(w, "load currency catalog", err)
		return
	}
	fromID, err := resolveCurrency(catalog, req.FromCurrency)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	toID, err := resolveCurrency(catalog, req.ToCurrency)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	asOf := h.now()
	if req.AsOf != nil {
		asOf = *req.AsOf
	}
	official, err := h.refdata.OfficialRates(ctx, asOf)
	if err != nil {
		h.fail(w, "load official rates", err)
		return
	}

	lines, unconverted := pricing.RepriceDetailed(toLines(req.Lines, fromID), fromID, toID, toOverrides(req.ExchangeRates), official)
	if len(unconverted) > 0 {
		h.logger.Warn("reprice left lines unconverted",
			slog.Int("from", fromID), slog.Int("to", toID), slog.Int("lines", len(unconverted)))
	}
	httpx.JSON(w, http.StatusOK, RepriceResponse{CurrencyID: toID, Lines: lines, Unconverted: nonNil(unconverted)})
}

// EvaluateDiscountLimit returns the approval decision for one set of discount rates.
func (h *Handler) EvaluateDiscountLimit(w http.ResponseWriter, r *http.Request) {
	var req EvaluateLimitRequest
	if !h.decode(w, r, &req) {
		return
	}
	limits := make([]pricing.DiscountLimit, 0, len(req.Limits))
	for _, l := range req.Limits {
		limits = append(limits, pricing.DiscountLimit{
			GroupCode:     l.GroupCode,
			SalespersonID: req.SalespersonID,
			MaxDiscount1:  l.MaxDiscount1,
			MaxDiscount2:  l.MaxDiscount2,
			MaxDiscount3:  l.MaxDiscount3,
		})
	}
	if len(limits) == 0 && req.SalespersonID > 0 {
		stored, err := h.refdata.DiscountLimits(r.Context(), req.SalespersonID)
		if err != nil {
			h.fail(w, "load discount limits", err)
			return
		}
		limits = stored
	}
	decision := pricing.EvaluateDiscountLimit(req.GroupCode, req.DiscountRate1, req.DiscountRate2, req.DiscountRate3, limits)
	httpx.JSON(w, http.StatusOK, decision)
}

// AddProduct prices a product and its related products in the demand currency.
func (h *Handler) AddProduct(w http.ResponseWriter, r *http.Request) {
	var req AddProductRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	catalog, err := h.refdata.Catalog(ctx)
	if err != nil {
		h.fail(w, "load currency catalog", err)
		return
	}
	targetID, err := resolveCurrency(catalog, req.Currency)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	official, err := h.refdata.OfficialRates(ctx, h.now())
	if err != nil {
		h.fail(w, "load official rates", err)
		return
	}
	var limits []pricing.DiscountLimit
	if req.RepresentativeID > 0 {
		if limits, err = h.refdata.DiscountLimits(ctx, req.RepresentativeID); err != nil {
			h.fail(w, "load discount limits", err)
			return
		}
	}

	result := h.session.AddProduct(ctx, pricing.AddProductRequest{
		Main:              pricing.ProductRef{Code: req.ProductCode, Name: req.ProductName, GroupCode: req.GroupCode},
		RelatedProductIDs: req.RelatedProductIDs,
		TargetCurrencyID:  targetID,
		Rates:             pricing.RateBook{Overrides: toOverrides(req.ExchangeRates), Official: official},
		Catalog:           catalog,
		Quantity:          req.Quantity,
		VATRate:           req.VATRate,
	})

	resp := AddProductResponse{
		CurrencyID:        targetID,
		RelatedProductKey: result.RelatedProductKey,
		Lines:             make([]pricing.Line, 0, len(result.Items)),
		Failures:          []failureResponse{},
		Unconverted:       []int{},
	}
	for i, item := range result.Items {
		line := item.Line
		if len(limits) > 0 {
			line = pricing.ApplyDiscountLimit(line, limits)
		}
		resp.Lines = append(resp.Lines, line)
		if item.Failure != nil {
			resp.Failures = append(resp.Failures, failureResponse{
				Index:       item.Failure.Index,
				ProductCode: item.Failure.ProductCode,
				Stage:       item.Failure.Stage,
				Error:       item.Failure.Error(),
			})
		}
		if item.Unconverted {
			resp.Unconverted = append(resp.Unconverted, i)
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// GetRate returns the official rate of a currency reference.
func (h *Handler) GetRate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	asOf := h.now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: date must be YYYY-MM-DD", httpx.ErrValidation))
			return
		}
		asOf = parsed
	}
	catalog, err := h.refdata.Catalog(ctx)
	if err != nil {
		h.fail(w, "load currency catalog", err)
		return
	}
	id, err := resolveCurrency(catalog, chi.URLParam(r, "currency"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	official, err := h.refdata.OfficialRates(ctx, asOf)
	if err != nil {
		h.fail(w, "load official rates", err)
		return
	}
	for _, rate := range official {
		if rate.CurrencyID == id && rate.Rate.IsPositive() {
			httpx.JSON(w, http.StatusOK, rate)
			return
		}
	}
	httpx.RespondError(w, fmt.Errorf("%w: no official rate for currency %d", httpx.ErrNotFound, id))
}

// SubmitDemand re-evaluates every undecided line against the representative's
// limits and requests approval when any line is waiting. Lines already
// approved, rejected or closed keep their status. Demands with placeholder lines
// are rejected until the user prices them.
func (h *Handler) SubmitDemand(w http.ResponseWriter, r *http.Request) {
	var req SubmitDemandRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	limits, err := h.refdata.DiscountLimits(ctx, req.RepresentativeID)
	if err != nil {
		h.fail(w, "load discount limits", err)
		return
	}

	doc := &pricing.Document{RepresentativeID: req.RepresentativeID}
	for _, line := range toLines(req.Lines, 0) {
		doc.AppendLines(pricing.RefreshDiscountLimit(line, limits))
	}
	if placeholders := doc.Placeholders(); len(placeholders) > 0 {
		httpx.RespondError(w, fmt.Errorf("%w: lines %v have no price", httpx.ErrValidation, placeholders))
		return
	}

	resp := SubmitDemandResponse{
		DemandID:     req.DemandID,
		Lines:        doc.Lines,
		Totals:       doc.Totals(),
		WaitingLines: nonNil(doc.WaitingLines()),
		Placeholders: []int{},
	}
	if doc.RequiresApproval() {
		if h.metrics != nil {
			h.metrics.ApprovalRequired(len(resp.WaitingLines))
		}
		if h.approvals != nil {
			if err := h.approvals.RequestApproval(ctx, req.DemandID, req.RepresentativeID, resp.WaitingLines); err != nil {
				h.fail(w, "request approval", err)
				return
			}
			resp.ApprovalRequested = true
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := httpx.DecodeJSON(w, r, dest); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return false
	}
	if err := h.validator.Struct(dest); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			httpx.ValidationProblem(w, fieldErrors(fieldErrs))
			return false
		}
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error("pricing request failed", slog.String("op", op), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func resolveCurrency(catalog *pricing.CurrencyCatalog, raw string) (int, error) {
	ref, ok := pricing.ParseCurrencyRef(raw)
	if !ok {
		return 0, fmt.Errorf("%w: currency is required", httpx.ErrValidation)
	}
	id, err := catalog.Resolve(ref)
	if err != nil {
		if errors.Is(err, pricing.ErrCurrencyNotInCatalog) {
			return 0, fmt.Errorf("%w: %v", httpx.ErrNotFound, err)
		}
		return 0, fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	return id, nil
}

func fieldErrors(errs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(errs))
	for _, fe := range errs {
		path := fe.Namespace()
		if i := strings.IndexByte(path, '.'); i >= 0 {
			path = path[i+1:]
		}
		out[path] = fe.Tag()
	}
	return out
}

func nonNil(idx []int) []int {
	if idx == nil {
		return []int{}
	}
	return idx
}
