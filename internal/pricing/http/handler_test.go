package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/demand-pricing/internal/platform/httpx"
	"github.com/odyssey-erp/demand-pricing/internal/pricing"
)

type stubRefdata struct {
	currencies []pricing.Currency
	rates      []pricing.ExchangeRate
	limits     []pricing.DiscountLimit
	err        error
	limitCalls int
}

func (s *stubRefdata) Catalog(ctx context.Context) (*pricing.CurrencyCatalog, error) {
	if s.err != nil {
		return nil, s.err
	}
	return pricing.NewCurrencyCatalog(s.currencies), nil
}

func (s *stubRefdata) OfficialRates(ctx context.Context, asOf time.Time) ([]pricing.ExchangeRate, error) {
	return s.rates, s.err
}

func (s *stubRefdata) DiscountLimits(ctx context.Context, salespersonID int64) ([]pricing.DiscountLimit, error) {
	s.limitCalls++
	return s.limits, s.err
}

type stubApprovals struct {
	demandID string
	waiting  []int
	err      error
}

func (s *stubApprovals) RequestApproval(ctx context.Context, demandID string, representativeID int64, waiting []int) error {
	s.demandID = demandID
	s.waiting = waiting
	return s.err
}

type stubPrices map[string]pricing.PriceQuote

func (s stubPrices) GetPrices(ctx context.Context, reqs []pricing.PriceRequest) ([]pricing.PriceQuote, error) {
	var out []pricing.PriceQuote
	for _, req := range reqs {
		if req.ProductCode == "BROKEN" {
			return nil, errors.New("erp timeout")
		}
		if q, ok := s[req.ProductCode]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

type stubProducts map[string]pricing.ProductRef

func (s stubProducts) GetProductByRelationID(ctx context.Context, id string) (pricing.ProductRef, error) {
	p, ok := s[id]
	if !ok {
		return pricing.ProductRef{}, pricing.ErrProductNotFound
	}
	return p, nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestRouter(t *testing.T, ref *stubRefdata, approvals ApprovalRequester) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	prices := stubPrices{
		"PUMP-1": {ProductCode: "PUMP-1", GroupCode: "PUMP", Currency: "USD", ListPrice: d("100"), Discount1: d("20")},
		"SEAL-1": {ProductCode: "SEAL-1", GroupCode: "SEAL", Currency: "EUR", ListPrice: d("10")},
		"BOLT-1": {ProductCode: "BOLT-1", GroupCode: "BOLT", Currency: "GBP", ListPrice: d("4")},
	}
	products := stubProducts{
		"r-seal":   {Code: "SEAL-1", Name: "Seal kit", GroupCode: "SEAL"},
		"r-broken": {Code: "BROKEN", Name: "Broken", GroupCode: "X"},
		"r-bolt":   {Code: "BOLT-1", Name: "Bolt", GroupCode: "BOLT"},
	}
	session := pricing.NewSession(prices, products, pricing.SessionConfig{Concurrency: 2, Logger: logger})
	h := NewHandler(logger, session, ref, approvals, nil)
	h.now = func() time.Time { return time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Route("/api/pricing", h.MountRoutes)
	return r
}

func defaultRefdata() *stubRefdata {
	return &stubRefdata{
		currencies: []pricing.Currency{{Code: "TL", ID: 0}, {Code: "USD", ID: 1}, {Code: "EUR", ID: 20}},
		rates: []pricing.ExchangeRate{
			{CurrencyID: 0, Rate: d("1"), IsOfficial: true},
			{CurrencyID: 1, Rate: d("30"), IsOfficial: true},
			{CurrencyID: 20, Rate: d("33"), IsOfficial: true},
		},
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "want %s got %s", want, got)
}

func TestCalculateLines(t *testing.T) {
	router := newTestRouter(t, defaultRefdata(), nil)

	rec := doJSON(t, router, http.MethodPost, "/api/pricing/lines/calculate", map[string]any{
		"lines": []map[string]any{{
			"product_code": "PUMP-1", "quantity": "10", "unit_price": "100",
			"discount_rate1": "10", "discount_rate2": "10", "discount_rate3": "0", "vat_rate": "18",
		}},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp LinesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Lines, 1)
	assertDec(t, "810", resp.Lines[0].LineTotal)
	assertDec(t, "145.8", resp.Lines[0].VATAmount)
	assertDec(t, "955.8", resp.Lines[0].LineGrandTotal)
	assertDec(t, "955.8", resp.Totals.GrandTotal)
	assertDec(t, "190", resp.Totals.Discount)
}

func TestCalculateLinesValidation(t *testing.T) {
	router := newTestRouter(t, defaultRefdata(), nil)

	rec := doJSON(t, router, http.MethodPost, "/api/pricing/lines/calculate", map[string]any{
		"lines": []map[string]any{{"product_code": "PUMP-1", "quantity": "1", "unit_price": "5", "discount_rate1": "150"}},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "lte", problem.Errors["lines[0].discount_rate1"])

	rec = doJSON(t, router, http.MethodPost, "/api/pricing/lines/calculate", map[string]any{"lines": []any{}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/pricing/lines/calculate", map[string]any{"rows": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRepriceLines(t *testing.T) {
	router := newTestRouter(t, defaultRefdata(), nil)

	rec := doJSON(t, router, http.MethodPost, "/api/pricing/lines/reprice", map[string]any{
		"from_currency": "USD",
		"to_currency":   "20",
		"lines":         []map[string]any{{"product_code": "A", "currency_id": 1, "quantity": "1", "unit_price": "330"}},
		"exchange_rates": []map[string]any{
			{"currency_id": 20, "rate": "36"},
		},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp RepriceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 20, resp.CurrencyID)
	assert.Empty(t, resp.Unconverted)
	assertDec(t, "275", resp.Lines[0].UnitPrice)
	assert.Equal(t, 20, resp.Lines[0].CurrencyID)

	rec = doJSON(t, router, http.MethodPost, "/api/pricing/lines/reprice", map[string]any{
		"from_currency": "USD",
		"to_currency":   "77",
		"lines":         []map[string]any{{"product_code": "A", "currency_id": 1, "quantity": "1", "unit_price": "330"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []int{0}, resp.Unconverted)
	assertDec(t, "330", resp.Lines[0].UnitPrice)
}

func TestRepriceLinesUsesLineCurrency(t *testing.T) {
	router := newTestRouter(t, defaultRefdata(), nil)

	rec := doJSON(t, router, http.MethodPost, "/api/pricing/lines/reprice", map[string]any{
		"from_currency": "USD",
		"to_currency":   "EUR",
		"lines": []map[string]any{
			{"product_code": "A", "quantity": "1", "unit_price": "330"},
			{"product_code": "B", "currency_id": 0, "quantity": "1", "unit_price": "330"},
			{"product_code": "C", "currency_id": 55, "quantity": "1", "unit_price": "12"},
		},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp RepriceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Lines, 3)
	assertDec(t, "300", resp.Lines[0].UnitPrice)
	assert.Equal(t, 20, resp.Lines[0].CurrencyID)
	assertDec(t, "10", resp.Lines[1].UnitPrice)
	assert.Equal(t, 20, resp.Lines[1].CurrencyID)
	assertDec(t, "12", resp.Lines[2].UnitPrice)
	assert.Equal(t, 55, resp.Lines[2].CurrencyID)
	assert.Equal(t, []int{2}, resp.Unconverted)
}

func TestRepriceUnknownCurrency(t *testing.T) {
	router := newTestRouter(t, defaultRefdata(), nil)
	line := []map[string]any{{"product_code": "A", "quantity": "1", "unit_price": "1"}}

	rec := doJSON(t, router, http.MethodPost, "/api/pricing/lines/reprice", map[string]any{
		"from_currency": "USD", "to_currency": "GBP", "lines": line,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/pricing/lines/reprice", map[string]any{
		"from_currency": "USD", "to_currency": "DOLAR", "lines": line,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvaluateDiscountLimit(t *testing.T) {
	ref := defaultRefdata()
	ref.limits = []pricing.DiscountLimit{{GroupCode: "PUMP", SalespersonID: 7, MaxDiscount1: d("15")}}
	router := newTestRouter(t, ref, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/pricing/discount-limits/evaluate", map[string]any{
		"group_code": "PUMP", "discount_rate1": "15.01", "salesperson_id": 7,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var decision pricing.LimitDecision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.Equal(t, pricing.ApprovalWaiting, decision.ApprovalStatus)
	require.NotNil(t, decision.MatchingLimit)
	assert.Equal(t, 1, ref.limitCalls)

	rec = doJSON(t, router, http.MethodPost, "/api/pricing/discount-limits/evaluate", map[string]any{
		"group_code": "PUMP", "discount_rate1": "15",
		"limits": []map[string]any{{"group_code": "PUMP", "max_discount1": "15"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.Equal(t, pricing.ApprovalNotRequired, decision.ApprovalStatus)
	assert.Equal(t, 1, ref.limitCalls)
}

func TestAddProduct(t *testing.T) {
	ref := defaultRefdata()
	ref.limits = []pricing.DiscountLimit{{GroupCode: "PUMP", SalespersonID: 7, MaxDiscount1: d("10")}}
	router := newTestRouter(t, ref, nil)

	rec := doJSON(t, router, http.MethodPost, "/api/pricing/products", map[string]any{
		"product_code":        "PUMP-1",
		"product_name":        "Pump",
		"group_code":          "PUMP",
		"related_product_ids": []string{"r-seal", "r-broken", "r-bolt"},
		"currency":            "TL",
		"vat_rate":            "20",
		"representative_id":   7,
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp AddProductResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Lines, 4)
	assert.Equal(t, 0, resp.CurrencyID)
	assert.NotEmpty(t, resp.RelatedProductKey)

	main := resp.Lines[0]
	assert.True(t, main.IsMainRelatedProduct)
	assertDec(t, "3000", main.UnitPrice)
	assertDec(t, "2400", main.LineTotal)
	assert.Equal(t, pricing.ApprovalWaiting, main.ApprovalStatus)

	assertDec(t, "330", resp.Lines[1].UnitPrice)
	assert.True(t, resp.Lines[2].Placeholder)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, 2, resp.Failures[0].Index)
	assert.Equal(t, pricing.StagePrice, resp.Failures[0].Stage)
	assert.NotEmpty(t, resp.Failures[0].Error)
	assert.Equal(t, []int{3}, resp.Unconverted)
	assertDec(t, "4", resp.Lines[3].UnitPrice)
}

func TestAddProductRateLimited(t *testing.T) {
	router := newTestRouter(t, defaultRefdata(), nil)
	body := map[string]any{"product_code": "SEAL-1", "currency": "EUR"}

	for i := 0; i < 30; i++ {
		rec := doJSON(t, router, http.MethodPost, "/api/pricing/products", body)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := doJSON(t, router, http.MethodPost, "/api/pricing/products", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestGetRate(t *testing.T) {
	router := newTestRouter(t, defaultRefdata(), nil)

	rec := doJSON(t, router, http.MethodGet, "/api/pricing/rates/usd", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rate pricing.ExchangeRate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rate))
	assert.Equal(t, 1, rate.CurrencyID)
	assertDec(t, "30", rate.Rate)

	rec = doJSON(t, router, http.MethodGet, "/api/pricing/rates/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/pricing/rates/USD?date=14-03-2025", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRateUpstreamFailure(t *testing.T) {
	ref := defaultRefdata()
	ref.err = errors.New("redis down")
	router := newTestRouter(t, ref, nil)

	rec := doJSON(t, router, http.MethodGet, "/api/pricing/rates/USD", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSubmitDemand(t *testing.T) {
	ref := defaultRefdata()
	ref.limits = []pricing.DiscountLimit{{GroupCode: "PUMP", SalespersonID: 7, MaxDiscount1: d("10")}}
	approvals := &stubApprovals{}
	router := newTestRouter(t, ref, approvals)

	rec := doJSON(t, router, http.MethodPost, "/api/pricing/demands/submit", map[string]any{
		"demand_id":         "D-1001",
		"representative_id": 7,
		"lines": []map[string]any{
			{"product_code": "A", "group_code": "PUMP", "quantity": "1", "unit_price": "100", "discount_rate1": "5"},
			{"product_code": "B", "group_code": "PUMP", "quantity": "1", "unit_price": "100", "discount_rate1": "12"},
		},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp SubmitDemandResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.ApprovalRequested)
	assert.Equal(t, []int{1}, resp.WaitingLines)
	assert.Equal(t, "D-1001", approvals.demandID)
	assert.Equal(t, []int{1}, approvals.waiting)
	assertDec(t, "183", resp.Totals.GrandTotal)
}

func TestSubmitDemandKeepsDecidedLines(t *testing.T) {
	ref := defaultRefdata()
	ref.limits = []pricing.DiscountLimit{{GroupCode: "PUMP", SalespersonID: 7, MaxDiscount1: d("10")}}
	approvals := &stubApprovals{}
	router := newTestRouter(t, ref, approvals)

	rec := doJSON(t, router, http.MethodPost, "/api/pricing/demands/submit", map[string]any{
		"demand_id":         "D-1003",
		"representative_id": 7,
		"lines": []map[string]any{
			{"product_code": "A", "group_code": "PUMP", "quantity": "1", "unit_price": "100", "discount_rate1": "12", "approval_status": "APPROVED"},
			{"product_code": "B", "group_code": "PUMP", "quantity": "1", "unit_price": "100", "discount_rate1": "15", "approval_status": "REJECTED"},
			{"product_code": "C", "group_code": "PUMP", "quantity": "1", "unit_price": "100", "discount_rate1": "12", "approval_status": "NOT_REQUIRED"},
		},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp SubmitDemandResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, pricing.ApprovalApproved, resp.Lines[0].ApprovalStatus)
	assert.Equal(t, pricing.ApprovalRejected, resp.Lines[1].ApprovalStatus)
	assert.Equal(t, pricing.ApprovalWaiting, resp.Lines[2].ApprovalStatus)
	assert.Equal(t, []int{2}, resp.WaitingLines)
	assert.Equal(t, []int{2}, approvals.waiting)
}

func TestSubmitDemandRejectsPlaceholders(t *testing.T) {
	approvals := &stubApprovals{}
	router := newTestRouter(t, defaultRefdata(), approvals)

	rec := doJSON(t, router, http.MethodPost, "/api/pricing/demands/submit", map[string]any{
		"demand_id":         "D-1002",
		"representative_id": 7,
		"lines":             []map[string]any{{"product_code": "A", "quantity": "1", "placeholder": true}},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, approvals.demandID)
}
