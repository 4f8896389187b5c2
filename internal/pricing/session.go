package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// PriceRequest asks the ERP for the price of one product.
type PriceRequest struct {
	ProductCode string `json:"product_code"`
	GroupCode   string `json:"group_code"`
}

// PriceQuote is the ERP answer for a PriceRequest. Currency is either a numeric
// currency id or a code that must be resolved through the currency catalog.
type PriceQuote struct {
	ProductCode string          `json:"product_code"`
	GroupCode   string          `json:"group_code"`
	Currency    string          `json:"currency"`
	ListPrice   decimal.Decimal `json:"list_price"`
	Discount1   decimal.Decimal `json:"discount1"`
	Discount2   decimal.Decimal `json:"discount2"`
	Discount3   decimal.Decimal `json:"discount3"`
}

// PriceLookup fetches price quotes. The result may omit requested products.
type PriceLookup interface {
	GetPrices(ctx context.Context, reqs []PriceRequest) ([]PriceQuote, error)
}

// ProductRef identifies a product being added to a demand.
type ProductRef struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	GroupCode string `json:"group_code"`
}

// ProductLookup resolves mandatory/optional companion products by relation id.
type ProductLookup interface {
	GetProductByRelationID(ctx context.Context, id string) (ProductRef, error)
}

// Recorder receives pricing events worth counting. Implementations must be safe
// for concurrent use.
type Recorder interface {
	PlaceholderCreated(stage LookupStage)
	ConversionUnresolved()
}

// SessionConfig tunes a Session.
type SessionConfig struct {
	// Concurrency bounds parallel lookups per AddProduct call. Values below 1
	// mean one lookup at a time.
	Concurrency int
	Logger      *slog.Logger
	Recorder    Recorder
	// NewKey generates related product keys; defaults to random UUIDs.
	NewKey func() string
}

// Session prices products added to a demand.
type Session struct {
	prices      PriceLookup
	products    ProductLookup
	concurrency int
	logger      *slog.Logger
	recorder    Recorder
	newKey      func() string
}

// NewSession constructs a Session.
func NewSession(prices PriceLookup, products ProductLookup, cfg SessionConfig) *Session {
	s := &Session{
		prices:      prices,
		products:    products,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
		recorder:    cfg.Recorder,
		newKey:      cfg.NewKey,
	}
	if s.concurrency < 1 {
		s.concurrency = 1
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.newKey == nil {
		s.newKey = func() string { return uuid.NewString() }
	}
	return s
}

// AddProductRequest describes a main product and its companions.
type AddProductRequest struct {
	Main              ProductRef
	RelatedProductIDs []string
	TargetCurrencyID  int
	Rates             RateBook
	Catalog           *CurrencyCatalog
	// Quantity applied to every produced line; zero means 1.
	Quantity decimal.Decimal
	VATRate  decimal.Decimal
}

// ItemResult is the outcome for one requested product. A non-nil Failure means
// Line is a zero-priced placeholder.
type ItemResult struct {
	Line        Line           `json:"line"`
	Failure     *LookupFailure `json:"failure,omitempty"`
	Unconverted bool           `json:"unconverted"`
}

// AddProductResult holds one ItemResult per requested product, in request order.
type AddProductResult struct {
	RelatedProductKey string       `json:"related_product_key"`
	Items             []ItemResult `json:"items"`
}

// Lines returns the produced lines in request order.
func (r AddProductResult) Lines() []Line {
	lines := make([]Line, len(r.Items))
	for i, item := range r.Items {
		lines[i] = item.Line
	}
	return lines
}

// Placeholders returns the failures of items priced as placeholders.
func (r AddProductResult) Placeholders() []*LookupFailure {
	var out []*LookupFailure
	for _, item := range r.Items {
		if item.Failure != nil {
			out = append(out, item.Failure)
		}
	}
	return out
}

// AddProduct prices the main product followed by its related products. Lookup
// failures never fail the call; the affected item becomes a placeholder line.
func (s *Session) AddProduct(ctx context.Context, req AddProductRequest) AddProductResult {
	if req.Quantity.IsZero() {
		req.Quantity = decimal.NewFromInt(1)
	}
	key := s.newKey()
	items := make([]ItemResult, 1+len(req.RelatedProductIDs))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range items {
		g.Go(func() error {
			items[i] = s.priceItem(ctx, i, req)
			return nil
		})
	}
	_ = g.Wait()

	for i := range items {
		line := items[i].Line
		line.RelatedProductKey = &key
		line.IsMainRelatedProduct = i == 0
		items[i].Line = CalculateLineTotals(line)
	}
	return AddProductResult{RelatedProductKey: key, Items: items}
}

func (s *Session) priceItem(ctx context.Context, index int, req AddProductRequest) (result ItemResult) {
	product := req.Main
	defer func() {
		if rec := recover(); rec != nil {
			result = s.placeholder(index, product, StagePrice, fmt.Errorf("panic: %v", rec), req)
		}
	}()

	if index > 0 {
		relationID := req.RelatedProductIDs[index-1]
		related, err := s.products.GetProductByRelationID(ctx, relationID)
		if err != nil {
			return s.placeholder(index, ProductRef{Code: relationID}, StageProduct, err, req)
		}
		product = related
	}

	quotes, err := s.prices.GetPrices(ctx, []PriceRequest{{ProductCode: product.Code, GroupCode: product.GroupCode}})
	if err != nil {
		return s.placeholder(index, product, StagePrice, err, req)
	}
	quote, ok := findQuote(quotes, product.Code)
	if !ok {
		return s.placeholder(index, product, StagePrice, ErrPriceNotFound, req)
	}

	price, sourceID, converted := s.convert(quote, req)
	line := newLine(product, req)
	line.UnitPrice = price
	if !converted {
		line.CurrencyID = sourceID
	}
	line.DiscountRate1 = quote.Discount1
	line.DiscountRate2 = quote.Discount2
	line.DiscountRate3 = quote.Discount3
	if quote.GroupCode != "" && line.GroupCode == nil {
		group := quote.GroupCode
		line.GroupCode = &group
	}
	return ItemResult{Line: line, Unconverted: !converted}
}

// convert expresses the quote's list price in the target currency. When the
// source currency or either rate is unknown the list price is kept as is and
// the returned id names the currency it is still expressed in.
func (s *Session) convert(quote PriceQuote, req AddProductRequest) (decimal.Decimal, int, bool) {
	ref, ok := ParseCurrencyRef(quote.Currency)
	if !ok {
		return s.unconverted(quote, UnknownCurrencyID, "missing source currency")
	}
	sourceID, err := req.Catalog.Resolve(ref)
	if err != nil {
		return s.unconverted(quote, UnknownCurrencyID, err.Error())
	}
	price, ok := req.Rates.Convert(quote.ListPrice, sourceID, req.TargetCurrencyID)
	if !ok {
		return s.unconverted(quote, sourceID, fmt.Sprintf("no rate for %d or %d", sourceID, req.TargetCurrencyID))
	}
	return price, req.TargetCurrencyID, true
}

func (s *Session) unconverted(quote PriceQuote, sourceID int, reason string) (decimal.Decimal, int, bool) {
	s.logger.Warn("price left unconverted",
		slog.String("product_code", quote.ProductCode),
		slog.String("currency", quote.Currency),
		slog.String("reason", reason))
	if s.recorder != nil {
		s.recorder.ConversionUnresolved()
	}
	return quote.ListPrice, sourceID, false
}

func (s *Session) placeholder(index int, product ProductRef, stage LookupStage, err error, req AddProductRequest) ItemResult {
	failure := &LookupFailure{Index: index, ProductCode: product.Code, Stage: stage, Err: err}
	s.logger.Warn("pricing placeholder line", slog.Any("error", failure))
	if s.recorder != nil {
		s.recorder.PlaceholderCreated(stage)
	}
	line := newLine(product, req)
	line.Placeholder = true
	return ItemResult{Line: line, Failure: failure}
}

func newLine(product ProductRef, req AddProductRequest) Line {
	line := Line{
		ProductCode:    product.Code,
		ProductName:    product.Name,
		CurrencyID:     req.TargetCurrencyID,
		Quantity:       req.Quantity,
		VATRate:        req.VATRate,
		ApprovalStatus: ApprovalNotRequired,
	}
	if product.GroupCode != "" {
		group := product.GroupCode
		line.GroupCode = &group
	}
	return line
}

func findQuote(quotes []PriceQuote, code string) (PriceQuote, bool) {
	for _, q := range quotes {
		if strings.EqualFold(strings.TrimSpace(q.ProductCode), strings.TrimSpace(code)) {
			return q, true
		}
	}
	return PriceQuote{}, false
}
