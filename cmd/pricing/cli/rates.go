package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/demand-pricing/internal/pricing"
)

// RateSource lists the currency catalog and the official rates of a day.
type RateSource interface {
	Currencies(ctx context.Context) ([]pricing.Currency, error)
	OfficialRates(ctx context.Context, asOf time.Time) ([]pricing.ExchangeRate, error)
}

// RatesCLI offers operational helpers around official exchange rates.
type RatesCLI struct {
	source RateSource
}

// NewRatesCLI constructs the helper.
func NewRatesCLI(source RateSource) (*RatesCLI, error) {
	if source == nil {
		return nil, errors.New("rates cli: source is required")
	}
	return &RatesCLI{source: source}, nil
}

// RatesValidateOptions defines available flags for the rates validate command.
type RatesValidateOptions struct {
	Date       string
	Ignore     []string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// RatesValidateSummary describes the JSON response for rates validate.
type RatesValidateSummary struct {
	OK        bool               `json:"ok"`
	Date      string             `json:"date"`
	Missing   []RateGap          `json:"missing"`
	Available []RateAvailability `json:"available"`
}

// RateGap is a catalog currency without a usable official rate.
type RateGap struct {
	Code string `json:"code"`
	ID   int    `json:"doviz_tipi"`
}

// RateAvailability reports a published official rate.
type RateAvailability struct {
	Code string          `json:"code"`
	ID   int             `json:"doviz_tipi"`
	Rate decimal.Decimal `json:"rate"`
}

// ValidateCommand checks that every catalog currency has a positive official
// rate for the requested day. It returns 10 when gaps exist.
func (c *RatesCLI) ValidateCommand(ctx context.Context, opts RatesValidateOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	day := time.Now().UTC()
	if raw := strings.TrimSpace(opts.Date); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "rates validate: invalid date %q (expected YYYY-MM-DD)\n", opts.Date)
			return 1
		}
		day = parsed
	}
	summary, err := c.validate(ctx, day, opts.Ignore)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "rates validate: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "rates validate: encode json: %v\n", err)
			return 1
		}
	} else {
		renderRatesHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

func (c *RatesCLI) validate(ctx context.Context, day time.Time, ignore []string) (RatesValidateSummary, error) {
	currencies, err := c.source.Currencies(ctx)
	if err != nil {
		return RatesValidateSummary{}, fmt.Errorf("load currencies: %w", err)
	}
	rates, err := c.source.OfficialRates(ctx, day)
	if err != nil {
		return RatesValidateSummary{}, fmt.Errorf("load official rates: %w", err)
	}
	skip := make(map[string]bool, len(ignore))
	for _, code := range ignore {
		skip[strings.ToUpper(strings.TrimSpace(code))] = true
	}

	summary := RatesValidateSummary{
		Date:      day.Format("2006-01-02"),
		Missing:   []RateGap{},
		Available: []RateAvailability{},
	}
	for _, cur := range currencies {
		if skip[strings.ToUpper(cur.Code)] {
			continue
		}
		rate, ok := pricing.ResolveRate(cur.ID, nil, rates)
		if !ok {
			summary.Missing = append(summary.Missing, RateGap{Code: cur.Code, ID: cur.ID})
			continue
		}
		summary.Available = append(summary.Available, RateAvailability{Code: cur.Code, ID: cur.ID, Rate: rate})
	}
	sort.Slice(summary.Missing, func(i, j int) bool { return summary.Missing[i].ID < summary.Missing[j].ID })
	sort.Slice(summary.Available, func(i, j int) bool { return summary.Available[i].ID < summary.Available[j].ID })
	summary.OK = len(summary.Missing) == 0
	return summary, nil
}

func renderRatesHuman(out io.Writer, summary RatesValidateSummary) {
	_, _ = fmt.Fprintf(out, "Official rates for %s\n", summary.Date)
	if summary.OK {
		_, _ = fmt.Fprintln(out, "All catalog currencies have a rate.")
	} else {
		_, _ = fmt.Fprintf(out, "%d currency(ies) without a rate:\n", len(summary.Missing))
		for _, gap := range summary.Missing {
			_, _ = fmt.Fprintf(out, " - %s (%d)\n", gap.Code, gap.ID)
		}
	}
	for _, a := range summary.Available {
		_, _ = fmt.Fprintf(out, " + %s (%d) %s\n", a.Code, a.ID, a.Rate.String())
	}
}
