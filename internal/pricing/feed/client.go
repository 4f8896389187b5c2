// Package feed fetches the externally published (official) exchange rates.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/demand-pricing/internal/pricing"
)

// ErrUnavailable reports a non-success response from the feed.
var ErrUnavailable = errors.New("feed: rate feed unavailable")

type entry struct {
	DovizTipi int             `json:"dovizTipi"`
	Rate      decimal.Decimal `json:"rate"`
	Name      string          `json:"name"`
}

// Client reads the official rate feed.
type Client struct {
	url        string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient constructs a new client for the feed URL.
func NewClient(url string) *Client {
	return &Client{
		url: strings.TrimRight(url, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		now: time.Now,
	}
}

// FetchOfficialRates returns today's published rates. Entries with a
// non-positive rate are dropped.
func (c *Client) FetchOfficialRates(ctx context.Context) ([]pricing.ExchangeRate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed: request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var entries []entry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("feed: decode: %w", err)
	}

	today := c.now().UTC().Truncate(24 * time.Hour)
	rates := make([]pricing.ExchangeRate, 0, len(entries))
	for _, e := range entries {
		if !e.Rate.IsPositive() {
			continue
		}
		rates = append(rates, pricing.ExchangeRate{
			CurrencyID: e.DovizTipi,
			Rate:       e.Rate,
			Date:       today,
			IsOfficial: true,
		})
	}
	return rates, nil
}
