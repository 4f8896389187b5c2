package refdata

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/demand-pricing/internal/pricing"
)

type mockSource struct {
	currencies    []pricing.Currency
	rates         []pricing.ExchangeRate
	limits        []pricing.DiscountLimit
	err           error
	delay         time.Duration
	currencyCalls atomic.Int32
	rateCalls     atomic.Int32
	limitCalls    atomic.Int32
	lastAsOf      time.Time
}

func (m *mockSource) ListCurrencies(ctx context.Context) ([]pricing.Currency, error) {
	m.currencyCalls.Add(1)
	time.Sleep(m.delay)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.currencies, m.err
}

func (m *mockSource) ListOfficialRates(ctx context.Context, asOf time.Time) ([]pricing.ExchangeRate, error) {
	m.rateCalls.Add(1)
	m.lastAsOf = asOf
	return m.rates, m.err
}

func (m *mockSource) ListDiscountLimits(ctx context.Context, salespersonID int64) ([]pricing.DiscountLimit, error) {
	m.limitCalls.Add(1)
	return m.limits, m.err
}

func newTestService(t *testing.T, src Source) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewService(src, NewCache(client, time.Minute)), mr
}

func TestCatalogCachesSourceList(t *testing.T) {
	src := &mockSource{currencies: []pricing.Currency{{Code: "TL", ID: 0}, {Code: "USD", ID: 1}}}
	svc, mr := newTestService(t, src)
	ctx := context.Background()

	catalog, err := svc.Catalog(ctx)
	require.NoError(t, err)
	id, err := catalog.Resolve(pricing.CurrencyRef{Kind: pricing.CurrencyRefCode, Code: "USD"})
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	_, err = svc.Catalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.currencyCalls.Load())
	assert.True(t, mr.Exists("pricing:refdata:currencies:1"))
}

func TestOfficialRatesRoundTripDecimals(t *testing.T) {
	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	src := &mockSource{rates: []pricing.ExchangeRate{
		{CurrencyID: 1, Rate: decimal.RequireFromString("32.104512"), Date: day, IsOfficial: true},
	}}
	svc, _ := newTestService(t, src)
	ctx := context.Background()

	first, err := svc.OfficialRates(ctx, day.Add(15*time.Hour))
	require.NoError(t, err)
	second, err := svc.OfficialRates(ctx, day.Add(20*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, int32(1), src.rateCalls.Load())
	assert.Equal(t, day, src.lastAsOf)
	require.Len(t, second, 1)
	assert.True(t, first[0].Rate.Equal(second[0].Rate))
	assert.True(t, second[0].IsOfficial)
	assert.True(t, second[0].Date.Equal(day))
}

func TestInvalidateForcesReload(t *testing.T) {
	max2 := decimal.NewFromInt(5)
	src := &mockSource{limits: []pricing.DiscountLimit{{GroupCode: "PUMP", SalespersonID: 7, MaxDiscount1: decimal.NewFromInt(15), MaxDiscount2: &max2}}}
	svc, _ := newTestService(t, src)
	ctx := context.Background()

	limits, err := svc.DiscountLimits(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, limits[0].MaxDiscount2)
	assert.Nil(t, limits[0].MaxDiscount3)

	require.NoError(t, svc.Invalidate(ctx))
	_, err = svc.DiscountLimits(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.limitCalls.Load())
}

func TestConcurrentMissesShareLoader(t *testing.T) {
	src := &mockSource{currencies: []pricing.Currency{{Code: "EUR", ID: 20}}, delay: 50 * time.Millisecond}
	svc, _ := newTestService(t, src)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			list, err := svc.Currencies(context.Background())
			assert.NoError(t, err)
			assert.Len(t, list, 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), src.currencyCalls.Load())
}

func TestCancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	src := &mockSource{currencies: []pricing.Currency{{Code: "EUR", ID: 20}}, delay: 100 * time.Millisecond}
	svc, mr := newTestService(t, src)

	firstCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Currencies(firstCtx)
		firstErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	type result struct {
		list []pricing.Currency
		err  error
	}
	second := make(chan result, 1)
	go func() {
		list, err := svc.Currencies(context.Background())
		second <- result{list: list, err: err}
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-firstErr, context.Canceled)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, []pricing.Currency{{Code: "EUR", ID: 20}}, got.list)
	assert.Equal(t, int32(1), src.currencyCalls.Load())
	assert.True(t, mr.Exists("pricing:refdata:currencies:1"))
}

func TestSourceErrorNotCached(t *testing.T) {
	src := &mockSource{err: errors.New("db down")}
	svc, mr := newTestService(t, src)

	_, err := svc.Currencies(context.Background())
	require.Error(t, err)
	assert.False(t, mr.Exists("pricing:refdata:currencies:1"))
}

func TestNilCacheFallsThrough(t *testing.T) {
	src := &mockSource{currencies: []pricing.Currency{{Code: "USD", ID: 1}}}
	svc := NewService(src, nil)

	_, err := svc.Currencies(context.Background())
	require.NoError(t, err)
	_, err = svc.Currencies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.currencyCalls.Load())
	assert.NoError(t, svc.Invalidate(context.Background()))
}
