package marketdata

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	source     string
	quote      *Quote
	quoteErr   error
	quoteCalls int
	search     []SearchResult
}

func (s *stubProvider) Source() string { return s.source }

func (s *stubProvider) GetQuote(ctx context.Context, symbol string, market Market) (*Quote, error) {
	s.quoteCalls++
	return s.quote, s.quoteErr
}

func (s *stubProvider) GetHistory(ctx context.Context, symbol string, market Market, period, interval string) (*History, error) {
	return nil, nil
}

func (s *stubProvider) GetInfo(ctx context.Context, symbol string, market Market) (*Info, error) {
	return nil, nil
}

func (s *stubProvider) GetFinancials(ctx context.Context, symbol string, market Market) (*Financials, error) {
	return nil, nil
}

func (s *stubProvider) Search(ctx context.Context, query string, markets []Market) ([]SearchResult, error) {
	return s.search, nil
}

func testLog() zerolog.Logger { return zerolog.New(io.Discard) }

func TestDetectMarket(t *testing.T) {
	tests := []struct {
		symbol string
		want   Market
	}{
		{"AAPL", MarketUS},
		{"0700.HK", MarketHK},
		{"600519.SS", MarketSH},
		{"600519.SH", MarketSH},
		{"000001.SZ", MarketSZ},
		{"GC=F", MarketMetal},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, DetectMarket(tc.symbol), tc.symbol)
	}
}

func TestFallbackOnError(t *testing.T) {
	akshare := &stubProvider{source: "akshare", quoteErr: errors.New("connection refused")}
	yfinance := &stubProvider{source: "yfinance", quote: &Quote{Symbol: "0700.HK", Price: 320}}

	r := NewRouter(yfinance, akshare, nil, nil, testLog())
	quote := r.GetQuote(context.Background(), "0700.HK", MarketHK)

	require.NotNil(t, quote)
	assert.Equal(t, 320.0, quote.Price)
	assert.Equal(t, 1, akshare.quoteCalls, "primary tried first")
	assert.Equal(t, 1, yfinance.quoteCalls)
}

func TestFallbackOnNilResult(t *testing.T) {
	akshare := &stubProvider{source: "akshare", quote: nil}
	yfinance := &stubProvider{source: "yfinance", quote: &Quote{Symbol: "600519.SH", Price: 1700}}
	tushare := &stubProvider{source: "tushare", quote: nil}

	r := NewRouter(yfinance, akshare, tushare, nil, testLog())
	quote := r.GetQuote(context.Background(), "600519.SH", MarketSH)

	require.NotNil(t, quote)
	assert.Equal(t, 1, akshare.quoteCalls)
	assert.Equal(t, 1, tushare.quoteCalls, "tushare sits between akshare and yfinance for A-shares")
	assert.Equal(t, 1, yfinance.quoteCalls)
}

func TestAllProvidersMiss(t *testing.T) {
	akshare := &stubProvider{source: "akshare"}
	yfinance := &stubProvider{source: "yfinance"}

	r := NewRouter(yfinance, akshare, nil, nil, testLog())
	assert.Nil(t, r.GetQuote(context.Background(), "0700.HK", MarketHK))
}

func TestOptionalTiersAbsentByDefault(t *testing.T) {
	yfinance := &stubProvider{source: "yfinance"}
	akshare := &stubProvider{source: "akshare"}
	r := NewRouter(yfinance, akshare, nil, nil, testLog())

	us := r.Providers(MarketUS)
	require.Len(t, us, 1)
	assert.Equal(t, "yfinance", us[0].Source())

	sh := r.Providers(MarketSH)
	require.Len(t, sh, 2)
	assert.Equal(t, "akshare", sh[0].Source())
}

func TestSearchDedupFirstWins(t *testing.T) {
	yfinance := &stubProvider{source: "yfinance", search: []SearchResult{
		{Symbol: "AAPL", Name: "Apple Inc.", Market: MarketUS},
		{Symbol: "0700.HK", Name: "Tencent (Yahoo)", Market: MarketHK},
	}}
	akshare := &stubProvider{source: "akshare", search: []SearchResult{
		{Symbol: "0700.HK", Name: "Tencent Holdings", Market: MarketHK},
	}}

	r := NewRouter(yfinance, akshare, nil, nil, testLog())
	results := r.Search(context.Background(), "tencent", []Market{MarketUS, MarketHK})

	bySymbol := map[string]SearchResult{}
	for _, res := range results {
		_, dup := bySymbol[res.Symbol]
		require.False(t, dup, "duplicate symbol %s", res.Symbol)
		bySymbol[res.Symbol] = res
	}
	// US task is registered before HK, so the yfinance row wins the dedup
	assert.Equal(t, "Tencent (Yahoo)", bySymbol["0700.HK"].Name)
}

func TestSearchIncludesMetalsFirst(t *testing.T) {
	yfinance := &stubProvider{source: "yfinance", search: []SearchResult{
		{Symbol: "GOLD", Name: "Barrick Gold", Market: MarketUS},
	}}
	akshare := &stubProvider{source: "akshare"}

	r := NewRouter(yfinance, akshare, nil, nil, testLog())
	results := r.Search(context.Background(), "gold", nil)

	require.NotEmpty(t, results)
	assert.Equal(t, MarketMetal, results[0].Market, "metal matches lead the result list")
}
