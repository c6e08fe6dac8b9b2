/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L2
Logic:       Yahoo Finance provider over the public chart and
             search endpoints. Default tier for US and METAL,
             final fallback for every other market.
Root Cause:  Sprint task N052 — yfinance provider.
Context:     No API key; symbols pass through unchanged since
             suffix conventions match Yahoo's.
Suitability: L2 for an HTTP data client.
──────────────────────────────────────────────────────────────
*/

package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const yahooBaseURL = "https://query1.finance.yahoo.com"

// YFinanceProvider reads from Yahoo Finance public endpoints.
type YFinanceProvider struct {
	baseURL string
	client  *http.Client
}

// NewYFinanceProvider creates the provider.
func NewYFinanceProvider(timeout time.Duration) *YFinanceProvider {
	return &YFinanceProvider{
		baseURL: yahooBaseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *YFinanceProvider) Source() string { return "yfinance" }

func (p *YFinanceProvider) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := p.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("yfinance: status %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				Currency           string  `json:"currency"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				PreviousClose      float64 `json:"chartPreviousClose"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

func (p *YFinanceProvider) chart(ctx context.Context, symbol, rng, interval string) (*yahooChartResponse, error) {
	query := url.Values{"range": {rng}, "interval": {interval}}
	var decoded yahooChartResponse
	if err := p.getJSON(ctx, "/v8/finance/chart/"+url.PathEscape(symbol), query, &decoded); err != nil {
		return nil, err
	}
	if len(decoded.Chart.Result) == 0 {
		return nil, nil
	}
	return &decoded, nil
}

func (p *YFinanceProvider) GetQuote(ctx context.Context, symbol string, market Market) (*Quote, error) {
	decoded, err := p.chart(ctx, symbol, "1d", "1d")
	if err != nil || decoded == nil {
		return nil, err
	}
	meta := decoded.Chart.Result[0].Meta
	if meta.RegularMarketPrice == 0 {
		return nil, nil
	}
	change := meta.RegularMarketPrice - meta.PreviousClose
	changePct := 0.0
	if meta.PreviousClose != 0 {
		changePct = change / meta.PreviousClose * 100
	}
	return &Quote{
		Symbol:        meta.Symbol,
		Price:         meta.RegularMarketPrice,
		Change:        change,
		ChangePercent: changePct,
		Currency:      meta.Currency,
		Market:        market,
		AsOf:          time.Unix(meta.RegularMarketTime, 0).UTC(),
	}, nil
}

func (p *YFinanceProvider) GetHistory(ctx context.Context, symbol string, market Market, period, interval string) (*History, error) {
	if period == "" {
		period = "1mo"
	}
	if interval == "" {
		interval = "1d"
	}
	decoded, err := p.chart(ctx, symbol, period, interval)
	if err != nil || decoded == nil {
		return nil, err
	}
	result := decoded.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, nil
	}
	quote := result.Indicators.Quote[0]

	history := &History{Symbol: symbol, Interval: interval}
	for i, ts := range result.Timestamp {
		if i >= len(quote.Close) {
			break
		}
		history.Candles = append(history.Candles, Candle{
			Date:   time.Unix(ts, 0).UTC(),
			Open:   at(quote.Open, i),
			High:   at(quote.High, i),
			Low:    at(quote.Low, i),
			Close:  at(quote.Close, i),
			Volume: atInt(quote.Volume, i),
		})
	}
	if len(history.Candles) == 0 {
		return nil, nil
	}
	return history, nil
}

type yahooSearchResponse struct {
	Quotes []struct {
		Symbol    string `json:"symbol"`
		ShortName string `json:"shortname"`
		LongName  string `json:"longname"`
		Exchange  string `json:"exchange"`
	} `json:"quotes"`
}

func (p *YFinanceProvider) GetInfo(ctx context.Context, symbol string, market Market) (*Info, error) {
	var decoded yahooSearchResponse
	if err := p.getJSON(ctx, "/v1/finance/search", url.Values{"q": {symbol}}, &decoded); err != nil {
		return nil, err
	}
	for _, q := range decoded.Quotes {
		if q.Symbol == symbol {
			name := q.LongName
			if name == "" {
				name = q.ShortName
			}
			return &Info{Symbol: q.Symbol, Name: name, Exchange: q.Exchange}, nil
		}
	}
	return nil, nil
}

// GetFinancials is unavailable on the public endpoints; the router falls
// through to a tier that carries fundamentals.
func (p *YFinanceProvider) GetFinancials(ctx context.Context, symbol string, market Market) (*Financials, error) {
	return nil, nil
}

func (p *YFinanceProvider) Search(ctx context.Context, query string, markets []Market) ([]SearchResult, error) {
	var decoded yahooSearchResponse
	if err := p.getJSON(ctx, "/v1/finance/search", url.Values{"q": {query}}, &decoded); err != nil {
		return nil, err
	}
	var out []SearchResult
	for _, q := range decoded.Quotes {
		if q.Symbol == "" {
			continue
		}
		name := q.LongName
		if name == "" {
			name = q.ShortName
		}
		out = append(out, SearchResult{
			Symbol:   q.Symbol,
			Name:     name,
			Market:   DetectMarket(q.Symbol),
			Exchange: q.Exchange,
		})
	}
	return out, nil
}

const userAgent = "Mozilla/5.0 (compatible; webstock-newscore/1.0)"

func at(values []float64, i int) float64 {
	if i < len(values) {
		return values[i]
	}
	return 0
}

func atInt(values []int64, i int) int64 {
	if i < len(values) {
		return values[i]
	}
	return 0
}
