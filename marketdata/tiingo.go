/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L2
Logic:       Tiingo provider: optional US fallback tier with
             fundamentals, registered only when an API key is
             configured.
Root Cause:  Sprint task N055 — tiingo provider.
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

const tiingoBaseURL = "https://api.tiingo.com"

// TiingoProvider reads US equity data from Tiingo.
type TiingoProvider struct {
	apiKey string
	client *http.Client
}

// NewTiingoProvider creates the provider with the given API key.
func NewTiingoProvider(apiKey string, timeout time.Duration) *TiingoProvider {
	return &TiingoProvider{
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *TiingoProvider) Source() string { return "tiingo" }

func (p *TiingoProvider) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("token", p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tiingoBaseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tiingo: status %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type tiingoPrice struct {
	Date      time.Time `json:"date"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	PrevClose float64   `json:"prevClose"`
	Volume    int64     `json:"volume"`
}

func (p *TiingoProvider) GetQuote(ctx context.Context, symbol string, market Market) (*Quote, error) {
	var prices []tiingoPrice
	if err := p.getJSON(ctx, "/tiingo/daily/"+url.PathEscape(symbol)+"/prices", nil, &prices); err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, nil
	}
	latest := prices[len(prices)-1]
	change := latest.Close - latest.PrevClose
	changePct := 0.0
	if latest.PrevClose != 0 {
		changePct = change / latest.PrevClose * 100
	}
	return &Quote{
		Symbol:        symbol,
		Price:         latest.Close,
		Change:        change,
		ChangePercent: changePct,
		Volume:        latest.Volume,
		Currency:      "USD",
		Market:        market,
		AsOf:          latest.Date,
	}, nil
}

func (p *TiingoProvider) GetHistory(ctx context.Context, symbol string, market Market, period, interval string) (*History, error) {
	var prices []tiingoPrice
	if err := p.getJSON(ctx, "/tiingo/daily/"+url.PathEscape(symbol)+"/prices", url.Values{
		"startDate": {time.Now().AddDate(0, -1, 0).Format("2006-01-02")},
	}, &prices); err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, nil
	}
	history := &History{Symbol: symbol, Interval: "1d"}
	for _, pr := range prices {
		history.Candles = append(history.Candles, Candle{
			Date: pr.Date, Open: pr.Open, High: pr.High,
			Low: pr.Low, Close: pr.Close, Volume: pr.Volume,
		})
	}
	return history, nil
}

type tiingoMeta struct {
	Ticker      string `json:"ticker"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ExchangeCode string `json:"exchangeCode"`
}

func (p *TiingoProvider) GetInfo(ctx context.Context, symbol string, market Market) (*Info, error) {
	var meta tiingoMeta
	if err := p.getJSON(ctx, "/tiingo/daily/"+url.PathEscape(symbol), nil, &meta); err != nil {
		return nil, err
	}
	if meta.Ticker == "" {
		return nil, nil
	}
	return &Info{
		Symbol:   meta.Ticker,
		Name:     meta.Name,
		Summary:  meta.Description,
		Exchange: meta.ExchangeCode,
		Currency: "USD",
	}, nil
}

func (p *TiingoProvider) GetFinancials(ctx context.Context, symbol string, market Market) (*Financials, error) {
	var rows []map[string]float64
	if err := p.getJSON(ctx, "/tiingo/fundamentals/"+url.PathEscape(symbol)+"/daily", nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	latest := rows[len(rows)-1]
	return &Financials{
		Symbol:  symbol,
		PERatio: latest["peRatio"],
		EPS:     latest["trailingEps1Y"],
	}, nil
}

// Search is not offered by this tier.
func (p *TiingoProvider) Search(ctx context.Context, query string, markets []Market) ([]SearchResult, error) {
	return nil, nil
}
