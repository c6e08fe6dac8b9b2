/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L2
Logic:       Tushare Pro provider: token-authenticated JSON-RPC
             style API. Optional middle tier for A-shares,
             registered only when a token is configured.
Root Cause:  Sprint task N054 — tushare provider.
Context:     The API takes {api_name, token, params, fields} and
             returns columnar data (fields + items).
Suitability: L2 for an HTTP data client.
──────────────────────────────────────────────────────────────
*/

package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const tushareEndpoint = "http://api.tushare.pro"

// TushareProvider reads A-share data from Tushare Pro.
type TushareProvider struct {
	token  string
	client *http.Client
}

// NewTushareProvider creates the provider with the given token.
func NewTushareProvider(token string, timeout time.Duration) *TushareProvider {
	return &TushareProvider{
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *TushareProvider) Source() string { return "tushare" }

type tushareRequest struct {
	APIName string         `json:"api_name"`
	Token   string         `json:"token"`
	Params  map[string]any `json:"params"`
	Fields  string         `json:"fields,omitempty"`
}

type tushareResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Fields []string `json:"fields"`
		Items  [][]any  `json:"items"`
	} `json:"data"`
}

func (p *TushareProvider) call(ctx context.Context, apiName string, params map[string]any, fields string) (*tushareResponse, error) {
	body, err := json.Marshal(tushareRequest{APIName: apiName, Token: p.token, Params: params, Fields: fields})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tushareEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tushare: status %d", resp.StatusCode)
	}

	var decoded tushareResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	if decoded.Code != 0 {
		return nil, fmt.Errorf("tushare: %s", decoded.Msg)
	}
	return &decoded, nil
}

// tsCode converts "600519.SH" style symbols to Tushare ts_code format.
func tsCode(symbol string) string {
	return strings.ToUpper(symbol)
}

func field(resp *tushareResponse, row []any, name string) float64 {
	for i, f := range resp.Data.Fields {
		if f == name && i < len(row) {
			if v, ok := row[i].(float64); ok {
				return v
			}
		}
	}
	return 0
}

func (p *TushareProvider) GetQuote(ctx context.Context, symbol string, market Market) (*Quote, error) {
	resp, err := p.call(ctx, "daily", map[string]any{"ts_code": tsCode(symbol), "limit": 1}, "ts_code,trade_date,close,pre_close,vol")
	if err != nil {
		return nil, err
	}
	if len(resp.Data.Items) == 0 {
		return nil, nil
	}
	row := resp.Data.Items[0]
	closePrice := field(resp, row, "close")
	preClose := field(resp, row, "pre_close")
	change := closePrice - preClose
	changePct := 0.0
	if preClose != 0 {
		changePct = change / preClose * 100
	}
	return &Quote{
		Symbol:        symbol,
		Price:         closePrice,
		Change:        change,
		ChangePercent: changePct,
		Volume:        int64(field(resp, row, "vol")),
		Currency:      "CNY",
		Market:        market,
		AsOf:          time.Now().UTC(),
	}, nil
}

func (p *TushareProvider) GetHistory(ctx context.Context, symbol string, market Market, period, interval string) (*History, error) {
	resp, err := p.call(ctx, "daily", map[string]any{"ts_code": tsCode(symbol)}, "trade_date,open,high,low,close,vol")
	if err != nil {
		return nil, err
	}
	if len(resp.Data.Items) == 0 {
		return nil, nil
	}
	history := &History{Symbol: symbol, Interval: "1d"}
	for i := len(resp.Data.Items) - 1; i >= 0; i-- {
		row := resp.Data.Items[i]
		var date time.Time
		for j, f := range resp.Data.Fields {
			if f == "trade_date" && j < len(row) {
				if s, ok := row[j].(string); ok {
					date, _ = time.Parse("20060102", s)
				}
			}
		}
		history.Candles = append(history.Candles, Candle{
			Date:   date,
			Open:   field(resp, row, "open"),
			High:   field(resp, row, "high"),
			Low:    field(resp, row, "low"),
			Close:  field(resp, row, "close"),
			Volume: int64(field(resp, row, "vol")),
		})
	}
	return history, nil
}

func (p *TushareProvider) GetInfo(ctx context.Context, symbol string, market Market) (*Info, error) {
	resp, err := p.call(ctx, "stock_basic", map[string]any{"ts_code": tsCode(symbol)}, "ts_code,name,industry,exchange")
	if err != nil {
		return nil, err
	}
	if len(resp.Data.Items) == 0 {
		return nil, nil
	}
	row := resp.Data.Items[0]
	info := &Info{Symbol: symbol, Currency: "CNY"}
	for i, f := range resp.Data.Fields {
		if i >= len(row) {
			continue
		}
		s, _ := row[i].(string)
		switch f {
		case "name":
			info.Name = s
		case "industry":
			info.Industry = s
		case "exchange":
			info.Exchange = s
		}
	}
	return info, nil
}

func (p *TushareProvider) GetFinancials(ctx context.Context, symbol string, market Market) (*Financials, error) {
	resp, err := p.call(ctx, "fina_indicator", map[string]any{"ts_code": tsCode(symbol), "limit": 1}, "ts_code,eps,roe,end_date")
	if err != nil {
		return nil, err
	}
	if len(resp.Data.Items) == 0 {
		return nil, nil
	}
	row := resp.Data.Items[0]
	return &Financials{
		Symbol: symbol,
		EPS:    field(resp, row, "eps"),
	}, nil
}

// Search is not offered by the Tushare tier; the router uses akshare
// and yfinance for lookup.
func (p *TushareProvider) Search(ctx context.Context, query string, markets []Market) ([]SearchResult, error) {
	return nil, nil
}
