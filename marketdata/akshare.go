/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L2
Logic:       AKShare provider: client for the sidecar data
             service that wraps the AKShare library. Primary tier
             for HK and A-share (SH/SZ) markets.
Root Cause:  Sprint task N053 — akshare provider.
Context:     The sidecar exposes a small JSON API mirroring the
             uniform read shape.
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
	"strings"
	"time"
)

// AKShareProvider talks to the AKShare sidecar service.
type AKShareProvider struct {
	baseURL string
	client  *http.Client
}

// NewAKShareProvider creates the provider for the given sidecar URL.
func NewAKShareProvider(baseURL string, timeout time.Duration) *AKShareProvider {
	return &AKShareProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *AKShareProvider) Source() string { return "akshare" }

func (p *AKShareProvider) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := p.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("akshare: status %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *AKShareProvider) GetQuote(ctx context.Context, symbol string, market Market) (*Quote, error) {
	var quote Quote
	err := p.getJSON(ctx, "/quote", url.Values{"symbol": {symbol}, "market": {string(market)}}, &quote)
	if err != nil {
		return nil, err
	}
	if quote.Symbol == "" {
		return nil, nil
	}
	quote.Market = market
	return &quote, nil
}

func (p *AKShareProvider) GetHistory(ctx context.Context, symbol string, market Market, period, interval string) (*History, error) {
	var history History
	err := p.getJSON(ctx, "/history", url.Values{
		"symbol": {symbol}, "market": {string(market)},
		"period": {period}, "interval": {interval},
	}, &history)
	if err != nil {
		return nil, err
	}
	if len(history.Candles) == 0 {
		return nil, nil
	}
	return &history, nil
}

func (p *AKShareProvider) GetInfo(ctx context.Context, symbol string, market Market) (*Info, error) {
	var info Info
	err := p.getJSON(ctx, "/info", url.Values{"symbol": {symbol}, "market": {string(market)}}, &info)
	if err != nil {
		return nil, err
	}
	if info.Symbol == "" {
		return nil, nil
	}
	return &info, nil
}

func (p *AKShareProvider) GetFinancials(ctx context.Context, symbol string, market Market) (*Financials, error) {
	var fin Financials
	err := p.getJSON(ctx, "/financials", url.Values{"symbol": {symbol}, "market": {string(market)}}, &fin)
	if err != nil {
		return nil, err
	}
	if fin.Symbol == "" {
		return nil, nil
	}
	return &fin, nil
}

func (p *AKShareProvider) Search(ctx context.Context, query string, markets []Market) ([]SearchResult, error) {
	marketParams := make([]string, len(markets))
	for i, m := range markets {
		marketParams[i] = string(m)
	}
	var results []SearchResult
	err := p.getJSON(ctx, "/search", url.Values{
		"q":       {query},
		"markets": {strings.Join(marketParams, ",")},
	}, &results)
	if err != nil {
		return nil, err
	}
	return results, nil
}
