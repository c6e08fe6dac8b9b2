/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Market-based provider routing with ordered fallback
             chains. A provider result is accepted when it is
             non-nil and error-free; on error or miss the router
             logs and falls through to the next provider.
Root Cause:  Sprint task N051 — provider router.
Context:     US → yfinance (+tiingo), HK → akshare, yfinance,
             SH/SZ → akshare (+tushare), yfinance, METAL →
             yfinance. Search fans out in parallel and dedups by
             symbol with first-occurrence precedence.
Suitability: L3 for dispatch and fan-out logic.
──────────────────────────────────────────────────────────────
*/

package marketdata

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Router dispatches reads to providers by market with fallback.
type Router struct {
	log     zerolog.Logger
	routing map[Market][]Provider

	yfinance Provider
	akshare  Provider
}

// NewRouter builds the routing table. tushare and tiingo are optional
// tiers registered only when configured.
func NewRouter(yfinance, akshare Provider, tushare, tiingo Provider, log zerolog.Logger) *Router {
	shsz := []Provider{akshare}
	if tushare != nil {
		shsz = append(shsz, tushare)
	}
	shsz = append(shsz, yfinance)

	us := []Provider{yfinance}
	if tiingo != nil {
		us = append(us, tiingo)
	}

	r := &Router{
		log:      log.With().Str("component", "provider_router").Logger(),
		yfinance: yfinance,
		akshare:  akshare,
		routing: map[Market][]Provider{
			MarketUS:    us,
			MarketMetal: {yfinance},
			MarketHK:    {akshare, yfinance},
			MarketSH:    shsz,
			MarketSZ:    shsz,
		},
	}
	return r
}

// Providers returns the ordered provider list for a market.
func (r *Router) Providers(market Market) []Provider {
	if providers, ok := r.routing[market]; ok {
		return providers
	}
	return []Provider{r.yfinance}
}

// tryProviders runs fn against each provider in order until one returns
// a non-nil result without error.
func tryProviders[T any](r *Router, ctx context.Context, market Market, operation string, fn func(Provider) (*T, error)) *T {
	for i, provider := range r.Providers(market) {
		result, err := fn(provider)
		if err != nil {
			r.log.Warn().Err(err).
				Str("operation", operation).
				Str("provider", provider.Source()).
				Msg("provider failed, falling through")
			continue
		}
		if result == nil {
			r.log.Debug().
				Str("operation", operation).
				Str("provider", provider.Source()).
				Msg("provider returned no data, trying next")
			continue
		}
		if i > 0 {
			r.log.Info().
				Str("operation", operation).
				Str("provider", provider.Source()).
				Msg("fallback provider succeeded")
		}
		return result
	}
	return nil
}

// GetQuote returns a quote with automatic fallback.
func (r *Router) GetQuote(ctx context.Context, symbol string, market Market) *Quote {
	if market == "" {
		market = DetectMarket(symbol)
	}
	return tryProviders(r, ctx, market, "get_quote", func(p Provider) (*Quote, error) {
		return p.GetQuote(ctx, symbol, market)
	})
}

// GetHistory returns a bar series with automatic fallback.
func (r *Router) GetHistory(ctx context.Context, symbol string, market Market, period, interval string) *History {
	if market == "" {
		market = DetectMarket(symbol)
	}
	return tryProviders(r, ctx, market, "get_history", func(p Provider) (*History, error) {
		return p.GetHistory(ctx, symbol, market, period, interval)
	})
}

// GetInfo returns reference data with automatic fallback.
func (r *Router) GetInfo(ctx context.Context, symbol string, market Market) *Info {
	if market == "" {
		market = DetectMarket(symbol)
	}
	return tryProviders(r, ctx, market, "get_info", func(p Provider) (*Info, error) {
		return p.GetInfo(ctx, symbol, market)
	})
}

// GetFinancials returns fundamentals with automatic fallback.
func (r *Router) GetFinancials(ctx context.Context, symbol string, market Market) *Financials {
	if market == "" {
		market = DetectMarket(symbol)
	}
	return tryProviders(r, ctx, market, "get_financials", func(p Provider) (*Financials, error) {
		return p.GetFinancials(ctx, symbol, market)
	})
}

// Search fans out to the selected providers in parallel and
// deduplicates by symbol, first occurrence winning. Metals match first.
func (r *Router) Search(ctx context.Context, query string, markets []Market) []SearchResult {
	if len(markets) == 0 {
		markets = []Market{MarketUS, MarketHK, MarketSH, MarketSZ, MarketMetal}
	}
	selected := make(map[Market]bool, len(markets))
	for _, m := range markets {
		selected[m] = true
	}

	var results []SearchResult
	if selected[MarketMetal] {
		results = append(results, SearchMetals(query)...)
	}

	type task struct {
		provider Provider
		markets  []Market
	}
	var tasks []task
	if selected[MarketUS] {
		tasks = append(tasks, task{r.yfinance, []Market{MarketUS}})
	}
	if selected[MarketHK] {
		tasks = append(tasks, task{r.akshare, []Market{MarketHK}})
	}
	if selected[MarketSH] || selected[MarketSZ] {
		tasks = append(tasks, task{r.akshare, []Market{MarketSH, MarketSZ}})
	}

	// Collect per task, then merge in task order so dedup precedence
	// is deterministic.
	perTask := make([][]SearchResult, len(tasks))
	var wg sync.WaitGroup
	for i, tk := range tasks {
		wg.Add(1)
		go func(i int, tk task) {
			defer wg.Done()
			found, err := tk.provider.Search(ctx, query, tk.markets)
			if err != nil {
				r.log.Error().Err(err).Str("provider", tk.provider.Source()).Msg("search error")
				return
			}
			perTask[i] = found
		}(i, tk)
	}
	wg.Wait()
	for _, found := range perTask {
		results = append(results, found...)
	}

	seen := make(map[string]bool, len(results))
	unique := make([]SearchResult, 0, len(results))
	for _, res := range results {
		if seen[res.Symbol] {
			continue
		}
		seen[res.Symbol] = true
		unique = append(unique, res)
	}
	if len(unique) > 50 {
		unique = unique[:50]
	}
	return unique
}
