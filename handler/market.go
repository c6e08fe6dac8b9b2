/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L2
Logic:       Market data read endpoints backed by the provider
             router, with cache-aside + stampede protection in
             front of every read and stale fallback on provider
             failure.
Root Cause:  Sprint task N094 — market data API.
Suitability: L2 for cached read endpoints.
──────────────────────────────────────────────────────────────
*/

package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/avesed/webstock/services/newscore/cache"
	"github.com/avesed/webstock/services/newscore/marketdata"
	"github.com/go-chi/chi/v5"
)

// MarketQuote serves GET /v1/market/quote/{symbol}.
func (d *Deps) MarketQuote(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	market := marketdata.Market(r.URL.Query().Get("market"))

	data, err := d.Cache.GetWithLock(r.Context(), cache.PrefixQuote, symbol, cache.TTLRealtimeQuote,
		func(ctx context.Context) (any, error) {
			quote := d.Market.GetQuote(ctx, symbol, market)
			if quote == nil {
				return nil, fmt.Errorf("no provider returned a quote for %s", symbol)
			}
			return quote, nil
		})
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "quote unavailable for "+symbol)
		return
	}
	writeRaw(w, http.StatusOK, data)
}

// MarketHistory serves GET /v1/market/history/{symbol}.
func (d *Deps) MarketHistory(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	period := r.URL.Query().Get("period")
	interval := r.URL.Query().Get("interval")
	market := marketdata.Market(r.URL.Query().Get("market"))

	key := fmt.Sprintf("%s:%s:%s", symbol, period, interval)
	data, err := d.Cache.GetWithLock(r.Context(), cache.PrefixHistory, key, cache.TTLFinancialData,
		func(ctx context.Context) (any, error) {
			history := d.Market.GetHistory(ctx, symbol, market, period, interval)
			if history == nil {
				return nil, fmt.Errorf("no provider returned history for %s", symbol)
			}
			return history, nil
		})
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "history unavailable for "+symbol)
		return
	}
	writeRaw(w, http.StatusOK, data)
}

// MarketInfo serves GET /v1/market/info/{symbol}.
func (d *Deps) MarketInfo(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	market := marketdata.Market(r.URL.Query().Get("market"))

	data, err := d.Cache.GetWithLock(r.Context(), cache.PrefixInfo, symbol, cache.TTLCompanyInfo,
		func(ctx context.Context) (any, error) {
			info := d.Market.GetInfo(ctx, symbol, market)
			if info == nil {
				return nil, fmt.Errorf("no provider returned info for %s", symbol)
			}
			return info, nil
		})
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "info unavailable for "+symbol)
		return
	}
	writeRaw(w, http.StatusOK, data)
}

// MarketSearch serves GET /v1/market/search?q=...
func (d *Deps) MarketSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "q is required")
		return
	}

	data, err := d.Cache.GetWithLock(r.Context(), cache.PrefixSearch, strings.ToLower(query), cache.TTLStockSearch,
		func(ctx context.Context) (any, error) {
			return d.Market.Search(ctx, query, nil), nil
		})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "provider_error", "search failed")
		return
	}
	writeRaw(w, http.StatusOK, data)
}
