/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       chi router wiring the full middleware chain and the
             read-side API: news feed, content, hybrid search,
             market data, cost metrics, and admin status.
Root Cause:  Sprint task N095 — HTTP routing.
Suitability: L3 for API surface assembly.
──────────────────────────────────────────────────────────────
*/

package router

import (
	"net/http"

	"github.com/avesed/webstock/services/newscore/config"
	"github.com/avesed/webstock/services/newscore/handler"
	"github.com/avesed/webstock/services/newscore/middleware"
	"github.com/avesed/webstock/services/newscore/ratelimit"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// New assembles the HTTP router.
func New(cfg *config.Config, log zerolog.Logger, deps *handler.Deps, window *ratelimit.SlidingWindow) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)
	if cfg.MaxBodyBytes > 0 {
		r.Use(chimw.RequestSize(cfg.MaxBodyBytes))
	}

	r.Get("/healthz", deps.Health)
	r.Get("/ready", deps.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(window, cfg.RateLimitEnabled, log))

		r.Get("/news/{symbol}", deps.NewsBySymbol)
		r.Get("/news/{id}/content", deps.NewsContent)
		r.Get("/search", deps.Search)

		r.Get("/market/quote/{symbol}", deps.MarketQuote)
		r.Get("/market/history/{symbol}", deps.MarketHistory)
		r.Get("/market/info/{symbol}", deps.MarketInfo)
		r.Get("/market/search", deps.MarketSearch)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/costs/summary", deps.CostSummary)
			r.Get("/costs/daily", deps.CostDaily)
			r.Get("/costs/by-purpose", deps.CostByPurpose)
			r.Get("/pricing", deps.PricingList)
			r.Get("/breakers", deps.BreakerStatus)
			r.Get("/storage", deps.StorageStats)
		})
	})

	return r
}
