/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L2
Logic:       Shared handler state and JSON response helpers for
             the read-side API.
Root Cause:  Sprint task N091 — API handlers.
Suitability: L2 for HTTP plumbing.
──────────────────────────────────────────────────────────────
*/

package handler

import (
	"encoding/json"
	"net/http"

	"github.com/avesed/webstock/services/newscore/breaker"
	"github.com/avesed/webstock/services/newscore/cache"
	"github.com/avesed/webstock/services/newscore/costs"
	"github.com/avesed/webstock/services/newscore/llm"
	"github.com/avesed/webstock/services/newscore/marketdata"
	"github.com/avesed/webstock/services/newscore/newsstore"
	"github.com/avesed/webstock/services/newscore/rag"
	"github.com/avesed/webstock/services/newscore/store"
	"github.com/rs/zerolog"
)

// Deps carries everything the handlers read from.
type Deps struct {
	News     *store.NewsStore
	Blobs    *newsstore.Store
	Searcher *rag.Searcher
	Gateway  *llm.Gateway
	Settings *store.SettingsStore
	Metrics  *costs.Metrics
	Pricing  *costs.PricingStore
	Breakers *breaker.Registry
	Market   *marketdata.Router
	Cache    *cache.Service
	Log      zerolog.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{"error": kind, "message": message})
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
