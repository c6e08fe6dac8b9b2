/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L2
Logic:       Cost metric endpoints: aggregate summary, daily time
             series, per-purpose breakdown, and pricing listing.
             All aggregates respect the cost stored at insert
             time.
Root Cause:  Sprint task N093 — cost API.
Suitability: L2 for reporting endpoints.
──────────────────────────────────────────────────────────────
*/

package handler

import (
	"net/http"
	"time"

	"github.com/avesed/webstock/services/newscore/costs"
)

func costFilter(r *http.Request) costs.Filter {
	f := costs.Filter{
		Purpose: r.URL.Query().Get("purpose"),
		Model:   r.URL.Query().Get("model"),
	}
	if from := r.URL.Query().Get("from"); from != "" {
		if t, err := time.Parse("2006-01-02", from); err == nil {
			f.From = t
		}
	}
	if to := r.URL.Query().Get("to"); to != "" {
		if t, err := time.Parse("2006-01-02", to); err == nil {
			f.To = t.AddDate(0, 0, 1)
		}
	}
	return f
}

// CostSummary serves GET /v1/admin/costs/summary.
func (d *Deps) CostSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := d.Metrics.Summary(r.Context(), costFilter(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", "failed to aggregate costs")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// CostDaily serves GET /v1/admin/costs/daily.
func (d *Deps) CostDaily(w http.ResponseWriter, r *http.Request) {
	series, err := d.Metrics.Daily(r.Context(), costFilter(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", "failed to aggregate costs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"daily": series})
}

// CostByPurpose serves GET /v1/admin/costs/by-purpose.
func (d *Deps) CostByPurpose(w http.ResponseWriter, r *http.Request) {
	breakdown, err := d.Metrics.ByPurpose(r.Context(), costFilter(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", "failed to aggregate costs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purposes": breakdown})
}

// PricingList serves GET /v1/admin/pricing.
func (d *Deps) PricingList(w http.ResponseWriter, r *http.Request) {
	rows, err := d.Pricing.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", "failed to list pricing")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pricing": rows})
}
