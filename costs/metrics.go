/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L2
Logic:       Cost metric aggregates over llm_usage_records:
             summary totals, daily time series, and per-purpose
             breakdown, all filterable by purpose and model.
Root Cause:  Sprint task N032 — cost metric endpoints.
Context:     Aggregates sum the cost stored at insert time; there
             is no live repricing.
Suitability: L2 for aggregate SQL.
──────────────────────────────────────────────────────────────
*/

package costs

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Filter narrows metric queries. Zero values mean "no filter".
type Filter struct {
	From    time.Time
	To      time.Time
	Purpose string
	Model   string
}

// Summary is the aggregate over a period.
type Summary struct {
	TotalCostUSD     float64 `json:"total_cost_usd"`
	TotalCalls       int64   `json:"total_calls"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	CachedTokens     int64   `json:"cached_tokens"`
}

// DailyCost is one day of the time series.
type DailyCost struct {
	Date    string  `json:"date"`
	CostUSD float64 `json:"cost_usd"`
	Calls   int64   `json:"calls"`
}

// PurposeCost is one row of the per-purpose breakdown.
type PurposeCost struct {
	Purpose     string  `json:"purpose"`
	CostUSD     float64 `json:"cost_usd"`
	Calls       int64   `json:"calls"`
	TotalTokens int64   `json:"total_tokens"`
}

// Metrics serves cost aggregates.
type Metrics struct {
	pool *pgxpool.Pool
}

// NewMetrics creates a metrics reader.
func NewMetrics(pool *pgxpool.Pool) *Metrics {
	return &Metrics{pool: pool}
}

func (f Filter) where() (string, []any) {
	clause := "WHERE 1=1"
	args := []any{}
	i := 1
	if !f.From.IsZero() {
		clause += " AND created_at >= $" + itoa(i)
		args = append(args, f.From)
		i++
	}
	if !f.To.IsZero() {
		clause += " AND created_at < $" + itoa(i)
		args = append(args, f.To)
		i++
	}
	if f.Purpose != "" {
		clause += " AND purpose = $" + itoa(i)
		args = append(args, f.Purpose)
		i++
	}
	if f.Model != "" {
		clause += " AND model = $" + itoa(i)
		args = append(args, f.Model)
	}
	return clause, args
}

func itoa(i int) string {
	return strconv.Itoa(i)
}

// Summary returns the aggregate totals for the filter.
func (m *Metrics) Summary(ctx context.Context, f Filter) (*Summary, error) {
	clause, args := f.where()
	row := m.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(cost_usd), 0), COUNT(*),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(cached_tokens), 0)
		FROM llm_usage_records `+clause, args...)

	var s Summary
	if err := row.Scan(&s.TotalCostUSD, &s.TotalCalls, &s.PromptTokens, &s.CompletionTokens, &s.CachedTokens); err != nil {
		return nil, err
	}
	return &s, nil
}

// Daily returns the per-day series for the filter.
func (m *Metrics) Daily(ctx context.Context, f Filter) ([]DailyCost, error) {
	clause, args := f.where()
	rows, err := m.pool.Query(ctx, `
		SELECT to_char(created_at::date, 'YYYY-MM-DD'), COALESCE(SUM(cost_usd), 0), COUNT(*)
		FROM llm_usage_records `+clause+`
		GROUP BY created_at::date
		ORDER BY created_at::date`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailyCost
	for rows.Next() {
		var d DailyCost
		if err := rows.Scan(&d.Date, &d.CostUSD, &d.Calls); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ByPurpose returns the per-purpose breakdown for the filter.
func (m *Metrics) ByPurpose(ctx context.Context, f Filter) ([]PurposeCost, error) {
	clause, args := f.where()
	rows, err := m.pool.Query(ctx, `
		SELECT purpose, COALESCE(SUM(cost_usd), 0), COUNT(*), COALESCE(SUM(total_tokens), 0)
		FROM llm_usage_records `+clause+`
		GROUP BY purpose
		ORDER BY SUM(cost_usd) DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PurposeCost
	for rows.Next() {
		var p PurposeCost
		if err := rows.Scan(&p.Purpose, &p.CostUSD, &p.Calls, &p.TotalTokens); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
