/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L2
Logic:       Time-effective model pricing. The active row for a
             model on date D is the one with the greatest
             effective_from ≤ D. Cost is computed at insert time
             and never recomputed for historical records.
Root Cause:  Sprint task N030 — pricing configuration.
Context:     cached_input_price NULL means cached tokens bill at
             the normal input rate (no cache discount).
Suitability: L2 for pricing lookup and arithmetic.
──────────────────────────────────────────────────────────────
*/

package costs

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ModelPricing is one pricing row, unique on (model, effective_from).
// Prices are USD per 1M tokens.
type ModelPricing struct {
	ID               uuid.UUID
	Model            string
	InputPrice       float64
	CachedInputPrice *float64 // nil = same as InputPrice
	OutputPrice      float64
	EffectiveFrom    time.Time
	CreatedAt        time.Time
}

// ErrNoPricing is returned when no pricing row is active for a model.
var ErrNoPricing = errors.New("no active pricing for model")

// PricingStore reads and writes model_pricing rows.
type PricingStore struct {
	pool *pgxpool.Pool
}

// NewPricingStore creates a pricing store on the given pool.
func NewPricingStore(pool *pgxpool.Pool) *PricingStore {
	return &PricingStore{pool: pool}
}

// ActiveFor returns the pricing row active for model on the given date.
func (s *PricingStore) ActiveFor(ctx context.Context, model string, on time.Time) (*ModelPricing, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, model, input_price, cached_input_price, output_price, effective_from, created_at
		FROM model_pricing
		WHERE model = $1 AND effective_from <= $2
		ORDER BY effective_from DESC
		LIMIT 1`, model, on)

	var p ModelPricing
	err := row.Scan(&p.ID, &p.Model, &p.InputPrice, &p.CachedInputPrice, &p.OutputPrice, &p.EffectiveFrom, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoPricing
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Upsert inserts a pricing row, replacing an existing row with the same
// (model, effective_from).
func (s *PricingStore) Upsert(ctx context.Context, p *ModelPricing) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO model_pricing (id, model, input_price, cached_input_price, output_price, effective_from)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (model, effective_from) DO UPDATE SET
			input_price = EXCLUDED.input_price,
			cached_input_price = EXCLUDED.cached_input_price,
			output_price = EXCLUDED.output_price`,
		p.ID, p.Model, p.InputPrice, p.CachedInputPrice, p.OutputPrice, p.EffectiveFrom)
	return err
}

// List returns all pricing rows, newest first.
func (s *PricingStore) List(ctx context.Context) ([]ModelPricing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, model, input_price, cached_input_price, output_price, effective_from, created_at
		FROM model_pricing
		ORDER BY model, effective_from DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ModelPricing
	for rows.Next() {
		var p ModelPricing
		if err := rows.Scan(&p.ID, &p.Model, &p.InputPrice, &p.CachedInputPrice, &p.OutputPrice, &p.EffectiveFrom, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ComputeCost applies the insert-time cost formula:
//
//	(prompt−cached)/1e6·input + cached/1e6·cachedInput + completion/1e6·output
//
// Rounded to 8 decimal places.
func ComputeCost(p *ModelPricing, promptTokens, completionTokens, cachedTokens int64) float64 {
	if p == nil {
		return 0
	}
	if cachedTokens > promptTokens {
		cachedTokens = promptTokens
	}
	cachedRate := p.InputPrice
	if p.CachedInputPrice != nil {
		cachedRate = *p.CachedInputPrice
	}

	cost := float64(promptTokens-cachedTokens)/1e6*p.InputPrice +
		float64(cachedTokens)/1e6*cachedRate +
		float64(completionTokens)/1e6*p.OutputPrice
	return math.Round(cost*1e8) / 1e8
}
