/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       LLM usage recorder: persists one append-only row per
             completed gateway call with cost computed against
             the pricing active on the call date.
Root Cause:  Sprint task N031 — cost accounting.
Context:     Installed as the gateway's usage observer at
             startup. Recording never blocks or fails a call;
             insert errors are logged and dropped.
Suitability: L3 — persistence on a hot path.
──────────────────────────────────────────────────────────────
*/

package costs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/avesed/webstock/services/newscore/llm"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Recorder persists llm_usage_records rows. Implements llm.UsageRecorder.
type Recorder struct {
	pool    *pgxpool.Pool
	pricing *PricingStore
	log     zerolog.Logger
	timeout time.Duration
}

// NewRecorder creates a usage recorder.
func NewRecorder(pool *pgxpool.Pool, pricing *PricingStore, log zerolog.Logger) *Recorder {
	return &Recorder{
		pool:    pool,
		pricing: pricing,
		log:     log.With().Str("component", "cost_recorder").Logger(),
		timeout: 5 * time.Second,
	}
}

// RecordUsage computes cost against the active pricing row and inserts
// the record. A model without pricing records cost 0 with a warning.
func (r *Recorder) RecordUsage(u llm.Usage) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	now := time.Now().UTC()
	var pricingID *uuid.UUID
	var cost float64

	pricing, err := r.pricing.ActiveFor(ctx, u.Model, now)
	switch {
	case err == nil:
		cost = ComputeCost(pricing, u.PromptTokens, u.CompletionTokens, u.CachedTokens)
		pricingID = &pricing.ID
	case errors.Is(err, ErrNoPricing):
		r.log.Warn().Str("model", u.Model).Msg("no pricing configured, recording zero cost")
	default:
		r.log.Error().Err(err).Str("model", u.Model).Msg("pricing lookup failed")
	}

	var metadata []byte
	if len(u.Metadata) > 0 {
		metadata, _ = json.Marshal(u.Metadata)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO llm_usage_records
			(id, created_at, model, purpose, user_id,
			 prompt_tokens, completion_tokens, cached_tokens, total_tokens,
			 cost_usd, metadata, pricing_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		uuid.New(), now, u.Model, u.Purpose, u.UserID,
		u.PromptTokens, u.CompletionTokens, u.CachedTokens,
		u.PromptTokens+u.CompletionTokens,
		cost, metadata, pricingID)
	if err != nil {
		r.log.Error().Err(err).
			Str("model", u.Model).
			Str("purpose", u.Purpose).
			Msg("failed to insert usage record")
		return
	}

	r.log.Debug().
		Str("model", u.Model).
		Str("purpose", u.Purpose).
		Int64("tokens", u.PromptTokens+u.CompletionTokens).
		Float64("cost_usd", cost).
		Msg("recorded llm usage")
}
