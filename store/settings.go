/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L2
Logic:       Live system settings read on every pipeline
             invocation: feature flag, Layer 1 thresholds,
             per-purpose model assignments, credentials, and
             retention days.
Root Cause:  Sprint task N012 — admin settings access.
Context:     Thresholds stored on the legacy 0–100 scale
             (score_scale=100) are converted by ×3 on read.
Suitability: L2 for a settings reader.
──────────────────────────────────────────────────────────────
*/

package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SystemSettings is the admin-managed runtime configuration.
type SystemSettings struct {
	EnableLLMPipeline           bool
	Layer1DiscardThreshold      int
	Layer1FullAnalysisThreshold int
	Layer1Model                 string
	CleaningModel               string
	DeepFilterModel             string
	LightweightModel            string
	EmbeddingModel              string
	OpenAIAPIKey                string
	OpenAIBaseURL               string
	AnthropicAPIKey             string
	AnthropicBaseURL            string
	NewsRetentionDays           int
}

// SettingsStore reads the singleton system_settings row.
type SettingsStore struct {
	pool *pgxpool.Pool
}

// NewSettingsStore creates the reader.
func NewSettingsStore(pool *pgxpool.Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

// Load reads current settings. Thresholds recorded on the legacy 0–100
// scale are converted to the 0–300 scale.
func (s *SettingsStore) Load(ctx context.Context) (*SystemSettings, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT enable_llm_pipeline,
		       layer1_discard_threshold, layer1_full_analysis_threshold, layer1_score_scale,
		       layer1_model, cleaning_model, deep_filter_model, lightweight_model, embedding_model,
		       COALESCE(openai_api_key, ''), COALESCE(openai_base_url, ''),
		       COALESCE(anthropic_api_key, ''), COALESCE(anthropic_base_url, ''),
		       news_retention_days
		FROM system_settings WHERE id = 1`)

	var out SystemSettings
	var scale int
	err := row.Scan(
		&out.EnableLLMPipeline,
		&out.Layer1DiscardThreshold, &out.Layer1FullAnalysisThreshold, &scale,
		&out.Layer1Model, &out.CleaningModel, &out.DeepFilterModel, &out.LightweightModel, &out.EmbeddingModel,
		&out.OpenAIAPIKey, &out.OpenAIBaseURL,
		&out.AnthropicAPIKey, &out.AnthropicBaseURL,
		&out.NewsRetentionDays,
	)
	if err != nil {
		return nil, err
	}

	if scale == 100 {
		out.Layer1DiscardThreshold *= 3
		out.Layer1FullAnalysisThreshold *= 3
	}
	return &out, nil
}
