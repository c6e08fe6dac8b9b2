/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Postgres pool construction and monotonic schema
             bootstrap. Each migration runs once, recorded in
             schema_migrations; startup fails hard when the
             database is unreachable.
Root Cause:  Sprint task N010 — relational storage bootstrap.
Context:     Requires the pgvector and pg_trgm extensions for
             the embedding store and hybrid search.
Suitability: L3 for schema lifecycle.
──────────────────────────────────────────────────────────────
*/

package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Connect creates a pgx pool and verifies connectivity.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	return pool, nil
}

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{1, "extensions", `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE EXTENSION IF NOT EXISTS pg_trgm;`},
	{2, "news", `
		CREATE TABLE IF NOT EXISTS news (
			id UUID PRIMARY KEY,
			url VARCHAR(1024) NOT NULL UNIQUE,
			symbol VARCHAR(20),
			market VARCHAR(10) NOT NULL,
			source VARCHAR(100) NOT NULL,
			title VARCHAR(500) NOT NULL,
			summary TEXT,
			published_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

			content_file_path VARCHAR(512),
			content_status VARCHAR(20) NOT NULL DEFAULT 'pending',
			content_error TEXT,

			filter_status VARCHAR(20) NOT NULL DEFAULT 'pending',
			content_score INTEGER,
			score_details JSONB,
			processing_path VARCHAR(20),
			sentiment_tag VARCHAR(20),
			industry_tags JSONB,
			event_tags JSONB,
			investment_summary TEXT,
			detailed_summary TEXT,
			ai_analysis TEXT,
			related_entities JSONB,
			has_stock_entities BOOLEAN NOT NULL DEFAULT false,
			has_macro_entities BOOLEAN NOT NULL DEFAULT false,
			max_entity_score DOUBLE PRECISION,
			primary_entity VARCHAR(100),
			primary_entity_type VARCHAR(20),
			image_insights TEXT,
			has_visual_data BOOLEAN NOT NULL DEFAULT false
		);
		CREATE INDEX IF NOT EXISTS ix_news_symbol ON news (symbol);
		CREATE INDEX IF NOT EXISTS ix_news_filter_status ON news (filter_status);
		CREATE INDEX IF NOT EXISTS ix_news_content_status ON news (content_status);
		CREATE INDEX IF NOT EXISTS ix_news_published_at ON news (published_at);
		CREATE INDEX IF NOT EXISTS ix_news_stock_entities_score ON news (has_stock_entities, max_entity_score);`},
	{3, "model_pricing", `
		CREATE TABLE IF NOT EXISTS model_pricing (
			id UUID PRIMARY KEY,
			model VARCHAR(100) NOT NULL,
			input_price NUMERIC(12,8) NOT NULL DEFAULT 0,
			cached_input_price NUMERIC(12,8),
			output_price NUMERIC(12,8) NOT NULL DEFAULT 0,
			effective_from DATE NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT uq_model_pricing_model_date UNIQUE (model, effective_from)
		);`},
	{4, "llm_usage_records", `
		CREATE TABLE IF NOT EXISTS llm_usage_records (
			id UUID PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			model VARCHAR(100) NOT NULL,
			purpose VARCHAR(50) NOT NULL,
			user_id BIGINT,
			prompt_tokens BIGINT NOT NULL DEFAULT 0,
			completion_tokens BIGINT NOT NULL DEFAULT 0,
			cached_tokens BIGINT NOT NULL DEFAULT 0,
			total_tokens BIGINT NOT NULL DEFAULT 0,
			cost_usd NUMERIC(10,6) NOT NULL DEFAULT 0,
			metadata JSONB,
			pricing_id UUID REFERENCES model_pricing(id) ON DELETE SET NULL
		);
		CREATE INDEX IF NOT EXISTS ix_llm_usage_created_at ON llm_usage_records (created_at);
		CREATE INDEX IF NOT EXISTS ix_llm_usage_purpose ON llm_usage_records (purpose);`},
	{5, "document_embeddings", `
		CREATE TABLE IF NOT EXISTS document_embeddings (
			id BIGSERIAL PRIMARY KEY,
			source_type VARCHAR(20) NOT NULL,
			source_id VARCHAR(64) NOT NULL,
			symbol VARCHAR(20),
			chunk_index INTEGER NOT NULL DEFAULT 0,
			chunk_text TEXT NOT NULL,
			embedding vector(1536) NOT NULL,
			model VARCHAR(100) NOT NULL,
			token_count INTEGER,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT uq_document_embeddings_chunk UNIQUE (source_type, source_id, chunk_index)
		);
		CREATE INDEX IF NOT EXISTS ix_document_embeddings_source ON document_embeddings (source_type, source_id);
		CREATE INDEX IF NOT EXISTS ix_document_embeddings_symbol ON document_embeddings (symbol);
		CREATE INDEX IF NOT EXISTS ix_document_embeddings_trgm ON document_embeddings USING gin (chunk_text gin_trgm_ops);`},
	{6, "system_settings", `
		CREATE TABLE IF NOT EXISTS system_settings (
			id INTEGER PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			enable_llm_pipeline BOOLEAN NOT NULL DEFAULT true,
			layer1_discard_threshold INTEGER NOT NULL DEFAULT 105,
			layer1_full_analysis_threshold INTEGER NOT NULL DEFAULT 195,
			layer1_score_scale INTEGER NOT NULL DEFAULT 300,
			layer1_model VARCHAR(100) NOT NULL DEFAULT 'gpt-4o-mini',
			cleaning_model VARCHAR(100) NOT NULL DEFAULT 'gpt-4o-mini',
			deep_filter_model VARCHAR(100) NOT NULL DEFAULT 'gpt-4o',
			lightweight_model VARCHAR(100) NOT NULL DEFAULT 'gpt-4o-mini',
			embedding_model VARCHAR(100) NOT NULL DEFAULT 'text-embedding-3-small',
			openai_api_key TEXT,
			openai_base_url TEXT,
			anthropic_api_key TEXT,
			anthropic_base_url TEXT,
			news_retention_days INTEGER NOT NULL DEFAULT 30,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		INSERT INTO system_settings (id) VALUES (1) ON CONFLICT (id) DO NOTHING;`},
	{7, "pipeline_events", `
		CREATE TABLE IF NOT EXISTS pipeline_events (
			id BIGSERIAL PRIMARY KEY,
			news_id UUID NOT NULL,
			stage VARCHAR(40) NOT NULL,
			status VARCHAR(20) NOT NULL,
			detail JSONB,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS ix_pipeline_events_news ON pipeline_events (news_id, created_at);`},
}

// Migrate applies pending migrations in version order.
func Migrate(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if exists {
			continue
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, m.sql); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("apply migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.version, m.name); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		log.Info().Int("version", m.version).Str("name", m.name).Msg("applied migration")
	}
	return nil
}
