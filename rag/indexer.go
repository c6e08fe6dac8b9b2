/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Embedding indexer: chunk → batch embed → replace
             rows atomically under a Postgres advisory lock keyed
             by hash(source_type:source_id). Idempotent — storing
             the same content twice leaves the same rows.
Root Cause:  Sprint task N061 — embedding store.
Context:     The advisory lock serialises re-embeds of the same
             source across all workers; different sources proceed
             in parallel. Delete-then-insert inside one
             transaction with a transaction-scoped lock.
Suitability: L3 — concurrency-sensitive replace path.
──────────────────────────────────────────────────────────────
*/

package rag

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/avesed/webstock/services/newscore/llm"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
)

// EmbeddingDimensions is the fixed width of the vector column.
const EmbeddingDimensions = 1536

// Embedder is the slice of the LLM gateway the indexer needs.
type Embedder interface {
	Embed(ctx context.Context, req *llm.EmbeddingRequest, opts llm.CallOptions) (*llm.EmbeddingResponse, error)
}

// StoreOptions parameterise one Store call.
type StoreOptions struct {
	Model     string
	Symbol    string
	Overrides llm.CredentialOverrides
	UserID    *int64
}

// StoreResult reports what one Store call wrote.
type StoreResult struct {
	ChunksStored int    `json:"chunks_stored"`
	Model        string `json:"model"`
}

// Indexer writes chunk embeddings for source documents.
type Indexer struct {
	pool     *pgxpool.Pool
	embedder Embedder
	log      zerolog.Logger
}

// NewIndexer creates the indexer.
func NewIndexer(pool *pgxpool.Pool, embedder Embedder, log zerolog.Logger) *Indexer {
	return &Indexer{
		pool:     pool,
		embedder: embedder,
		log:      log.With().Str("component", "embedding_indexer").Logger(),
	}
}

// advisoryKey derives the int64 advisory lock key for a source.
func advisoryKey(sourceType, sourceID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(sourceType + ":" + sourceID))
	return int64(h.Sum64())
}

// Store chunks the content, embeds every chunk in one batch call, and
// replaces the source's rows atomically.
func (ix *Indexer) Store(ctx context.Context, sourceType, sourceID, content string, opts StoreOptions) (*StoreResult, error) {
	chunks := Chunk(content, DefaultMaxChars, DefaultOverlapChars)
	if len(chunks) == 0 {
		return &StoreResult{ChunksStored: 0, Model: opts.Model}, nil
	}

	resp, err := ix.embedder.Embed(ctx, &llm.EmbeddingRequest{
		Input:      chunks,
		Model:      opts.Model,
		Dimensions: EmbeddingDimensions,
	}, llm.CallOptions{
		Purpose:   llm.PurposeEmbedding,
		UserID:    opts.UserID,
		Overrides: opts.Overrides,
		Metadata:  map[string]any{"source_type": sourceType, "source_id": sourceID, "batch_size": len(chunks)},
	})
	if err != nil {
		return nil, fmt.Errorf("embed %s/%s: %w", sourceType, sourceID, err)
	}
	if len(resp.Embeddings) != len(chunks) {
		return nil, fmt.Errorf("embed %s/%s: got %d vectors for %d chunks", sourceType, sourceID, len(resp.Embeddings), len(chunks))
	}

	tx, err := ix.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Transaction-scoped advisory lock: released automatically at
	// commit or rollback, so a crashed worker cannot leak it.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryKey(sourceType, sourceID)); err != nil {
		return nil, fmt.Errorf("advisory lock %s/%s: %w", sourceType, sourceID, err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM document_embeddings WHERE source_type = $1 AND source_id = $2`,
		sourceType, sourceID); err != nil {
		return nil, fmt.Errorf("delete prior embeddings: %w", err)
	}

	var symbol *string
	if opts.Symbol != "" {
		s := opts.Symbol
		symbol = &s
	}
	batch := &pgx.Batch{}
	for i, chunk := range chunks {
		batch.Queue(`
			INSERT INTO document_embeddings
				(source_type, source_id, symbol, chunk_index, chunk_text, embedding, model, token_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			sourceType, sourceID, symbol, i, chunk,
			pgvector.NewVector(resp.Embeddings[i]),
			resp.Model, llm.EstimateTokens(chunk))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("insert embeddings: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	ix.log.Info().
		Str("source", sourceType+"/"+sourceID).
		Int("chunks", len(chunks)).
		Str("model", resp.Model).
		Msg("stored embeddings")
	return &StoreResult{ChunksStored: len(chunks), Model: resp.Model}, nil
}

// DeleteSource removes all rows for one source. Used by retention.
func (ix *Indexer) DeleteSource(ctx context.Context, sourceType, sourceID string) (int64, error) {
	tag, err := ix.pool.Exec(ctx,
		`DELETE FROM document_embeddings WHERE source_type = $1 AND source_id = $2`,
		sourceType, sourceID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountSource returns the number of rows stored for one source.
func (ix *Indexer) CountSource(ctx context.Context, sourceType, sourceID string) (int, error) {
	var n int
	err := ix.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM document_embeddings WHERE source_type = $1 AND source_id = $2`,
		sourceType, sourceID).Scan(&n)
	return n, err
}
