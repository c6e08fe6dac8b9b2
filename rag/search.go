/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Hybrid search over the embedding store: pgvector
             cosine similarity + pg_trgm keyword similarity,
             fused with weighted Reciprocal Rank Fusion and a
             freshness decay (80% relevance / 20% freshness,
             60-day half-life).
Root Cause:  Sprint task N062 — knowledge base search.
Context:     RRF uses score += weight / (k + rank + 1) with k=60
             and 0-based rank.
Suitability: L3 for retrieval ranking.
──────────────────────────────────────────────────────────────
*/

package rag

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
)

// RRF smoothing constant.
const rrfK = 60

// Freshness decay defaults.
const (
	defaultRelevanceWeight = 0.8
	defaultHalfLifeDays    = 60.0
)

// SearchResult is one scored chunk.
type SearchResult struct {
	ChunkText  string    `json:"text"`
	SourceType string    `json:"source_type"`
	SourceID   string    `json:"source_id"`
	Symbol     string    `json:"symbol,omitempty"`
	Score      float64   `json:"score"`
	ChunkIndex int       `json:"-"`
	CreatedAt  time.Time `json:"-"`
	Model      string    `json:"-"`
}

// DedupKey identifies a chunk across backends.
func (r SearchResult) DedupKey() string {
	return fmt.Sprintf("%s:%s:%d", r.SourceType, r.SourceID, r.ChunkIndex)
}

// SearchOptions narrow a hybrid search.
type SearchOptions struct {
	Symbol       string
	SourceType   string
	TopK         int
	VectorWeight float64 // keyword weight = 1 − VectorWeight
}

// Searcher runs hybrid retrieval.
type Searcher struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewSearcher creates the searcher.
func NewSearcher(pool *pgxpool.Pool, log zerolog.Logger) *Searcher {
	return &Searcher{
		pool: pool,
		log:  log.With().Str("component", "rag_search").Logger(),
	}
}

// Hybrid runs vector and keyword retrieval, fuses via RRF, applies
// freshness decay, and returns the top-K fused results.
func (s *Searcher) Hybrid(ctx context.Context, queryEmbedding []float32, queryText string, opts SearchOptions) ([]SearchResult, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = 5
	}
	vectorWeight := opts.VectorWeight
	if vectorWeight <= 0 || vectorWeight >= 1 {
		vectorWeight = 0.7
	}

	// Fetch 2x candidates per backend to give the fusion room to work
	vectorResults, err := s.vectorSearch(ctx, queryEmbedding, opts, topK*2)
	if err != nil {
		s.log.Error().Err(err).Msg("vector search failed")
		vectorResults = nil
	}
	keywordResults, err := s.keywordSearch(ctx, queryText, opts, topK*2)
	if err != nil {
		// pg_trgm may be unavailable; degrade to vector-only
		s.log.Warn().Err(err).Msg("keyword search failed")
		keywordResults = nil
	}

	fused := FuseRRF(map[string][]SearchResult{
		"vector":  vectorResults,
		"keyword": keywordResults,
	}, map[string]float64{
		"vector":  vectorWeight,
		"keyword": 1 - vectorWeight,
	}, topK*2)

	results := ApplyFreshnessDecay(fused, defaultRelevanceWeight, defaultHalfLifeDays, topK)

	s.log.Info().
		Int("vector", len(vectorResults)).
		Int("keyword", len(keywordResults)).
		Int("fused", len(results)).
		Msg("hybrid search")
	return results, nil
}

func (s *Searcher) vectorSearch(ctx context.Context, embedding []float32, opts SearchOptions, limit int) ([]SearchResult, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	where, args := searchFilters(opts, 2)
	args = append([]any{pgvector.NewVector(embedding)}, args...)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT chunk_text, source_type, source_id, COALESCE(symbol, ''), chunk_index, created_at, model,
		       1 - (embedding <=> $1) AS similarity
		FROM document_embeddings
		%s
		ORDER BY embedding <=> $1
		LIMIT $%d`, where, len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResults(rows)
}

func (s *Searcher) keywordSearch(ctx context.Context, queryText string, opts SearchOptions, limit int) ([]SearchResult, error) {
	if queryText == "" {
		return nil, nil
	}
	where, args := searchFilters(opts, 2)
	if where == "" {
		where = "WHERE similarity(chunk_text, $1) > 0.1"
	} else {
		where += " AND similarity(chunk_text, $1) > 0.1"
	}
	args = append([]any{queryText}, args...)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT chunk_text, source_type, source_id, COALESCE(symbol, ''), chunk_index, created_at, model,
		       similarity(chunk_text, $1) AS sim_score
		FROM document_embeddings
		%s
		ORDER BY sim_score DESC
		LIMIT $%d`, where, len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResults(rows)
}

// searchFilters builds the optional WHERE tail starting at placeholder
// index start.
func searchFilters(opts SearchOptions, start int) (string, []any) {
	clause := ""
	var args []any
	add := func(cond string) {
		if clause == "" {
			clause = "WHERE " + cond
		} else {
			clause += " AND " + cond
		}
	}
	if opts.Symbol != "" {
		add(fmt.Sprintf("symbol = $%d", start+len(args)))
		args = append(args, opts.Symbol)
	}
	if opts.SourceType != "" {
		add(fmt.Sprintf("source_type = $%d", start+len(args)))
		args = append(args, opts.SourceType)
	}
	return clause, args
}

type pgRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanResults(rows pgRows) ([]SearchResult, error) {
	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ChunkText, &r.SourceType, &r.SourceID, &r.Symbol, &r.ChunkIndex, &r.CreatedAt, &r.Model, &r.Score); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FuseRRF combines ranked lists with weighted Reciprocal Rank Fusion:
// score += weight / (k + rank + 1), rank 0-based, k = 60.
func FuseRRF(rankedLists map[string][]SearchResult, weights map[string]float64, topK int) []SearchResult {
	scores := make(map[string]float64)
	byKey := make(map[string]SearchResult)

	// Deterministic backend iteration order
	names := make([]string, 0, len(rankedLists))
	for name := range rankedLists {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		weight, ok := weights[name]
		if !ok {
			weight = 1.0
		}
		for rank, result := range rankedLists[name] {
			key := result.DedupKey()
			scores[key] += weight / float64(rrfK+rank+1)
			if _, seen := byKey[key]; !seen {
				byKey[key] = result
			}
		}
	}

	keys := make([]string, 0, len(scores))
	for key := range scores {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(a, b int) bool {
		if scores[keys[a]] != scores[keys[b]] {
			return scores[keys[a]] > scores[keys[b]]
		}
		return keys[a] < keys[b]
	})

	if topK > 0 && len(keys) > topK {
		keys = keys[:topK]
	}
	out := make([]SearchResult, 0, len(keys))
	for _, key := range keys {
		result := byKey[key]
		result.Score = scores[key]
		out = append(out, result)
	}
	return out
}

// ApplyFreshnessDecay rescales scores toward recency:
// score *= relevanceWeight + (1−relevanceWeight) · freshness, where
// freshness = 1 / (1 + ageDays/halfLife). Results without a creation
// time keep their score.
func ApplyFreshnessDecay(results []SearchResult, relevanceWeight, halfLifeDays float64, topK int) []SearchResult {
	now := time.Now().UTC()
	freshnessWeight := 1 - relevanceWeight

	for i := range results {
		if results[i].CreatedAt.IsZero() {
			continue
		}
		ageDays := now.Sub(results[i].CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		freshness := 1.0 / (1.0 + ageDays/halfLifeDays)
		results[i].Score *= relevanceWeight + freshnessWeight*freshness
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}
