/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Read-side news endpoints: paginated feed by symbol,
             full content blob reads, and hybrid knowledge-base
             search (embed query → vector + trigram → RRF).
Root Cause:  Sprint task N092 — news API.
Context:     Missing blob content returns 404; the scheduler owns
             re-fetch decisions.
Suitability: L3 for the search read path.
──────────────────────────────────────────────────────────────
*/

package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/avesed/webstock/services/newscore/llm"
	"github.com/avesed/webstock/services/newscore/newsstore"
	"github.com/avesed/webstock/services/newscore/rag"
	"github.com/avesed/webstock/services/newscore/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// NewsBySymbol serves GET /v1/news/{symbol}.
func (d *Deps) NewsBySymbol(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "symbol is required")
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	articles, total, err := d.News.ListBySymbol(r.Context(), symbol, page, pageSize)
	if err != nil {
		d.Log.Error().Err(err).Str("symbol", symbol).Msg("news list failed")
		writeError(w, http.StatusInternalServerError, "storage_error", "failed to list news")
		return
	}

	items := make([]map[string]any, 0, len(articles))
	for i := range articles {
		items = append(items, newsItem(&articles[i]))
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"news":      items,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"has_more":  page*pageSize < total,
	})
}

func newsItem(a *store.Article) map[string]any {
	return map[string]any{
		"id":                 a.ID,
		"url":                a.URL,
		"symbol":             a.Symbol,
		"market":             a.Market,
		"source":             a.Source,
		"title":              a.Title,
		"summary":            a.Summary,
		"published_at":       a.PublishedAt,
		"sentiment_tag":      a.SentimentTag,
		"investment_summary": a.InvestmentSummary,
		"detailed_summary":   a.DetailedSummary,
		"ai_analysis":        a.AIAnalysis,
		"related_entities":   a.RelatedEntities,
		"industry_tags":      a.IndustryTags,
		"event_tags":         a.EventTags,
		"content_score":      a.ContentScore,
		"processing_path":    a.ProcessingPath,
		"content_status":     a.ContentStatus,
		"filter_status":      a.FilterStatus,
		"image_insights":     a.ImageInsights,
		"has_visual_data":    a.HasVisualData,
	}
}

// NewsContent serves GET /v1/news/{id}/content — the full blob.
func (d *Deps) NewsContent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid news id")
		return
	}

	article, err := d.News.Get(r.Context(), id)
	if errors.Is(err, store.ErrArticleNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "news article not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", "failed to load article")
		return
	}
	if article.ContentFilePath == "" {
		writeError(w, http.StatusNotFound, "not_found", "content not fetched yet")
		return
	}

	blob, err := d.Blobs.Read(article.ContentFilePath)
	if errors.Is(err, newsstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "content file missing")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", "failed to read content")
		return
	}
	writeJSON(w, http.StatusOK, blob)
}

// Search serves GET /v1/search?q=...&symbol=...&top_k=...
func (d *Deps) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "q is required")
		return
	}
	topK, _ := strconv.Atoi(r.URL.Query().Get("top_k"))

	settings, err := d.Settings.Load(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", "failed to load settings")
		return
	}

	embedResp, err := d.Gateway.Embed(r.Context(), &llm.EmbeddingRequest{
		Input:      []string{query},
		Model:      settings.EmbeddingModel,
		Dimensions: rag.EmbeddingDimensions,
	}, llm.CallOptions{
		Purpose:  llm.PurposeEmbedding,
		Metadata: map[string]any{"query": "search"},
		Overrides: llm.CredentialOverrides{
			SystemOpenAIKey:     settings.OpenAIAPIKey,
			SystemOpenAIBaseURL: settings.OpenAIBaseURL,
		},
	})
	if err != nil || len(embedResp.Embeddings) == 0 {
		d.Log.Error().Err(err).Msg("query embedding failed")
		writeError(w, http.StatusBadGateway, "provider_error", "failed to embed query")
		return
	}

	results, err := d.Searcher.Hybrid(r.Context(), embedResp.Embeddings[0], query, rag.SearchOptions{
		Symbol:     r.URL.Query().Get("symbol"),
		SourceType: r.URL.Query().Get("source_type"),
		TopK:       topK,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "results": results})
}
