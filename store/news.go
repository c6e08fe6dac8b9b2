/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       News article model and repository. The database row
             is the serialisation point for pipeline state:
             stage mutations run inside a transaction holding
             SELECT … FOR UPDATE on the article row.
Root Cause:  Sprint task N011 — news persistence.
Context:     filter_status and content_status only move along
             the pipeline state machines; RAG helper fields are
             derived from related_entities on write.
Suitability: L3 — locking and state transition discipline.
──────────────────────────────────────────────────────────────
*/

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Content status values.
const (
	ContentPending  = "pending"
	ContentFetched  = "fetched"
	ContentPartial  = "partial"
	ContentEmbedded = "embedded"
	ContentFailed   = "failed"
	ContentBlocked  = "blocked"
	ContentDeleted  = "deleted"
)

// Filter status values.
const (
	FilterPending   = "pending"
	FilterUseful    = "useful"
	FilterUncertain = "uncertain"
	FilterKeep      = "keep"
	FilterDelete    = "delete"
	FilterFailed    = "failed"
)

// Processing path values.
const (
	PathFullAnalysis = "full_analysis"
	PathLightweight  = "lightweight"
)

// Sentiment values.
const (
	SentimentBullish = "bullish"
	SentimentBearish = "bearish"
	SentimentNeutral = "neutral"
)

// ErrArticleNotFound is returned for missing article ids/URLs.
var ErrArticleNotFound = errors.New("news article not found")

// Entity is one related entity with its relevance score.
type Entity struct {
	Entity string  `json:"entity"`
	Type   string  `json:"type"` // stock, index, macro
	Score  float64 `json:"score"`
}

// Article is the primary news entity.
type Article struct {
	ID          uuid.UUID
	URL         string
	Symbol      string
	Market      string
	Source      string
	Title       string
	Summary     string
	PublishedAt *time.Time
	CreatedAt   time.Time

	ContentFilePath string
	ContentStatus   string
	ContentError    string

	FilterStatus      string
	ContentScore      *int
	ScoreDetails      map[string]any
	ProcessingPath    string
	SentimentTag      string
	IndustryTags      []string
	EventTags         []string
	InvestmentSummary string
	DetailedSummary   string
	AIAnalysis        string
	RelatedEntities   []Entity
	HasStockEntities  bool
	HasMacroEntities  bool
	MaxEntityScore    *float64
	PrimaryEntity     string
	PrimaryEntityType string
	ImageInsights     string
	HasVisualData     bool
}

// ApplyEntities sets related_entities and derives the RAG helper
// fields: primary entity is the highest-scoring one, has_stock/macro
// reflect type presence, max score mirrors the primary's score.
func (a *Article) ApplyEntities(entities []Entity) {
	a.RelatedEntities = entities
	a.HasStockEntities = false
	a.HasMacroEntities = false
	a.MaxEntityScore = nil
	a.PrimaryEntity = ""
	a.PrimaryEntityType = ""

	var best *Entity
	for i := range entities {
		e := &entities[i]
		switch e.Type {
		case "stock":
			a.HasStockEntities = true
		case "macro":
			a.HasMacroEntities = true
		}
		if best == nil || e.Score > best.Score {
			best = e
		}
	}
	if best != nil {
		score := best.Score
		a.MaxEntityScore = &score
		a.PrimaryEntity = best.Entity
		a.PrimaryEntityType = best.Type
	}
}

// NewsStore is the article repository.
type NewsStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewNewsStore creates the repository.
func NewNewsStore(pool *pgxpool.Pool, log zerolog.Logger) *NewsStore {
	return &NewsStore{
		pool: pool,
		log:  log.With().Str("component", "news_store").Logger(),
	}
}

const articleColumns = `
	id, url, symbol, market, source, title, summary, published_at, created_at,
	content_file_path, content_status, content_error,
	filter_status, content_score, score_details, processing_path,
	sentiment_tag, industry_tags, event_tags,
	investment_summary, detailed_summary, ai_analysis,
	related_entities, has_stock_entities, has_macro_entities,
	max_entity_score, primary_entity, primary_entity_type,
	image_insights, has_visual_data`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (*Article, error) {
	var a Article
	var symbol, contentFilePath, contentError, processingPath, sentimentTag *string
	var summary, investmentSummary, detailedSummary, aiAnalysis, primaryEntity, primaryEntityType, imageInsights *string
	var scoreDetails, industryTags, eventTags, relatedEntities []byte

	err := row.Scan(
		&a.ID, &a.URL, &symbol, &a.Market, &a.Source, &a.Title, &summary, &a.PublishedAt, &a.CreatedAt,
		&contentFilePath, &a.ContentStatus, &contentError,
		&a.FilterStatus, &a.ContentScore, &scoreDetails, &processingPath,
		&sentimentTag, &industryTags, &eventTags,
		&investmentSummary, &detailedSummary, &aiAnalysis,
		&relatedEntities, &a.HasStockEntities, &a.HasMacroEntities,
		&a.MaxEntityScore, &primaryEntity, &primaryEntityType,
		&imageInsights, &a.HasVisualData,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrArticleNotFound
	}
	if err != nil {
		return nil, err
	}

	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	a.Symbol = deref(symbol)
	a.Summary = deref(summary)
	a.ContentFilePath = deref(contentFilePath)
	a.ContentError = deref(contentError)
	a.ProcessingPath = deref(processingPath)
	a.SentimentTag = deref(sentimentTag)
	a.InvestmentSummary = deref(investmentSummary)
	a.DetailedSummary = deref(detailedSummary)
	a.AIAnalysis = deref(aiAnalysis)
	a.PrimaryEntity = deref(primaryEntity)
	a.PrimaryEntityType = deref(primaryEntityType)
	a.ImageInsights = deref(imageInsights)

	if len(scoreDetails) > 0 {
		_ = json.Unmarshal(scoreDetails, &a.ScoreDetails)
	}
	if len(industryTags) > 0 {
		_ = json.Unmarshal(industryTags, &a.IndustryTags)
	}
	if len(eventTags) > 0 {
		_ = json.Unmarshal(eventTags, &a.EventTags)
	}
	if len(relatedEntities) > 0 {
		_ = json.Unmarshal(relatedEntities, &a.RelatedEntities)
	}
	return &a, nil
}

func marshalOrNil(v any) []byte {
	switch t := v.(type) {
	case []string:
		if t == nil {
			return nil
		}
	case []Entity:
		if t == nil {
			return nil
		}
	case map[string]any:
		if t == nil {
			return nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// CreateIfAbsent inserts the article unless its URL already exists.
// Returns true when a new row was created.
func (s *NewsStore) CreateIfAbsent(ctx context.Context, a *Article) (bool, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.ContentStatus == "" {
		a.ContentStatus = ContentPending
	}
	if a.FilterStatus == "" {
		a.FilterStatus = FilterPending
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO news (id, url, symbol, market, source, title, summary, published_at, content_status, filter_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (url) DO NOTHING`,
		a.ID, a.URL, nilIfEmpty(a.Symbol), a.Market, a.Source, a.Title,
		nilIfEmpty(a.Summary), a.PublishedAt, a.ContentStatus, a.FilterStatus)
	if err != nil {
		return false, fmt.Errorf("insert news: %w", err)
	}
	if tag.RowsAffected() == 0 {
		existing, err := s.GetByURL(ctx, a.URL)
		if err != nil {
			return false, err
		}
		*a = *existing
		return false, nil
	}
	return true, nil
}

// Get loads an article by id.
func (s *NewsStore) Get(ctx context.Context, id uuid.UUID) (*Article, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+articleColumns+` FROM news WHERE id = $1`, id)
	return scanArticle(row)
}

// GetByURL loads an article by canonical URL.
func (s *NewsStore) GetByURL(ctx context.Context, url string) (*Article, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+articleColumns+` FROM news WHERE url = $1`, url)
	return scanArticle(row)
}

// UpdateStage runs fn against the row-locked article, persists the
// mutation in the same transaction, and returns the updated article.
// This is the pipeline's commit boundary: the update is durable before
// the next stage begins.
func (s *NewsStore) UpdateStage(ctx context.Context, id uuid.UUID, fn func(a *Article) error) (*Article, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+articleColumns+` FROM news WHERE id = $1 FOR UPDATE`, id)
	article, err := scanArticle(row)
	if err != nil {
		return nil, err
	}

	if err := fn(article); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE news SET
			symbol = $2,
			content_file_path = $3,
			content_status = $4,
			content_error = $5,
			filter_status = $6,
			content_score = $7,
			score_details = $8,
			processing_path = $9,
			sentiment_tag = $10,
			industry_tags = $11,
			event_tags = $12,
			investment_summary = $13,
			detailed_summary = $14,
			ai_analysis = $15,
			related_entities = $16,
			has_stock_entities = $17,
			has_macro_entities = $18,
			max_entity_score = $19,
			primary_entity = $20,
			primary_entity_type = $21,
			image_insights = $22,
			has_visual_data = $23
		WHERE id = $1`,
		article.ID,
		nilIfEmpty(article.Symbol),
		nilIfEmpty(article.ContentFilePath),
		article.ContentStatus,
		nilIfEmpty(article.ContentError),
		article.FilterStatus,
		article.ContentScore,
		marshalOrNil(article.ScoreDetails),
		nilIfEmpty(article.ProcessingPath),
		nilIfEmpty(article.SentimentTag),
		marshalOrNil(article.IndustryTags),
		marshalOrNil(article.EventTags),
		nilIfEmpty(article.InvestmentSummary),
		nilIfEmpty(article.DetailedSummary),
		nilIfEmpty(article.AIAnalysis),
		marshalOrNil(article.RelatedEntities),
		article.HasStockEntities,
		article.HasMacroEntities,
		article.MaxEntityScore,
		nilIfEmpty(article.PrimaryEntity),
		nilIfEmpty(article.PrimaryEntityType),
		nilIfEmpty(article.ImageInsights),
		article.HasVisualData,
	)
	if err != nil {
		return nil, fmt.Errorf("update news %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return article, nil
}

// ListBySymbol returns a symbol's articles whose filter status is not
// delete or failed, newest first, with their total count.
func (s *NewsStore) ListBySymbol(ctx context.Context, symbol string, page, pageSize int) ([]Article, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM news WHERE symbol = $1 AND filter_status NOT IN ($2, $3)`,
		symbol, FilterDelete, FilterFailed).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+articleColumns+` FROM news
		WHERE symbol = $1 AND filter_status NOT IN ($2, $3)
		ORDER BY published_at DESC NULLS LAST
		LIMIT $4 OFFSET $5`,
		symbol, FilterDelete, FilterFailed, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, 0, err
		}
		articles = append(articles, *a)
	}
	return articles, total, rows.Err()
}

// ExpiredArticle is a retention candidate with its blob path.
type ExpiredArticle struct {
	ID              uuid.UUID
	ContentFilePath string
}

// ListOlderThan returns articles published before the cutoff.
func (s *NewsStore) ListOlderThan(ctx context.Context, cutoff time.Time) ([]ExpiredArticle, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, COALESCE(content_file_path, '') FROM news WHERE published_at < $1`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExpiredArticle
	for rows.Next() {
		var e ExpiredArticle
		if err := rows.Scan(&e.ID, &e.ContentFilePath); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes an article row.
func (s *NewsStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM news WHERE id = $1`, id)
	return err
}
