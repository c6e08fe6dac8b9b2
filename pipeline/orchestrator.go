/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L4
Logic:       Per-article pipeline state machine: Layer 1 scoring
             → routing → content fetch + image extraction →
             Layer 1.5 cleaning → Layer 2 filter → embedding.
             Every transition commits before the next stage, so
             a crashed worker resumes from the last durable state
             and replays are idempotent.
Root Cause:  Sprint task N073 — pipeline orchestrator.
Context:     Breaker rejections and rate limits fail the current
             attempt; the scheduler decides on re-enqueue. The
             database row lock serialises workers per article.
Suitability: L4 — crash-safety and state machine correctness.
──────────────────────────────────────────────────────────────
*/

package pipeline

import (
	"context"
	"time"

	"github.com/avesed/webstock/services/newscore/fetcher"
	"github.com/avesed/webstock/services/newscore/llm"
	"github.com/avesed/webstock/services/newscore/newsstore"
	"github.com/avesed/webstock/services/newscore/rag"
	"github.com/avesed/webstock/services/newscore/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ArticleRef is the task payload enqueued by the scheduler.
type ArticleRef struct {
	URL         string     `json:"url"`
	Symbol      string     `json:"symbol,omitempty"`
	Market      string     `json:"market"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary,omitempty"`
	Source      string     `json:"source"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// ArticleStore is the slice of the news repository the pipeline uses.
type ArticleStore interface {
	CreateIfAbsent(ctx context.Context, a *store.Article) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (*store.Article, error)
	UpdateStage(ctx context.Context, id uuid.UUID, fn func(a *store.Article) error) (*store.Article, error)
}

// BlobStore persists and reads full article content.
type BlobStore interface {
	Save(id uuid.UUID, symbol string, blob *newsstore.Blob, publishedAt *time.Time) (string, error)
	Read(rel string) (*newsstore.Blob, error)
}

// SettingsSource reads live system settings.
type SettingsSource interface {
	Load(ctx context.Context) (*store.SystemSettings, error)
}

// Chatter is the slice of the LLM gateway the filter stages use.
type Chatter interface {
	Chat(ctx context.Context, req *llm.ChatRequest, opts llm.CallOptions) (*llm.ChatResponse, error)
}

// ContentFetcher fetches full text with strategy fallback.
type ContentFetcher interface {
	Fetch(ctx context.Context, url, primary string) (*fetcher.Result, error)
}

// Indexer writes chunk embeddings for kept articles.
type Indexer interface {
	Store(ctx context.Context, sourceType, sourceID, content string, opts rag.StoreOptions) (*rag.StoreResult, error)
}

// EventSink records pipeline transitions.
type EventSink interface {
	Record(ctx context.Context, ev store.PipelineEvent)
}

// ImageLoader turns an image URL into a base64 data URI.
type ImageLoader func(ctx context.Context, url string) (string, error)

// runSettings bundles the per-run settings snapshot with the resolved
// credential overrides.
type runSettings struct {
	*store.SystemSettings
	overrides llm.CredentialOverrides
}

// Pipeline drives articles through the processing graph.
type Pipeline struct {
	articles ArticleStore
	blobs    BlobStore
	settings SettingsSource
	gateway  Chatter
	fetch    ContentFetcher
	indexer  Indexer
	events   EventSink
	images   ImageLoader

	primaryStrategy string
	log             zerolog.Logger
}

// Config wires a Pipeline.
type Config struct {
	Articles        ArticleStore
	Blobs           BlobStore
	Settings        SettingsSource
	Gateway         Chatter
	Fetcher         ContentFetcher
	Indexer         Indexer
	Events          EventSink
	Images          ImageLoader
	PrimaryStrategy string
}

// New creates a pipeline.
func New(cfg Config, log zerolog.Logger) *Pipeline {
	primary := cfg.PrimaryStrategy
	if primary == "" {
		primary = fetcher.TagHTMLParse
	}
	return &Pipeline{
		articles:        cfg.Articles,
		blobs:           cfg.Blobs,
		settings:        cfg.Settings,
		gateway:         cfg.Gateway,
		fetch:           cfg.Fetcher,
		indexer:         cfg.Indexer,
		events:          cfg.Events,
		images:          cfg.Images,
		primaryStrategy: primary,
		log:             log.With().Str("component", "pipeline").Logger(),
	}
}

func (p *Pipeline) event(ctx context.Context, newsID uuid.UUID, stage, status string, detail map[string]any, err error) {
	if p.events == nil {
		return
	}
	ev := store.PipelineEvent{NewsID: newsID, Stage: stage, Status: status, Detail: detail}
	if err != nil {
		ev.Error = err.Error()
	}
	p.events.Record(ctx, ev)
}

// failFilter marks the current attempt failed. State is persisted, so a
// later scheduler pass retries from the last committed stage.
func (p *Pipeline) failFilter(ctx context.Context, id uuid.UUID, stage string, cause error) {
	_, err := p.articles.UpdateStage(ctx, id, func(a *store.Article) error {
		a.FilterStatus = store.FilterFailed
		return nil
	})
	if err != nil {
		p.log.Error().Err(err).Str("news_id", id.String()).Msg("failed to record stage failure")
	}
	p.event(ctx, id, stage, "failed", nil, cause)
}

// Process runs one article through the pipeline from its last durable
// state to a terminal state or the next failure.
func (p *Pipeline) Process(ctx context.Context, ref ArticleRef) error {
	sys, err := p.settings.Load(ctx)
	if err != nil {
		return err
	}
	if !sys.EnableLLMPipeline {
		p.log.Debug().Str("url", ref.URL).Msg("llm pipeline disabled, skipping")
		return nil
	}
	settings := &runSettings{
		SystemSettings: sys,
		overrides: llm.CredentialOverrides{
			SystemOpenAIKey:        sys.OpenAIAPIKey,
			SystemOpenAIBaseURL:    sys.OpenAIBaseURL,
			SystemAnthropicKey:     sys.AnthropicAPIKey,
			SystemAnthropicBaseURL: sys.AnthropicBaseURL,
		},
	}

	article := &store.Article{
		URL:         ref.URL,
		Symbol:      ref.Symbol,
		Market:      ref.Market,
		Source:      ref.Source,
		Title:       ref.Title,
		Summary:     ref.Summary,
		PublishedAt: ref.PublishedAt,
	}
	created, err := p.articles.CreateIfAbsent(ctx, article)
	if err != nil {
		return err
	}
	if created {
		p.event(ctx, article.ID, "ingest", "completed", map[string]any{"url": ref.URL}, nil)
	}

	// A failed attempt resumes from the last committed filter state:
	// scoring when no score is stored, otherwise cleaning + Layer 2 on
	// the stored processing path
	if article.FilterStatus == store.FilterFailed {
		article, err = p.articles.UpdateStage(ctx, article.ID, func(a *store.Article) error {
			if a.ContentScore == nil {
				a.FilterStatus = store.FilterPending
			} else if a.ProcessingPath == store.PathFullAnalysis {
				a.FilterStatus = store.FilterUseful
			} else {
				a.FilterStatus = store.FilterUncertain
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	// ─── Stage 1: Layer 1 scoring ───────────────────────────
	if article.FilterStatus == store.FilterPending {
		article, err = p.runLayer1(ctx, settings, article)
		if err != nil {
			return err
		}
	}
	if article.FilterStatus == store.FilterDelete {
		return nil
	}

	// ─── Stage 2: content fetch ─────────────────────────────
	blob, imageURLs, err := p.ensureContent(ctx, &article)
	if err != nil {
		return err
	}
	if blob == nil {
		return nil
	}
	fullText := blob.FullText

	// ─── Stages 3+4: cleaning then Layer 2 ──────────────────
	cleanedText := fullText
	if article.FilterStatus == store.FilterUseful || article.FilterStatus == store.FilterUncertain {
		cleaned, err := p.runCleaning(ctx, settings, article, fullText, imageURLs)
		if err != nil {
			return err
		}
		cleanedText = cleaned.CleanedText

		article, err = p.articles.UpdateStage(ctx, article.ID, func(a *store.Article) error {
			a.ImageInsights = cleaned.ImageInsights
			a.HasVisualData = cleaned.HasVisualData
			return nil
		})
		if err != nil {
			return err
		}

		article, err = p.runLayer2(ctx, settings, article, cleanedText)
		if err != nil {
			return err
		}
		if article.FilterStatus == store.FilterDelete {
			return nil
		}
	}

	// ─── Stage 5: embedding ─────────────────────────────────
	if article.FilterStatus == store.FilterKeep && article.ContentStatus != store.ContentEmbedded {
		result, err := p.indexer.Store(ctx, "news", article.ID.String(), cleanedText, rag.StoreOptions{
			Model:     settings.EmbeddingModel,
			Symbol:    article.Symbol,
			Overrides: settings.overrides,
		})
		if err != nil {
			p.event(ctx, article.ID, "embedding", "failed", nil, err)
			return err
		}
		_, err = p.articles.UpdateStage(ctx, article.ID, func(a *store.Article) error {
			a.ContentStatus = store.ContentEmbedded
			return nil
		})
		if err != nil {
			return err
		}
		p.event(ctx, article.ID, "embedding", "completed", map[string]any{
			"chunks": result.ChunksStored, "model": result.Model,
		}, nil)
	}
	return nil
}

// runLayer1 scores the article and routes it.
func (p *Pipeline) runLayer1(ctx context.Context, settings *runSettings, article *store.Article) (*store.Article, error) {
	p.event(ctx, article.ID, "layer1_scoring", "started", nil, nil)

	result, err := p.scoreArticle(ctx, settings, article.Title, article.Summary, article.ID.String())
	if err != nil {
		p.failFilter(ctx, article.ID, "layer1_scoring", err)
		return nil, err
	}

	updated, err := p.articles.UpdateStage(ctx, article.ID, func(a *store.Article) error {
		score := result.Total
		a.ContentScore = &score
		a.ScoreDetails = result.ScoreDetails()

		switch {
		case result.Total < settings.Layer1DiscardThreshold && !result.IsCritical:
			a.FilterStatus = store.FilterDelete
		case result.Total >= settings.Layer1FullAnalysisThreshold || result.IsCritical:
			a.ProcessingPath = store.PathFullAnalysis
			a.FilterStatus = store.FilterUseful
		default:
			a.ProcessingPath = store.PathLightweight
			a.FilterStatus = store.FilterUncertain
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.event(ctx, article.ID, "layer1_scoring", "completed", map[string]any{
		"score":    result.Total,
		"critical": result.IsCritical,
		"path":     updated.ProcessingPath,
	}, nil)
	return updated, nil
}

// ensureContent fetches and stores content if not already present, and
// returns the blob plus candidate image URLs (fresh fetches only).
// A nil blob with nil error means the article reached a state where no
// content work remains.
func (p *Pipeline) ensureContent(ctx context.Context, articlePtr **store.Article) (*newsstore.Blob, []string, error) {
	article := *articlePtr

	if article.ContentStatus == store.ContentPending || article.ContentStatus == store.ContentFailed {
		p.event(ctx, article.ID, "content_fetch", "started", nil, nil)

		result, err := p.fetch.Fetch(ctx, article.URL, p.primaryStrategy)
		if err != nil {
			updated, uerr := p.articles.UpdateStage(ctx, article.ID, func(a *store.Article) error {
				a.ContentStatus = store.ContentFailed
				a.ContentError = err.Error()
				return nil
			})
			if uerr != nil {
				return nil, nil, uerr
			}
			*articlePtr = updated
			p.event(ctx, article.ID, "content_fetch", "failed", nil, err)
			return nil, nil, err
		}

		imageURLs := fetcher.ExtractImageURLs(result.RawHTML, article.URL, fetcher.MaxCandidateImages)

		blob := &newsstore.Blob{
			URL:       article.URL,
			Title:     article.Title,
			FullText:  result.FullText,
			Authors:   result.Authors,
			Keywords:  result.Keywords,
			TopImage:  result.TopImage,
			Language:  result.Language,
			FetchedAt: time.Now().UTC(),
			WordCount: result.WordCount,
			IsPartial: result.IsPartial,
			Metadata:  map[string]any{"source_tag": result.SourceTag},
		}
		rel, err := p.blobs.Save(article.ID, article.Symbol, blob, article.PublishedAt)
		if err != nil {
			// Storage error: database state is untouched; the whole
			// fetch re-runs on a later pass.
			p.event(ctx, article.ID, "content_fetch", "failed", nil, err)
			return nil, nil, err
		}

		status := store.ContentFetched
		if result.IsPartial {
			status = store.ContentPartial
		}
		updated, err := p.articles.UpdateStage(ctx, article.ID, func(a *store.Article) error {
			a.ContentFilePath = rel
			a.ContentStatus = status
			a.ContentError = ""
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
		*articlePtr = updated

		p.event(ctx, article.ID, "content_fetch", "completed", map[string]any{
			"source_tag": result.SourceTag,
			"word_count": result.WordCount,
			"partial":    result.IsPartial,
			"images":     len(imageURLs),
		}, nil)
		return blob, imageURLs, nil
	}

	// Replay: content already on disk
	if article.ContentFilePath != "" {
		blob, err := p.blobs.Read(article.ContentFilePath)
		if err != nil {
			return nil, nil, err
		}
		return blob, nil, nil
	}
	return nil, nil, nil
}

// runCleaning downloads candidate images and runs Layer 1.5.
func (p *Pipeline) runCleaning(ctx context.Context, settings *runSettings, article *store.Article, fullText string, imageURLs []string) (*CleaningResult, error) {
	p.event(ctx, article.ID, "content_cleaning", "started", map[string]any{"images": len(imageURLs)}, nil)

	var dataURIs []string
	if p.images != nil {
		for _, u := range imageURLs {
			if len(dataURIs) == cleaningMaxImages {
				break
			}
			uri, err := p.images(ctx, u)
			if err != nil {
				p.log.Debug().Err(err).Str("image", u).Msg("image download failed, skipping")
				continue
			}
			dataURIs = append(dataURIs, uri)
		}
	}

	result, err := p.cleanAndExtract(ctx, settings, fullText, dataURIs, article.ID.String())
	if err != nil {
		p.failFilter(ctx, article.ID, "content_cleaning", err)
		return nil, err
	}
	p.event(ctx, article.ID, "content_cleaning", "completed", map[string]any{
		"cleaned_len": len(result.CleanedText),
		"has_visual":  result.HasVisualData,
	}, nil)
	return result, nil
}

// runLayer2 applies the deep or lightweight filter and persists the
// classification.
func (p *Pipeline) runLayer2(ctx context.Context, settings *runSettings, article *store.Article, text string) (*store.Article, error) {
	deep := article.FilterStatus == store.FilterUseful
	stage := "lightweight_filter"
	if deep {
		stage = "deep_filter"
	}
	p.event(ctx, article.ID, stage, "started", nil, nil)

	var result *FilterResult
	var err error
	if deep {
		result, err = p.deepFilter(ctx, settings, article.Title, text, article.Source, article.ID.String())
	} else {
		result, err = p.lightweightFilter(ctx, settings, article.Title, text, article.ID.String())
	}
	if err != nil {
		p.failFilter(ctx, article.ID, stage, err)
		return nil, err
	}

	updated, err := p.articles.UpdateStage(ctx, article.ID, func(a *store.Article) error {
		if result.Decision == "delete" {
			a.FilterStatus = store.FilterDelete
			return nil
		}
		a.FilterStatus = store.FilterKeep
		a.SentimentTag = result.Sentiment
		a.IndustryTags = result.IndustryTags
		a.EventTags = result.EventTags
		a.InvestmentSummary = result.InvestmentSummary
		a.DetailedSummary = result.DetailedSummary
		a.AIAnalysis = result.AnalysisReport
		a.ApplyEntities(result.Entities)
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.event(ctx, article.ID, stage, "completed", map[string]any{
		"decision": result.Decision,
		"entities": len(result.Entities),
	}, nil)
	return updated, nil
}
