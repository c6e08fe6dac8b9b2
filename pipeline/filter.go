/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Layer 2 classification. Deep variant: full-text
             analysis with entities (≤8), sentiment, tags,
             summaries, and an analysis report. Lightweight
             variant: entities (≤4), sentiment, tags, and a
             short summary only.
Root Cause:  Sprint task N072 — Layer 2 filters.
Context:     Both variants return a final keep/delete decision.
             Lightweight parse failures fail open to keep with
             empty metadata.
Suitability: L3 for classification contract design.
──────────────────────────────────────────────────────────────
*/

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/avesed/webstock/services/newscore/llm"
	"github.com/avesed/webstock/services/newscore/store"
)

const (
	deepFilterTimeout  = 90 * time.Second
	lightweightTimeout = 30 * time.Second

	deepFilterMaxChars  = 10000
	lightweightMaxChars = 3000
)

const deepFilterSystemPrompt = `You are a buy-side news analyst. Read the full article and decide whether it is worth keeping in an investment knowledge base.

Respond with JSON only:
{
  "decision": "keep" or "delete",
  "entities": [{"entity": "name or ticker", "type": "stock"|"index"|"macro", "score": 0.0-1.0}],
  "sentiment": "bullish"|"bearish"|"neutral",
  "industry_tags": ["..."],
  "event_tags": ["..."],
  "investment_summary": "2-3 sentences, investor-oriented",
  "detailed_summary": "complete factual summary of the article",
  "analysis_report": "markdown analysis: what happened, who is affected, likely market impact, risks"
}

Limits: at most 8 entities, 5 industry_tags, 5 event_tags. Delete articles that carry no decision-relevant information.`

const lightweightSystemPrompt = `Quickly extract key information from this news article.

Respond with JSON only:
{
  "decision": "keep" or "delete",
  "entities": [{"entity": "name or ticker", "type": "stock"|"index"|"macro", "score": 0.0-1.0}],
  "sentiment": "bullish"|"bearish"|"neutral",
  "industry_tags": ["..."],
  "event_tags": ["..."],
  "investment_summary": "1-2 sentences"
}

Limits: at most 4 entities, 5 industry_tags, 5 event_tags. Delete articles with no investment relevance.`

// FilterResult is the Layer 2 outcome for either variant.
type FilterResult struct {
	Decision          string
	Entities          []store.Entity
	Sentiment         string
	IndustryTags      []string
	EventTags         []string
	InvestmentSummary string
	DetailedSummary   string
	AnalysisReport    string
}

type filterResponse struct {
	Decision          string         `json:"decision"`
	Entities          []store.Entity `json:"entities"`
	Sentiment         string         `json:"sentiment"`
	IndustryTags      []string       `json:"industry_tags"`
	EventTags         []string       `json:"event_tags"`
	InvestmentSummary string         `json:"investment_summary"`
	DetailedSummary   string         `json:"detailed_summary"`
	AnalysisReport    string         `json:"analysis_report"`
}

// validateEntities clamps scores to [0,1], drops malformed entries, and
// caps the list.
func validateEntities(entities []store.Entity, max int) []store.Entity {
	out := make([]store.Entity, 0, len(entities))
	for _, e := range entities {
		if e.Entity == "" {
			continue
		}
		switch e.Type {
		case "stock", "index", "macro":
		default:
			continue
		}
		if e.Score < 0 {
			e.Score = 0
		}
		if e.Score > 1 {
			e.Score = 1
		}
		out = append(out, e)
		if len(out) == max {
			break
		}
	}
	return out
}

func normalizeSentiment(s string) string {
	switch s {
	case store.SentimentBullish, store.SentimentBearish, store.SentimentNeutral:
		return s
	default:
		return store.SentimentNeutral
	}
}

func capTags(tags []string, max int) []string {
	if len(tags) > max {
		return tags[:max]
	}
	return tags
}

func normalizeFilterResponse(decoded *filterResponse, maxEntities int) *FilterResult {
	decision := decoded.Decision
	if decision != "keep" && decision != "delete" {
		decision = "keep"
	}
	return &FilterResult{
		Decision:          decision,
		Entities:          validateEntities(decoded.Entities, maxEntities),
		Sentiment:         normalizeSentiment(decoded.Sentiment),
		IndustryTags:      capTags(decoded.IndustryTags, 5),
		EventTags:         capTags(decoded.EventTags, 5),
		InvestmentSummary: llm.TruncateChars(decoded.InvestmentSummary, 500),
		DetailedSummary:   decoded.DetailedSummary,
		AnalysisReport:    decoded.AnalysisReport,
	}
}

// deepFilter runs the full-analysis Layer 2 call.
func (p *Pipeline) deepFilter(ctx context.Context, settings *runSettings, title, fullText, source, newsID string) (*FilterResult, error) {
	temp := 0.2
	prompt := fmt.Sprintf("Source: %s\nTitle: %s\n\n%s", source, title, llm.TruncateChars(fullText, deepFilterMaxChars))

	resp, err := p.gateway.Chat(ctx, &llm.ChatRequest{
		Model: settings.DeepFilterModel,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: deepFilterSystemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
		Temperature: &temp,
		JSONMode:    true,
		Timeout:     deepFilterTimeout,
	}, llm.CallOptions{
		Purpose:   llm.PurposeDeepFilter,
		Metadata:  map[string]any{"news_id": newsID},
		Overrides: settings.overrides,
	})
	if err != nil {
		return nil, fmt.Errorf("deep filter: %w", err)
	}

	var decoded filterResponse
	if err := decodeJSON(resp.Content, &decoded); err != nil {
		return nil, fmt.Errorf("deep filter: %w", err)
	}
	return normalizeFilterResponse(&decoded, 8), nil
}

// lightweightFilter runs the fast Layer 2 call. Parse failures fail
// open to keep with empty metadata.
func (p *Pipeline) lightweightFilter(ctx context.Context, settings *runSettings, title, text, newsID string) (*FilterResult, error) {
	temp := 0.2
	maxTokens := int64(500)
	prompt := fmt.Sprintf("Title: %s\n\n%s", title, llm.TruncateChars(text, lightweightMaxChars))

	resp, err := p.gateway.Chat(ctx, &llm.ChatRequest{
		Model: settings.LightweightModel,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: lightweightSystemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		JSONMode:    true,
		Timeout:     lightweightTimeout,
	}, llm.CallOptions{
		Purpose:   llm.PurposeLightweight,
		Metadata:  map[string]any{"news_id": newsID},
		Overrides: settings.overrides,
	})
	if err != nil {
		return nil, fmt.Errorf("lightweight filter: %w", err)
	}

	var decoded filterResponse
	if err := decodeJSON(resp.Content, &decoded); err != nil {
		p.log.Warn().Err(err).Str("news_id", newsID).Msg("lightweight response unparseable, defaulting to keep")
		return &FilterResult{Decision: "keep", Sentiment: store.SentimentNeutral}, nil
	}

	result := normalizeFilterResponse(&decoded, 4)
	// The lightweight path never produces long-form output
	result.DetailedSummary = ""
	result.AnalysisReport = ""
	return result, nil
}
