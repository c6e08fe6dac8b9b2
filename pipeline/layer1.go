/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Layer 1 relevance scoring: one cheap LLM call scores
             title+summary across three rubric dimensions (0–100
             each, 0–300 total) and flags critical events that
             bypass the discard threshold.
Root Cause:  Sprint task N070 — Layer 1 scorer.
Context:     The score routes articles to discard / lightweight /
             full-analysis before any content is fetched.
Suitability: L3 for scoring contract design.
──────────────────────────────────────────────────────────────
*/

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/avesed/webstock/services/newscore/llm"
)

const layer1Timeout = 30 * time.Second

const layer1SystemPrompt = `You are a financial news triage scorer. Score the article on three dimensions, each 0-100:

- market_impact: how strongly could this move prices (indexes, sectors, or single names)?
- investment_value: does it contain decision-relevant facts (numbers, guidance, filings, deals)?
- timeliness: is this new, scheduled, or stale/recycled content?

Promotional content, ads, listicles, and horoscope-grade commentary score near zero on every dimension.

Set is_critical=true only for events that demand attention regardless of score: trading halts, defaults, major regulatory actions, war/disaster with market impact, surprise CEO exits at large caps.

Respond with JSON only:
{
  "scores": {
    "market_impact": {"score": 0, "reason": "..."},
    "investment_value": {"score": 0, "reason": "..."},
    "timeliness": {"score": 0, "reason": "..."}
  },
  "is_critical": false,
  "reasoning": "one sentence"
}`

// AgentScore is one rubric dimension's result.
type AgentScore struct {
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

// Layer1Result is the scoring outcome for one article.
type Layer1Result struct {
	Total      int
	IsCritical bool
	Scores     map[string]AgentScore
	Reasoning  string
}

// ScoreDetails serialises the result for the score_details column.
func (r *Layer1Result) ScoreDetails() map[string]any {
	dims := make(map[string]any, len(r.Scores))
	agents := make(map[string]any, len(r.Scores))
	for name, s := range r.Scores {
		dims[name] = s.Score
		agents[name] = map[string]any{"score": s.Score, "reason": s.Reason}
	}
	return map[string]any{
		"dimensionScores": dims,
		"agentDetails":    agents,
		"reasoning":       r.Reasoning,
		"isCriticalEvent": r.IsCritical,
	}
}

type layer1Response struct {
	Scores     map[string]AgentScore `json:"scores"`
	IsCritical bool                  `json:"is_critical"`
	Reasoning  string                `json:"reasoning"`
}

// scoreArticle runs the Layer 1 call and clamps the total to 0–300.
func (p *Pipeline) scoreArticle(ctx context.Context, settings *runSettings, title, summary, newsID string) (*Layer1Result, error) {
	userPrompt := fmt.Sprintf("Title: %s\n\nSummary: %s", title, summary)
	temp := 0.0
	maxTokens := int64(400)

	resp, err := p.gateway.Chat(ctx, &llm.ChatRequest{
		Model: settings.Layer1Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: layer1SystemPrompt},
			{Role: llm.RoleUser, Content: userPrompt},
		},
		Temperature: &temp,
		MaxTokens:   &maxTokens,
		JSONMode:    true,
		Timeout:     layer1Timeout,
	}, llm.CallOptions{
		Purpose:   llm.PurposeLayer1Scoring,
		Metadata:  map[string]any{"news_id": newsID},
		Overrides: settings.overrides,
	})
	if err != nil {
		return nil, fmt.Errorf("layer1 scoring: %w", err)
	}

	var decoded layer1Response
	if err := decodeJSON(resp.Content, &decoded); err != nil {
		return nil, fmt.Errorf("layer1 scoring: %w", err)
	}

	result := &Layer1Result{
		IsCritical: decoded.IsCritical,
		Scores:     decoded.Scores,
		Reasoning:  decoded.Reasoning,
	}
	for name, s := range decoded.Scores {
		if s.Score < 0 {
			s.Score = 0
		}
		if s.Score > 100 {
			s.Score = 100
		}
		decoded.Scores[name] = s
		result.Total += s.Score
	}
	if result.Total > 300 {
		result.Total = 300
	}
	return result, nil
}
