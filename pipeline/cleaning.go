/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Layer 1.5: conservative junk removal plus visual
             data extraction from up to three article images via
             a multimodal call. A cleaned text shorter than half
             the input is discarded as over-cleaning.
Root Cause:  Sprint task N071 — content cleaning stage.
Context:     Runs for every article that survives fetch, on both
             processing paths. The model is an information
             extractor only; it never judges article quality.
Suitability: L3 for multimodal request assembly.
──────────────────────────────────────────────────────────────
*/

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/avesed/webstock/services/newscore/llm"
)

const (
	cleaningTimeout   = 45 * time.Second
	cleaningMaxChars  = 12000
	cleaningMaxImages = 3
)

const cleaningSystemPrompt = `You are a news content preprocessor with two tasks.

Task 1 - conservative text cleaning. Remove ONLY content that is beyond doubt not article body:
- site navigation, headers, footers, breadcrumbs
- ads, sponsored blocks, promotions
- cookie and privacy banners
- social share button text
- "related articles" / "you may also like" lists
- comment sections
- boilerplate copyright notices

Rules: when in doubt, keep the text. Never rewrite, summarize, or reorder body content. Never remove author names, publication dates, data sources, quotes, or figures. cleaned_text should be close to the original length, minus obvious junk.

Task 2 - image data extraction. If images are attached, describe the key data they show in plain language: specific numbers, trends, time ranges, table rows, price ranges, rankings. If there are no images or they carry no useful data, set image_insights to "".

Respond with JSON only:
{
  "cleaned_text": "...",
  "image_insights": "...",
  "has_critical_visual_data": false
}`

// CleaningResult is the Layer 1.5 outcome.
type CleaningResult struct {
	CleanedText   string
	ImageInsights string
	HasVisualData bool
}

type cleaningResponse struct {
	CleanedText           string `json:"cleaned_text"`
	ImageInsights         string `json:"image_insights"`
	HasCriticalVisualData bool   `json:"has_critical_visual_data"`
}

// cleanAndExtract runs the multimodal cleaning call. imageDataURIs are
// base64 data URIs, at most cleaningMaxImages of which are sent.
func (p *Pipeline) cleanAndExtract(ctx context.Context, settings *runSettings, fullText string, imageDataURIs []string, newsID string) (*CleaningResult, error) {
	if fullText == "" {
		return &CleaningResult{}, nil
	}

	truncated := llm.TruncateChars(fullText, cleaningMaxChars)
	if len(imageDataURIs) > cleaningMaxImages {
		imageDataURIs = imageDataURIs[:cleaningMaxImages]
	}

	parts := []llm.ContentPart{llm.TextPart(truncated)}
	for _, uri := range imageDataURIs {
		parts = append(parts, llm.ImagePart(uri))
	}

	temp := 0.1
	resp, err := p.gateway.Chat(ctx, &llm.ChatRequest{
		Model: settings.CleaningModel,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: cleaningSystemPrompt},
			{Role: llm.RoleUser, Parts: parts},
		},
		Temperature: &temp,
		JSONMode:    true,
		Timeout:     cleaningTimeout,
	}, llm.CallOptions{
		Purpose:   llm.PurposeContentCleaning,
		Metadata:  map[string]any{"news_id": newsID, "images": len(imageDataURIs)},
		Overrides: settings.overrides,
	})
	if err != nil {
		return nil, fmt.Errorf("content cleaning: %w", err)
	}

	var decoded cleaningResponse
	if err := decodeJSON(resp.Content, &decoded); err != nil {
		// Unparseable response: keep the original text (fail open)
		p.log.Warn().Err(err).Str("news_id", newsID).Msg("cleaning response unparseable, keeping original text")
		return &CleaningResult{CleanedText: fullText}, nil
	}

	cleaned := decoded.CleanedText
	// Safety clamp: losing more than half the input means the model
	// over-cleaned; the original text wins.
	if cleaned != "" && len([]rune(cleaned)) < len([]rune(fullText))/2 {
		p.log.Warn().
			Str("news_id", newsID).
			Int("cleaned_len", len([]rune(cleaned))).
			Int("original_len", len([]rune(fullText))).
			Msg("cleaned text lost more than half the input, keeping original")
		cleaned = fullText
	}
	if cleaned == "" {
		cleaned = fullText
	}

	return &CleaningResult{
		CleanedText:   cleaned,
		ImageInsights: decoded.ImageInsights,
		HasVisualData: decoded.HasCriticalVisualData,
	}, nil
}
