/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       OpenAI-compatible connector over the official SDK.
             Handles multimodal content parts, JSON mode, batch
             embeddings, and streaming with usage reporting.
Root Cause:  Sprint task N022 — OpenAI provider connector.
Context:     Also serves local/compatible endpoints via base URL
             override; embeddings always run through this path.
Suitability: L3 model for provider connector implementation.
──────────────────────────────────────────────────────────────
*/

package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIProvider implements Provider for OpenAI and OpenAI-compatible
// endpoints.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates a connector from resolved credentials.
func NewOpenAIProvider(creds Credentials) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(creds.APIKey)}
	if creds.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(creds.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIProvider{client: &client}
}

func (p *OpenAIProvider) Name() string { return string(ProviderOpenAI) }

func (p *OpenAIProvider) SupportsEmbeddings() bool { return true }

func (p *OpenAIProvider) Close() error { return nil }

func convertMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			if len(m.Parts) == 0 {
				out = append(out, openai.UserMessage(m.Content))
				continue
			}
			parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(m.Parts))
			for _, part := range m.Parts {
				switch part.Type {
				case "image_url":
					parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
						URL: part.ImageURL,
					}))
				default:
					parts = append(parts, openai.TextContentPart(part.Text))
				}
			}
			out = append(out, openai.UserMessage(parts))
		}
	}
	return out
}

func (p *OpenAIProvider) buildParams(req *ChatRequest) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: convertMessages(req.Messages),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(*req.MaxTokens)
	}
	if req.JSONMode {
		params.ResponseFormat.OfJSONObject = &openai.ResponseFormatJSONObjectParam{}
	}
	return params
}

// Chat sends a non-streaming chat completion.
func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai chat: empty choices for model %s", req.Model)
	}

	choice := resp.Choices[0]
	return &ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Model:        resp.Model,
		Usage: TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
			CachedTokens:     resp.Usage.PromptTokensDetails.CachedTokens,
		},
	}, nil
}

// ChatStream sends a streaming chat completion. Events are delivered on
// the returned channel; cancelling ctx abandons the upstream request
// and closes the channel.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	params := p.buildParams(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	streamCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		streamCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}

	stream := p.client.Chat.Completions.NewStreaming(streamCtx, params)

	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		if cancel != nil {
			defer cancel()
		}
		defer func() { _ = stream.Close() }()

		for stream.Next() {
			chunk := stream.Current()

			if chunk.Usage.TotalTokens > 0 {
				emit(streamCtx, events, UsageInfo{Usage: TokenUsage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
					CachedTokens:     chunk.Usage.PromptTokensDetails.CachedTokens,
				}})
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.Delta.Content != "" {
				if !emit(streamCtx, events, ContentDelta{Text: choice.Delta.Content}) {
					return
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				emit(streamCtx, events, ToolCallDelta{
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
			if choice.FinishReason != "" {
				emit(streamCtx, events, FinishEvent{Reason: string(choice.FinishReason)})
			}
		}
	}()
	return events, nil
}

// Embed generates embeddings in one batch call.
func (p *OpenAIProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	params := openai.EmbeddingNewParams{
		Model: req.Model,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: req.Input,
		},
	}
	if req.Dimensions > 0 {
		params.Dimensions = openai.Int(int64(req.Dimensions))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(req.Input) {
		return nil, fmt.Errorf("openai embeddings: expected %d vectors, got %d", len(req.Input), len(resp.Data))
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		embeddings[i] = vec
	}

	return &EmbeddingResponse{
		Embeddings: embeddings,
		Model:      resp.Model,
		Usage: TokenUsage{
			PromptTokens: resp.Usage.PromptTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

// emit delivers an event unless the context is done. Returns false when
// the consumer is gone.
func emit(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
