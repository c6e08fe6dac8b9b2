/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Anthropic connector over the official SDK. Converts
             gateway messages (including multimodal parts) to
             Anthropic content blocks and adapts the event stream
             to the gateway's tagged union.
Root Cause:  Sprint task N023 — Anthropic provider connector.
Context:     max_tokens is mandatory upstream; the gateway's
             request check applies the default before calls
             reach this connector.
Suitability: L3 model for provider connector implementation.
──────────────────────────────────────────────────────────────
*/

package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicDefaultMaxTokens is applied by the gateway request check
// when the caller did not set MaxTokens.
const anthropicDefaultMaxTokens int64 = 4096

// AnthropicProvider implements Provider for the Anthropic API.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a connector from resolved credentials.
func NewAnthropicProvider(creds Credentials) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(creds.APIKey)}
	if creds.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(creds.BaseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...)}
}

func (p *AnthropicProvider) Name() string { return string(ProviderAnthropic) }

// SupportsEmbeddings is false: embeddings always run on the
// OpenAI-compatible path.
func (p *AnthropicProvider) SupportsEmbeddings() bool { return false }

func (p *AnthropicProvider) Close() error { return nil }

// Embed is unsupported on this connector.
func (p *AnthropicProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	return nil, fmt.Errorf("anthropic: embeddings not supported (model %s)", req.Model)
}

func convertParts(parts []ContentPart) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case "image_url":
			url := part.ImageURL
			if strings.HasPrefix(url, "data:") {
				pieces := strings.SplitN(url, ",", 2)
				if len(pieces) != 2 {
					continue
				}
				mediaType := "image/jpeg"
				for _, mt := range []string{"image/png", "image/gif", "image/webp"} {
					if strings.Contains(pieces[0], mt) {
						mediaType = mt
						break
					}
				}
				blocks = append(blocks, anthropic.NewImageBlock(anthropic.Base64ImageSourceParam{
					Data:      pieces[1],
					MediaType: anthropic.Base64ImageSourceMediaType(mediaType),
				}))
			} else if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
				blocks = append(blocks, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: url}))
			}
		default:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		}
	}
	return blocks
}

func (p *AnthropicProvider) buildParams(req *ChatRequest) anthropic.MessageNewParams {
	maxTokens := anthropicDefaultMaxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}

	var system []anthropic.TextBlockParam
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			// System prompts ride on the top-level params, not the
			// message list.
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			if txt := strings.TrimSpace(m.Content); txt != "" {
				messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(txt)))
			}
		default:
			if len(m.Parts) > 0 {
				blocks := convertParts(m.Parts)
				if len(blocks) > 0 {
					messages = append(messages, anthropic.NewUserMessage(blocks...))
				}
			} else if txt := strings.TrimSpace(m.Content); txt != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(txt)))
			}
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return params
}

// Chat sends a non-streaming message request.
func (p *AnthropicProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	msg, err := p.client.Messages.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}

	var content strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &ChatResponse{
		Content:      content.String(),
		FinishReason: string(msg.StopReason),
		Model:        string(msg.Model),
		Usage: TokenUsage{
			PromptTokens:     msg.Usage.InputTokens,
			CompletionTokens: msg.Usage.OutputTokens,
			TotalTokens:      msg.Usage.InputTokens + msg.Usage.OutputTokens,
			CachedTokens:     msg.Usage.CacheReadInputTokens,
		},
	}, nil
}

// ChatStream sends a streaming message request and adapts Anthropic
// events to the gateway union.
func (p *AnthropicProvider) ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	streamCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		streamCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}

	stream := p.client.Messages.NewStreaming(streamCtx, p.buildParams(req))

	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		if cancel != nil {
			defer cancel()
		}
		defer func() { _ = stream.Close() }()

		var inputTokens, cachedTokens int64

		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				inputTokens = variant.Message.Usage.InputTokens
				cachedTokens = variant.Message.Usage.CacheReadInputTokens
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok {
					if !emit(streamCtx, events, ContentDelta{Text: delta.Text}) {
						return
					}
				}
			case anthropic.MessageDeltaEvent:
				emit(streamCtx, events, UsageInfo{Usage: TokenUsage{
					PromptTokens:     inputTokens,
					CompletionTokens: variant.Usage.OutputTokens,
					TotalTokens:      inputTokens + variant.Usage.OutputTokens,
					CachedTokens:     cachedTokens,
				}})
				if variant.Delta.StopReason != "" {
					emit(streamCtx, events, FinishEvent{Reason: string(variant.Delta.StopReason)})
				}
			}
		}
	}()
	return events, nil
}
