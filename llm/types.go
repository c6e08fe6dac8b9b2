/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Provider-agnostic request/response types for the
             LLM gateway. Chat messages carry either plain text
             or ordered multimodal parts; stream events form a
             tagged union consumers dispatch on exhaustively.
Root Cause:  Sprint task N020 — gateway type layer.
Context:     All pipeline stages and the embedding indexer speak
             these types; provider SDK types never leak out.
Suitability: L3 model for interface design affecting all stages.
──────────────────────────────────────────────────────────────
*/

package llm

import "time"

// Role is a chat message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentPart is one element of a multimodal message body.
type ContentPart struct {
	Type     string // "text" or "image_url"
	Text     string // set when Type == "text"
	ImageURL string // set when Type == "image_url"; may be a data: URI
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ImagePart builds an image content part from a URL or data URI.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: "image_url", ImageURL: url}
}

// Message is a provider-agnostic chat message. The content is a sum of
// two shapes: plain text in Content, or ordered multimodal Parts. When
// Parts is non-empty it is the message body and Content is ignored.
type Message struct {
	Role    Role
	Content string
	Parts   []ContentPart
}

// TokenUsage is the token accounting for one call.
type TokenUsage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	CachedTokens     int64 // prompt-cache hit tokens (discounted rate)
}

// ChatRequest is a provider-agnostic chat completion request.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   *int64
	JSONMode    bool // request a JSON object response
	Timeout     time.Duration
}

// ChatResponse is a provider-agnostic chat completion response.
type ChatResponse struct {
	Content      string
	FinishReason string
	Model        string
	Usage        TokenUsage
}

// EmbeddingRequest asks for vectors over one or more inputs.
type EmbeddingRequest struct {
	Input      []string
	Model      string
	Dimensions int
}

// EmbeddingResponse carries one vector per input, in order.
type EmbeddingResponse struct {
	Embeddings [][]float32
	Model      string
	Usage      TokenUsage
}

// ─── Stream events (tagged union) ───────────────────────────

// StreamEvent is the sealed union of streaming events. Consumers
// dispatch with a type switch over the concrete variants.
type StreamEvent interface {
	streamEvent()
}

// ContentDelta is a streamed text fragment.
type ContentDelta struct {
	Text string
}

// ToolCallDelta is one streamed tool-call fragment as the provider
// delivers it. Fragments are not assembled: Arguments may hold only a
// piece of the JSON arguments.
type ToolCallDelta struct {
	ID        string
	Name      string
	Arguments string
}

// UsageInfo carries token usage, typically at end of stream.
type UsageInfo struct {
	Usage TokenUsage
}

// FinishEvent signals stream completion.
type FinishEvent struct {
	Reason string // "stop", "tool_use", "length"
}

func (ContentDelta) streamEvent()  {}
func (ToolCallDelta) streamEvent() {}
func (UsageInfo) streamEvent()     {}
func (FinishEvent) streamEvent()   {}

// ─── Usage observation ──────────────────────────────────────

// Usage is the record emitted for every completed gateway call.
type Usage struct {
	Purpose          string
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	CachedTokens     int64
	UserID           *int64
	Metadata         map[string]any
}

// UsageRecorder observes completed LLM calls. Set once at startup;
// implementations persist token counts and computed cost.
type UsageRecorder interface {
	RecordUsage(u Usage)
}
