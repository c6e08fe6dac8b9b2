/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Provider abstraction for LLM connectors plus model
             name → provider detection and three-layer credential
             resolution (per-call user → system settings → env).
Root Cause:  Sprint task N021 — provider interface.
Context:     Two connectors today (OpenAI-compatible, Anthropic);
             the detection rule keeps unknown models on the
             OpenAI-compatible path for local endpoints.
Suitability: L3 model for interface design.
──────────────────────────────────────────────────────────────
*/

package llm

import (
	"context"
	"errors"
	"strings"
)

// Provider is the interface all LLM connectors implement.
type Provider interface {
	// Name returns the provider identifier ("openai", "anthropic").
	Name() string

	// Chat sends a non-streaming chat completion request.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// ChatStream sends a streaming request. The returned channel is
	// closed when the stream ends or ctx is cancelled.
	ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error)

	// Embed generates embeddings for the request inputs.
	Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error)

	// SupportsEmbeddings reports whether Embed is implemented.
	SupportsEmbeddings() bool

	// Close releases connection resources.
	Close() error
}

// ProviderType identifies a connector implementation.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
)

// ErrNoAPIKey is returned when credential resolution finds no key for
// the detected provider.
var ErrNoAPIKey = errors.New("no API key configured for provider")

// DetectProvider maps a model name to a provider type. Models starting
// with "claude" go to Anthropic; everything else (gpt-*, o*, embeddings,
// local models behind compatible endpoints) goes to the OpenAI path.
func DetectProvider(model string) ProviderType {
	if strings.HasPrefix(strings.ToLower(model), "claude") {
		return ProviderAnthropic
	}
	return ProviderOpenAI
}

// Credentials is a resolved (key, base URL) pair for one connector.
type Credentials struct {
	Type    ProviderType
	APIKey  string
	BaseURL string

	// FromEnv marks credentials taken from process environment.
	// Only env-sourced provider instances are cached: database and
	// per-call keys may be rotated by an admin at any time.
	FromEnv bool
}

// CredentialOverrides carries the per-call and system-settings layers
// consulted before the environment.
type CredentialOverrides struct {
	// Per-call user override
	UserAPIKey  string
	UserBaseURL string

	// System settings (database)
	SystemOpenAIKey        string
	SystemOpenAIBaseURL    string
	SystemAnthropicKey     string
	SystemAnthropicBaseURL string
}

// EnvCredentials is the bootstrap credential set read at startup.
type EnvCredentials struct {
	OpenAIKey        string
	OpenAIBaseURL    string
	AnthropicKey     string
	AnthropicBaseURL string
}

// ResolveCredentials picks the credentials for a model using the
// priority user → system settings → environment.
func ResolveCredentials(model string, ov CredentialOverrides, env EnvCredentials) (Credentials, error) {
	pt := DetectProvider(model)

	switch pt {
	case ProviderAnthropic:
		switch {
		case ov.UserAPIKey != "":
			return Credentials{Type: pt, APIKey: ov.UserAPIKey, BaseURL: firstNonEmpty(ov.UserBaseURL, ov.SystemAnthropicBaseURL)}, nil
		case ov.SystemAnthropicKey != "":
			return Credentials{Type: pt, APIKey: ov.SystemAnthropicKey, BaseURL: ov.SystemAnthropicBaseURL}, nil
		case env.AnthropicKey != "":
			return Credentials{Type: pt, APIKey: env.AnthropicKey, BaseURL: env.AnthropicBaseURL, FromEnv: true}, nil
		}
	default:
		switch {
		case ov.UserAPIKey != "":
			return Credentials{Type: pt, APIKey: ov.UserAPIKey, BaseURL: firstNonEmpty(ov.UserBaseURL, ov.SystemOpenAIBaseURL)}, nil
		case ov.SystemOpenAIKey != "":
			return Credentials{Type: pt, APIKey: ov.SystemOpenAIKey, BaseURL: ov.SystemOpenAIBaseURL}, nil
		case env.OpenAIKey != "":
			return Credentials{Type: pt, APIKey: env.OpenAIKey, BaseURL: env.OpenAIBaseURL, FromEnv: true}, nil
		}
	}
	return Credentials{}, ErrNoAPIKey
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
