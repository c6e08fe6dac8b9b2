/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       The single entry point for all LLM calls. Resolves
             credentials per call, caches env-sourced connectors
             only, enforces per-feature token buckets and a
             per-provider circuit breaker, and emits a usage
             record for every completed call.
Root Cause:  Sprint task N024 — LLM gateway.
Context:     DB-sourced and per-user keys may rotate at any time,
             so those connector instances are never cached.
Suitability: L3 — gateway coordination and lifecycle.
──────────────────────────────────────────────────────────────
*/

package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/avesed/webstock/services/newscore/breaker"
	"github.com/avesed/webstock/services/newscore/ratelimit"
	"github.com/rs/zerolog"
)

// Purpose tags used across the pipeline. Free-form strings are allowed;
// these are the well-known values.
const (
	PurposeLayer1Scoring   = "layer1_scoring"
	PurposeContentCleaning = "content_cleaning"
	PurposeDeepFilter      = "deep_filter"
	PurposeLightweight     = "lightweight_filter"
	PurposeEmbedding       = "embedding"
	PurposeChat            = "chat"
)

// CallOptions carries per-call purpose, attribution, and the credential
// override layers.
type CallOptions struct {
	Purpose   string
	UserID    *int64
	Metadata  map[string]any
	Overrides CredentialOverrides
}

// Gateway is the process-wide LLM entry point.
type Gateway struct {
	log      zerolog.Logger
	env      EnvCredentials
	breakers *breaker.Registry
	buckets  *ratelimit.FeatureLimiter

	mu           sync.Mutex
	envProviders map[string]Provider
	recorder     UsageRecorder
}

// NewGateway creates a gateway with the given bootstrap credentials.
func NewGateway(env EnvCredentials, breakers *breaker.Registry, buckets *ratelimit.FeatureLimiter, log zerolog.Logger) *Gateway {
	return &Gateway{
		log:          log.With().Str("component", "llm_gateway").Logger(),
		env:          env,
		breakers:     breakers,
		buckets:      buckets,
		envProviders: make(map[string]Provider),
	}
}

// SetUsageRecorder installs the usage observer. Called once at startup.
func (g *Gateway) SetUsageRecorder(r UsageRecorder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recorder = r
}

func (g *Gateway) newProvider(creds Credentials) Provider {
	if creds.Type == ProviderAnthropic {
		return NewAnthropicProvider(creds)
	}
	return NewOpenAIProvider(creds)
}

// providerFor resolves credentials and returns a connector. Env-sourced
// connectors are cached for connection reuse; all others are per-call.
func (g *Gateway) providerFor(model string, ov CredentialOverrides) (Provider, error) {
	creds, err := ResolveCredentials(model, ov, g.env)
	if err != nil {
		return nil, fmt.Errorf("%w: model %s", err, model)
	}
	if !creds.FromEnv {
		return g.newProvider(creds), nil
	}

	key := string(creds.Type) + ":" + creds.BaseURL
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.envProviders[key]; ok {
		return p, nil
	}
	p := g.newProvider(creds)
	g.envProviders[key] = p
	return p, nil
}

// checkRequest applies provider-specific requirements that must be
// visible at the gateway layer rather than hidden in a connector.
func (g *Gateway) checkRequest(req *ChatRequest) {
	if DetectProvider(req.Model) == ProviderAnthropic && (req.MaxTokens == nil || *req.MaxTokens <= 0) {
		def := anthropicDefaultMaxTokens
		req.MaxTokens = &def
		g.log.Debug().
			Str("model", req.Model).
			Int64("max_tokens", def).
			Msg("applied required max_tokens default for anthropic model")
	}
}

func featureFor(purpose string) ratelimit.Feature {
	switch purpose {
	case PurposeEmbedding:
		return ratelimit.FeatureEmbedding
	case PurposeDeepFilter, "analysis", "report":
		return ratelimit.FeatureAnalysis
	default:
		return ratelimit.FeatureChat
	}
}

func (g *Gateway) acquire(purpose string) error {
	if g.buckets == nil {
		return nil
	}
	if !g.buckets.Acquire(featureFor(purpose)) {
		return fmt.Errorf("%w: feature %s", ratelimit.ErrLimited, featureFor(purpose))
	}
	return nil
}

func (g *Gateway) record(opts CallOptions, model string, usage TokenUsage) {
	g.mu.Lock()
	recorder := g.recorder
	g.mu.Unlock()
	if recorder == nil {
		return
	}
	recorder.RecordUsage(Usage{
		Purpose:          opts.Purpose,
		Model:            model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		CachedTokens:     usage.CachedTokens,
		UserID:           opts.UserID,
		Metadata:         opts.Metadata,
	})
}

// Chat runs a non-streaming completion with rate limiting, circuit
// breaking, and usage recording.
func (g *Gateway) Chat(ctx context.Context, req *ChatRequest, opts CallOptions) (*ChatResponse, error) {
	if err := g.acquire(opts.Purpose); err != nil {
		return nil, err
	}
	g.checkRequest(req)

	provider, err := g.providerFor(req.Model, opts.Overrides)
	if err != nil {
		return nil, err
	}

	var resp *ChatResponse
	brk := g.breakers.Get(provider.Name(), breaker.DefaultConfig())
	err = brk.Call(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = provider.Chat(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	g.record(opts, resp.Model, resp.Usage)
	return resp, nil
}

// ChatStream runs a streaming completion. Usage is recorded when the
// stream reports it; closing the consumer's context abandons the
// upstream request.
func (g *Gateway) ChatStream(ctx context.Context, req *ChatRequest, opts CallOptions) (<-chan StreamEvent, error) {
	if err := g.acquire(opts.Purpose); err != nil {
		return nil, err
	}
	g.checkRequest(req)

	provider, err := g.providerFor(req.Model, opts.Overrides)
	if err != nil {
		return nil, err
	}

	brk := g.breakers.Get(provider.Name(), breaker.DefaultConfig())
	var upstream <-chan StreamEvent
	err = brk.Call(ctx, func(ctx context.Context) error {
		var callErr error
		upstream, callErr = provider.ChatStream(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)
		for ev := range upstream {
			if ui, ok := ev.(UsageInfo); ok {
				g.record(opts, req.Model, ui.Usage)
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

// Embed generates embeddings through the OpenAI-compatible path.
func (g *Gateway) Embed(ctx context.Context, req *EmbeddingRequest, opts CallOptions) (*EmbeddingResponse, error) {
	if opts.Purpose == "" {
		opts.Purpose = PurposeEmbedding
	}
	if err := g.acquire(opts.Purpose); err != nil {
		return nil, err
	}

	provider, err := g.providerFor(req.Model, opts.Overrides)
	if err != nil {
		return nil, err
	}
	if !provider.SupportsEmbeddings() {
		return nil, fmt.Errorf("provider %s does not support embeddings (model %s)", provider.Name(), req.Model)
	}

	var resp *EmbeddingResponse
	brk := g.breakers.Get(provider.Name(), breaker.DefaultConfig())
	err = brk.Call(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = provider.Embed(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	g.record(opts, resp.Model, resp.Usage)
	return resp, nil
}

// Close tears down cached connectors. Called at shutdown.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.envProviders {
		_ = p.Close()
	}
	g.envProviders = make(map[string]Provider)
}
