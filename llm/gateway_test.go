package llm

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/avesed/webstock/services/newscore/breaker"
	"github.com/avesed/webstock/services/newscore/ratelimit"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		model string
		want  ProviderType
	}{
		{"claude-3-5-haiku-20241022", ProviderAnthropic},
		{"Claude-Sonnet", ProviderAnthropic},
		{"gpt-4o-mini", ProviderOpenAI},
		{"o1-mini", ProviderOpenAI},
		{"text-embedding-3-small", ProviderOpenAI},
		{"qwen2.5-local", ProviderOpenAI},
	}
	for _, tc := range tests {
		t.Run(tc.model, func(t *testing.T) {
			assert.Equal(t, tc.want, DetectProvider(tc.model))
		})
	}
}

func TestResolveCredentialsPriority(t *testing.T) {
	env := EnvCredentials{OpenAIKey: "env-key", AnthropicKey: "env-ant"}

	// Environment only
	creds, err := ResolveCredentials("gpt-4o-mini", CredentialOverrides{}, env)
	require.NoError(t, err)
	assert.Equal(t, "env-key", creds.APIKey)
	assert.True(t, creds.FromEnv)

	// System settings beat environment
	creds, err = ResolveCredentials("gpt-4o-mini", CredentialOverrides{SystemOpenAIKey: "db-key"}, env)
	require.NoError(t, err)
	assert.Equal(t, "db-key", creds.APIKey)
	assert.False(t, creds.FromEnv, "db-sourced credentials must not be cached")

	// User override beats everything
	creds, err = ResolveCredentials("claude-3-opus", CredentialOverrides{
		UserAPIKey:         "user-key",
		SystemAnthropicKey: "db-ant",
	}, env)
	require.NoError(t, err)
	assert.Equal(t, "user-key", creds.APIKey)
	assert.Equal(t, ProviderAnthropic, creds.Type)
}

func TestResolveCredentialsMissingKey(t *testing.T) {
	_, err := ResolveCredentials("claude-3-haiku", CredentialOverrides{}, EnvCredentials{})
	require.ErrorIs(t, err, ErrNoAPIKey)
}

// fakeProvider lets gateway tests run without network access.
type fakeProvider struct {
	name    string
	chatErr error
	calls   int
}

func (f *fakeProvider) Name() string              { return f.name }
func (f *fakeProvider) SupportsEmbeddings() bool  { return true }
func (f *fakeProvider) Close() error              { return nil }

func (f *fakeProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	f.calls++
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return &ChatResponse{
		Content: `{"ok":true}`,
		Model:   req.Model,
		Usage:   TokenUsage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
	}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	ch := make(chan StreamEvent, 4)
	ch <- ContentDelta{Text: "hello"}
	ch <- UsageInfo{Usage: TokenUsage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12}}
	ch <- FinishEvent{Reason: "stop"}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	vecs := make([][]float32, len(req.Input))
	for i := range vecs {
		vecs[i] = make([]float32, 4)
	}
	return &EmbeddingResponse{Embeddings: vecs, Model: req.Model, Usage: TokenUsage{PromptTokens: 8, TotalTokens: 8}}, nil
}

type capturedUsage struct {
	records []Usage
}

func (c *capturedUsage) RecordUsage(u Usage) { c.records = append(c.records, u) }

func testGateway(fake *fakeProvider) (*Gateway, *capturedUsage) {
	log := zerolog.New(io.Discard)
	g := NewGateway(EnvCredentials{OpenAIKey: "k"}, breaker.NewRegistry(log), ratelimit.DefaultFeatureLimiter(), log)
	g.envProviders["openai:"] = fake
	rec := &capturedUsage{}
	g.SetUsageRecorder(rec)
	return g, rec
}

func TestGatewayChatRecordsUsage(t *testing.T) {
	fake := &fakeProvider{name: "openai"}
	g, rec := testGateway(fake)

	resp, err := g.Chat(context.Background(), &ChatRequest{Model: "gpt-4o-mini", Messages: []Message{
		{Role: RoleUser, Content: "score this"},
	}}, CallOptions{Purpose: PurposeLayer1Scoring, Metadata: map[string]any{"news_id": "n1"}})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Content)

	require.Len(t, rec.records, 1)
	assert.Equal(t, PurposeLayer1Scoring, rec.records[0].Purpose)
	assert.EqualValues(t, 100, rec.records[0].PromptTokens)
	assert.Equal(t, "n1", rec.records[0].Metadata["news_id"])
}

func TestGatewayBreakerOpensAfterFailures(t *testing.T) {
	fake := &fakeProvider{name: "openai", chatErr: errors.New("upstream 500")}
	g, _ := testGateway(fake)
	ctx := context.Background()

	req := func() *ChatRequest {
		return &ChatRequest{Model: "gpt-4o-mini", Messages: []Message{{Role: RoleUser, Content: "x"}}}
	}

	for i := 0; i < 5; i++ {
		_, err := g.Chat(ctx, req(), CallOptions{Purpose: PurposeChat})
		require.Error(t, err)
	}
	callsBefore := fake.calls

	_, err := g.Chat(ctx, req(), CallOptions{Purpose: PurposeChat})
	require.ErrorIs(t, err, breaker.ErrOpen)
	assert.Equal(t, callsBefore, fake.calls, "open breaker must not invoke the provider")
}

func TestGatewayAnthropicMaxTokensDefault(t *testing.T) {
	log := zerolog.New(io.Discard)
	g := NewGateway(EnvCredentials{}, breaker.NewRegistry(log), nil, log)

	req := &ChatRequest{Model: "claude-3-5-haiku-20241022"}
	g.checkRequest(req)
	require.NotNil(t, req.MaxTokens)
	assert.EqualValues(t, anthropicDefaultMaxTokens, *req.MaxTokens)

	// Caller-provided values are never overridden
	five := int64(500)
	req2 := &ChatRequest{Model: "claude-3-opus", MaxTokens: &five}
	g.checkRequest(req2)
	assert.EqualValues(t, 500, *req2.MaxTokens)
}

func TestGatewayEmbed(t *testing.T) {
	fake := &fakeProvider{name: "openai"}
	g, rec := testGateway(fake)

	resp, err := g.Embed(context.Background(), &EmbeddingRequest{
		Input: []string{"a", "b"}, Model: "text-embedding-3-small", Dimensions: 4,
	}, CallOptions{})
	require.NoError(t, err)
	assert.Len(t, resp.Embeddings, 2)

	require.Len(t, rec.records, 1)
	assert.Equal(t, PurposeEmbedding, rec.records[0].Purpose)
}

func TestGatewayStreamTaggedUnion(t *testing.T) {
	fake := &fakeProvider{name: "openai"}
	g, rec := testGateway(fake)

	events, err := g.ChatStream(context.Background(), &ChatRequest{Model: "gpt-4o-mini"}, CallOptions{Purpose: PurposeChat})
	require.NoError(t, err)

	var text string
	var finished bool
	deadline := time.After(time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				require.True(t, finished)
				require.Len(t, rec.records, 1, "usage must be recorded from the stream")
				assert.Equal(t, "hello", text)
				return
			}
			switch v := ev.(type) {
			case ContentDelta:
				text += v.Text
			case UsageInfo:
				assert.EqualValues(t, 12, v.Usage.TotalTokens)
			case FinishEvent:
				finished = true
				assert.Equal(t, "stop", v.Reason)
			case ToolCallDelta:
				t.Fatal("unexpected tool call")
			}
		case <-deadline:
			t.Fatal("stream did not complete")
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 3, EstimateTokens("twelve chars")) // 12 latin chars / 4
	assert.Equal(t, 3, EstimateTokens("新闻内容分析"))       // 6 CJK chars / 2
}
