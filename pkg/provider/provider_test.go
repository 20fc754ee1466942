package provider

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missioncontrol/pkg/config"
	"missioncontrol/pkg/llm"
	"missioncontrol/pkg/llmerrors"
	"missioncontrol/pkg/persistence"
	"missioncontrol/pkg/testkit"
)

func TestResolveOrder(t *testing.T) {
	ctx := context.Background()
	s := testkit.NewStore(t)

	_, err := Resolve(ctx, s, nil, "claude")
	require.ErrorIs(t, err, ErrNoProvider)

	kimi := testkit.SeedProvider(t, s, "kimi", false)
	p, err := Resolve(ctx, s, nil, "claude")
	require.NoError(t, err)
	assert.Equal(t, kimi.ID, p.ID, "any usable provider is the last resort")
	assert.Equal(t, DefaultMaxTokens, p.MaxTokens)

	openrouter := testkit.SeedProvider(t, s, "openrouter", true)
	p, err = Resolve(ctx, s, nil, "claude")
	require.NoError(t, err)
	assert.Equal(t, openrouter.ID, p.ID, "default provider beats any provider")

	claude := testkit.SeedProvider(t, s, "claude", false)
	p, err = Resolve(ctx, s, nil, "claude")
	require.NoError(t, err)
	assert.Equal(t, claude.ID, p.ID, "agent's preferred type beats the default")

	override := &persistence.ProviderConfig{Type: "ollama", Model: "llama3.1"}
	p, err = Resolve(ctx, s, override, "claude")
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Type)
	assert.Equal(t, DefaultMaxTokens, p.MaxTokens)
	assert.Zero(t, override.MaxTokens, "override must not be mutated")
}

func TestResolveSkipsProvidersWithoutKey(t *testing.T) {
	ctx := context.Background()
	s := testkit.NewStore(t)
	require.NoError(t, s.CreateProvider(ctx, &persistence.ProviderConfig{Type: "claude", Name: "keyless", Model: "m", IsDefault: true}))

	_, err := Resolve(ctx, s, nil, "claude")
	assert.ErrorIs(t, err, ErrNoProvider)
}

func testFactory() *Factory {
	return NewFactory(config.Config{Resilience: &config.ResilienceConfig{
		CircuitBreaker: config.CircuitBreakerConfig{FailureThreshold: 5, Timeout: time.Minute},
		Retry:          config.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Timeout:        5 * time.Second,
	}}, nil)
}

func TestFactoryBuildsWorkingChain(t *testing.T) {
	server := testkit.MockAnthropicServer(
		testkit.Reply{Status: http.StatusInternalServerError},
		testkit.Reply{Text: "E|--5h7--|", InputTokens: 10, OutputTokens: 4},
	)
	defer server.Close()

	f := testFactory()
	client, err := f.Client(context.Background(), &persistence.ProviderConfig{
		ID: "p1", Type: "claude", Name: "Claude", APIKey: "k", BaseURL: server.URL, Model: "claude-sonnet-4-5",
	})
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", client.GetModelName())

	resp, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("lick")}))
	require.NoError(t, err, "transient 500 should be retried")
	assert.Equal(t, "E|--5h7--|", resp.Content)
	assert.Len(t, server.Requests(), 2)
}

func TestFactoryRetryExhaustion(t *testing.T) {
	server := testkit.MockOpenAIServer(testkit.Reply{Status: http.StatusServiceUnavailable})
	defer server.Close()

	client, err := testFactory().Client(context.Background(), &persistence.ProviderConfig{
		ID: "p2", Type: "kimi", APIKey: "k", BaseURL: server.URL + "/v1", Model: "moonshotai/kimi-k2.5",
	})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeServiceUnavailable))
}

func TestFactoryBreakerPerProvider(t *testing.T) {
	f := testFactory()
	a := &persistence.ProviderConfig{ID: "a", Type: "claude"}
	b := &persistence.ProviderConfig{ID: "b", Type: "claude"}
	assert.Same(t, f.breaker(a), f.breaker(a))
	assert.NotSame(t, f.breaker(a), f.breaker(b))
}
