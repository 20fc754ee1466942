package provider

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/sony/gobreaker"

	"missioncontrol/internal/llmimpl/anthropic"
	"missioncontrol/internal/llmimpl/google"
	"missioncontrol/internal/llmimpl/ollama"
	"missioncontrol/internal/llmimpl/openai"
	"missioncontrol/pkg/config"
	"missioncontrol/pkg/llm"
	"missioncontrol/pkg/llm/middleware/metrics"
	"missioncontrol/pkg/llm/middleware/resilience/circuit"
	"missioncontrol/pkg/llm/middleware/resilience/retry"
	"missioncontrol/pkg/llm/middleware/resilience/timeout"
	"missioncontrol/pkg/llm/middleware/validation"
	"missioncontrol/pkg/logx"
	"missioncontrol/pkg/persistence"
)

// Factory creates provider clients with configured middleware chains. One
// circuit breaker is kept per provider row so a failing endpoint does not
// trip the others.
type Factory struct {
	resilience config.ResilienceConfig
	recorder   metrics.Recorder
	httpClient *http.Client
	logger     *logx.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewFactory creates a factory. A nil recorder disables request metrics.
func NewFactory(cfg config.Config, recorder metrics.Recorder) *Factory {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	res := config.ResilienceConfig{}
	if cfg.Resilience != nil {
		res = *cfg.Resilience
	}
	return &Factory{
		resilience: res,
		recorder:   recorder,
		httpClient: &http.Client{},
		logger:     logx.NewLogger("provider"),
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Client builds a client for p. The chain, outermost first, is
// metrics, circuit breaker, retry, timeout, empty-response validation.
func (f *Factory) Client(ctx context.Context, p *persistence.ProviderConfig) (llm.Client, error) {
	raw, err := f.rawClient(ctx, p)
	if err != nil {
		return nil, err
	}

	policy := retry.NewPolicy(retry.Config{
		MaxAttempts:  f.resilience.Retry.MaxAttempts,
		InitialDelay: f.resilience.Retry.InitialDelay,
		MaxDelay:     f.resilience.Retry.MaxDelay,
	}, nil)

	return llm.Chain(raw,
		metrics.Middleware(f.recorder, nil, f.logger),
		circuit.Middleware(f.breaker(p)),
		retry.Middleware(policy, f.logger),
		timeout.Middleware(f.resilience.Timeout),
		validation.EmptyResponseMiddleware(f.logger),
	), nil
}

func (f *Factory) rawClient(ctx context.Context, p *persistence.ProviderConfig) (llm.Client, error) {
	typ := config.NormalizeProviderType(p.Type)
	apiKey := p.APIKey
	if apiKey == "" && typ != config.ProviderOllama {
		key, err := config.GetAPIKey(typ)
		if err != nil {
			return nil, fmt.Errorf("failed to get API key for provider %s: %w", p.Name, err)
		}
		apiKey = key
	}
	cfg := llm.Config{
		APIKey:    apiKey,
		BaseURL:   p.BaseURL,
		ModelName: p.Model,
		MaxTokens: p.MaxTokens,
	}

	switch typ {
	case config.ProviderAnthropic:
		return anthropic.NewClaudeClient(cfg), nil
	case config.ProviderGoogle:
		c, err := google.NewGeminiClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.ProviderOllama:
		if cfg.BaseURL == "" {
			host, _ := config.GetAPIKey(config.ProviderOllama)
			cfg.BaseURL = host
		}
		return ollama.NewOllamaClient(cfg, f.httpClient), nil
	default:
		return openai.NewChatClient(cfg), nil
	}
}

func (f *Factory) breaker(p *persistence.ProviderConfig) *gobreaker.CircuitBreaker {
	key := p.ID
	if key == "" {
		key = p.Type + "|" + p.BaseURL
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := f.breakers[key]; ok {
		return cb
	}
	name := p.Name
	if name == "" {
		name = p.Type
	}
	cb := circuit.NewBreaker(name, circuit.Config{
		FailureThreshold: f.resilience.CircuitBreaker.FailureThreshold,
		Timeout:          f.resilience.CircuitBreaker.Timeout,
	}, f.logger)
	f.breakers[key] = cb
	return cb
}
