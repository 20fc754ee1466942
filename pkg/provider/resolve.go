// Package provider resolves which configured LLM endpoint serves a task and
// builds its client with the resilience middleware chain.
package provider

import (
	"context"
	"errors"
	"fmt"

	"missioncontrol/pkg/persistence"
)

// ErrNoProvider is returned when no usable provider is configured.
var ErrNoProvider = errors.New("no provider configured with an API key; add one via Settings → Providers")

// DefaultMaxTokens is used for providers that do not set max_tokens.
const DefaultMaxTokens = 8192

// Store is the persistence surface provider resolution needs.
type Store interface {
	ProviderByType(ctx context.Context, typ string) (*persistence.ProviderConfig, error)
	DefaultProvider(ctx context.Context) (*persistence.ProviderConfig, error)
	AnyProvider(ctx context.Context) (*persistence.ProviderConfig, error)
}

// Resolve picks the provider for an execution: the explicit override, then
// a provider of the agent's preferred type, then the default-flagged
// provider, then any usable provider.
func Resolve(ctx context.Context, store Store, override *persistence.ProviderConfig, agentProvider string) (*persistence.ProviderConfig, error) {
	if override != nil {
		p := *override
		if p.MaxTokens <= 0 {
			p.MaxTokens = DefaultMaxTokens
		}
		return &p, nil
	}

	lookups := []func() (*persistence.ProviderConfig, error){
		func() (*persistence.ProviderConfig, error) {
			if agentProvider == "" {
				return nil, persistence.ErrNotFound
			}
			return store.ProviderByType(ctx, agentProvider)
		},
		func() (*persistence.ProviderConfig, error) { return store.DefaultProvider(ctx) },
		func() (*persistence.ProviderConfig, error) { return store.AnyProvider(ctx) },
	}
	for _, lookup := range lookups {
		p, err := lookup()
		if errors.Is(err, persistence.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve provider: %w", err)
		}
		if p.MaxTokens <= 0 {
			p.MaxTokens = DefaultMaxTokens
		}
		return p, nil
	}
	return nil, ErrNoProvider
}
