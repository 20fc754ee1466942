// Package roster seeds the agent fleet and provider configurations from YAML.
package roster

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"missioncontrol/pkg/config"
	"missioncontrol/pkg/logx"
	"missioncontrol/pkg/persistence"
)

//go:embed default.yaml
var defaultRoster []byte

// Roster is a seed file.
type Roster struct {
	Providers []Provider `yaml:"providers"`
	Agents    []Agent    `yaml:"agents"`
}

// Provider is a provider configuration entry.
type Provider struct {
	Name          string `yaml:"name"`
	Type          string `yaml:"type"`
	BaseURL       string `yaml:"base_url,omitempty"`
	Model         string `yaml:"model"`
	MaxTokens     int    `yaml:"max_tokens,omitempty"`
	ContextWindow int    `yaml:"context_window,omitempty"`
	APIKeySecret  string `yaml:"api_key_secret,omitempty"`
	Default       bool   `yaml:"default,omitempty"`
}

// Agent is a persona entry. Codename is the key.
type Agent struct {
	Codename    string `yaml:"codename"`
	Name        string `yaml:"name"`
	Avatar      string `yaml:"avatar,omitempty"`
	Role        string `yaml:"role"`
	Personality string `yaml:"personality,omitempty"`
	Soul        string `yaml:"soul"`
	Provider    string `yaml:"provider,omitempty"`
	Model       string `yaml:"model,omitempty"`
}

// Default returns the built-in roster.
func Default() (*Roster, error) {
	return Parse(defaultRoster)
}

// Load reads a roster file.
func Load(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a roster.
func Parse(data []byte) (*Roster, error) {
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse roster: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks for missing keys, duplicate codenames and more than one
// default provider.
func (r *Roster) Validate() error {
	seen := make(map[string]bool, len(r.Agents))
	for i, a := range r.Agents {
		code := strings.ToUpper(strings.TrimSpace(a.Codename))
		if code == "" {
			return fmt.Errorf("agent %d has no codename", i)
		}
		if seen[code] {
			return fmt.Errorf("duplicate agent codename %s", code)
		}
		seen[code] = true
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("agent %s has no name", code)
		}
	}
	defaults := 0
	for i, p := range r.Providers {
		if p.Name == "" || p.Type == "" {
			return fmt.Errorf("provider %d needs a name and a type", i)
		}
		if p.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("%d providers are marked default, at most one is allowed", defaults)
	}
	return nil
}

// Store is the persistence surface seeding needs.
type Store interface {
	UpsertAgent(ctx context.Context, a *persistence.Agent) error
	ListProviders(ctx context.Context) ([]*persistence.ProviderConfig, error)
	CreateProvider(ctx context.Context, p *persistence.ProviderConfig) error
}

// Summary reports what Apply changed.
type Summary struct {
	Agents           int
	ProvidersAdded   int
	ProvidersSkipped int
}

// Apply upserts every agent and adds providers whose name is not taken.
// Existing providers are never modified. A provider whose key secret is
// missing is still stored but is not selectable until a key is set.
func Apply(ctx context.Context, store Store, r *Roster) (Summary, error) {
	logger := logx.NewLogger("roster")
	var sum Summary

	existing, err := store.ListProviders(ctx)
	if err != nil {
		return sum, err
	}
	names := make(map[string]bool, len(existing))
	for _, p := range existing {
		names[strings.ToLower(p.Name)] = true
	}
	for _, p := range r.Providers {
		if names[strings.ToLower(p.Name)] {
			sum.ProvidersSkipped++
			continue
		}
		var key string
		if p.APIKeySecret != "" {
			key, err = config.GetSecret(p.APIKeySecret)
			if err != nil {
				logger.Warn("provider %s stored without an API key: %v", p.Name, err)
			}
		}
		if err := store.CreateProvider(ctx, &persistence.ProviderConfig{
			Type:          p.Type,
			APIKey:        key,
			Name:          p.Name,
			BaseURL:       p.BaseURL,
			Model:         p.Model,
			MaxTokens:     p.MaxTokens,
			ContextWindow: p.ContextWindow,
			IsDefault:     p.Default,
		}); err != nil {
			return sum, err
		}
		names[strings.ToLower(p.Name)] = true
		sum.ProvidersAdded++
		logger.Info("Added provider %s (%s)", p.Name, p.Type)
	}

	for _, a := range r.Agents {
		if err := store.UpsertAgent(ctx, &persistence.Agent{
			Codename:    a.Codename,
			Name:        a.Name,
			Avatar:      a.Avatar,
			Role:        a.Role,
			Personality: strings.TrimSpace(a.Personality),
			Soul:        strings.TrimSpace(a.Soul),
			Provider:    a.Provider,
			Model:       a.Model,
		}); err != nil {
			return sum, err
		}
		sum.Agents++
	}
	logger.Info("Seeded %d agents", sum.Agents)
	return sum, nil
}
