package config

import (
	"os"
	"strings"
)

// Provider wire protocols. A provider config's type selects one adapter.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Environment variables consulted when a provider row carries no key.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
	EnvServerPassword  = "MISSIONCONTROL_PASSWORD"
)

// FallbackCPM prices models missing from KnownModels, per million tokens
// regardless of direction.
const FallbackCPM = 5.0

// ModelInfo is static pricing and limit data for a model.
type ModelInfo struct {
	Provider         string
	InputCPM         float64 // USD per million input tokens
	OutputCPM        float64 // USD per million output tokens
	MaxContextTokens int
	MaxOutputTokens  int
}

// KnownModels is the pricing registry.
//
//nolint:gochecknoglobals // static registry
var KnownModels = map[string]ModelInfo{
	"claude-sonnet-4-5": {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-sonnet-4-20250514": {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-opus-4-1": {
		Provider:         ProviderAnthropic,
		InputCPM:         15.0,
		OutputCPM:        75.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  16384,
	},
	"claude-3-5-haiku-latest": {
		Provider:         ProviderAnthropic,
		InputCPM:         0.8,
		OutputCPM:        4.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"gpt-4o": {
		Provider:         ProviderOpenAI,
		InputCPM:         2.5,
		OutputCPM:        10.0,
		MaxContextTokens: 128000,
		MaxOutputTokens:  4096,
	},
	"gpt-4o-mini": {
		Provider:         ProviderOpenAI,
		InputCPM:         0.15,
		OutputCPM:        0.6,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"moonshotai/kimi-k2.5": {
		Provider:         ProviderOpenAI,
		InputCPM:         0.6,
		OutputCPM:        2.5,
		MaxContextTokens: 131072,
		MaxOutputTokens:  8192,
	},
	"gemini-2.5-flash": {
		Provider:         ProviderGoogle,
		InputCPM:         0.30,
		OutputCPM:        2.50,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  65536,
	},
	"llama3.1": {
		Provider:         ProviderOllama,
		MaxContextTokens: 131072,
		MaxOutputTokens:  4096,
	},
}

// NormalizeProviderType maps stored provider types (including legacy
// dashboard names) onto a wire protocol.
func NormalizeProviderType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "claude", "anthropic":
		return ProviderAnthropic
	case "google", "gemini":
		return ProviderGoogle
	case "ollama":
		return ProviderOllama
	default:
		// kimi, openrouter, openai and any other OpenAI-compatible endpoint.
		return ProviderOpenAI
	}
}

// CalculateCost returns the USD cost of a call. Models missing from
// KnownModels are priced at FallbackCPM.
func CalculateCost(model string, promptTokens, completionTokens int) float64 {
	if info, ok := KnownModels[model]; ok {
		in := float64(promptTokens) / 1_000_000.0 * info.InputCPM
		out := float64(completionTokens) / 1_000_000.0 * info.OutputCPM
		return in + out
	}
	return float64(promptTokens+completionTokens) / 1_000_000.0 * FallbackCPM
}

// MaxOutputTokens caps requested against the model's known limit.
func MaxOutputTokens(model string, requested int) int {
	if info, ok := KnownModels[model]; ok && info.MaxOutputTokens > 0 && requested > info.MaxOutputTokens {
		return info.MaxOutputTokens
	}
	return requested
}

// GetAPIKey returns the key for a wire protocol from secrets or env. For
// Ollama it returns the host URL.
func GetAPIKey(provider string) (string, error) {
	var envVar string
	switch NormalizeProviderType(provider) {
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	case ProviderOllama:
		if host := os.Getenv(EnvOllamaHost); host != "" {
			return host, nil
		}
		return "http://localhost:11434", nil
	default:
		envVar = EnvOpenAIAPIKey
	}
	return GetSecret(envVar)
}
