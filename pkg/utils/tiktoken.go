// Package utils provides tiktoken-based token counting utilities.
package utils

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter estimates token counts. Every provider is approximated with
// the cl100k encoding; estimates are only used when a provider reports no
// usage.
type TokenCounter struct {
	codec tokenizer.Codec
}

//nolint:gochecknoglobals // codec is expensive to build
var (
	defaultCounter     *TokenCounter
	defaultCounterOnce sync.Once
)

// NewTokenCounter creates a token counter for model.
func NewTokenCounter(model string) (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in the given text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		// 4 chars ≈ 1 token
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// CountTokensSimple counts tokens with a shared GPT-4 counter.
func CountTokensSimple(text string) int {
	return shared().CountTokens(text)
}

// TruncateTokens cuts text to roughly limit tokens with the shared counter.
func TruncateTokens(text string, limit int) string {
	return shared().TruncateToTokenLimit(text, limit)
}

func shared() *TokenCounter {
	defaultCounterOnce.Do(func() {
		counter, err := NewTokenCounter("gpt-4")
		if err == nil {
			defaultCounter = counter
		}
	})
	return defaultCounter
}

// TruncateToTokenLimit truncates text to roughly limit tokens. It cuts on a
// rune boundary, not a token boundary, and marks the cut with "...".
func (tc *TokenCounter) TruncateToTokenLimit(text string, limit int) string {
	current := tc.CountTokens(text)
	if current <= limit {
		return text
	}
	runes := []rune(text)
	keep := int(float64(len(runes)) * float64(limit) / float64(current) * 0.9)
	if keep >= len(runes) {
		return text
	}
	return string(runes[:keep]) + "..."
}
