package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		text   string
		want   ErrorType
	}{
		{"429", 429, "", ErrorTypeRateLimit},
		{"quota text", 0, "You exceeded your current quota", ErrorTypeRateLimit},
		{"401", 401, "", ErrorTypeAuth},
		{"bad key text", 0, "invalid API key provided", ErrorTypeAuth},
		{"503", 503, "", ErrorTypeTransient},
		{"reset", 0, "read tcp: connection reset by peer", ErrorTypeTransient},
		{"400", 400, "", ErrorTypeBadPrompt},
		{"unknown", 0, "something odd", ErrorTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.status, tt.text).Type; got != tt.want {
				t.Errorf("Classify(%d, %q) = %s, want %s", tt.status, tt.text, got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
	if IsRetryable(context.Canceled) {
		t.Error("context.Canceled should not be retryable")
	}
	if IsRetryable(fmt.Errorf("wrapped: %w", NewError(ErrorTypeAuth, "nope"))) {
		t.Error("auth should not be retryable")
	}
	if !IsRetryable(NewError(ErrorTypeRateLimit, "slow down")) {
		t.Error("rate limit should be retryable")
	}
	if !IsRetryable(errors.New("HTTP 502 bad gateway")) {
		t.Error("unclassified 5xx text should be retryable via sniffing")
	}
	if IsRetryable(NewServiceUnavailableError(errors.New("x"), 3)) {
		t.Error("service unavailable should not be retryable")
	}
}

func TestTypeOfAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("call: %w", NewErrorWithCause(ErrorTypeTransient, cause, ""))
	if TypeOf(err) != ErrorTypeTransient {
		t.Errorf("expected transient, got %s", TypeOf(err))
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable")
	}
	if TypeOf(errors.New("plain")) != ErrorTypeUnknown {
		t.Error("plain error should be unknown")
	}
	if !Is(err, ErrorTypeTransient) {
		t.Error("Is should match transient")
	}
}

func TestFromProvider(t *testing.T) {
	if FromProvider("anthropic", 500, nil) != nil {
		t.Error("nil error should stay nil")
	}

	cause := errors.New("upstream said no")
	err := FromProvider("openai", 429, cause)
	if !Is(err, ErrorTypeRateLimit) {
		t.Errorf("expected rate limit, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be preserved")
	}

	aborted := FromProvider("ollama", 0, context.Canceled)
	if !errors.Is(aborted, context.Canceled) || IsRetryable(aborted) {
		t.Errorf("cancellation should pass through unretried, got %v", aborted)
	}
}
