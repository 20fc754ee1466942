// Package circuit provides circuit breaker middleware for LLM clients.
package circuit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"missioncontrol/pkg/llm"
	"missioncontrol/pkg/llmerrors"
	"missioncontrol/pkg/logx"
)

// Config defines configuration for circuit breaker behavior.
type Config struct {
	FailureThreshold int           `json:"failure_threshold"` // consecutive failures before opening
	SuccessThreshold int           `json:"success_threshold"` // half-open probes allowed
	Timeout          time.Duration `json:"timeout"`           // open → half-open delay
}

// DefaultConfig provides reasonable defaults for circuit breaker behavior.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	FailureThreshold: 5,
	SuccessThreshold: 1,
	Timeout:          30 * time.Second,
}

// Error is returned without calling the provider while the circuit is open.
type Error struct {
	Err  error
	Name string
}

func (e *Error) Error() string {
	return fmt.Sprintf("circuit breaker %s: %v", e.Name, e.Err)
}

// Unwrap returns the gobreaker sentinel.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewBreaker builds a gobreaker for one provider. Client-side errors (auth,
// bad prompt) and cancellations do not count as provider failures.
func NewBreaker(name string, cfg Config, logger *logx.Logger) *gobreaker.CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultConfig.SuccessThreshold
	}
	threshold := uint32(cfg.FailureThreshold) //nolint:gosec // small positive config value
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(cfg.SuccessThreshold), //nolint:gosec // small positive config value
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("⚡ circuit %s: %s → %s", name, from, to)
			}
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			switch llmerrors.TypeOf(err) {
			case llmerrors.ErrorTypeAuth, llmerrors.ErrorTypeBadPrompt:
				return true
			default:
				return false
			}
		},
	})
}

// Middleware rejects calls immediately while the breaker is open.
func Middleware(cb *gobreaker.CircuitBreaker) llm.Middleware {
	return func(next llm.Client) llm.Client {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				out, err := cb.Execute(func() (interface{}, error) {
					return next.Complete(ctx, req)
				})
				if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
					return llm.CompletionResponse{}, &Error{Name: cb.Name(), Err: err}
				}
				resp, _ := out.(llm.CompletionResponse)
				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			next.GetModelName,
		)
	}
}
