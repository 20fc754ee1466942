package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"missioncontrol/pkg/llm"
	"missioncontrol/pkg/llmerrors"
	"missioncontrol/pkg/logx"
)

// Middleware retries failed requests according to policy. Once retries of a
// retryable error are exhausted it returns a ServiceUnavailable error so the
// caller can treat the provider as down. logger may be nil.
func Middleware(policy *Policy, logger *logx.Logger) llm.Middleware {
	return func(next llm.Client) llm.Client {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				var (
					resp      llm.CompletionResponse
					lastErr   error
					attempts  int
					permanent bool
				)

				op := func() error {
					attempts++
					r, err := next.Complete(ctx, req)
					if err == nil {
						resp = r
						return nil
					}
					lastErr = err
					if !policy.ShouldRetry(err) {
						permanent = true
						return backoff.Permanent(err)
					}
					return err
				}
				notify := func(err error, wait time.Duration) {
					if logger != nil {
						logger.Warn("🔁 %s attempt %d failed, retrying in %s: %v", next.GetModelName(), attempts, wait, err)
					}
				}

				err := backoff.RetryNotify(op, policy.BackOff(ctx), notify)
				switch {
				case err == nil:
					return resp, nil
				case lastErr == nil:
					// Cancelled before the first attempt finished.
					return llm.CompletionResponse{}, err
				case permanent, ctx.Err() != nil:
					return llm.CompletionResponse{}, lastErr
				default:
					return llm.CompletionResponse{}, llmerrors.NewServiceUnavailableError(lastErr, attempts)
				}
			},
			next.GetModelName,
		)
	}
}
