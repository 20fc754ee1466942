// Package validation rejects empty provider responses.
package validation

import (
	"context"

	"missioncontrol/pkg/llm"
	"missioncontrol/pkg/llmerrors"
	"missioncontrol/pkg/logx"
)

const guidanceMessage = "Your previous response was empty. Respond with the requested content, " +
	"or call one of the available tools."

// EmptyResponseMiddleware retries once with a guidance message when the
// provider returns neither content nor tool calls, then fails with an
// EmptyResponse error.
func EmptyResponseMiddleware(logger *logx.Logger) llm.Middleware {
	return func(next llm.Client) llm.Client {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				const maxEmptyAttempts = 2

				for attempt := 1; attempt <= maxEmptyAttempts; attempt++ {
					resp, err := next.Complete(ctx, req)
					if err != nil && !llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse) {
						return resp, err //nolint:wrapcheck // Middleware passes through errors unchanged
					}
					if err == nil && !isEmpty(resp) {
						return resp, nil
					}

					if logger != nil {
						logger.Warn("🔄 empty response from %s (attempt %d/%d)", next.GetModelName(), attempt, maxEmptyAttempts)
					}
					retry := req
					retry.Messages = append(append([]llm.CompletionMessage{}, req.Messages...), llm.NewUserMessage(guidanceMessage))
					req = retry
				}

				return llm.CompletionResponse{}, llmerrors.NewError(
					llmerrors.ErrorTypeEmptyResponse,
					"received empty response after guidance: no content or tool calls",
				)
			},
			next.GetModelName,
		)
	}
}

func isEmpty(resp llm.CompletionResponse) bool {
	if len(resp.ToolCalls) > 0 {
		return false
	}
	for _, r := range resp.Content {
		if r != ' ' && r != '\n' && r != '\t' && r != '\r' {
			return false
		}
	}
	return true
}
