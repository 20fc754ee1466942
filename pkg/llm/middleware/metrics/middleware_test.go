package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missioncontrol/pkg/llm"
	"missioncontrol/pkg/llmerrors"
	"missioncontrol/pkg/tools"
)

type observation struct {
	model, agent     string
	prompt, complete int
	success          bool
	errorType        string
}

type captureRecorder struct {
	seen []observation
}

func (c *captureRecorder) ObserveRequest(model, agent string, p, cpl int, _ float64, success bool, et string, _ time.Duration) {
	c.seen = append(c.seen, observation{model, agent, p, cpl, success, et})
}

func fixedClient(resp llm.CompletionResponse, err error) llm.Client {
	return llm.WrapClient(
		func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) { return resp, err },
		func() string { return "gpt-4o" },
	)
}

func TestMiddlewareRecordsReportedUsage(t *testing.T) {
	rec := &captureRecorder{}
	client := Middleware(rec, nil, nil)(fixedClient(llm.CompletionResponse{
		Content: "hi",
		Usage:   llm.Usage{InputTokens: 12, OutputTokens: 3},
	}, nil))

	ctx := tools.WithCaller(context.Background(), tools.Caller{Codename: "TABSMITH"})
	_, err := client.Complete(ctx, llm.CompletionRequest{})
	require.NoError(t, err)

	require.Len(t, rec.seen, 1)
	assert.Equal(t, observation{"gpt-4o", "TABSMITH", 12, 3, true, ""}, rec.seen[0])
}

func TestMiddlewareEstimatesMissingUsage(t *testing.T) {
	rec := &captureRecorder{}
	client := Middleware(rec, nil, nil)(fixedClient(llm.CompletionResponse{Content: "hello world"}, nil))

	_, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("write a lick")}))
	require.NoError(t, err)
	require.Len(t, rec.seen, 1)
	assert.Positive(t, rec.seen[0].prompt)
	assert.Positive(t, rec.seen[0].complete)
	assert.Equal(t, "unknown", rec.seen[0].agent)
}

func TestErrorType(t *testing.T) {
	assert.Equal(t, "", errorType(nil))
	assert.Equal(t, "circuit_breaker", errorType(gobreaker.ErrOpenState))
	assert.Equal(t, "timeout", errorType(context.DeadlineExceeded))
	assert.Equal(t, "rate_limit", errorType(llmerrors.NewError(llmerrors.ErrorTypeRateLimit, "429")))
	assert.Equal(t, "unknown", errorType(errors.New("odd")))
}

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg, "test")

	rec.ObserveRequest("gpt-4o", "COACH", 10, 5, 0.01, true, "", time.Second)
	rec.ObserveRequest("gpt-4o", "COACH", 0, 0, 0, false, "transient", time.Second)

	assert.InDelta(t, 1, testutil.ToFloat64(rec.requestsTotal.WithLabelValues("gpt-4o", "COACH", statusSuccess, "")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.requestsTotal.WithLabelValues("gpt-4o", "COACH", statusError, "transient")), 0)
	assert.InDelta(t, 10, testutil.ToFloat64(rec.tokensTotal.WithLabelValues("gpt-4o", "COACH", "prompt")), 0)
}
