package timeout

import (
	"context"
	"errors"
	"testing"
	"time"

	"missioncontrol/pkg/llm"
)

func blockingClient() llm.Client {
	return llm.WrapClient(
		func(ctx context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
			<-ctx.Done()
			return llm.CompletionResponse{}, ctx.Err()
		},
		func() string { return "slow" },
	)
}

func TestMiddlewareTimesOut(t *testing.T) {
	client := llm.Chain(blockingClient(), Middleware(20*time.Millisecond))

	start := time.Now()
	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout did not bound the call")
	}
}

// deadlineClient records whether each call carried a deadline.
type deadlineClient struct {
	sawDeadline []bool
}

func (c *deadlineClient) Complete(ctx context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	_, ok := ctx.Deadline()
	c.sawDeadline = append(c.sawDeadline, ok)
	return llm.CompletionResponse{Content: "ok"}, nil
}

func (c *deadlineClient) GetModelName() string { return "fast" }

func TestMiddlewareDisabled(t *testing.T) {
	base := &deadlineClient{}
	wrapped := Middleware(0)(base)
	if got, ok := wrapped.(*deadlineClient); !ok || got != base {
		t.Fatalf("zero duration should return the client unchanged, got %T", wrapped)
	}
	if _, err := wrapped.Complete(context.Background(), llm.CompletionRequest{}); err != nil {
		t.Fatal(err)
	}
	if base.sawDeadline[0] {
		t.Error("disabled middleware added a deadline")
	}
}

func TestMiddlewareSetsDeadline(t *testing.T) {
	base := &deadlineClient{}
	resp, err := Middleware(time.Minute)(base).Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "ok" || len(base.sawDeadline) != 1 || !base.sawDeadline[0] {
		t.Errorf("expected one call with a deadline, got %v", base.sawDeadline)
	}
}
