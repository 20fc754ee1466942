package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// AgentUsage is aggregated LLM usage for one agent.
type AgentUsage struct {
	Agent            string  `json:"agent"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	TotalCost        float64 `json:"total_cost_usd"`
}

// QueryService reads LLM usage counters back from a Prometheus server.
type QueryService struct {
	queryAPI  v1.API
	namespace string
}

// NewQueryService creates a query service for the server at prometheusURL.
// namespace must match the one the LLM recorder registered under.
func NewQueryService(prometheusURL, namespace string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{Address: prometheusURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client), namespace: namespace}, nil
}

func (q *QueryService) metric(name string) string {
	if q.namespace == "" {
		return name
	}
	return q.namespace + "_" + name
}

// UsageByAgent returns token and cost totals per agent label.
func (q *QueryService) UsageByAgent(ctx context.Context) ([]*AgentUsage, error) {
	byAgent := map[string]*AgentUsage{}
	get := func(agent string) *AgentUsage {
		u, ok := byAgent[agent]
		if !ok {
			u = &AgentUsage{Agent: agent}
			byAgent[agent] = u
		}
		return u
	}

	tokens, err := q.vector(ctx, fmt.Sprintf(`sum by (agent, type) (%s)`, q.metric("llm_tokens_total")))
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	for _, s := range tokens {
		u := get(string(s.Metric["agent"]))
		switch s.Metric["type"] {
		case "prompt":
			u.PromptTokens += int64(s.Value)
		case "completion":
			u.CompletionTokens += int64(s.Value)
		}
	}

	costs, err := q.vector(ctx, fmt.Sprintf(`sum by (agent) (%s)`, q.metric("llm_costs_total")))
	if err != nil {
		return nil, fmt.Errorf("failed to query cost: %w", err)
	}
	for _, s := range costs {
		get(string(s.Metric["agent"])).TotalCost = float64(s.Value)
	}

	out := make([]*AgentUsage, 0, len(byAgent))
	for _, u := range byAgent {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Agent < out[j].Agent })
	return out, nil
}

func (q *QueryService) vector(ctx context.Context, query string) (model.Vector, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return nil, err
	}
	vec, ok := result.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %s", result.Type())
	}
	return vec, nil
}
