package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheusRecorder(reg, "mc")

	r.TaskExecuted("TABSMITH", OutcomeCompleted, 2*time.Second)
	r.TaskExecuted("TABSMITH", OutcomeError, time.Second)
	r.ToolInvoked("validate_tab", true)
	r.ToolInvoked("validate_tab", false)
	r.ReviewDecision("approve")
	r.QueueState("running", 4)

	assert.InDelta(t, 1, testutil.ToFloat64(r.executions.WithLabelValues("TABSMITH", OutcomeCompleted)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.toolCalls.WithLabelValues("validate_tab", "error")), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(r.queueRemaining), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.queueStatus.WithLabelValues("running")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(r.queueStatus.WithLabelValues("idle")), 0)
}

func TestUsageByAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		query := r.Form.Get("query")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(query, "mc_llm_tokens_total"):
			_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[
				{"metric":{"agent":"TABSMITH","type":"prompt"},"value":[1700000000,"120"]},
				{"metric":{"agent":"TABSMITH","type":"completion"},"value":[1700000000,"30"]},
				{"metric":{"agent":"BIZOPS","type":"prompt"},"value":[1700000000,"10"]}]}}`))
		case strings.Contains(query, "mc_llm_costs_total"):
			_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[
				{"metric":{"agent":"TABSMITH"},"value":[1700000000,"0.25"]}]}}`))
		default:
			http.Error(w, "unexpected query", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	q, err := NewQueryService(srv.URL, "mc")
	require.NoError(t, err)
	usage, err := q.UsageByAgent(context.Background())
	require.NoError(t, err)
	require.Len(t, usage, 2)

	assert.Equal(t, "BIZOPS", usage[0].Agent)
	assert.Equal(t, int64(10), usage[0].TotalTokens)
	assert.Equal(t, "TABSMITH", usage[1].Agent)
	assert.Equal(t, int64(150), usage[1].TotalTokens)
	assert.InDelta(t, 0.25, usage[1].TotalCost, 1e-9)
}
