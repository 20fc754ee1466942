package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missioncontrol/pkg/config"
	"missioncontrol/pkg/llm"
	"missioncontrol/pkg/persistence"
	"missioncontrol/pkg/roster"
	"missioncontrol/pkg/testkit"
)

const pricingAnalysis = "A thorough pricing analysis covering three tiers, churn risk and the upgrade path for existing students."

type fakeClients struct {
	client *testkit.FakeClient
}

func (f *fakeClients) Client(context.Context, *persistence.ProviderConfig) (llm.Client, error) {
	return f.client, nil
}

func newTestKernel(t *testing.T, steps ...testkit.FakeStep) (*Kernel, *testkit.FakeClient) {
	t.Helper()
	require.NoError(t, config.LoadConfig(t.TempDir()))
	cfg, err := config.GetConfig()
	require.NoError(t, err)
	cfg.Server.Enabled = false
	cfg.Metrics.Enabled = true

	client := testkit.NewFakeClient(steps...)
	k, err := New(cfg, Options{Clients: &fakeClients{client: client}, DisableNetwork: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })
	return k, client
}

func TestNewRequiresLoadedConfig(t *testing.T) {
	_, err := New(config.Config{}, Options{})
	require.Error(t, err)
}

func TestNewWiresServices(t *testing.T) {
	k, _ := newTestKernel(t)

	assert.NotNil(t, k.Store)
	assert.NotNil(t, k.Intake)
	assert.NotNil(t, k.Executor)
	assert.NotNil(t, k.Approver)
	assert.NotNil(t, k.Queue)
	assert.NotNil(t, k.Server)
	require.NotNil(t, k.Registry)

	families, err := k.Registry.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "missioncontrol_build_info")
}

func TestQueueDrainEndToEnd(t *testing.T) {
	t.Setenv(config.EnvAnthropicAPIKey, "sk-test")
	ctx := context.Background()
	k, client := newTestKernel(t, testkit.Respond(pricingAnalysis, 120, 80))

	r, err := roster.Default()
	require.NoError(t, err)
	_, err = roster.Apply(ctx, k.Store, r)
	require.NoError(t, err)
	bizops, err := k.Store.GetAgentByCodename(ctx, "BIZOPS")
	require.NoError(t, err)

	out, err := k.Intake.Create(ctx, &persistence.Task{
		Title:      "Pricing research",
		Status:     persistence.TaskTodo,
		AssigneeID: bizops.ID,
	})
	require.NoError(t, err)
	require.False(t, out.Held())

	n, err := k.Queue.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, client.Requests(), 1)

	task, err := k.Store.GetTask(ctx, out.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.TaskDone, task.Status, "short-circuit review approves a clean result")

	status, err := k.Queue.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.TasksProcessed)
	assert.Zero(t, status.TasksRemaining)
}

func TestRunStopsOnCancel(t *testing.T) {
	k, _ := newTestKernel(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("kernel did not stop")
	}
}
