package webui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missioncontrol/pkg/approve"
	"missioncontrol/pkg/config"
	"missioncontrol/pkg/executor"
	"missioncontrol/pkg/intake"
	"missioncontrol/pkg/loopctl"
	"missioncontrol/pkg/persistence"
	"missioncontrol/pkg/queue"
	"missioncontrol/pkg/testkit"
)

const testPassword = "hunter2"

type fakeQueue struct {
	started, stopped int
}

func (f *fakeQueue) Start(context.Context) (queue.Reply, error) {
	f.started++
	return queue.Reply{OK: true, Message: "Queue started. 1 todo task(s) found.", TasksQueued: 1}, nil
}

func (f *fakeQueue) Stop(context.Context) (queue.Reply, error) {
	f.stopped++
	return queue.Reply{OK: true, Message: "Queue will stop after current task."}, nil
}

func (f *fakeQueue) Status(context.Context) (*queue.Status, error) {
	return &queue.Status{Status: persistence.QueueIdle, TasksProcessed: 3}, nil
}

type fakeExecutor struct {
	override *persistence.ProviderConfig
	result   *executor.Result
	err      error
}

func (f *fakeExecutor) Execute(_ context.Context, taskID string, override *persistence.ProviderConfig) (*executor.Result, error) {
	f.override = override
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	r.TaskID = taskID
	return &r, nil
}

type fixture struct {
	store *persistence.Store
	queue *fakeQueue
	exec  *fakeExecutor
	srv   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := testkit.NewStore(t)
	limits := func() config.LoopConfig {
		return config.LoopConfig{
			MaxTodoPerAgent:       2,
			StagingBlockThreshold: 6,
			DuplicateWindow:       14 * 24 * time.Hour,
			DuplicatePrefixLength: 32,
		}
	}
	in := intake.New(s, loopctl.New(s, limits))
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "missioncontrol_test_total", Help: "test"}))

	f := &fixture{
		store: s,
		queue: &fakeQueue{},
		exec:  &fakeExecutor{result: &executor.Result{Status: persistence.ResultCompleted, Response: "done"}},
	}
	f.srv = NewServer(Deps{
		Store:    s,
		Queue:    f.queue,
		Executor: f.exec,
		Reviewer: approve.New(s, in, nil),
		Creator:  in,
		Gatherer: reg,
		Password: func() string { return testPassword },
		Version:  "v-test",
	}).Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.SetBasicAuth(DefaultUser, testPassword)
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out), w.Body.String())
	return out
}

func TestRequireAuth(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Basic")

	req = httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
	req.SetBasicAuth(DefaultUser, "wrong")
	w = httptest.NewRecorder()
	f.srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/api/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"status": "ok", "version": "v-test"}, decode(t, w))
}

func TestRequireAuthWithoutPassword(t *testing.T) {
	srv := NewServer(Deps{}).Handler()
	req := httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
	req.SetBasicAuth(DefaultUser, "")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleQueue(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/queue", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "idle", body["status"])
	assert.EqualValues(t, 3, body["tasksProcessed"])

	w = f.do(t, http.MethodPost, "/api/queue", `{"action":"start"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["ok"])
	assert.Equal(t, 1, f.queue.started)

	w = f.do(t, http.MethodPost, "/api/queue", `{"action":"stop"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Queue will stop after current task.", decode(t, w)["message"])

	w = f.do(t, http.MethodPost, "/api/queue", `{"action":"pause"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodDelete, "/api/queue", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleCreateTask(t *testing.T) {
	f := newFixture(t)
	agent := testkit.SeedAgent(t, f.store, "TABSMITH")

	w := f.do(t, http.MethodPost, "/api/tasks", `{"title":"Blues licks","status":"todo","priority":"high","assigneeId":"`+agent.ID+`","tags":["lick"]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, false, body["held"])
	task := body["task"].(map[string]any)
	assert.Equal(t, "todo", task["status"])
	assert.Equal(t, "high", task["priority"])

	w = f.do(t, http.MethodPost, "/api/tasks", `{"title":"  blues LICKS ","status":"todo"}`)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, task["id"], decode(t, w)["existingTaskId"])

	w = f.do(t, http.MethodPost, "/api/tasks", `{"title":"Follow-up","status":"todo","dependsOn":"`+task["id"].(string)+`"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	body = decode(t, w)
	assert.Equal(t, true, body["held"])
	assert.Equal(t, "waiting on dependencies", body["heldReason"])

	w = f.do(t, http.MethodPost, "/api/tasks", `{"title":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/tasks", `{"title":"Straight to done","status":"done"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/tasks", `{"title":"Bad deps","dependsOn":42}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleReview(t *testing.T) {
	f := newFixture(t)
	agent := testkit.SeedAgent(t, f.store, "TABSMITH")
	task := testkit.SeedTask(t, f.store, "Write licks", persistence.TaskReview, testkit.AssignedTo(agent))
	testkit.SeedResult(t, f.store, task, agent, "LICKS")

	w := f.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/review", `{"action":"reject"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/review", `{"action":"shelve"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/tasks/missing/review", `{"action":"approve"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/review", `{"action":"approve"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["ok"])
	testkit.AssertTaskStatus(t, f.store, task.ID, persistence.TaskDone)

	w = f.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/review", `{"action":"approve"}`)
	assert.Equal(t, http.StatusConflict, w.Code, "a task that left review cannot be reviewed again")
}

func TestHandleProduce(t *testing.T) {
	f := newFixture(t)
	testkit.SeedAgent(t, f.store, "TABSMITH")

	w := f.do(t, http.MethodPost, "/api/produce", `{"tasks":[
		{"title":"Licks batch","agent":"TABSMITH","priority":"high"},
		{"title":"Blog on licks","agent":"CONTENTMILL","depends_on_title":"Licks batch"}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res intake.BatchResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Len(t, res.Created, 2)

	w = f.do(t, http.MethodPost, "/api/produce", `{"tasks":[
		{"title":"A","depends_on_title":"B"},{"title":"B","depends_on_title":"A"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/produce", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/produce", `{"taskId":"missing"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleExecute(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/execute", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/execute", `{"taskId":"t1","providerConfig":{"type":"kimi","model":"m"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, f.exec.override, "an override without a key is ignored")
	assert.Equal(t, "t1", decode(t, w)["taskId"])

	w = f.do(t, http.MethodPost, "/api/execute", `{"taskId":"t1","providerConfig":{"type":"kimi","apiKey":"k","model":"m","maxTokens":1024}}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, f.exec.override)
	assert.Equal(t, "k", f.exec.override.APIKey)
	assert.Equal(t, 1024, f.exec.override.MaxTokens)

	f.exec.result = &executor.Result{Status: persistence.ResultError, Error: "provider down"}
	w = f.do(t, http.MethodPost, "/api/execute", `{"taskId":"t1"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "provider down", decode(t, w)["error"])

	f.exec.err = &executor.ValidationError{Msg: "task is not todo"}
	w = f.do(t, http.MethodPost, "/api/execute", `{"taskId":"t1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleLoopControls(t *testing.T) {
	config.SetConfigForTesting(&config.Config{})
	t.Cleanup(func() { config.SetConfigForTesting(nil) })
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/loop-controls", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["maxTodoPerAgent"])

	w = f.do(t, http.MethodPut, "/api/loop-controls", `{"maxTodoPerAgent":99,"stagingBlockThresholdPerCategory":12}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 10, body["maxTodoPerAgent"], "clamped")
	assert.EqualValues(t, 12, body["stagingBlockThresholdPerCategory"])
	assert.EqualValues(t, 3, body["maxReviewPerContentCategory"], "unchanged fields keep their value")
	assert.Equal(t, 10, config.LoopLimits().MaxTodoPerAgent)
}

func TestHandleMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	agent := testkit.SeedAgent(t, f.store, "TABSMITH")
	require.NoError(t, f.store.PostMessage(ctx, &persistence.Message{FromAgentID: agent.ID, Type: persistence.MessageSystem, Content: "first"}))
	require.NoError(t, f.store.SystemMessage(ctx, persistence.MessageSystem, "second"))

	w := f.do(t, http.MethodGet, "/api/messages?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	var msgs []MessageEntry
	require.NoError(t, json.NewDecoder(w.Body).Decode(&msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "second", msgs[0].Content)
	assert.Equal(t, "first", msgs[1].Content)
	assert.Equal(t, "TABSMITH Bot", msgs[1].FromAgentName)

	w = f.do(t, http.MethodGet, "/api/messages?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleLoopHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/loop-health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w), "avgCycleMs")

	w = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "missioncontrol_test_total")
}
