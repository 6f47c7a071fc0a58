package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/adworker/internal/dispatch"
	"github.com/mattjoyce/adworker/internal/events"
	"github.com/mattjoyce/adworker/internal/joblog"
	"github.com/mattjoyce/adworker/internal/metrics"
	"github.com/mattjoyce/adworker/internal/service"
	"github.com/mattjoyce/adworker/internal/worker"
)

const testKey = "test-key"

type scriptedExec struct {
	mu       sync.Mutex
	payloads map[string][]byte
	respond  func(op string) (*worker.Invocation, error)
}

func (e *scriptedExec) Execute(_ context.Context, op string, payload []byte) (*worker.Invocation, error) {
	e.mu.Lock()
	if e.payloads == nil {
		e.payloads = map[string][]byte{}
	}
	e.payloads[op] = payload
	e.mu.Unlock()
	return e.respond(op)
}

func (e *scriptedExec) payload(op string) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.payloads[op]
}

type memTaskLog struct {
	recs map[string]joblog.Record
}

func (m *memTaskLog) Get(_ context.Context, id string) (*joblog.Record, error) {
	r, ok := m.recs[id]
	if !ok {
		return nil, joblog.ErrNotFound
	}
	return &r, nil
}

func (m *memTaskLog) Recent(_ context.Context, limit int) ([]joblog.Record, error) {
	var out []joblog.Record
	for _, r := range m.recs {
		if len(out) == limit {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

type fixture struct {
	exec   *scriptedExec
	server *Server
	hub    *events.Hub
	tasks  *memTaskLog
}

func newFixture(t *testing.T, respond func(op string) (*worker.Invocation, error)) *fixture {
	t.Helper()
	exec := &scriptedExec{respond: respond}
	hub := events.NewHub(32)
	tasks := &memTaskLog{recs: map[string]joblog.Record{
		"t-1": {ID: "t-1", Operation: service.OpGetInfos, Status: dispatch.StatusSucceeded},
	}}
	d := dispatch.New(exec, dispatch.WithEvents(hub))
	srv := New(Config{APIKey: testKey}, d, tasks, hub, metrics.NewCollector(nil).Handler(), nil)
	return &fixture{exec: exec, server: srv, hub: hub, tasks: tasks}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeCall(t *testing.T, rec *httptest.ResponseRecorder) CallResponse {
	t.Helper()
	var resp CallResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func ok(stdout string) func(string) (*worker.Invocation, error) {
	return func(string) (*worker.Invocation, error) {
		return &worker.Invocation{Stdout: []byte(stdout)}, nil
	}
}

func TestHealthzNoAuth(t *testing.T) {
	f := newFixture(t, ok("[]"))

	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, dispatch.DefaultConcurrency, resp.Limit)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, ok("[]"))

	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t, ok("[]"))

	for _, header := range []string{"", "Bearer wrong", "Basic abc"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/CustomerService/getInfos", strings.NewReader("{}"))
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		f.server.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestCallSucceeded(t *testing.T) {
	f := newFixture(t, ok(`[{"id":1},{"id":2},{"id":3}]`))

	rec := f.do(t, http.MethodPost, "/v1/CampaignService/getCampaignList",
		`{"clientCustomerId":"123","numberResults":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeCall(t, rec)
	assert.Equal(t, "succeeded", resp.Status)
	assert.Equal(t, service.OpGetCampaigns, resp.Operation)
	assert.NotEmpty(t, resp.TaskID)
	assert.Len(t, resp.Result, 2)
	assert.Empty(t, resp.Error)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(f.exec.payload(service.OpGetCampaigns), &sent))
	assert.Equal(t, "123", sent["clientCustomerId"])
	assert.Equal(t, float64(2), sent["numberResults"])
	assert.Equal(t, service.OpGetCampaigns, sent["method"])
}

func TestCallEmptyBody(t *testing.T) {
	f := newFixture(t, ok(`[]`))

	rec := f.do(t, http.MethodPost, "/v1/CustomerService/getInfos", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, mustField(t, rec, "result"))
}

func TestCallDegraded(t *testing.T) {
	f := newFixture(t, ok("not valid json"))

	rec := f.do(t, http.MethodPost, "/v1/ReportDefinitionService/createReport", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeCall(t, rec)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "not valid json", resp.Result)
}

func TestCallFailed(t *testing.T) {
	f := newFixture(t, func(string) (*worker.Invocation, error) {
		return &worker.Invocation{Stderr: []byte("auth error"), ExitCode: 1}, nil
	})

	rec := f.do(t, http.MethodPost, "/v1/CustomerService/getInfos", `{}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	resp := decodeCall(t, rec)
	assert.Equal(t, "failed", resp.Status)
	assert.Equal(t, "auth error", resp.Error)
	assert.Nil(t, resp.Result)
}

func TestCallTimedOut(t *testing.T) {
	f := newFixture(t, func(string) (*worker.Invocation, error) {
		return &worker.Invocation{ExitCode: -1}, worker.ErrTimedOut
	})

	rec := f.do(t, http.MethodPost, "/v1/CustomerService/getInfos", `{}`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "timed_out", decodeCall(t, rec).Status)
}

func TestCallUnknownOperation(t *testing.T) {
	f := newFixture(t, ok("[]"))

	rec := f.do(t, http.MethodPost, "/v1/CampaignService/dropCampaigns", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCallRejectsNonObjectBody(t *testing.T) {
	f := newFixture(t, ok("[]"))

	for _, body := range []string{`[1,2]`, `"text"`, `null`, `{"broken":`} {
		rec := f.do(t, http.MethodPost, "/v1/CustomerService/getInfos", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %s", body)
	}
}

func TestCallNoWait(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	f := newFixture(t, func(string) (*worker.Invocation, error) {
		<-release
		return &worker.Invocation{Stdout: []byte("[]")}, nil
	})

	rec := f.do(t, http.MethodPost, "/v1/CustomerService/getInfos?wait=false", `{}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeCall(t, rec)
	assert.Equal(t, "queued", resp.Status)
	assert.NotEmpty(t, resp.TaskID)
}

func TestGetTask(t *testing.T) {
	f := newFixture(t, ok("[]"))

	rec := f.do(t, http.MethodGet, "/tasks/t-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `"t-1"`, mustField(t, rec, "id"))

	rec = f.do(t, http.MethodGet, "/tasks/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTasks(t *testing.T) {
	f := newFixture(t, ok("[]"))

	rec := f.do(t, http.MethodGet, "/tasks?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp TaskListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Tasks, 1)

	rec = f.do(t, http.MethodGet, "/tasks?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsStream(t *testing.T) {
	f := newFixture(t, ok("[]"))
	f.hub.Publish("task.queued", map[string]any{"task_id": "a"})
	f.hub.Publish("task.started", map[string]any{"task_id": "a"})

	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testKey)
	req.Header.Set("Last-Event-ID", "1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	f.hub.Publish("task.completed", map[string]any{"task_id": "a"})

	var seen []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() && len(seen) < 2 {
		if ev, found := strings.CutPrefix(sc.Text(), "event: "); found {
			seen = append(seen, ev)
		}
	}
	assert.Equal(t, []string{"task.started", "task.completed"}, seen)
}

func TestEventFilter(t *testing.T) {
	hub := events.NewHub(8)
	queuedA := hub.Publish("task.queued", map[string]any{"task_id": "a"})
	doneA := hub.Publish("task.completed", map[string]any{"task_id": "a"})
	doneB := hub.Publish("task.completed", map[string]any{"task_id": "b"})
	other := hub.Publish("dispatcher.drained", nil)

	all := eventFilter("", "")
	for _, ev := range []events.Event{queuedA, doneA, doneB, other} {
		assert.True(t, all(ev))
	}

	onlyA := eventFilter("a", "")
	assert.True(t, onlyA(queuedA))
	assert.True(t, onlyA(doneA))
	assert.False(t, onlyA(doneB))
	assert.False(t, onlyA(other))

	completedB := eventFilter("b", "task.completed")
	assert.False(t, completedB(doneA))
	assert.True(t, completedB(doneB))
}

func TestEventsStreamFiltersByTask(t *testing.T) {
	f := newFixture(t, ok("[]"))
	f.hub.Publish("task.queued", map[string]any{"task_id": "a"})
	f.hub.Publish("task.queued", map[string]any{"task_id": "b"})

	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events?task_id=b", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", testKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	f.hub.Publish("task.completed", map[string]any{"task_id": "a"})
	f.hub.Publish("task.completed", map[string]any{"task_id": "b"})

	var ids []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() && len(ids) < 2 {
		if id, found := strings.CutPrefix(sc.Text(), "id: "); found {
			ids = append(ids, id)
		}
	}
	assert.Equal(t, []string{"2", "4"}, ids)
}

func mustField(t *testing.T, rec *httptest.ResponseRecorder, key string) string {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return string(m[key])
}
