package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"runq/internal/job"
	"runq/internal/procmgr"
	"runq/internal/sched"
)

type envelope struct {
	Status    string          `json:"status"`
	RequestID string          `json:"request_id"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
}

func testServer(t *testing.T, policy string) (*Server, *procmgr.Manager) {
	t.Helper()
	cfg := sched.DefaultConfig()
	cfg.Policy = policy
	cfg.QuantumMS = 60_000

	pool := job.NewPool(time.Millisecond, nil)
	m, err := procmgr.New(context.Background(), cfg, procmgr.Options{Executor: pool, Launcher: pool})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.Close(ctx)
		pool.Close()
	})
	return New(m, nil), m
}

func do(t *testing.T, srv *Server, method, path, body string, wantStatus int) envelope {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, wantStatus, w.Code, "%s %s: body=%s", method, path, w.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "%s %s: invalid JSON", method, path)
	return env
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, "fair")
	env := do(t, srv, "GET", "/healthz", "", http.StatusOK)

	assert.Equal(t, "ok", env.Status)
	assert.True(t, strings.HasPrefix(env.RequestID, "req_"))
	assert.NotEmpty(t, env.Timestamp)
	assert.Nil(t, env.Error)

	var data healthResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "healthy", data.Status)
	assert.Equal(t, "running", data.Scheduler)
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := testServer(t, "fair")
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.True(t, strings.HasPrefix(w.Header().Get("X-Request-ID"), "req_"))
}

func TestSchedulerDisabled(t *testing.T) {
	srv, _ := testServer(t, "none")

	env := do(t, srv, "GET", "/api/v1/scheduler", "", http.StatusOK)
	var data schedulerResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.False(t, data.Enabled)
	assert.Equal(t, "disabled", data.State)
	assert.Nil(t, data.Stats)

	env = do(t, srv, "PUT", "/api/v1/scheduler/quantum", `{"quantum":"5ms"}`, http.StatusConflict)
	assert.Equal(t, "error", env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeConflict, env.Error.Code)

	do(t, srv, "POST", "/api/v1/scheduler/pause", "", http.StatusConflict)

	// the process table works without a scheduler
	do(t, srv, "POST", "/api/v1/processes", `{"name":"sh"}`, http.StatusCreated)
}

func TestSchedulerPolicyAndQuantum(t *testing.T) {
	srv, m := testServer(t, "fair")

	env := do(t, srv, "PUT", "/api/v1/scheduler/policy", `{"policy":"rr"}`, http.StatusOK)
	var data schedulerResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotNil(t, data.Stats)
	assert.Equal(t, sched.RoundRobin, data.Stats.Policy)

	env = do(t, srv, "PUT", "/api/v1/scheduler/policy", `{"policy":"lottery"}`, http.StatusBadRequest)
	assert.Equal(t, CodeValidation, env.Error.Code)

	do(t, srv, "PUT", "/api/v1/scheduler/quantum", `{"quantum":"0s"}`, http.StatusBadRequest)
	do(t, srv, "PUT", "/api/v1/scheduler/quantum", `{"quantum_ms":-5}`, http.StatusBadRequest)
	do(t, srv, "PUT", "/api/v1/scheduler/quantum", `{}`, http.StatusBadRequest)
	do(t, srv, "PUT", "/api/v1/scheduler/quantum", `not json`, http.StatusBadRequest)

	do(t, srv, "PUT", "/api/v1/scheduler/quantum", `{"quantum_ms":15}`, http.StatusAccepted)
	require.Eventually(t, func() bool {
		st, err := m.Stats()
		return err == nil && st.Quantum == 15*time.Millisecond
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulerControl(t *testing.T) {
	srv, m := testServer(t, "fair")

	do(t, srv, "POST", "/api/v1/scheduler/pause", "", http.StatusAccepted)
	require.Eventually(t, func() bool { return m.TaskState() == sched.TaskPaused },
		2*time.Second, 5*time.Millisecond)

	do(t, srv, "POST", "/api/v1/scheduler/resume", "", http.StatusAccepted)
	require.Eventually(t, func() bool { return m.TaskState() == sched.TaskRunning },
		2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Close(context.Background()))
	env := do(t, srv, "POST", "/api/v1/scheduler/trigger", "", http.StatusServiceUnavailable)
	assert.Equal(t, CodeUnavailable, env.Error.Code)
}

func TestProcessLifecycle(t *testing.T) {
	srv, _ := testServer(t, "round_robin")

	env := do(t, srv, "POST", "/api/v1/processes", `{"name":"editor","priority":7}`, http.StatusCreated)
	var created processResponse
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "editor", created.Name)
	assert.Equal(t, 7, created.Priority)
	require.NotNil(t, created.Sched)
	assert.Equal(t, "ready", created.Sched.State)

	do(t, srv, "POST", "/api/v1/processes", `{"name":"shell"}`, http.StatusCreated)
	do(t, srv, "POST", "/api/v1/processes", `{"name":""}`, http.StatusBadRequest)
	do(t, srv, "POST", "/api/v1/processes", `{"name":"x","priority":11}`, http.StatusBadRequest)

	env = do(t, srv, "GET", "/api/v1/processes", "", http.StatusOK)
	var list []processResponse
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 2)
	assert.Equal(t, created.ID, list[0].ID)

	path := "/api/v1/processes/" + jsonID(created.ID)
	env = do(t, srv, "GET", path, "", http.StatusOK)
	var got processResponse
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "editor", got.Name)

	do(t, srv, "GET", "/api/v1/processes/abc", "", http.StatusBadRequest)
	env = do(t, srv, "GET", "/api/v1/processes/999", "", http.StatusNotFound)
	assert.Equal(t, CodeNotFound, env.Error.Code)

	do(t, srv, "DELETE", path, "", http.StatusOK)
	do(t, srv, "DELETE", path, "", http.StatusNotFound)
	do(t, srv, "GET", path, "", http.StatusNotFound)
}

func TestProcessPriority(t *testing.T) {
	srv, m := testServer(t, "priority")
	p, err := m.Create("db", sched.MaxPriority)
	require.NoError(t, err)
	path := "/api/v1/processes/" + jsonID(p.ID) + "/priority"

	env := do(t, srv, "PUT", path, `{"priority":3}`, http.StatusOK)
	var got processResponse
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, 3, got.Priority)
	require.NotNil(t, got.Sched)
	assert.Equal(t, 3, got.Sched.Priority)

	do(t, srv, "PUT", path, `{"adjust":"boost"}`, http.StatusOK)
	q, _ := m.Process(p.ID)
	assert.Equal(t, 4, q.Priority)

	do(t, srv, "PUT", path, `{"priority":-1}`, http.StatusBadRequest)
	do(t, srv, "PUT", path, `{"priority":2,"adjust":"lower"}`, http.StatusBadRequest)
	do(t, srv, "PUT", path, `{}`, http.StatusBadRequest)
	do(t, srv, "PUT", "/api/v1/processes/999/priority", `{"priority":2}`, http.StatusNotFound)

	require.NoError(t, m.SetPriority(p.ID, sched.MinPriority))
	env = do(t, srv, "PUT", path, `{"adjust":"lower"}`, http.StatusBadRequest)
	assert.Contains(t, env.Error.Message, "bound")
}

func TestProcessYield(t *testing.T) {
	srv, m := testServer(t, "round_robin")
	a, err := m.Create("a", 5)
	require.NoError(t, err)
	b, err := m.Create("b", 5)
	require.NoError(t, err)

	do(t, srv, "POST", "/api/v1/processes/"+jsonID(a.ID)+"/yield", "", http.StatusConflict)

	do(t, srv, "POST", "/api/v1/scheduler/trigger", "", http.StatusAccepted)
	require.Eventually(t, func() bool {
		cur, ok := m.Current()
		return ok && cur == a.ID
	}, 2*time.Second, 5*time.Millisecond)

	do(t, srv, "POST", "/api/v1/processes/"+jsonID(a.ID)+"/yield", "", http.StatusAccepted)
	require.Eventually(t, func() bool {
		cur, ok := m.Current()
		return ok && cur == b.ID
	}, 2*time.Second, 5*time.Millisecond)

	env := do(t, srv, "GET", "/api/v1/scheduler", "", http.StatusOK)
	var data schedulerResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotNil(t, data.Current)
	assert.Equal(t, b.ID, *data.Current)
	assert.Equal(t, 2, data.Stats.Active)
}

func jsonID(id sched.ProcessID) string {
	b, _ := json.Marshal(id)
	return string(b)
}
