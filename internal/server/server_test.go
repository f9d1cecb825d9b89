package server

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

	"github.com/fyrsmithlabs/swarmd/internal/lineage"
	"github.com/fyrsmithlabs/swarmd/internal/logging"
	"github.com/fyrsmithlabs/swarmd/internal/orchestrator"
	"github.com/fyrsmithlabs/swarmd/internal/sandbox"
	"github.com/fyrsmithlabs/swarmd/internal/swarm"
)

type stubRunner struct {
	result  orchestrator.Result
	release chan struct{}
	seen    chan swarm.Task
}

func (r *stubRunner) Run(_ context.Context, task swarm.Task, _ sandbox.Profile) (orchestrator.Result, error) {
	if r.seen != nil {
		r.seen <- task
	}
	if r.release != nil {
		<-r.release
	}
	return r.result, nil
}

func newTestServer(t *testing.T, runner Runner, store lineage.Store) *Server {
	t.Helper()
	if store == nil {
		store = lineage.NewMemoryStore()
	}
	srv, err := New(Options{
		Port:   9611,
		Runner: runner,
		Store:  store,
		Logger: logging.NewTestLogger().Logger,
	})
	require.NoError(t, err)
	return srv
}

func doJSON(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echoContentType, "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t, &stubRunner{}, nil)

	rec := doJSON(srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "swarmd", resp.Service)
}

func TestServer_Metrics(t *testing.T) {
	srv := newTestServer(t, &stubRunner{}, nil)

	rec := doJSON(srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_SubmitAndStatus(t *testing.T) {
	runner := &stubRunner{
		result: orchestrator.Result{
			State:  orchestrator.StateAccepted,
			Reason: "",
		},
		release: make(chan struct{}),
		seen:    make(chan swarm.Task, 1),
	}
	srv := newTestServer(t, runner, nil)

	rec := doJSON(srv, http.MethodPost, "/tasks", `{"payload":"build a portfolio app"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var submitted SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	assert.NotEmpty(t, submitted.LineageID)

	// The runner received the task with matching lineage.
	select {
	case task := <-runner.seen:
		assert.Equal(t, submitted.LineageID, task.LineageID)
		assert.Equal(t, "build a portfolio app", task.Payload)
	case <-time.After(time.Second):
		t.Fatal("runner never invoked")
	}

	// Pipeline still running.
	rec = doJSON(srv, http.MethodGet, "/tasks/"+submitted.LineageID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "running", status.State)

	// Let it finish and poll for the terminal state.
	close(runner.release)
	require.Eventually(t, func() bool {
		rec := doJSON(srv, http.MethodGet, "/tasks/"+submitted.LineageID, "")
		var status StatusResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
			return false
		}
		return status.State == string(orchestrator.StateAccepted)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_SubmitValidation(t *testing.T) {
	srv := newTestServer(t, &stubRunner{}, nil)

	rec := doJSON(srv, http.MethodPost, "/tasks", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(srv, http.MethodPost, "/tasks", `{broken`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_StatusFromStoreOnly(t *testing.T) {
	// A lineage persisted by an earlier daemon run is still reportable.
	store := lineage.NewMemoryStore()
	rec := lineage.NewRecord("lin-old")
	require.NoError(t, rec.AppendAttempt(lineage.Attempt{TaskID: "t1", Number: 1, Outcome: "security_violation"}))
	require.NoError(t, rec.Close(lineage.DispositionRejected, "security violation"))
	require.NoError(t, store.Save(rec))

	srv := newTestServer(t, &stubRunner{}, store)

	res := doJSON(srv, http.MethodGet, "/tasks/lin-old", "")
	require.Equal(t, http.StatusOK, res.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &status))
	assert.Equal(t, "rejected", status.State)
	assert.Equal(t, "security violation", status.Reason)
	require.Len(t, status.Attempts, 1)
}

func TestServer_FinishedStatusEvicted(t *testing.T) {
	// After ResultTTL the in-memory entry is dropped and the status
	// endpoint answers from the lineage store alone.
	store := lineage.NewMemoryStore()
	runner := &stubRunner{result: orchestrator.Result{State: orchestrator.StateRejected, Reason: "security violation"}}
	srv, err := New(Options{
		Port:      9611,
		ResultTTL: 20 * time.Millisecond,
		Runner:    runner,
		Store:     store,
		Logger:    logging.NewTestLogger().Logger,
	})
	require.NoError(t, err)

	rec := doJSON(srv, http.MethodPost, "/tasks", `{"payload":"short-lived"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var submitted SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))

	// Once evicted, the lineage is unknown (nothing was persisted).
	require.Eventually(t, func() bool {
		res := doJSON(srv, http.MethodGet, "/tasks/"+submitted.LineageID, "")
		return res.Code == http.StatusNotFound
	}, 2*time.Second, 10*time.Millisecond)

	// With a persisted record the endpoint still reports it after eviction.
	lin := lineage.NewRecord(submitted.LineageID)
	require.NoError(t, lin.AppendAttempt(lineage.Attempt{TaskID: "t1", Number: 1, Outcome: "security_violation"}))
	require.NoError(t, lin.Close(lineage.DispositionRejected, "security violation"))
	require.NoError(t, store.Save(lin))

	res := doJSON(srv, http.MethodGet, "/tasks/"+submitted.LineageID, "")
	require.Equal(t, http.StatusOK, res.Code)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &status))
	assert.Equal(t, "rejected", status.State)
}

func TestServer_StatusUnknown(t *testing.T) {
	srv := newTestServer(t, &stubRunner{}, nil)

	rec := doJSON(srv, http.MethodGet, "/tasks/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	_, err = New(Options{Runner: &stubRunner{}, Store: lineage.NewMemoryStore(), Logger: logging.NewTestLogger().Logger})
	assert.ErrorContains(t, err, "port")
}
