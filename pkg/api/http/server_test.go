package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jcoler76/nectar-api-sub011/internal/application/engine"
	"github.com/jcoler76/nectar-api-sub011/internal/application/runs"
	"github.com/jcoler76/nectar-api-sub011/internal/application/triggers"
	"github.com/jcoler76/nectar-api-sub011/internal/application/workers"
	"github.com/jcoler76/nectar-api-sub011/internal/security"
	eventsmemory "github.com/jcoler76/nectar-api-sub011/pkg/adapters/events/memory"
	kvmemory "github.com/jcoler76/nectar-api-sub011/pkg/adapters/kv/memory"
	storagememory "github.com/jcoler76/nectar-api-sub011/pkg/adapters/storage/memory"
	"github.com/jcoler76/nectar-api-sub011/pkg/domain"
	"github.com/jcoler76/nectar-api-sub011/pkg/ports"
)

type nopMetrics struct{}

func (nopMetrics) RecordTriggerAdmitted(string)                     {}
func (nopMetrics) RecordTriggerRejected(string, string)             {}
func (nopMetrics) RecordRunStarted()                                {}
func (nopMetrics) RecordRunCompleted(string, time.Duration)         {}
func (nopMetrics) RecordNodeExecuted(string, string, time.Duration) {}
func (nopMetrics) RecordQueueDepth(int)                             {}
func (nopMetrics) RecordWorkerPoolStatus(int, int, int)             {}

type testStack struct {
	server    *Server
	workflows ports.WorkflowStore
	runs      ports.RunStore
	pool      *workers.Pool
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	logger := zap.NewNop()

	workflowStore := storagememory.NewWorkflowStore()
	runStore := storagememory.NewRunStore()
	bus := eventsmemory.NewInMemoryEventBus()

	registry, err := engine.NewRegistry(engine.BuiltinHandlers(nil, "", 0)...)
	require.NoError(t, err)

	tracker := runs.NewTracker(runStore, bus, nopMetrics{}, logger)
	executor := engine.NewExecutor(registry, tracker, nopMetrics{}, logger, time.Minute)

	pool := workers.NewPool(2, 16, executor, nopMetrics{}, logger, time.Minute)
	require.NoError(t, pool.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})

	svc := triggers.NewService(
		workflowStore,
		security.NewGate(logger),
		pool,
		kvmemory.NewStore(),
		nopMetrics{},
		logger,
		triggers.Defaults{MaxFileSize: 1 << 20, AllowedFileTypes: []string{"csv", "txt"}},
	)

	server := NewServer(&Config{
		Port:          0,
		Triggers:      svc,
		Workflows:     workflowStore,
		Tracker:       tracker,
		Executor:      executor,
		Health:        pool.Health(),
		Logger:        logger,
		MaxUploadSize: 1 << 20,
	})

	return &testStack{server: server, workflows: workflowStore, runs: runStore, pool: pool}
}

func (ts *testStack) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func echoWorkflow() *domain.Workflow {
	return &domain.Workflow{
		ID:     "wf-echo",
		Name:   "echo",
		Active: true,
		Nodes: []domain.Node{
			{ID: "t1", Kind: domain.NodeTriggerForm, Config: map[string]any{"token": "s3cret"}},
			{ID: "echo", Kind: domain.NodeActionEcho},
		},
		Edges: []domain.Edge{{ID: "e1", Source: "t1", Target: "echo"}},
	}
}

func TestFormTriggerEndToEnd(t *testing.T) {
	ts := newTestStack(t)
	require.NoError(t, ts.workflows.Save(context.Background(), echoWorkflow()))

	w := ts.do(t, http.MethodPost, "/api/v1/triggers/form/wf-echo",
		[]byte(`{"name":"Ada"}`),
		map[string]string{"X-Trigger-Token": "s3cret"})
	require.Equal(t, http.StatusAccepted, w.Code)

	var ack TriggerAcceptedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.True(t, ack.Accepted)
	assert.Equal(t, "wf-echo", ack.WorkflowID)

	// The acknowledged event executes asynchronously.
	var run *domain.WorkflowRun
	require.Eventually(t, func() bool {
		list, err := ts.runs.ListByWorkflow(context.Background(), "wf-echo", ports.RunFilter{})
		if err != nil || len(list) != 1 || !list[0].Terminal() {
			return false
		}
		run = list[0]
		return true
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, domain.RunStatusSucceeded, run.Status)
	require.Len(t, run.Steps, 2)
	assert.Equal(t, "echo", run.Steps[1].NodeID)
	assert.Equal(t, map[string]any{"name": "Ada"}, run.Steps[1].Result)
}

func TestFormTriggerRejections(t *testing.T) {
	ts := newTestStack(t)

	inactive := echoWorkflow()
	inactive.ID = "wf-inactive"
	inactive.Active = false
	require.NoError(t, ts.workflows.Save(context.Background(), inactive))

	noForm := echoWorkflow()
	noForm.ID = "wf-email-only"
	noForm.Nodes[0].Kind = domain.NodeTriggerEmail
	require.NoError(t, ts.workflows.Save(context.Background(), noForm))

	require.NoError(t, ts.workflows.Save(context.Background(), echoWorkflow()))

	tests := []struct {
		name       string
		path       string
		token      string
		wantStatus int
		wantCode   string
	}{
		{"unknown workflow", "/api/v1/triggers/form/ghost", "s3cret", http.StatusNotFound, "NOT_FOUND"},
		{"inactive workflow", "/api/v1/triggers/form/wf-inactive", "s3cret", http.StatusConflict, "INACTIVE"},
		{"no matching trigger", "/api/v1/triggers/form/wf-email-only", "s3cret", http.StatusUnprocessableEntity, "NO_MATCHING_TRIGGER"},
		{"wrong token", "/api/v1/triggers/form/wf-echo", "wrong", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"missing token", "/api/v1/triggers/form/wf-echo", "", http.StatusUnauthorized, "MISSING_CREDENTIAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.token != "" {
				headers["X-Trigger-Token"] = tt.token
			}
			w := ts.do(t, http.MethodPost, tt.path, []byte(`{"name":"Ada"}`), headers)
			assert.Equal(t, tt.wantStatus, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}

	// No rejected event ever produced a run.
	time.Sleep(50 * time.Millisecond)
	for _, wfID := range []string{"wf-echo", "wf-inactive", "wf-email-only"} {
		list, err := ts.runs.ListByWorkflow(context.Background(), wfID, ports.RunFilter{})
		require.NoError(t, err)
		assert.Empty(t, list, "workflow %s must have no runs", wfID)
	}
}

func TestEmailTriggerEndpoint(t *testing.T) {
	ts := newTestStack(t)

	wf := echoWorkflow()
	wf.ID = "wf-mail"
	wf.Nodes[0].Kind = domain.NodeTriggerEmail
	wf.Nodes[0].Config = map[string]any{"signing_secret": "hook-secret"}
	require.NoError(t, ts.workflows.Save(context.Background(), wf))

	body := []byte(`{"from":"ada@example.com"}`)
	w := ts.do(t, http.MethodPost, "/api/v1/triggers/email/wf-mail", body,
		map[string]string{"X-Hub-Signature-256": "sha256=" + security.Sign(body, "hook-secret")})
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/triggers/email/wf-mail", body,
		map[string]string{"X-Hub-Signature-256": "sha256=deadbeef"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWorkflowEndpoints(t *testing.T) {
	ts := newTestStack(t)

	body, err := json.Marshal(echoWorkflow())
	require.NoError(t, err)
	w := ts.do(t, http.MethodPost, "/api/v1/workflows", body, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/workflows/wf-echo", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/workflows/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// A workflow with a cycle is rejected before it is stored.
	bad := echoWorkflow()
	bad.ID = "wf-cycle"
	bad.Edges = append(bad.Edges, domain.Edge{ID: "e2", Source: "echo", Target: "echo"})
	body, err = json.Marshal(bad)
	require.NoError(t, err)
	w = ts.do(t, http.MethodPost, "/api/v1/workflows", body, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestRunEndpoints(t *testing.T) {
	ts := newTestStack(t)
	require.NoError(t, ts.workflows.Save(context.Background(), echoWorkflow()))

	w := ts.do(t, http.MethodPost, "/api/v1/triggers/form/wf-echo",
		[]byte(`{"n":1}`), map[string]string{"X-Trigger-Token": "s3cret"})
	require.Equal(t, http.StatusAccepted, w.Code)

	var runID string
	require.Eventually(t, func() bool {
		list, err := ts.runs.ListByWorkflow(context.Background(), "wf-echo", ports.RunFilter{})
		if err != nil || len(list) == 0 {
			return false
		}
		runID = list[0].ID
		return true
	}, 3*time.Second, 20*time.Millisecond)

	w = ts.do(t, http.MethodGet, "/api/v1/runs/"+runID, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/workflows/wf-echo/runs?limit=10", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/runs/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Cancelling a run that is no longer in flight is a conflict.
	w = ts.do(t, http.MethodPost, "/api/v1/runs/ghost/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestStack(t)

	w := ts.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}
