package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jcoler76/nectar-api-sub011/internal/application/runs"
	eventsmemory "github.com/jcoler76/nectar-api-sub011/pkg/adapters/events/memory"
	storagememory "github.com/jcoler76/nectar-api-sub011/pkg/adapters/storage/memory"
	"github.com/jcoler76/nectar-api-sub011/pkg/domain"
	"github.com/jcoler76/nectar-api-sub011/pkg/ports"
)

type nopMetrics struct{}

func (nopMetrics) RecordTriggerAdmitted(string)                          {}
func (nopMetrics) RecordTriggerRejected(string, string)                  {}
func (nopMetrics) RecordRunStarted()                                     {}
func (nopMetrics) RecordRunCompleted(string, time.Duration)              {}
func (nopMetrics) RecordNodeExecuted(string, string, time.Duration)      {}
func (nopMetrics) RecordQueueDepth(int)                                  {}
func (nopMetrics) RecordWorkerPoolStatus(int, int, int)                  {}

func newTestExecutor(t *testing.T, timeout time.Duration, handlers ...Handler) (*Executor, ports.RunStore) {
	t.Helper()

	registry, err := NewRegistry(handlers...)
	require.NoError(t, err)

	store := storagememory.NewRunStore()
	tracker := runs.NewTracker(store, eventsmemory.NewInMemoryEventBus(), nopMetrics{}, zap.NewNop())
	return NewExecutor(registry, tracker, nopMetrics{}, zap.NewNop(), timeout), store
}

func formJob(wf *domain.Workflow, data map[string]any) Job {
	return Job{
		Workflow: wf,
		Trigger: domain.TriggerPayload{
			WorkflowID:    wf.ID,
			TriggerNodeID: "t1",
			Data:          data,
			Metadata:      domain.TriggerMetadata{SourceType: domain.TriggerSourceForm, ReceivedAt: time.Now()},
		},
	}
}

func stepByNode(run *domain.WorkflowRun, nodeID string) (domain.Step, bool) {
	for _, s := range run.Steps {
		if s.NodeID == nodeID {
			return s, true
		}
	}
	return domain.Step{}, false
}

func TestExecuteLinearWorkflow(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(id string) func(context.Context, NodeInput) (*NodeResult, error) {
		return func(ctx context.Context, in NodeInput) (*NodeResult, error) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return &NodeResult{Output: map[string]any{"node": id}}, nil
		}
	}

	exec, store := newTestExecutor(t, 0,
		&stubHandler{kind: domain.NodeTriggerForm},
		&stubHandler{kind: domain.NodeActionEcho, fn: record("a")},
		&stubHandler{kind: domain.NodeActionTransform, fn: record("b")},
	)

	wf := &domain.Workflow{
		ID: "wf-linear",
		Nodes: []domain.Node{
			{ID: "t1", Kind: domain.NodeTriggerForm},
			{ID: "a", Kind: domain.NodeActionEcho},
			{ID: "b", Kind: domain.NodeActionTransform},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "t1", Target: "a"},
			{ID: "e2", Source: "a", Target: "b"},
		},
	}

	runID, err := exec.Execute(context.Background(), formJob(wf, map[string]any{"k": "v"}))
	require.NoError(t, err)

	run, err := store.Get(context.Background(), runID)
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusSucceeded, run.Status)
	require.NotNil(t, run.FinishedAt)
	require.Len(t, run.Steps, 3)
	assert.Equal(t, "t1", run.Steps[0].NodeID)
	assert.Equal(t, "a", run.Steps[1].NodeID)
	assert.Equal(t, "b", run.Steps[2].NodeID)
	for _, s := range run.Steps {
		assert.Equal(t, domain.StepStatusSuccess, s.Status)
	}
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestExecuteBranchSelection(t *testing.T) {
	exec, store := newTestExecutor(t, 0,
		&stubHandler{kind: domain.NodeTriggerForm},
		&stubHandler{kind: domain.NodeActionCondition, fn: func(ctx context.Context, in NodeInput) (*NodeResult, error) {
			return &NodeResult{
				Output:   map[string]any{"branch": "true"},
				Branches: []string{"true"},
			}, nil
		}},
		&stubHandler{kind: domain.NodeActionEcho},
		&stubHandler{kind: domain.NodeActionTransform},
	)

	wf := &domain.Workflow{
		ID: "wf-branch",
		Nodes: []domain.Node{
			{ID: "t1", Kind: domain.NodeTriggerForm},
			{ID: "cond", Kind: domain.NodeActionCondition},
			{ID: "yes", Kind: domain.NodeActionEcho},
			{ID: "no", Kind: domain.NodeActionTransform},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "t1", Target: "cond"},
			{ID: "e2", Source: "cond", Target: "yes", SourceHandle: "true"},
			{ID: "e3", Source: "cond", Target: "no", SourceHandle: "false"},
		},
	}

	runID, err := exec.Execute(context.Background(), formJob(wf, nil))
	require.NoError(t, err)

	run, err := store.Get(context.Background(), runID)
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusSucceeded, run.Status)
	require.Len(t, run.Steps, 4)

	yes, ok := stepByNode(run, "yes")
	require.True(t, ok)
	assert.Equal(t, domain.StepStatusSuccess, yes.Status)

	no, ok := stepByNode(run, "no")
	require.True(t, ok)
	assert.Equal(t, domain.StepStatusSkipped, no.Status)
}

func TestExecuteJoinFiresOnce(t *testing.T) {
	// The single-fire property must hold regardless of which predecessor
	// finishes last, so each arrival order gets its own subtest.
	tests := []struct {
		name     string
		slowNode string
	}{
		{"left predecessor finishes last", "left"},
		{"right predecessor finishes last", "right"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var joinRuns int
			var mu sync.Mutex

			paced := func(id string) func(context.Context, NodeInput) (*NodeResult, error) {
				return func(ctx context.Context, in NodeInput) (*NodeResult, error) {
					if id == tt.slowNode {
						time.Sleep(20 * time.Millisecond)
					}
					return &NodeResult{Output: map[string]any{"node": id}}, nil
				}
			}

			exec, store := newTestExecutor(t, 0,
				&stubHandler{kind: domain.NodeTriggerForm},
				&stubHandler{kind: domain.NodeActionEcho, fn: paced("left")},
				&stubHandler{kind: domain.NodeActionDelay, fn: paced("right")},
				&stubHandler{kind: domain.NodeActionTransform, fn: func(ctx context.Context, in NodeInput) (*NodeResult, error) {
					mu.Lock()
					joinRuns++
					mu.Unlock()
					return &NodeResult{Output: map[string]any{"joined": true}}, nil
				}},
			)

			wf := &domain.Workflow{
				ID: "wf-join",
				Nodes: []domain.Node{
					{ID: "t1", Kind: domain.NodeTriggerForm},
					{ID: "left", Kind: domain.NodeActionEcho},
					{ID: "right", Kind: domain.NodeActionDelay},
					{ID: "join", Kind: domain.NodeActionTransform},
				},
				Edges: []domain.Edge{
					{ID: "e1", Source: "t1", Target: "left"},
					{ID: "e2", Source: "t1", Target: "right"},
					{ID: "e3", Source: "left", Target: "join"},
					{ID: "e4", Source: "right", Target: "join"},
				},
			}

			runID, err := exec.Execute(context.Background(), formJob(wf, nil))
			require.NoError(t, err)

			run, err := store.Get(context.Background(), runID)
			require.NoError(t, err)

			assert.Equal(t, domain.RunStatusSucceeded, run.Status)
			assert.Len(t, run.Steps, 4)
			assert.Equal(t, 1, joinRuns)

			// The join completes only after both predecessors.
			join := run.Steps[len(run.Steps)-1]
			assert.Equal(t, "join", join.NodeID)
		})
	}
}

func TestExecuteRequiredFailureSkipsDownstream(t *testing.T) {
	exec, store := newTestExecutor(t, 0,
		&stubHandler{kind: domain.NodeTriggerForm},
		&stubHandler{kind: domain.NodeActionEcho, fn: func(ctx context.Context, in NodeInput) (*NodeResult, error) {
			return nil, errors.New("boom")
		}},
		&stubHandler{kind: domain.NodeActionTransform},
	)

	wf := &domain.Workflow{
		ID: "wf-fail",
		Nodes: []domain.Node{
			{ID: "t1", Kind: domain.NodeTriggerForm},
			{ID: "a", Kind: domain.NodeActionEcho},
			{ID: "b", Kind: domain.NodeActionTransform},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "t1", Target: "a"},
			{ID: "e2", Source: "a", Target: "b"},
		},
	}

	runID, err := exec.Execute(context.Background(), formJob(wf, nil))
	require.NoError(t, err)

	run, err := store.Get(context.Background(), runID)
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Equal(t, "one or more required nodes failed", run.Error)

	a, _ := stepByNode(run, "a")
	assert.Equal(t, domain.StepStatusError, a.Status)
	assert.Equal(t, "boom", a.Error)

	b, _ := stepByNode(run, "b")
	assert.Equal(t, domain.StepStatusSkipped, b.Status)
}

func TestExecuteOptionalFailureDoesNotFailRun(t *testing.T) {
	exec, store := newTestExecutor(t, 0,
		&stubHandler{kind: domain.NodeTriggerForm},
		&stubHandler{kind: domain.NodeActionEcho, fn: func(ctx context.Context, in NodeInput) (*NodeResult, error) {
			return nil, errors.New("optional breakage")
		}},
	)

	wf := &domain.Workflow{
		ID: "wf-optional",
		Nodes: []domain.Node{
			{ID: "t1", Kind: domain.NodeTriggerForm},
			{ID: "a", Kind: domain.NodeActionEcho, Optional: true},
		},
		Edges: []domain.Edge{{ID: "e1", Source: "t1", Target: "a"}},
	}

	runID, err := exec.Execute(context.Background(), formJob(wf, nil))
	require.NoError(t, err)

	run, err := store.Get(context.Background(), runID)
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusSucceeded, run.Status)
	a, _ := stepByNode(run, "a")
	assert.Equal(t, domain.StepStatusError, a.Status)
}

func TestExecuteJoinToleranceAfterOptionalFailure(t *testing.T) {
	failing := &stubHandler{kind: domain.NodeActionEcho, fn: func(ctx context.Context, in NodeInput) (*NodeResult, error) {
		return nil, errors.New("side branch failed")
	}}
	passing := &stubHandler{kind: domain.NodeActionDelay}
	join := &stubHandler{kind: domain.NodeActionTransform}

	build := func(joinConfig map[string]any) *domain.Workflow {
		return &domain.Workflow{
			ID: "wf-tolerant",
			Nodes: []domain.Node{
				{ID: "t1", Kind: domain.NodeTriggerForm},
				{ID: "bad", Kind: domain.NodeActionEcho, Optional: true},
				{ID: "good", Kind: domain.NodeActionDelay},
				{ID: "join", Kind: domain.NodeActionTransform, Config: joinConfig},
			},
			Edges: []domain.Edge{
				{ID: "e1", Source: "t1", Target: "bad"},
				{ID: "e2", Source: "t1", Target: "good"},
				{ID: "e3", Source: "bad", Target: "join"},
				{ID: "e4", Source: "good", Target: "join"},
			},
		}
	}

	t.Run("continue_on_error lets the join execute", func(t *testing.T) {
		exec, store := newTestExecutor(t, 0,
			&stubHandler{kind: domain.NodeTriggerForm}, failing, passing, join)

		runID, err := exec.Execute(context.Background(),
			formJob(build(map[string]any{"continue_on_error": true}), nil))
		require.NoError(t, err)

		run, err := store.Get(context.Background(), runID)
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusSucceeded, run.Status)
		j, _ := stepByNode(run, "join")
		assert.Equal(t, domain.StepStatusSuccess, j.Status)
	})

	t.Run("without tolerance the join is skipped", func(t *testing.T) {
		exec, store := newTestExecutor(t, 0,
			&stubHandler{kind: domain.NodeTriggerForm}, failing, passing, join)

		runID, err := exec.Execute(context.Background(), formJob(build(nil), nil))
		require.NoError(t, err)

		run, err := store.Get(context.Background(), runID)
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusSucceeded, run.Status)
		j, _ := stepByNode(run, "join")
		assert.Equal(t, domain.StepStatusSkipped, j.Status)
	})
}

func TestExecuteTolerantNodeAfterFailedPredecessor(t *testing.T) {
	// A tolerant node must execute even when every predecessor failed;
	// this is what makes cleanup and notify-on-failure nodes reachable.
	failing := &stubHandler{kind: domain.NodeActionEcho, fn: func(ctx context.Context, in NodeInput) (*NodeResult, error) {
		return nil, errors.New("upstream broke")
	}}

	build := func(optional bool, cleanupConfig map[string]any) *domain.Workflow {
		return &domain.Workflow{
			ID: "wf-cleanup",
			Nodes: []domain.Node{
				{ID: "t1", Kind: domain.NodeTriggerForm},
				{ID: "bad", Kind: domain.NodeActionEcho, Optional: optional},
				{ID: "cleanup", Kind: domain.NodeActionTransform, Config: cleanupConfig},
			},
			Edges: []domain.Edge{
				{ID: "e1", Source: "t1", Target: "bad"},
				{ID: "e2", Source: "bad", Target: "cleanup"},
			},
		}
	}

	t.Run("continue_on_error after an optional failure", func(t *testing.T) {
		exec, store := newTestExecutor(t, 0,
			&stubHandler{kind: domain.NodeTriggerForm}, failing,
			&stubHandler{kind: domain.NodeActionTransform})

		runID, err := exec.Execute(context.Background(),
			formJob(build(true, map[string]any{"continue_on_error": true}), nil))
		require.NoError(t, err)

		run, err := store.Get(context.Background(), runID)
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusSucceeded, run.Status)

		cleanup, ok := stepByNode(run, "cleanup")
		require.True(t, ok)
		assert.Equal(t, domain.StepStatusSuccess, cleanup.Status)
	})

	t.Run("tolerant handler after a required failure", func(t *testing.T) {
		exec, store := newTestExecutor(t, 0,
			&stubHandler{kind: domain.NodeTriggerForm}, failing,
			&stubHandler{kind: domain.NodeActionTransform, tolerant: true})

		runID, err := exec.Execute(context.Background(), formJob(build(false, nil), nil))
		require.NoError(t, err)

		run, err := store.Get(context.Background(), runID)
		require.NoError(t, err)

		// The required failure still fails the run, but the tolerant node ran.
		assert.Equal(t, domain.RunStatusFailed, run.Status)
		cleanup, ok := stepByNode(run, "cleanup")
		require.True(t, ok)
		assert.Equal(t, domain.StepStatusSuccess, cleanup.Status)
	})

	t.Run("intolerant node stays skipped", func(t *testing.T) {
		exec, store := newTestExecutor(t, 0,
			&stubHandler{kind: domain.NodeTriggerForm}, failing,
			&stubHandler{kind: domain.NodeActionTransform})

		runID, err := exec.Execute(context.Background(), formJob(build(true, nil), nil))
		require.NoError(t, err)

		run, err := store.Get(context.Background(), runID)
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusSucceeded, run.Status)

		cleanup, ok := stepByNode(run, "cleanup")
		require.True(t, ok)
		assert.Equal(t, domain.StepStatusSkipped, cleanup.Status)
	})
}

func TestExecuteNodeTimeout(t *testing.T) {
	exec, store := newTestExecutor(t, 0,
		&stubHandler{kind: domain.NodeTriggerForm},
		&stubHandler{kind: domain.NodeActionDelay, fn: func(ctx context.Context, in NodeInput) (*NodeResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
	)

	wf := &domain.Workflow{
		ID: "wf-timeout",
		Nodes: []domain.Node{
			{ID: "t1", Kind: domain.NodeTriggerForm},
			{ID: "stuck", Kind: domain.NodeActionDelay, Config: map[string]any{"timeout": "50ms"}},
		},
		Edges: []domain.Edge{{ID: "e1", Source: "t1", Target: "stuck"}},
	}

	runID, err := exec.Execute(context.Background(), formJob(wf, nil))
	require.NoError(t, err)

	run, err := store.Get(context.Background(), runID)
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusFailed, run.Status)
	stuck, _ := stepByNode(run, "stuck")
	assert.Equal(t, domain.StepStatusTimeout, stuck.Status)
	assert.Contains(t, stuck.Error, "timed out")
}

func TestExecuteCancellation(t *testing.T) {
	gate := make(chan struct{})

	exec, store := newTestExecutor(t, 0,
		&stubHandler{kind: domain.NodeTriggerForm},
		&stubHandler{kind: domain.NodeActionEcho, fn: func(ctx context.Context, in NodeInput) (*NodeResult, error) {
			<-gate
			return &NodeResult{Output: map[string]any{"done": true}}, nil
		}},
		&stubHandler{kind: domain.NodeActionTransform},
	)

	wf := &domain.Workflow{
		ID: "wf-cancel",
		Nodes: []domain.Node{
			{ID: "t1", Kind: domain.NodeTriggerForm},
			{ID: "a", Kind: domain.NodeActionEcho},
			{ID: "b", Kind: domain.NodeActionTransform},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "t1", Target: "a"},
			{ID: "e2", Source: "a", Target: "b"},
		},
	}

	done := make(chan string, 1)
	go func() {
		runID, err := exec.Execute(context.Background(), formJob(wf, nil))
		require.NoError(t, err)
		done <- runID
	}()

	// Wait for the run record, then cancel while node "a" is in flight.
	var runID string
	require.Eventually(t, func() bool {
		running, err := store.ListByStatus(context.Background(), domain.RunStatusRunning, 1)
		if err != nil || len(running) == 0 {
			return false
		}
		runID = running[0].ID
		return true
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, exec.Cancel(runID))
	close(gate)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("execution did not finish after cancellation")
	}

	run, err := store.Get(context.Background(), runID)
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Equal(t, "run cancelled", run.Error)
	assert.True(t, run.Cancelled)

	// The in-flight node finished; nothing after it was scheduled.
	_, hasA := stepByNode(run, "a")
	assert.True(t, hasA)
	_, hasB := stepByNode(run, "b")
	assert.False(t, hasB)
}

func TestCancelUnknownRun(t *testing.T) {
	exec, _ := newTestExecutor(t, 0, &stubHandler{kind: domain.NodeTriggerForm})
	assert.Error(t, exec.Cancel("nope"))
}

func TestExecuteInvalidWorkflowFailsRun(t *testing.T) {
	exec, store := newTestExecutor(t, 0,
		&stubHandler{kind: domain.NodeTriggerForm},
	)

	// Echo node has no registered handler.
	wf := &domain.Workflow{
		ID: "wf-invalid",
		Nodes: []domain.Node{
			{ID: "t1", Kind: domain.NodeTriggerForm},
			{ID: "a", Kind: domain.NodeActionEcho},
		},
		Edges: []domain.Edge{{ID: "e1", Source: "t1", Target: "a"}},
	}

	runID, err := exec.Execute(context.Background(), formJob(wf, nil))
	require.NoError(t, err)

	run, err := store.Get(context.Background(), runID)
	require.NoError(t, err)

	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "invalid workflow definition")
	assert.Empty(t, run.Steps)
}
