package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jcoler76/nectar-api-sub011/internal/application/runs"
	"github.com/jcoler76/nectar-api-sub011/pkg/domain"
	"github.com/jcoler76/nectar-api-sub011/pkg/ports"
)

// Job is one admitted trigger event bound to a workflow snapshot, ready
// for execution.
type Job struct {
	Workflow *domain.Workflow
	Trigger  domain.TriggerPayload
}

// Executor walks a workflow graph for a single run: it dispatches node
// handlers through the registry, coordinates branch and join concurrency
// and produces the step log through the run tracker.
type Executor struct {
	registry *Registry
	tracker  *runs.Tracker
	metrics  ports.MetricsCollector
	logger   *zap.Logger

	// defaultNodeTimeout bounds node execution unless the node configures
	// its own "timeout"; zero disables the bound.
	defaultNodeTimeout time.Duration

	active sync.Map // map[string]*runState
}

// NewExecutor creates a graph executor.
func NewExecutor(registry *Registry, tracker *runs.Tracker, metrics ports.MetricsCollector, logger *zap.Logger, defaultNodeTimeout time.Duration) *Executor {
	return &Executor{
		registry:           registry,
		tracker:            tracker,
		metrics:            metrics,
		logger:             logger,
		defaultNodeTimeout: defaultNodeTimeout,
	}
}

// runState holds the per-run coordination state. remaining is the
// join-readiness counter per node: it is decremented under mu as
// predecessors complete, and a node is scheduled exactly when its counter
// reaches zero, so concurrent predecessor completions can neither
// double-fire nor stall a join.
type runState struct {
	runID   string
	wf      *domain.Workflow
	trigger domain.TriggerPayload

	nodes     map[string]*domain.Node
	outgoing  map[string][]domain.Edge
	reachable int

	mu         sync.Mutex
	remaining  map[string]int
	outputs    map[string]map[string]any
	statuses   map[string]domain.StepStatus
	failedPred map[string]bool // node had an errored/timed-out required predecessor
	livePred   map[string]bool // node had at least one selected successful incoming edge
	completed  int

	cancelled      atomic.Bool
	requiredFailed bool
	systemErr      string
}

// Execute runs one job to completion and returns the run id. The run is
// created before the graph walk so every post-admission failure is visible
// through the run record; Execute's error return reports only failures to
// create or finalize that record.
func (e *Executor) Execute(ctx context.Context, job Job) (string, error) {
	snapshot := job.Workflow.Clone()

	run, err := e.tracker.CreateRun(ctx, snapshot.ID, job.Trigger)
	if err != nil {
		return "", err
	}

	if err := e.registry.ValidateWorkflow(snapshot); err != nil {
		e.logger.Error("workflow snapshot failed validation",
			zap.String("run_id", run.ID),
			zap.String("workflow_id", snapshot.ID),
			zap.Error(err))
		return run.ID, e.tracker.Finalize(ctx, run.ID, domain.RunStatusFailed,
			fmt.Sprintf("invalid workflow definition: %v", err), false)
	}
	if _, ok := snapshot.Node(job.Trigger.TriggerNodeID); !ok {
		return run.ID, e.tracker.Finalize(ctx, run.ID, domain.RunStatusFailed,
			fmt.Sprintf("trigger node %s not in workflow", job.Trigger.TriggerNodeID), false)
	}

	st := newRunState(run.ID, snapshot, job.Trigger)
	e.active.Store(run.ID, st)
	defer e.active.Delete(run.ID)

	var wg sync.WaitGroup
	e.startNode(ctx, st, &wg, job.Trigger.TriggerNodeID)
	wg.Wait()

	status, runErr, cancelled := st.finalOutcome()
	return run.ID, e.tracker.Finalize(ctx, run.ID, status, runErr, cancelled)
}

// Cancel requests cooperative cancellation of an in-flight run: nodes
// already executing finish, but no further nodes are scheduled.
func (e *Executor) Cancel(runID string) error {
	val, ok := e.active.Load(runID)
	if !ok {
		return fmt.Errorf("run %s is not executing on this instance", runID)
	}
	val.(*runState).cancelled.Store(true)
	e.logger.Info("run cancellation requested", zap.String("run_id", runID))
	return nil
}

// newRunState builds the adjacency index over the subgraph reachable from
// the trigger node. Edges from unreachable nodes (e.g. other trigger
// nodes' subtrees) are excluded from join counters so reachable joins
// cannot stall on inputs that will never fire.
func newRunState(runID string, wf *domain.Workflow, trigger domain.TriggerPayload) *runState {
	nodes := make(map[string]*domain.Node, len(wf.Nodes))
	for i := range wf.Nodes {
		nodes[wf.Nodes[i].ID] = &wf.Nodes[i]
	}

	allOutgoing := make(map[string][]domain.Edge)
	for _, edge := range wf.Edges {
		allOutgoing[edge.Source] = append(allOutgoing[edge.Source], edge)
	}

	reachable := map[string]bool{trigger.TriggerNodeID: true}
	queue := []string{trigger.TriggerNodeID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, edge := range allOutgoing[id] {
			if !reachable[edge.Target] {
				reachable[edge.Target] = true
				queue = append(queue, edge.Target)
			}
		}
	}

	outgoing := make(map[string][]domain.Edge)
	remaining := make(map[string]int)
	for _, edge := range wf.Edges {
		if !reachable[edge.Source] || !reachable[edge.Target] {
			continue
		}
		outgoing[edge.Source] = append(outgoing[edge.Source], edge)
		remaining[edge.Target]++
	}

	return &runState{
		runID:      runID,
		wf:         wf,
		trigger:    trigger,
		nodes:      nodes,
		outgoing:   outgoing,
		reachable:  len(reachable),
		remaining:  remaining,
		outputs:    make(map[string]map[string]any),
		statuses:   make(map[string]domain.StepStatus),
		failedPred: make(map[string]bool),
		livePred:   make(map[string]bool),
	}
}

// startNode schedules a node unless cancellation has been observed. A node
// skipped by cancellation produces no step.
func (e *Executor) startNode(ctx context.Context, st *runState, wg *sync.WaitGroup, nodeID string) {
	if st.cancelled.Load() {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.executeNode(ctx, st, wg, nodeID)
	}()
}

type nodeOutcome struct {
	res *NodeResult
	err error
}

// executeNode dispatches one node to its handler with a bounded execution
// window and records the outcome.
func (e *Executor) executeNode(ctx context.Context, st *runState, wg *sync.WaitGroup, nodeID string) {
	node := st.nodes[nodeID]
	startedAt := time.Now()

	handler, ok := e.registry.Resolve(node.Kind)
	if !ok {
		// ValidateWorkflow makes this unreachable; treat as a system fault.
		st.recordSystemError(fmt.Sprintf("no handler for node kind %s", node.Kind))
		e.completeNode(ctx, st, wg, nodeID, domain.StepStatusError, nil, "no handler registered", startedAt)
		return
	}

	cfg, err := ResolveBindings(node.Config, st.trigger, st.outputsSnapshot())
	if err != nil {
		e.completeNode(ctx, st, wg, nodeID, domain.StepStatusError, nil,
			fmt.Sprintf("binding resolution failed: %v", err), startedAt)
		return
	}

	timeout := e.nodeTimeout(node)
	nodeCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		nodeCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	in := NodeInput{
		Node:    *node,
		Config:  cfg,
		Trigger: st.trigger,
		Outputs: st.outputsSnapshot(),
	}

	// The handler runs in its own goroutine so a non-cooperative handler
	// cannot hold the branch past its timeout.
	outCh := make(chan nodeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				outCh <- nodeOutcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		res, err := handler.Execute(nodeCtx, in)
		outCh <- nodeOutcome{res: res, err: err}
	}()

	var status domain.StepStatus
	var res *NodeResult
	var errMsg string

	select {
	case out := <-outCh:
		switch {
		case out.err == nil:
			status = domain.StepStatusSuccess
			res = out.res
		case nodeCtx.Err() == context.DeadlineExceeded:
			status = domain.StepStatusTimeout
			errMsg = fmt.Sprintf("node timed out after %s", timeout)
		default:
			status = domain.StepStatusError
			errMsg = out.err.Error()
		}
	case <-nodeCtx.Done():
		if nodeCtx.Err() == context.DeadlineExceeded {
			status = domain.StepStatusTimeout
			errMsg = fmt.Sprintf("node timed out after %s", timeout)
		} else {
			status = domain.StepStatusError
			errMsg = nodeCtx.Err().Error()
		}
	}

	e.completeNode(ctx, st, wg, nodeID, status, res, errMsg, startedAt)
}

// completeNode records the step for a finished (or skipped) node and
// propagates completion to downstream joins and branches.
func (e *Executor) completeNode(ctx context.Context, st *runState, wg *sync.WaitGroup, nodeID string, status domain.StepStatus, res *NodeResult, errMsg string, startedAt time.Time) {
	node := st.nodes[nodeID]
	completedAt := time.Now()

	var output map[string]any
	if res != nil {
		output = res.Output
	}

	st.mu.Lock()
	st.statuses[nodeID] = status
	if status == domain.StepStatusSuccess && output != nil {
		st.outputs[nodeID] = output
	}
	st.completed++
	progress := float64(st.completed) / float64(st.reachable)
	if status.Failed() && !node.Optional {
		st.requiredFailed = true
	}
	st.mu.Unlock()

	step := domain.Step{
		NodeID:      nodeID,
		NodeKind:    node.Kind,
		Status:      status,
		Result:      output,
		Error:       errMsg,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}
	if err := e.tracker.AppendStep(ctx, st.runID, step, progress); err != nil {
		e.logger.Error("failed to append step",
			zap.String("run_id", st.runID),
			zap.String("node_id", nodeID),
			zap.Error(err))
	}
	e.metrics.RecordNodeExecuted(string(node.Kind), string(status), completedAt.Sub(startedAt))

	e.logger.Debug("node completed",
		zap.String("run_id", st.runID),
		zap.String("node_id", nodeID),
		zap.String("status", string(status)))

	// Propagate to successors. An edge is selected only when the node
	// succeeded and the handler either followed all branches or named this
	// edge's source handle.
	for _, edge := range st.outgoing[nodeID] {
		selected := status == domain.StepStatusSuccess && branchSelected(res, edge.SourceHandle)

		st.mu.Lock()
		if status.Failed() {
			st.failedPred[edge.Target] = true
		}
		if selected {
			st.livePred[edge.Target] = true
		}
		st.remaining[edge.Target]--
		ready := st.remaining[edge.Target] == 0
		st.mu.Unlock()

		if ready {
			e.decideNode(ctx, st, wg, edge.Target)
		}
	}
}

// decideNode fires once all of a node's required predecessors have
// completed: the node either executes or is marked skipped.
func (e *Executor) decideNode(ctx context.Context, st *runState, wg *sync.WaitGroup, nodeID string) {
	node := st.nodes[nodeID]

	st.mu.Lock()
	failed := st.failedPred[nodeID]
	live := st.livePred[nodeID]
	st.mu.Unlock()

	tolerant := false
	if handler, ok := e.registry.Resolve(node.Kind); ok {
		tolerant = handler.ErrorTolerant()
	}
	if v, ok := node.Config["continue_on_error"].(bool); ok && v {
		tolerant = true
	}

	// A failed predecessor skips the node unless the node tolerates the
	// failure; with no failure, the node needs at least one selected
	// successful edge or it was deselected by branching.
	if (failed && !tolerant) || (!failed && !live) {
		now := time.Now()
		e.completeNode(ctx, st, wg, nodeID, domain.StepStatusSkipped, nil, "", now)
		return
	}

	e.startNode(ctx, st, wg, nodeID)
}

func (e *Executor) nodeTimeout(node *domain.Node) time.Duration {
	if raw, ok := node.Config["timeout"].(string); ok {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return e.defaultNodeTimeout
}

func branchSelected(res *NodeResult, handle string) bool {
	if res == nil || len(res.Branches) == 0 {
		return true
	}
	for _, b := range res.Branches {
		if b == handle {
			return true
		}
	}
	return false
}

func (st *runState) outputsSnapshot() map[string]map[string]any {
	st.mu.Lock()
	defer st.mu.Unlock()

	snap := make(map[string]map[string]any, len(st.outputs))
	for id, out := range st.outputs {
		snap[id] = out
	}
	return snap
}

func (st *runState) recordSystemError(msg string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.systemErr == "" {
		st.systemErr = msg
	}
}

// finalOutcome computes the terminal run status once no more nodes can
// execute.
func (st *runState) finalOutcome() (domain.RunStatus, string, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.cancelled.Load() {
		return domain.RunStatusFailed, "run cancelled", true
	}
	if st.systemErr != "" {
		return domain.RunStatusFailed, st.systemErr, false
	}
	if st.requiredFailed {
		return domain.RunStatusFailed, "one or more required nodes failed", false
	}
	return domain.RunStatusSucceeded, "", false
}
