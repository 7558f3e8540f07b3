package core

import (
	"context"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/wireflow-run/wireflow/internal/domain"
	"github.com/wireflow-run/wireflow/internal/ports"
)

// echoNode is a directly-registered node used across the end-to-end
// scenarios below: it hands its input straight through as its result.
type echoNode struct{ name string }

func (n echoNode) GetName() string { return n.name }

func (n echoNode) Execute(_ context.Context, input, _ json.RawMessage) (*domain.NodeResult, error) {
	return &domain.NodeResult{Output: input}, nil
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	cfg := domain.DefaultConfig().WithDataDir(dir)
	cfg.Engine.WorkerCount = 3
	cfg.Engine.DefaultNodeTimeout = 2 * time.Second
	cfg.Queue.MaxAttempts = 3
	cfg.Queue.BaseBackoff = 10 * time.Millisecond
	cfg.Queue.MaxBackoff = 50 * time.Millisecond

	engine, err := New(*cfg)
	require.NoError(t, err)
	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(func() { _ = engine.Stop() })
	return engine
}

func waitForTerminal(t *testing.T, engine *Engine, executionID string, timeout time.Duration) *domain.Execution {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		exec, err := engine.GetExecution(executionID)
		require.NoError(t, err)
		if exec.IsTerminal() {
			return exec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("execution %s did not reach a terminal state within %s", executionID, timeout)
	return nil
}

func TestEngine_SingleNodeWorkflowCompletes(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.RegisterNode(echoNode{name: "echo"}))

	wf, err := engine.CreateWorkflow(domain.Workflow{
		ID:    "wf-single",
		Nodes: map[string]domain.NodeSpec{"a": {NodeID: "a", Type: "echo"}},
	})
	require.NoError(t, err)

	exec, err := engine.StartExecution(wf.ID, json.RawMessage(`{"n":1}`))
	require.NoError(t, err)

	final := waitForTerminal(t, engine, exec.ID, 2*time.Second)
	require.Equal(t, domain.ExecutionStatusCompleted, final.Status)
	require.JSONEq(t, `{"n":1}`, string(final.NodeResults["a"]))
}

func TestEngine_StartExecutionTransitionsPendingToRunning(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.RegisterNode(echoNode{name: "echo"}))

	wf, err := engine.CreateWorkflow(domain.Workflow{
		ID:    "wf-pending",
		Nodes: map[string]domain.NodeSpec{"a": {NodeID: "a", Type: "echo"}},
	})
	require.NoError(t, err)

	// StartExecution must hand back an execution already in
	// ExecutionStatusRunning: the pending phase is an implementation detail
	// of the create-then-enqueue sequence, not something a caller should
	// ever observe on a successful start.
	exec, err := engine.StartExecution(wf.ID, json.RawMessage(`1`))
	require.NoError(t, err)
	require.Equal(t, domain.ExecutionStatusRunning, exec.Status)

	final := waitForTerminal(t, engine, exec.ID, 2*time.Second)
	require.Equal(t, domain.ExecutionStatusCompleted, final.Status)
}

// blockingNode holds every execution open until release is closed, so tests
// can pin an execution in a non-terminal state for as long as they need.
type blockingNode struct {
	name    string
	release <-chan struct{}
}

func (n blockingNode) GetName() string { return n.name }

func (n blockingNode) Execute(ctx context.Context, input, _ json.RawMessage) (*domain.NodeResult, error) {
	select {
	case <-n.release:
		return &domain.NodeResult{Output: input}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestEngine_MaxConcurrentRunsRejectsOverCapacityStart(t *testing.T) {
	dir := t.TempDir()
	cfg := domain.DefaultConfig().WithDataDir(dir)
	cfg.Engine.WorkerCount = 3
	cfg.Engine.DefaultNodeTimeout = 2 * time.Second
	cfg.Engine.MaxConcurrentRuns = 1
	cfg.Queue.MaxAttempts = 3
	cfg.Queue.BaseBackoff = 10 * time.Millisecond
	cfg.Queue.MaxBackoff = 50 * time.Millisecond

	engine, err := New(*cfg)
	require.NoError(t, err)
	require.NoError(t, engine.Start(context.Background()))
	t.Cleanup(func() { _ = engine.Stop() })

	release := make(chan struct{})
	require.NoError(t, engine.RegisterNode(blockingNode{name: "block", release: release}))

	wf, err := engine.CreateWorkflow(domain.Workflow{
		ID:    "wf-capacity",
		Nodes: map[string]domain.NodeSpec{"a": {NodeID: "a", Type: "block"}},
	})
	require.NoError(t, err)

	first, err := engine.StartExecution(wf.ID, json.RawMessage(`1`))
	require.NoError(t, err)

	// The single MaxConcurrentRuns slot is held by the still-running first
	// execution, so a second start must be rejected outright.
	_, err = engine.StartExecution(wf.ID, json.RawMessage(`2`))
	require.ErrorIs(t, err, domain.ErrTooManyRuns)

	close(release)
	final := waitForTerminal(t, engine, first.ID, 2*time.Second)
	require.Equal(t, domain.ExecutionStatusCompleted, final.Status)

	// The slot frees once the terminal event reaches releaseOnTerminal, which
	// lands slightly after the execution record itself turns terminal.
	deadline := time.Now().Add(2 * time.Second)
	var second *domain.Execution
	for time.Now().Before(deadline) {
		second, err = engine.StartExecution(wf.ID, json.RawMessage(`3`))
		if err == nil {
			break
		}
		require.ErrorIs(t, err, domain.ErrTooManyRuns)
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, err)
	waitForTerminal(t, engine, second.ID, 2*time.Second)
}

func TestEngine_LinearPipelineCompletes(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.RegisterNode(echoNode{name: "echo"}))

	wf, err := engine.CreateWorkflow(domain.Workflow{
		ID: "wf-pipeline",
		Nodes: map[string]domain.NodeSpec{
			"a": {NodeID: "a", Type: "echo"},
			"b": {NodeID: "b", Type: "echo"},
			"c": {NodeID: "c", Type: "echo"},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "a", Target: "b"},
			{ID: "e2", Source: "b", Target: "c"},
		},
	})
	require.NoError(t, err)

	exec, err := engine.StartExecution(wf.ID, json.RawMessage(`"seed"`))
	require.NoError(t, err)

	final := waitForTerminal(t, engine, exec.ID, 2*time.Second)
	require.Equal(t, domain.ExecutionStatusCompleted, final.Status)
	require.Len(t, final.NodeResults, 3)
}

func TestEngine_DiamondFanInCompletes(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.RegisterNode(echoNode{name: "echo"}))

	wf, err := engine.CreateWorkflow(domain.Workflow{
		ID: "wf-diamond",
		Nodes: map[string]domain.NodeSpec{
			"a": {NodeID: "a", Type: "echo"},
			"b": {NodeID: "b", Type: "echo"},
			"c": {NodeID: "c", Type: "echo"},
			"d": {NodeID: "d", Type: "echo"},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "a", Target: "b"},
			{ID: "e2", Source: "a", Target: "c"},
			{ID: "e3", Source: "b", Target: "d"},
			{ID: "e4", Source: "c", Target: "d"},
		},
	})
	require.NoError(t, err)

	exec, err := engine.StartExecution(wf.ID, json.RawMessage(`"go"`))
	require.NoError(t, err)

	final := waitForTerminal(t, engine, exec.ID, 2*time.Second)
	require.Equal(t, domain.ExecutionStatusCompleted, final.Status)

	var dInput map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(final.NodeResults["d"], &dInput))
	require.Contains(t, dInput, "b")
	require.Contains(t, dInput, "c")
}

func TestEngine_CreateWorkflowRejectsUnknownNodeType(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.CreateWorkflow(domain.Workflow{
		ID:    "wf-unknown",
		Nodes: map[string]domain.NodeSpec{"a": {NodeID: "a", Type: "not-registered"}},
	})
	require.ErrorIs(t, err, domain.ErrUnknownNodeType)
}

func TestEngine_CreateWorkflowRejectsCycle(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.RegisterNode(echoNode{name: "echo"}))

	_, err := engine.CreateWorkflow(domain.Workflow{
		ID: "wf-cyclic",
		Nodes: map[string]domain.NodeSpec{
			"a": {NodeID: "a", Type: "echo"},
			"b": {NodeID: "b", Type: "echo"},
		},
		Edges: []domain.Edge{
			{ID: "e1", Source: "a", Target: "b"},
			{ID: "e2", Source: "b", Target: "a"},
		},
	})
	require.Error(t, err)
}

func TestEngine_CancelExecutionStopsBeforeDownstream(t *testing.T) {
	engine := newTestEngine(t)
	slow := &fakeSlowNode{delay: 300 * time.Millisecond}
	require.NoError(t, engine.RegisterNode(slow))
	require.NoError(t, engine.RegisterNode(echoNode{name: "echo"}))

	wf, err := engine.CreateWorkflow(domain.Workflow{
		ID: "wf-cancel",
		Nodes: map[string]domain.NodeSpec{
			"a": {NodeID: "a", Type: "slow"},
			"b": {NodeID: "b", Type: "echo"},
		},
		Edges: []domain.Edge{{ID: "e1", Source: "a", Target: "b"}},
	})
	require.NoError(t, err)

	exec, err := engine.StartExecution(wf.ID, json.RawMessage(`1`))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, engine.CancelExecution(exec.ID))

	final := waitForTerminal(t, engine, exec.ID, 2*time.Second)
	require.Equal(t, domain.ExecutionStatusCancelled, final.Status)

	time.Sleep(400 * time.Millisecond)
	settled, err := engine.GetExecution(exec.ID)
	require.NoError(t, err)
	require.NotEqual(t, domain.NodeStatusCompleted, settled.NodeStatus["b"])
}

type fakeSlowNode struct{ delay time.Duration }

func (n *fakeSlowNode) GetName() string { return "slow" }

func (n *fakeSlowNode) Execute(_ context.Context, input, _ json.RawMessage) (*domain.NodeResult, error) {
	time.Sleep(n.delay)
	return &domain.NodeResult{Output: input}, nil
}

func TestEngine_RecoverExecutionResumesAfterCrash(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.RegisterNode(echoNode{name: "echo"}))

	wf, err := engine.CreateWorkflow(domain.Workflow{
		ID: "wf-recover",
		Nodes: map[string]domain.NodeSpec{
			"a": {NodeID: "a", Type: "echo"},
			"b": {NodeID: "b", Type: "echo"},
		},
		Edges: []domain.Edge{{ID: "e1", Source: "a", Target: "b"}},
	})
	require.NoError(t, err)

	// Simulate a crash mid-run: an execution record where "a" already
	// completed and was persisted, but the process died before "b" was
	// enqueued.
	nodeStatus := map[string]domain.NodeStatus{
		"a": domain.NodeStatusCompleted,
		"b": domain.NodeStatusPending,
	}
	created, err := engine.stateStore.CreateExecution(domain.Execution{
		ID:           "exec-crashed",
		WorkflowID:   wf.ID,
		Status:       domain.ExecutionStatusRunning,
		InitialInput: json.RawMessage(`"seed"`),
		NodeStatus:   nodeStatus,
		NodeResults:  map[string]json.RawMessage{"a": json.RawMessage(`{"from":"a"}`)},
		StartedAt:    time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, engine.RecoverExecution(created.ID))

	final := waitForTerminal(t, engine, "exec-crashed", 2*time.Second)
	require.Equal(t, domain.ExecutionStatusCompleted, final.Status)
	require.JSONEq(t, `{"from":"a"}`, string(final.NodeResults["a"]))
}

func TestEngine_RecoverExecutionRedeliversLostClaim(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.RegisterNode(echoNode{name: "echo"}))

	wf, err := engine.CreateWorkflow(domain.Workflow{
		ID:    "wf-lost-claim",
		Nodes: map[string]domain.NodeSpec{"a": {NodeID: "a", Type: "echo"}},
	})
	require.NoError(t, err)

	// Simulate the exact scenario the review flagged: a worker claimed
	// node "a"'s job and then died before completing it, leaving the
	// execution record at NodeStatusRunning and the job stuck in the
	// queue's claimed keyspace with no worker left holding it.
	created, err := engine.stateStore.CreateExecution(domain.Execution{
		ID:           "exec-lost-claim",
		WorkflowID:   wf.ID,
		Status:       domain.ExecutionStatusRunning,
		InitialInput: json.RawMessage(`{"n":7}`),
		NodeStatus:   map[string]domain.NodeStatus{"a": domain.NodeStatusRunning},
		NodeResults:  map[string]json.RawMessage{},
		StartedAt:    time.Now(),
	})
	require.NoError(t, err)

	job := domain.JobItem{ExecutionID: created.ID, WorkflowID: wf.ID, NodeID: "a", NodeType: "echo", Input: json.RawMessage(`{"n":7}`)}
	bytes, err := job.ToBytes()
	require.NoError(t, err)
	require.NoError(t, engine.queue.Enqueue(bytes))
	_, _, exists, err := engine.queue.Claim()
	require.NoError(t, err)
	require.True(t, exists)

	// The claim is only microseconds old, so a normal-length ttl leaves it
	// alone; RecoverExecution must still redeliver it once its ttl has
	// genuinely elapsed.
	require.NoError(t, engine.RecoverExecution(created.ID))
	time.Sleep(50 * time.Millisecond)
	stillRunning, err := engine.GetExecution(created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.NodeStatusRunning, stillRunning.NodeStatus["a"])

	engine.config.Queue.ClaimTTL = time.Nanosecond
	require.NoError(t, engine.RecoverExecution(created.ID))

	final := waitForTerminal(t, engine, created.ID, 2*time.Second)
	require.Equal(t, domain.ExecutionStatusCompleted, final.Status)
	require.JSONEq(t, `{"n":7}`, string(final.NodeResults["a"]))
}

func TestEngine_InvalidNodeConfigFailsWithoutRetrying(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.RegisterNode(&typedConfigNode{}))

	wf, err := engine.CreateWorkflow(domain.Workflow{
		ID: "wf-bad-config",
		Nodes: map[string]domain.NodeSpec{
			// Config must unmarshal into a struct with an int field;
			// a string here fails json.Unmarshal every attempt.
			"a": {NodeID: "a", Type: "typed-config", Config: json.RawMessage(`{"limit":"not-a-number"}`)},
		},
	})
	require.NoError(t, err)

	exec, err := engine.StartExecution(wf.ID, json.RawMessage(`1`))
	require.NoError(t, err)

	final := waitForTerminal(t, engine, exec.ID, 2*time.Second)
	require.Equal(t, domain.ExecutionStatusFailed, final.Status)
	require.Equal(t, domain.NodeStatusFailed, final.NodeStatus["a"])
}

type typedConfig struct {
	Limit int `json:"limit"`
}

type typedConfigNode struct{}

func (n *typedConfigNode) GetName() string { return "typed-config" }

func (n *typedConfigNode) Execute(_ context.Context, input json.RawMessage, _ typedConfig) (*domain.NodeResult, error) {
	return &domain.NodeResult{Output: input}, nil
}

func TestEngine_SubscribeReceivesExecutionEvents(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.RegisterNode(echoNode{name: "echo"}))

	wf, err := engine.CreateWorkflow(domain.Workflow{
		ID:    "wf-events",
		Nodes: map[string]domain.NodeSpec{"a": {NodeID: "a", Type: "echo"}},
	})
	require.NoError(t, err)

	subID, ch := engine.Subscribe(ports.SubscriptionFilter{Types: []domain.EventType{domain.EventExecutionStarted, domain.EventExecutionCompleted}})
	defer engine.Unsubscribe(subID)

	exec, err := engine.StartExecution(wf.ID, json.RawMessage(`1`))
	require.NoError(t, err)

	seen := map[domain.EventType]bool{}
	deadline := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case ev := <-ch:
			require.Equal(t, exec.ID, ev.ExecutionID)
			seen[ev.Type] = true
		case <-deadline:
			t.Fatalf("timed out waiting for execution events, saw: %v", seen)
		}
	}
	require.True(t, seen[domain.EventExecutionStarted])
	require.True(t, seen[domain.EventExecutionCompleted])
}
