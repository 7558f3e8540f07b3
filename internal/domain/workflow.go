package domain

import (
	"time"

	json "github.com/goccy/go-json"
)

// Workflow is an immutable DAG definition: once CreateWorkflow returns one,
// its Nodes and Edges never change. Re-running a workflow starts a new
// Execution against the same definition.
type Workflow struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Nodes     map[string]NodeSpec `json:"nodes"`
	Edges     []Edge              `json:"edges"`
	CreatedAt time.Time           `json:"created_at"`
}

// ExecutionStatus is the lifecycle state of one run of a workflow.
type ExecutionStatus string

const (
	// ExecutionStatusPending is the initial status: the Execution record
	// exists but its source nodes have not yet been durably enqueued.
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Execution is the mutable run-state of one workflow invocation. It is the
// unit of persistence for the State Store: every mutation goes through
// PatchExecution under that execution's lock.
type Execution struct {
	ID            string                     `json:"id"`
	WorkflowID    string                     `json:"workflow_id"`
	Status        ExecutionStatus            `json:"status"`
	InitialInput  json.RawMessage            `json:"initial_input"`
	NodeStatus    map[string]NodeStatus      `json:"node_status"`
	NodeResults   map[string]json.RawMessage `json:"node_results"`
	NodeErrors    map[string]NodeErrorRecord `json:"node_errors,omitempty"`
	FatalError    *string                    `json:"fatal_error,omitempty"`
	StartedAt     time.Time                  `json:"started_at"`
	EndedAt       *time.Time                 `json:"ended_at,omitempty"`
	Version       int64                      `json:"version"`

	// ConfigOverrides holds per-node config fragments supplied at execution
	// start time. When present for a node, it is deep-merged over that
	// node's static workflow-definition config (see enqueueNode), letting a
	// single workflow definition be parameterized differently per run
	// without duplicating the workflow.
	ConfigOverrides map[string]json.RawMessage `json:"config_overrides,omitempty"`
}

// Clone returns a deep-enough copy for safe handoff across the lock
// boundary: callers outside the store must never mutate maps in place.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	out := *e
	out.NodeStatus = make(map[string]NodeStatus, len(e.NodeStatus))
	for k, v := range e.NodeStatus {
		out.NodeStatus[k] = v
	}
	out.NodeResults = make(map[string]json.RawMessage, len(e.NodeResults))
	for k, v := range e.NodeResults {
		out.NodeResults[k] = v
	}
	if e.NodeErrors != nil {
		out.NodeErrors = make(map[string]NodeErrorRecord, len(e.NodeErrors))
		for k, v := range e.NodeErrors {
			out.NodeErrors[k] = v
		}
	}
	if e.EndedAt != nil {
		t := *e.EndedAt
		out.EndedAt = &t
	}
	if e.ConfigOverrides != nil {
		out.ConfigOverrides = make(map[string]json.RawMessage, len(e.ConfigOverrides))
		for k, v := range e.ConfigOverrides {
			out.ConfigOverrides[k] = v
		}
	}
	return &out
}

// IsTerminal reports whether the execution has reached a state from which
// no further nodes will ever be scheduled.
func (e *Execution) IsTerminal() bool {
	switch e.Status {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// Trigger carries the arguments to start a new execution of a workflow.
type Trigger struct {
	WorkflowID      string                     `json:"workflow_id"`
	InitialInput    json.RawMessage            `json:"initial_input"`
	Metadata        map[string]string          `json:"metadata,omitempty"`
	ConfigOverrides map[string]json.RawMessage `json:"config_overrides,omitempty"`
}
