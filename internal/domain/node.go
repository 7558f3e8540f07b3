package domain

import (
	json "github.com/goccy/go-json"
)

// NodeSpec is one vertex of a workflow DAG: a typed, configured unit of
// work identified by NodeID within its workflow.
type NodeSpec struct {
	NodeID   string          `json:"node_id"`
	Type     string          `json:"type"`
	Config   json.RawMessage `json:"config,omitempty"`
	Position json.RawMessage `json:"position,omitempty"`
}

// Edge is a directed dependency: Target becomes ready only once Source
// has completed (see the DAG scheduler readiness rule).
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// NodeStatus tracks a single node's progress within one execution.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusReady     NodeStatus = "ready"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// NodeErrorRecord captures the last failure seen for a node, including how
// many attempts the job queue has made at redelivering it.
type NodeErrorRecord struct {
	Message  string `json:"message"`
	Attempts int    `json:"attempts"`
}

// NodeResult is what a node's Execute implementation returns: the payload
// to store as that node's output, merged into downstream predecessor-input
// assembly per the DAG scheduler's input shape rules.
type NodeResult struct {
	Output json.RawMessage `json:"output"`
}
