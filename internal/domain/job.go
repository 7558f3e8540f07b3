package domain

import (
	"time"

	json "github.com/goccy/go-json"
)

// JobItem is the payload the Job Queue moves: one node's pending
// invocation within one execution.
type JobItem struct {
	ExecutionID  string          `json:"execution_id"`
	WorkflowID   string          `json:"workflow_id"`
	NodeID       string          `json:"node_id"`
	NodeType     string          `json:"node_type"`
	Input        json.RawMessage `json:"input"`
	Config       json.RawMessage `json:"config"`
	Attempt      int             `json:"attempt"`
	ProcessAfter time.Time       `json:"process_after"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
}

func (j *JobItem) ToBytes() ([]byte, error) {
	return json.Marshal(j)
}

func JobItemFromBytes(data []byte) (*JobItem, error) {
	var item JobItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// NodeExecutionKey identifies one node's invocation within one execution,
// used to correlate an Execution's NodeStatus against the job queue's
// claimed keyspace during crash recovery.
func NodeExecutionKey(executionID, nodeID string) string {
	return executionID + ":" + nodeID
}
