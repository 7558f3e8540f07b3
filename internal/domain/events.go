package domain

import (
	"runtime"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// EventType classifies the payload carried by an Event.
type EventType string

const (
	EventExecutionStarted   EventType = "execution.started"
	EventExecutionCompleted EventType = "execution.completed"
	EventExecutionFailed    EventType = "execution.failed"
	EventExecutionCancelled EventType = "execution.cancelled"
	EventExecutionPaused    EventType = "execution.paused"
	EventExecutionResumed   EventType = "execution.resumed"
	EventNodeStarted        EventType = "node.started"
	EventNodeCompleted      EventType = "node.completed"
	EventNodeFailed         EventType = "node.failed"
	EventNodeRetried        EventType = "node.retried"
)

// Event is the envelope published on the Event Bus for every workflow and
// node lifecycle transition.
type Event struct {
	Type        EventType       `json:"type"`
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id"`
	NodeID      string          `json:"node_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// The payload types below describe Event.Payload shapes for their event
// types. The scheduler does not attach them: the events it publishes carry
// an empty Payload.

// NodeStartedPayload is the Event.Payload shape for EventNodeStarted.
type NodeStartedPayload struct {
	Attempt int `json:"attempt"`
}

// NodeCompletedPayload is the Event.Payload shape for EventNodeCompleted.
type NodeCompletedPayload struct {
	Duration time.Duration `json:"duration"`
}

// NodeFailedPayload is the Event.Payload shape for EventNodeFailed.
type NodeFailedPayload struct {
	Error     string `json:"error"`
	Attempt   int    `json:"attempt"`
	Terminal  bool   `json:"terminal"`
}

// ExecutionFailedPayload is the Event.Payload shape for EventExecutionFailed.
type ExecutionFailedPayload struct {
	Error string `json:"error"`
}

// WorkflowPanicError records a node execution panic recovered by the
// scheduler's worker loop, converted into a terminal node failure.
type WorkflowPanicError struct {
	ExecutionID string    `json:"execution_id"`
	NodeID      string    `json:"node_id"`
	PanicValue  interface{} `json:"panic_value"`
	StackTrace  string    `json:"stack_trace"`
	Timestamp   time.Time `json:"timestamp"`
	RecoveredAt string    `json:"recovered_at"`
}

func (wpe *WorkflowPanicError) Error() string {
	return "node execution panicked: " + wpe.NodeID
}

func NewPanicError(executionID, nodeID string, panicValue interface{}) *WorkflowPanicError {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)

	pc, file, line, ok := runtime.Caller(2)
	recoveredAt := "unknown"
	if ok {
		fn := runtime.FuncForPC(pc)
		if fn != nil {
			recoveredAt = fn.Name() + " at " + file + ":" + strconv.Itoa(line)
		}
	}

	return &WorkflowPanicError{
		ExecutionID: executionID,
		NodeID:      nodeID,
		PanicValue:  panicValue,
		StackTrace:  string(buf[:n]),
		Timestamp:   time.Now(),
		RecoveredAt: recoveredAt,
	}
}
