package domain

import "fmt"

const (
	WorkflowPrefix  = "workflow:def:"
	ExecutionPrefix = "workflow:exec:"
)

// WorkflowKey builds the canonical storage key for a workflow definition.
func WorkflowKey(id string) string {
	return fmt.Sprintf("%s%s", WorkflowPrefix, id)
}

// ExecutionKey builds the canonical storage key for an execution's state.
func ExecutionKey(id string) string {
	return fmt.Sprintf("%s%s", ExecutionPrefix, id)
}
