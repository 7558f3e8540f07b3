package domain

import (
	"context"
	"time"
)

type contextKey string

const WorkflowContextKey contextKey = "wireflow:workflow_context"

// WorkflowContext is the metadata injected into a node's Execute context so
// it can identify which run and node invocation it belongs to, without
// coupling node implementations to the scheduler or state store directly.
type WorkflowContext struct {
	ExecutionID string
	WorkflowID  string
	NodeID      string
	Attempt     int
	StartedAt   time.Time
}

func WithWorkflowContext(ctx context.Context, workflowCtx *WorkflowContext) context.Context {
	return context.WithValue(ctx, WorkflowContextKey, workflowCtx)
}

func GetWorkflowContext(ctx context.Context) (*WorkflowContext, bool) {
	workflowCtx, ok := ctx.Value(WorkflowContextKey).(*WorkflowContext)
	return workflowCtx, ok
}
