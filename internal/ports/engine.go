package ports

import (
	"context"

	json "github.com/goccy/go-json"

	"github.com/wireflow-run/wireflow/internal/domain"
)

// EnginePort is the Engine Facade component's public contract: the single
// surface application code drives to define workflows, start executions,
// and observe their progress.
type EnginePort interface {
	Start(ctx context.Context) error
	Stop() error

	RegisterNode(node interface{}) error

	CreateWorkflow(wf domain.Workflow) (*domain.Workflow, error)
	GetWorkflow(id string) (*domain.Workflow, error)

	StartExecution(workflowID string, input json.RawMessage) (*domain.Execution, error)
	StartExecutionWithOverrides(trigger domain.Trigger) (*domain.Execution, error)
	GetExecution(id string) (*domain.Execution, error)
	CancelExecution(id string) error
	PauseExecution(id string) error
	ResumeExecution(id string) error

	Subscribe(filter SubscriptionFilter) (id string, ch <-chan domain.Event)
	Unsubscribe(id string)

	Metrics() domain.ExecutionMetrics
}
