// Package wireflow is an embeddable distributed workflow execution engine:
// register typed node implementations, define workflows as directed
// acyclic graphs, and run them through a durable, crash-recoverable
// scheduler with an in-process event bus for observing progress.
//
// Basic usage:
//
//	cfg := wireflow.DefaultConfig().WithDataDir("./data")
//	cfg.NodeID = "node-1"
//	engine, err := wireflow.New(cfg)
//	engine.RegisterNode(&MyNode{})
//	engine.Start(context.Background())
//	wf, _ := engine.CreateWorkflow(myWorkflow)
//	exec, _ := engine.StartExecution(wf.ID, initialInput)
package wireflow

import (
	"context"

	"github.com/wireflow-run/wireflow/internal/core"
	"github.com/wireflow-run/wireflow/internal/domain"
	"github.com/wireflow-run/wireflow/internal/ports"
)

// Engine is the main orchestration facade wiring the Node Registry, State
// Store, Job Queue, DAG Scheduler, and Event Bus together.
type Engine = core.Engine

// EnginePort is the interface Engine satisfies; use it to accept an engine
// as a dependency without pulling in the concrete construction path.
type EnginePort = ports.EnginePort

// New builds an Engine from config, opening its durable storage. Call Start
// to launch the worker pool before submitting executions.
func New(config *Config) (*Engine, error) {
	return core.New(*config)
}

// GetWorkflowContext extracts execution metadata from the context passed to
// a node's Execute method: the execution ID, workflow ID, and node ID.
func GetWorkflowContext(ctx context.Context) (*domain.WorkflowContext, bool) {
	return domain.GetWorkflowContext(ctx)
}
