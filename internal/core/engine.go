// Package core implements the Engine Facade: the single surface
// application code drives to define workflows, start executions, and
// observe their progress, wiring the Node Registry, State Store, Job
// Queue, DAG Scheduler, and Event Bus together.
//
// Grounded on the teacher's core.Manager constructor pattern (validate
// config, build each adapter, wrap in one struct with one logger) but
// stripped of raft/cluster/discovery bootstrapping, since this engine runs
// as a single embedded process rather than a raft cluster member.
package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/wireflow-run/wireflow/internal/adapters/events"
	"github.com/wireflow-run/wireflow/internal/adapters/jobqueue"
	"github.com/wireflow-run/wireflow/internal/adapters/registry"
	"github.com/wireflow-run/wireflow/internal/adapters/scheduler"
	"github.com/wireflow-run/wireflow/internal/adapters/statestore"
	"github.com/wireflow-run/wireflow/internal/adapters/storage"
	"github.com/wireflow-run/wireflow/internal/domain"
	"github.com/wireflow-run/wireflow/internal/ports"
)

type Engine struct {
	config domain.Config
	logger *slog.Logger

	registry   *registry.Manager
	stateStore *statestore.Store
	queue      *jobqueue.Queue
	bus        *events.Manager
	scheduler  *scheduler.Scheduler
	metrics    *domain.ExecutionMetrics

	storageBackend *storage.BadgerStore
	queueBackend   *storage.BadgerStore

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup

	// runsMu/activeRuns bound EngineConfig.MaxConcurrentRuns, grounded on the
	// teacher's resource_manager.Adapter counter-with-mutex acquire/release
	// pattern (applied here per-execution rather than per-node-type).
	runsMu     sync.Mutex
	activeRuns int

	started bool
}

// New builds an Engine from a validated Config, opening the badger-backed
// State Store and Job Queue instances and wiring the scheduler and event
// bus on top of them. It does not start the worker pool; call Start for that.
func New(config domain.Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "engine-facade", "node_id", config.NodeID)

	storageBackend, err := storage.Open(config.Storage.DataDir, logger)
	if err != nil {
		return nil, domain.NewDiscoveryError("engine-facade", "open_state_storage", err)
	}

	queueBackend, err := storage.Open(config.Queue.DataDir, logger)
	if err != nil {
		return nil, domain.NewDiscoveryError("engine-facade", "open_queue_storage", err)
	}

	nodeRegistry := registry.NewManager(logger)
	stateStore := statestore.New(storageBackend, config.Storage.CacheTTL, logger)
	queue := jobqueue.New(queueBackend, logger)
	bus := events.NewManager(config.Events, logger)
	metrics := domain.NewExecutionMetrics()

	sched := scheduler.New(config.Engine, config.Queue, nodeRegistry, stateStore, queue, bus, metrics, logger)

	return &Engine{
		config:         config,
		logger:         logger,
		registry:       nodeRegistry,
		stateStore:     stateStore,
		queue:          queue,
		bus:            bus,
		scheduler:      sched,
		metrics:        metrics,
		storageBackend: storageBackend,
		queueBackend:   queueBackend,
	}, nil
}

func (e *Engine) Start(ctx context.Context) error {
	if e.started {
		return domain.ErrAlreadyStarted
	}
	e.scheduler.Start(ctx)

	bgCtx, cancel := context.WithCancel(ctx)
	e.bgCancel = cancel

	if e.config.Queue.ReaperInterval > 0 {
		e.bgWG.Add(1)
		go e.runReaper(bgCtx)
	}
	if e.config.Storage.GCInterval > 0 {
		e.bgWG.Add(2)
		go e.runGC(bgCtx, e.storageBackend, "state-store")
		go e.runGC(bgCtx, e.queueBackend, "job-queue")
	}

	_, terminalEvents := e.bus.Subscribe(ports.SubscriptionFilter{Types: []domain.EventType{
		domain.EventExecutionCompleted,
		domain.EventExecutionFailed,
		domain.EventExecutionCancelled,
	}})
	e.bgWG.Add(1)
	go e.releaseOnTerminal(terminalEvents)

	e.started = true
	e.logger.Info("engine started")
	return nil
}

// runReaper periodically calls ReclaimExpiredClaims so a node whose worker
// died between Claim and Complete gets redelivered instead of stranded in
// the queue's claimed keyspace forever.
func (e *Engine) runReaper(ctx context.Context) {
	defer e.bgWG.Done()
	ticker := time.NewTicker(e.config.Queue.ReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := e.queue.ReclaimExpiredClaims(e.config.Queue.ClaimTTL)
			if err != nil {
				e.logger.Error("claim reaper pass failed", "error", err)
				continue
			}
			if reclaimed > 0 {
				e.logger.Info("reaper reclaimed expired claims", "count", reclaimed)
			}
		}
	}
}

// acquireRun admits one more concurrently in-flight execution, rejecting the
// start once EngineConfig.MaxConcurrentRuns is reached (zero disables the
// limit). releaseRun gives the slot back once the execution reaches a
// terminal status, via releaseOnTerminal's event subscription.
func (e *Engine) acquireRun() error {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	if e.config.Engine.MaxConcurrentRuns > 0 && e.activeRuns >= e.config.Engine.MaxConcurrentRuns {
		return domain.ErrTooManyRuns
	}
	e.activeRuns++
	return nil
}

func (e *Engine) releaseRun() {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	if e.activeRuns > 0 {
		e.activeRuns--
	}
}

// trackRecovered accounts for a non-terminal execution rediscovered on
// restart. It bypasses the MaxConcurrentRuns admission check: the execution
// already exists and was admitted before the crash, so it must be tracked
// even if the fresh process's counter would otherwise reject it as new.
func (e *Engine) trackRecovered() {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	e.activeRuns++
}

// releaseOnTerminal drains terminal execution events for the lifetime of the
// subscription, freeing one MaxConcurrentRuns slot per event. The channel
// closes when Stop calls bus.Close, which ends this goroutine.
func (e *Engine) releaseOnTerminal(events <-chan domain.Event) {
	defer e.bgWG.Done()
	for range events {
		e.releaseRun()
	}
}

// runGC periodically compacts a badger backend's value log, grounded on the
// teacher's runGarbageCollection ticker.
func (e *Engine) runGC(ctx context.Context, backend *storage.BadgerStore, label string) {
	defer e.bgWG.Done()
	ticker := time.NewTicker(e.config.Storage.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := backend.RunGC(0.5); err != nil {
				e.logger.Warn("garbage collection failed", "backend", label, "error", err)
			}
		}
	}
}

// Stop cancels the background loops, closes the event bus, stops the
// scheduler and waits for in-flight jobs to return, then closes the queue
// and durable storage. The wait for in-flight jobs has no deadline: a node
// that never returns keeps Stop from returning. Queue state persists on
// disk, so a subsequent New/Start against the same data directories resumes
// unfinished executions once RecoverExecution is invoked per execution.
func (e *Engine) Stop() error {
	if !e.started {
		return domain.ErrNotStarted
	}
	if e.bgCancel != nil {
		e.bgCancel()
	}
	e.bus.Close()
	e.bgWG.Wait()
	e.scheduler.Stop()
	if err := e.queue.Close(); err != nil {
		e.logger.Error("failed to close queue", "error", err)
	}
	if err := e.queueBackend.Close(); err != nil {
		e.logger.Error("failed to close queue storage", "error", err)
	}
	if err := e.storageBackend.Close(); err != nil {
		e.logger.Error("failed to close state storage", "error", err)
	}
	e.started = false
	e.logger.Info("engine stopped")
	return nil
}

func (e *Engine) RegisterNode(node interface{}) error {
	return e.registry.RegisterNode(node)
}

func (e *Engine) CreateWorkflow(wf domain.Workflow) (*domain.Workflow, error) {
	if err := domain.ValidateWorkflow(&wf); err != nil {
		return nil, err
	}
	for _, node := range wf.Nodes {
		if !e.registry.HasNode(node.Type) {
			return nil, domain.ErrUnknownNodeType
		}
	}
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = time.Now()
	}
	return e.stateStore.CreateWorkflow(wf)
}

func (e *Engine) GetWorkflow(id string) (*domain.Workflow, error) {
	return e.stateStore.GetWorkflow(id)
}

// StartExecution creates a new Execution record for workflowID in
// ExecutionStatusPending, then hands it to the scheduler to seed every
// source node as ready and transition it to ExecutionStatusRunning once
// those nodes are durably enqueued.
func (e *Engine) StartExecution(workflowID string, input json.RawMessage) (*domain.Execution, error) {
	return e.StartExecutionWithOverrides(domain.Trigger{WorkflowID: workflowID, InitialInput: input})
}

// StartExecutionWithOverrides is StartExecution plus per-node config
// overrides: trigger.ConfigOverrides[nodeID], when present, is deep-merged
// over that node's static workflow-definition config for this run only.
func (e *Engine) StartExecutionWithOverrides(trigger domain.Trigger) (*domain.Execution, error) {
	if err := e.acquireRun(); err != nil {
		return nil, err
	}

	wf, err := e.stateStore.GetWorkflow(trigger.WorkflowID)
	if err != nil {
		e.releaseRun()
		return nil, err
	}

	nodeStatus := make(map[string]domain.NodeStatus, len(wf.Nodes))
	for id := range wf.Nodes {
		nodeStatus[id] = domain.NodeStatusPending
	}

	exec := domain.Execution{
		ID:              uuid.New().String(),
		WorkflowID:      trigger.WorkflowID,
		Status:          domain.ExecutionStatusPending,
		InitialInput:    trigger.InitialInput,
		NodeStatus:      nodeStatus,
		NodeResults:     make(map[string]json.RawMessage),
		StartedAt:       time.Now(),
		ConfigOverrides: trigger.ConfigOverrides,
	}

	created, err := e.stateStore.CreateExecution(exec)
	if err != nil {
		e.releaseRun()
		return nil, err
	}

	started, err := e.scheduler.StartExecution(wf, created)
	if err != nil {
		e.releaseRun()
		return nil, err
	}
	return started, nil
}

func (e *Engine) GetExecution(id string) (*domain.Execution, error) {
	return e.stateStore.GetExecution(id)
}

func (e *Engine) CancelExecution(id string) error {
	return e.scheduler.CancelExecution(id)
}

func (e *Engine) PauseExecution(id string) error {
	return e.scheduler.PauseExecution(id)
}

func (e *Engine) ResumeExecution(id string) error {
	return e.scheduler.ResumeExecution(id)
}

func (e *Engine) Subscribe(filter ports.SubscriptionFilter) (string, <-chan domain.Event) {
	return e.bus.Subscribe(filter)
}

func (e *Engine) Unsubscribe(id string) {
	e.bus.Unsubscribe(id)
}

func (e *Engine) Metrics() domain.ExecutionMetrics {
	return e.metrics.GetSnapshot()
}

// RecoverExecution resumes one execution after a restart. A terminal
// execution is left as it is; otherwise expired queue claims are returned
// to the pending queue and every node whose predecessors are complete but
// which has no result recorded (including a node left running with no live
// claim) is re-enqueued.
func (e *Engine) RecoverExecution(executionID string) error {
	exec, err := e.stateStore.GetExecution(executionID)
	if err != nil {
		return err
	}
	if exec.IsTerminal() {
		return nil
	}
	wf, err := e.stateStore.GetWorkflow(exec.WorkflowID)
	if err != nil {
		return err
	}
	if _, err := e.queue.ReclaimExpiredClaims(e.config.Queue.ClaimTTL); err != nil {
		return err
	}
	e.trackRecovered()
	return e.scheduler.ResumeReadyNodes(wf, exec)
}

func (e *Engine) GetDeadLetterItems(limit int) ([]ports.DeadLetterItem, error) {
	return e.queue.GetDeadLetterItems(limit)
}

func (e *Engine) RetryFromDeadLetter(itemID string) error {
	return e.queue.RetryFromDeadLetter(itemID)
}

var _ ports.EnginePort = (*Engine)(nil)
