// Package scheduler implements the DAG Scheduler: the readiness rule,
// input assembly, node lifecycle, and termination rule that drive one
// workflow execution to completion.
//
// Grounded on the teacher's Engine worker pool (processWork/processNextItem
// in internal/adapters/engine/engine.go) and its PendingEvaluator readiness
// checks (evaluator.go), adapted from the teacher's condition-map
// readiness model to the strict AND-of-predecessors rule this domain
// specifies, and from its raft-routed state writes to direct
// statestore.Store.PatchExecution calls.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/wireflow-run/wireflow/internal/adapters/statestore"
	"github.com/wireflow-run/wireflow/internal/domain"
	"github.com/wireflow-run/wireflow/internal/ports"
)

type Scheduler struct {
	cfg      domain.EngineConfig
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	registry ports.NodeRegistryPort
	store    *statestore.Store
	queue    ports.QueuePort
	events   ports.EventBusPort
	logger   *slog.Logger
	metrics  *domain.ExecutionMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg domain.EngineConfig, queueCfg domain.QueueConfig, registry ports.NodeRegistryPort, store *statestore.Store, queue ports.QueuePort, events ports.EventBusPort, metrics *domain.ExecutionMetrics, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:         cfg,
		maxAttempts: queueCfg.MaxAttempts,
		baseBackoff: queueCfg.BaseBackoff,
		maxBackoff:  queueCfg.MaxBackoff,
		registry:    registry,
		store:       store,
		queue:       queue,
		events:      events,
		logger:      logger.With("component", "scheduler"),
		metrics:     metrics,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	for i := 0; i < s.cfg.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.logger.Info("scheduler started", "worker_count", s.cfg.WorkerCount)
}

// Stop cancels the worker pool's context and waits for in-flight jobs to
// return; callers that need a deadline wrap this with their own context.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// StartExecution takes a freshly created Execution — durably recorded in
// ExecutionStatusPending by the caller — marks its source nodes (those
// with no predecessors) ready, durably enqueues each one's job, and only
// then transitions the execution to ExecutionStatusRunning. A crash before
// the transition lands leaves the execution observably pending with its
// source nodes' jobs already enqueued (or, if an enqueue itself failed,
// still NodeStatusPending with satisfied predecessors) — either way,
// ResumeReadyNodes recomputes the same frontier and picks up where the
// crash left off.
func (s *Scheduler) StartExecution(wf *domain.Workflow, exec *domain.Execution) (*domain.Execution, error) {
	adj := domain.BuildAdjacency(wf)
	sources := adj.SourceNodes()

	updated, err := s.store.PatchExecution(exec.ID, func(e *domain.Execution) error {
		for _, id := range sources {
			e.NodeStatus[id] = domain.NodeStatusReady
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, id := range sources {
		if err := s.enqueueNode(wf, updated, id, exec.InitialInput); err != nil {
			unqueued := sources[i:]
			if _, perr := s.store.PatchExecution(exec.ID, func(e *domain.Execution) error {
				for _, n := range unqueued {
					e.NodeStatus[n] = domain.NodeStatusPending
				}
				return nil
			}); perr != nil {
				s.logger.Error("failed to reset unqueued source nodes", "execution_id", exec.ID, "error", perr)
			}
			return nil, err
		}
	}

	updated, err = s.store.PatchExecution(exec.ID, func(e *domain.Execution) error {
		e.Status = domain.ExecutionStatusRunning
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementWorkflowsStarted()
	s.publish(domain.Event{
		Type:        domain.EventExecutionStarted,
		ExecutionID: exec.ID,
		WorkflowID:  wf.ID,
		Timestamp:   time.Now(),
	})

	return updated, nil
}

// ResumeReadyNodes re-scans the frontier and enqueues any pending node
// whose predecessors are all complete, plus any node left NodeStatusRunning
// whose claim did not survive a crash (readyNodes alone only ever looks at
// NodeStatusPending, so a node that died mid-execution would otherwise be
// invisible to recovery forever).
func (s *Scheduler) ResumeReadyNodes(wf *domain.Workflow, exec *domain.Execution) error {
	adj := domain.BuildAdjacency(wf)

	inFlight, err := s.queue.InFlightNodeKeys()
	if err != nil {
		return err
	}

	ready := readyNodes(adj, exec)
	ready = append(ready, orphanedRunningNodes(exec, inFlight)...)
	sort.Strings(ready)

	for _, id := range ready {
		input, err := assembleInput(adj, exec, id)
		if err != nil {
			return err
		}
		if _, err := s.store.PatchExecution(exec.ID, func(e *domain.Execution) error {
			e.NodeStatus[id] = domain.NodeStatusReady
			return nil
		}); err != nil {
			return err
		}
		if err := s.enqueueNode(wf, exec, id, input); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) enqueueNode(wf *domain.Workflow, exec *domain.Execution, nodeID string, input json.RawMessage) error {
	spec := wf.Nodes[nodeID]
	config := spec.Config
	if override, ok := exec.ConfigOverrides[nodeID]; ok {
		merged, err := domain.MergeStates(spec.Config, override)
		if err != nil {
			return err
		}
		config = merged
	}
	job := domain.JobItem{
		ExecutionID: exec.ID,
		WorkflowID:  wf.ID,
		NodeID:      nodeID,
		NodeType:    spec.Type,
		Input:       input,
		Config:      config,
		Attempt:     0,
		EnqueuedAt:  time.Now(),
	}
	bytes, err := job.ToBytes()
	if err != nil {
		return domain.NewDiscoveryError("scheduler", "marshal_job", err)
	}
	if err := s.queue.Enqueue(bytes); err != nil {
		return err
	}
	s.metrics.IncrementItemsEnqueued()
	return nil
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.queue.WaitForItem(s.ctx):
			s.drain()
		case <-time.After(time.Second):
			s.drain()
		}
	}
}

func (s *Scheduler) drain() {
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		item, claimID, exists, err := s.queue.Claim()
		if err != nil {
			s.logger.Error("failed to claim job", "error", err)
			return
		}
		if !exists {
			return
		}
		s.processJob(item, claimID)
	}
}

func (s *Scheduler) processJob(itemBytes []byte, claimID string) {
	job, err := domain.JobItemFromBytes(itemBytes)
	if err != nil {
		s.logger.Error("poisoned job item, sending to dead letter", "error", err)
		_ = s.queue.SendToDeadLetter(itemBytes, "unmarshal failure: "+err.Error())
		_ = s.queue.Complete(claimID)
		return
	}

	// resolveClaim decides how the claim on this job is settled once
	// processing finishes. It starts true (complete on the happy path) and
	// flips to false the moment a durable write this job depends on fails,
	// per spec's StorePersistenceFailure guarantee: a write failure during
	// the running-mark, the result write, or the retry re-enqueue must
	// leave the job outstanding for the reaper/crash-recovery path to
	// redeliver, never silently drop it by completing the claim anyway.
	resolveClaim := true
	defer func() {
		if !resolveClaim {
			return
		}
		if err := s.queue.Complete(claimID); err != nil {
			s.logger.Error("failed to complete claim", "claim_id", claimID, "error", err)
		}
	}()

	s.metrics.IncrementItemsProcessed()

	exec, err := s.store.GetExecution(job.ExecutionID)
	if err != nil {
		s.logger.Error("execution not found for job", "execution_id", job.ExecutionID, "error", err)
		return
	}
	if exec.Status == domain.ExecutionStatusCancelled {
		s.logger.Debug("discarding job for cancelled execution", "execution_id", job.ExecutionID, "node_id", job.NodeID)
		return
	}
	if exec.Status == domain.ExecutionStatusPaused {
		if err := s.queue.Release(claimID, s.baseBackoff); err != nil {
			s.logger.Error("failed to re-release job for paused execution", "error", err)
		}
		resolveClaim = false
		return
	}

	node, err := s.registry.GetNode(job.NodeType)
	if err != nil {
		resolveClaim = s.failNodeTerminal(job, err)
		return
	}

	if _, err := s.store.PatchExecution(job.ExecutionID, func(e *domain.Execution) error {
		e.NodeStatus[job.NodeID] = domain.NodeStatusRunning
		return nil
	}); err != nil {
		s.logger.Error("failed to mark node running", "error", err)
		resolveClaim = false
		return
	}

	s.metrics.IncrementNodesExecuted()
	s.publish(domain.Event{
		Type:        domain.EventNodeStarted,
		ExecutionID: job.ExecutionID,
		WorkflowID:  job.WorkflowID,
		NodeID:      job.NodeID,
		Timestamp:   time.Now(),
	})

	result, execErr := s.runNode(node, job)
	if execErr != nil {
		resolveClaim = s.handleNodeError(job, exec.WorkflowID, execErr)
		return
	}
	resolveClaim = s.handleNodeResult(job, result)
}

// runNode invokes the node under the engine's configured timeout and
// recovers a panicking implementation as a terminal node error.
func (s *Scheduler) runNode(node ports.NodePort, job *domain.JobItem) (result *domain.NodeResult, err error) {
	ctx := s.ctx
	if s.cfg.DefaultNodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, s.cfg.DefaultNodeTimeout)
		defer cancel()
	}
	ctx = domain.WithWorkflowContext(ctx, &domain.WorkflowContext{
		ExecutionID: job.ExecutionID,
		WorkflowID:  job.WorkflowID,
		NodeID:      job.NodeID,
		Attempt:     job.Attempt,
		StartedAt:   time.Now(),
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				err = domain.NewPanicError(job.ExecutionID, job.NodeID, r)
			}
		}()
		result, err = node.Execute(ctx, job.Input, job.Config)
	}()

	select {
	case <-done:
		return result, err
	case <-ctx.Done():
		<-done
		if err == nil {
			err = &domain.NodeTimeoutError{NodeID: job.NodeID, Cause: ctx.Err()}
		}
		return result, err
	}
}

// handleNodeResult records a successful node result and dispatches its
// newly-ready successors. It returns whether the write durably landed —
// false means the caller must leave the job's claim outstanding rather
// than complete it, since completing would drop a result that was never
// actually persisted.
func (s *Scheduler) handleNodeResult(job *domain.JobItem, result *domain.NodeResult) bool {
	exec, err := s.store.PatchExecution(job.ExecutionID, func(e *domain.Execution) error {
		if e.Status == domain.ExecutionStatusCancelled {
			return nil
		}
		e.NodeResults[job.NodeID] = result.Output
		e.NodeStatus[job.NodeID] = domain.NodeStatusCompleted
		return nil
	})
	if err != nil {
		s.logger.Error("failed to record node result", "error", err)
		return false
	}
	if exec.Status == domain.ExecutionStatusCancelled {
		return true
	}

	s.metrics.IncrementNodesSucceeded()
	s.publish(domain.Event{
		Type:        domain.EventNodeCompleted,
		ExecutionID: job.ExecutionID,
		WorkflowID:  job.WorkflowID,
		NodeID:      job.NodeID,
		Timestamp:   time.Now(),
	})

	wf, err := s.store.GetWorkflow(job.WorkflowID)
	if err != nil {
		s.logger.Error("failed to load workflow for scheduling", "error", err)
		return true
	}
	adj := domain.BuildAdjacency(wf)

	if exec.Status != domain.ExecutionStatusPaused {
		if err := s.dispatchReady(wf, adj, exec); err != nil {
			s.logger.Error("failed to dispatch newly ready nodes", "error", err)
		}
	}
	s.evaluateTermination(wf.ID, exec.ID, adj)
	return true
}

// handleNodeError retries or terminally fails a node, returning whether the
// resulting write (the retry re-enqueue, or the terminal-failure record)
// durably landed — see handleNodeResult.
func (s *Scheduler) handleNodeError(job *domain.JobItem, workflowID string, execErr error) bool {
	terminal := domain.IsTerminal(execErr) || job.Attempt+1 >= s.maxAttempts

	if !terminal {
		job.Attempt++
		backoff := s.backoffFor(job.Attempt)
		bytes, err := job.ToBytes()
		if err != nil {
			s.logger.Error("failed to re-encode job for retry", "error", err)
			return false
		}
		if err := s.queue.EnqueueAfter(bytes, backoff); err != nil {
			s.logger.Error("failed to re-enqueue retried job", "error", err)
			return false
		}
		s.metrics.IncrementNodesRetried()
		s.publish(domain.Event{
			Type:        domain.EventNodeRetried,
			ExecutionID: job.ExecutionID,
			WorkflowID:  workflowID,
			NodeID:      job.NodeID,
			Timestamp:   time.Now(),
		})
		return true
	}

	return s.failNodeTerminal(job, execErr)
}

// failNodeTerminal records a node's terminal failure and skips its
// unreachable successors, returning whether the write durably landed.
func (s *Scheduler) failNodeTerminal(job *domain.JobItem, cause error) bool {
	wf, err := s.store.GetWorkflow(job.WorkflowID)
	if err != nil {
		s.logger.Error("failed to load workflow for terminal failure", "error", err)
		return false
	}
	adj := domain.BuildAdjacency(wf)
	unreachable := adj.TransitiveSuccessors(job.NodeID)

	updated, err := s.store.PatchExecution(job.ExecutionID, func(e *domain.Execution) error {
		if e.Status == domain.ExecutionStatusCancelled {
			return nil
		}
		if e.NodeErrors == nil {
			e.NodeErrors = make(map[string]domain.NodeErrorRecord)
		}
		prev := e.NodeErrors[job.NodeID]
		e.NodeErrors[job.NodeID] = domain.NodeErrorRecord{Message: cause.Error(), Attempts: prev.Attempts + job.Attempt + 1}
		e.NodeStatus[job.NodeID] = domain.NodeStatusFailed
		for _, id := range unreachable {
			e.NodeStatus[id] = domain.NodeStatusSkipped
		}
		return nil
	})
	if err != nil {
		s.logger.Error("failed to record terminal node failure", "error", err)
		return false
	}
	if updated.Status == domain.ExecutionStatusCancelled {
		return true
	}

	s.metrics.IncrementNodesFailed()
	s.publish(domain.Event{
		Type:        domain.EventNodeFailed,
		ExecutionID: job.ExecutionID,
		WorkflowID:  job.WorkflowID,
		NodeID:      job.NodeID,
		Timestamp:   time.Now(),
	})

	s.evaluateTermination(job.WorkflowID, job.ExecutionID, adj)
	return true
}

// dispatchReady enqueues every node whose predecessors just became
// satisfied, in ascending node id order for deterministic replay.
func (s *Scheduler) dispatchReady(wf *domain.Workflow, adj domain.Adjacency, exec *domain.Execution) error {
	ready := readyNodes(adj, exec)
	for _, id := range ready {
		input, err := assembleInput(adj, exec, id)
		if err != nil {
			return err
		}
		updated, err := s.store.PatchExecution(exec.ID, func(e *domain.Execution) error {
			e.NodeStatus[id] = domain.NodeStatusReady
			return nil
		})
		if err != nil {
			return err
		}
		exec = updated
		if err := s.enqueueNode(wf, exec, id, input); err != nil {
			return err
		}
	}
	return nil
}

// evaluateTermination applies the termination rule after every node
// transition: completed once every node has a result, failed once nothing
// is in flight or ready and at least one node errored or is unreachable.
func (s *Scheduler) evaluateTermination(workflowID, executionID string, adj domain.Adjacency) {
	exec, err := s.store.GetExecution(executionID)
	if err != nil {
		s.logger.Error("failed to load execution for termination check", "error", err)
		return
	}
	if exec.IsTerminal() {
		return
	}

	total := len(adj.Predecessors)
	if len(exec.NodeResults) == total {
		s.finish(executionID, workflowID, domain.ExecutionStatusCompleted, domain.EventExecutionCompleted, "")
		return
	}

	inFlight := false
	anyFailedOrUnreachable := false
	for _, status := range exec.NodeStatus {
		switch status {
		case domain.NodeStatusReady, domain.NodeStatusRunning:
			inFlight = true
		case domain.NodeStatusFailed, domain.NodeStatusSkipped:
			anyFailedOrUnreachable = true
		}
	}
	anyReady := len(readyNodes(adj, exec)) > 0

	if !inFlight && !anyReady && anyFailedOrUnreachable {
		s.finish(executionID, workflowID, domain.ExecutionStatusFailed, domain.EventExecutionFailed, "one or more nodes failed terminally")
	}
}

func (s *Scheduler) finish(executionID, workflowID string, status domain.ExecutionStatus, eventType domain.EventType, message string) {
	now := time.Now()
	_, err := s.store.PatchExecution(executionID, func(e *domain.Execution) error {
		e.Status = status
		e.EndedAt = &now
		if message != "" {
			e.FatalError = &message
		}
		return nil
	})
	if err != nil {
		s.logger.Error("failed to finalize execution", "error", err)
		return
	}

	switch status {
	case domain.ExecutionStatusCompleted:
		s.metrics.IncrementWorkflowsCompleted()
	case domain.ExecutionStatusFailed:
		s.metrics.IncrementWorkflowsFailed()
	}

	s.publish(domain.Event{
		Type:        eventType,
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		Timestamp:   now,
	})
	s.store.DropCache(executionID)
}

// CancelExecution marks status cancelled under the per-execution lock;
// in-flight job results observe the cancelled status and are discarded
// without emitting completed (see handleNodeResult).
func (s *Scheduler) CancelExecution(executionID string) error {
	exec, err := s.store.PatchExecution(executionID, func(e *domain.Execution) error {
		if e.IsTerminal() {
			return nil
		}
		e.Status = domain.ExecutionStatusCancelled
		now := time.Now()
		e.EndedAt = &now
		return nil
	})
	if err != nil {
		return err
	}
	if exec.Status != domain.ExecutionStatusCancelled {
		return nil
	}
	s.metrics.IncrementWorkflowsFailed()
	s.publish(domain.Event{
		Type:        domain.EventExecutionCancelled,
		ExecutionID: executionID,
		WorkflowID:  exec.WorkflowID,
		Timestamp:   time.Now(),
	})
	s.store.DropCache(executionID)
	return nil
}

func (s *Scheduler) PauseExecution(executionID string) error {
	exec, err := s.store.PatchExecution(executionID, func(e *domain.Execution) error {
		if e.Status != domain.ExecutionStatusRunning {
			return domain.NewValidationError("status", "execution is not running")
		}
		e.Status = domain.ExecutionStatusPaused
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.IncrementWorkflowsPaused()
	s.publish(domain.Event{Type: domain.EventExecutionPaused, ExecutionID: executionID, WorkflowID: exec.WorkflowID, Timestamp: time.Now()})
	return nil
}

func (s *Scheduler) ResumeExecution(executionID string) error {
	exec, err := s.store.PatchExecution(executionID, func(e *domain.Execution) error {
		if e.Status != domain.ExecutionStatusPaused {
			return domain.NewValidationError("status", "execution is not paused")
		}
		e.Status = domain.ExecutionStatusRunning
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.IncrementWorkflowsResumed()
	s.publish(domain.Event{Type: domain.EventExecutionResumed, ExecutionID: executionID, WorkflowID: exec.WorkflowID, Timestamp: time.Now()})

	wf, err := s.store.GetWorkflow(exec.WorkflowID)
	if err != nil {
		return err
	}
	return s.ResumeReadyNodes(wf, exec)
}

func (s *Scheduler) backoffFor(attempt int) time.Duration {
	d := s.baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > s.maxBackoff {
			return s.maxBackoff
		}
	}
	if d > s.maxBackoff {
		return s.maxBackoff
	}
	return d
}

func (s *Scheduler) publish(event domain.Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(event)
}

// readyNodes implements the readiness rule: every predecessor of a pending
// node must be in node_results, and the node itself must not already be
// resolved or in flight. Ascending node id order gives deterministic
// tie-breaking when several nodes become ready in the same pass.
func readyNodes(adj domain.Adjacency, exec *domain.Execution) []string {
	var out []string
	for id, status := range exec.NodeStatus {
		if status != domain.NodeStatusPending {
			continue
		}
		ready := true
		for _, pred := range adj.Predecessors[id] {
			if _, ok := exec.NodeResults[pred]; !ok {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// orphanedRunningNodes is the crash-recovery counterpart to readyNodes: a
// node recorded NodeStatusRunning has already had its predecessors
// satisfied, so the only question is whether a worker is still actually
// holding its job claim. If not, its process died mid-execution and it must
// be re-enqueued from scratch.
func orphanedRunningNodes(exec *domain.Execution, inFlight map[string]struct{}) []string {
	var out []string
	for id, status := range exec.NodeStatus {
		if status != domain.NodeStatusRunning {
			continue
		}
		if _, ok := inFlight[domain.NodeExecutionKey(exec.ID, id)]; ok {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// assembleInput builds a ready node's input per the input assembly rule:
// initial_input for source nodes, otherwise a {predecessor_id: result} map.
func assembleInput(adj domain.Adjacency, exec *domain.Execution, nodeID string) (json.RawMessage, error) {
	preds := adj.Predecessors[nodeID]
	if len(preds) == 0 {
		return exec.InitialInput, nil
	}
	agg := make(map[string]json.RawMessage, len(preds))
	for _, p := range preds {
		agg[p] = exec.NodeResults[p]
	}
	out, err := json.Marshal(agg)
	if err != nil {
		return nil, domain.NewDiscoveryError("scheduler", "marshal_input", err)
	}
	return out, nil
}
