// Package statestore implements the State Store component: durable
// workflow definitions and execution state, with a read-through cache and
// per-execution locking around every mutation.
package statestore

import (
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/wireflow-run/wireflow/internal/domain"
	"github.com/wireflow-run/wireflow/internal/ports"
)

// cacheEntry pairs a cached execution with the time it was cached, so
// getCache can evict it once it outlives cacheTTL rather than serving
// arbitrarily stale in-memory state.
type cacheEntry struct {
	exec     *domain.Execution
	cachedAt time.Time
}

// Store is grounded on the teacher's AppStorage: same badger-backed
// StoragePort dependency, same read/decode-on-demand style, but writes go
// straight to the transaction instead of through raft consensus, and
// mutation of an execution is always funneled through PatchExecution so
// callers never race on partial updates.
type Store struct {
	storage  ports.StoragePort
	logger   *slog.Logger
	cacheTTL time.Duration

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	cacheMu sync.RWMutex
	cache   map[string]*cacheEntry
}

// New builds a Store. cacheTTL bounds how long a PatchExecution/CreateExecution
// result is served from memory before the next read falls through to
// durable storage; zero disables expiry (entries live until DropCache).
func New(storage ports.StoragePort, cacheTTL time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		storage:  storage,
		logger:   logger.With("component", "state-store"),
		cacheTTL: cacheTTL,
		locks:    make(map[string]*sync.Mutex),
		cache:    make(map[string]*cacheEntry),
	}
}

func (s *Store) lockFor(executionID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[executionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[executionID] = l
	}
	return l
}

func (s *Store) CreateWorkflow(wf domain.Workflow) (*domain.Workflow, error) {
	if wf.ID == "" {
		return nil, domain.NewValidationError("id", "cannot be empty")
	}
	if len(wf.Nodes) == 0 {
		return nil, domain.ErrInvalidWorkflow
	}
	data, err := json.Marshal(wf)
	if err != nil {
		return nil, domain.NewDiscoveryError("state-store", "marshal_workflow", err)
	}
	if err := s.storage.Put(domain.WorkflowKey(wf.ID), data); err != nil {
		return nil, &domain.StorePersistenceError{ExecutionID: wf.ID, Cause: err}
	}
	return &wf, nil
}

func (s *Store) GetWorkflow(id string) (*domain.Workflow, error) {
	data, exists, err := s.storage.Get(domain.WorkflowKey(id))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrWorkflowNotFound
	}
	var wf domain.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, domain.NewDiscoveryError("state-store", "unmarshal_workflow", err)
	}
	return &wf, nil
}

func (s *Store) CreateExecution(exec domain.Execution) (*domain.Execution, error) {
	if err := s.persist(&exec); err != nil {
		return nil, err
	}
	s.setCache(&exec)
	return exec.Clone(), nil
}

func (s *Store) GetExecution(id string) (*domain.Execution, error) {
	if cached, ok := s.getCache(id); ok {
		return cached.Clone(), nil
	}

	exec, err := s.load(id)
	if err != nil {
		return nil, err
	}
	s.setCache(exec)
	return exec.Clone(), nil
}

// PatchExecution is the State Store's sole mutation entry point: it loads
// the current execution under that execution's lock, hands the caller a
// mutable clone via fn, and persists the result atomically. No caller
// outside this function may write an execution directly.
func (s *Store) PatchExecution(id string, fn func(exec *domain.Execution) error) (*domain.Execution, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	exec, err := s.load(id)
	if err != nil {
		return nil, err
	}

	if err := fn(exec); err != nil {
		return nil, err
	}
	exec.Version++

	if err := s.persist(exec); err != nil {
		return nil, err
	}
	s.setCache(exec)
	return exec.Clone(), nil
}

func (s *Store) load(id string) (*domain.Execution, error) {
	if cached, ok := s.getCache(id); ok {
		return cached.Clone(), nil
	}

	data, exists, err := s.storage.Get(domain.ExecutionKey(id))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrExecutionNotFound
	}
	var exec domain.Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, domain.NewDiscoveryError("state-store", "unmarshal_execution", err)
	}
	return &exec, nil
}

func (s *Store) persist(exec *domain.Execution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return domain.NewDiscoveryError("state-store", "marshal_execution", err)
	}
	if err := s.storage.Put(domain.ExecutionKey(exec.ID), data); err != nil {
		return &domain.StorePersistenceError{ExecutionID: exec.ID, Cause: err}
	}
	return nil
}

func (s *Store) getCache(id string) (*domain.Execution, bool) {
	s.cacheMu.RLock()
	entry, ok := s.cache[id]
	s.cacheMu.RUnlock()
	if !ok {
		return nil, false
	}
	if s.cacheTTL > 0 && time.Since(entry.cachedAt) > s.cacheTTL {
		s.cacheMu.Lock()
		if stale, ok := s.cache[id]; ok && stale == entry {
			delete(s.cache, id)
		}
		s.cacheMu.Unlock()
		return nil, false
	}
	return entry.exec, true
}

func (s *Store) setCache(exec *domain.Execution) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache[exec.ID] = &cacheEntry{exec: exec.Clone(), cachedAt: time.Now()}
}

// DropCache evicts a terminal execution from the in-memory cache; the
// scheduler calls this once an execution reaches a terminal status so long
// running processes don't accumulate unbounded cache entries.
func (s *Store) DropCache(id string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.cache, id)

	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	delete(s.locks, id)
}
