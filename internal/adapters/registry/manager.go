// Package registry implements the Node Registry component: a factory of
// typed node implementations keyed by type name, adapting arbitrary user
// structs onto ports.NodePort via reflection when they don't already
// implement it directly.
package registry

import (
	"log/slog"
	"sync"

	"github.com/wireflow-run/wireflow/internal/domain"
	"github.com/wireflow-run/wireflow/internal/ports"
)

type Manager struct {
	mu     sync.RWMutex
	nodes  map[string]ports.NodePort
	logger *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		nodes:  make(map[string]ports.NodePort),
		logger: logger.With("component", "node-registry"),
	}
}

func (r *Manager) RegisterNode(node interface{}) error {
	if node == nil {
		return &ports.NodeRegistrationError{NodeName: "<nil>", Reason: "node cannot be nil"}
	}

	nodePort, ok := node.(ports.NodePort)
	if !ok {
		wrapped, err := NewNodeWrapper(node)
		if err != nil {
			return &ports.NodeRegistrationError{NodeName: "<unknown>", Reason: err.Error()}
		}
		nodePort = wrapped
	}

	name := nodePort.GetName()
	if name == "" {
		return &ports.NodeRegistrationError{NodeName: "", Reason: "node type name cannot be empty"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[name]; exists {
		return &ports.NodeRegistrationError{NodeName: name, Reason: "node type already registered"}
	}

	r.nodes[name] = nodePort
	r.logger.Debug("node type registered", "type", name, "total", len(r.nodes))
	return nil
}

func (r *Manager) GetNode(nodeType string) (ports.NodePort, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	node, exists := r.nodes[nodeType]
	if !exists {
		return nil, domain.ErrUnknownNodeType
	}
	return node, nil
}

func (r *Manager) ListNodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.nodes))
	for name := range r.nodes {
		names = append(names, name)
	}
	return names
}

func (r *Manager) HasNode(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.nodes[nodeType]
	return exists
}

func (r *Manager) UnregisterNode(nodeType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[nodeType]; !exists {
		return domain.ErrUnknownNodeType
	}
	delete(r.nodes, nodeType)
	return nil
}

var _ ports.NodeRegistryPort = (*Manager)(nil)
