package ports

import (
	"context"

	json "github.com/goccy/go-json"

	"github.com/wireflow-run/wireflow/internal/domain"
)

// NodePort is the adapted, uniform shape every registered node implementation
// is reduced to, whether it was registered directly or adapted by reflection
// from a typed struct (see internal/adapters/registry/wrapper.go).
type NodePort interface {
	GetName() string
	Execute(ctx context.Context, input json.RawMessage, config json.RawMessage) (*domain.NodeResult, error)
}

// NodeRegistrationError reports why RegisterNode rejected a node value.
type NodeRegistrationError struct {
	NodeName string
	Reason   string
}

func (e *NodeRegistrationError) Error() string {
	return "node registration failed for '" + e.NodeName + "': " + e.Reason
}

// NodeRegistryPort is the Node Registry component's contract: register,
// look up, and enumerate node type implementations by name.
type NodeRegistryPort interface {
	RegisterNode(node interface{}) error
	GetNode(nodeType string) (NodePort, error)
	ListNodes() []string
	HasNode(nodeType string) bool
	UnregisterNode(nodeType string) error
}
