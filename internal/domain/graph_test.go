package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func diamondWorkflow() *Workflow {
	return &Workflow{
		ID: "wf-diamond",
		Nodes: map[string]NodeSpec{
			"a": {NodeID: "a", Type: "noop"},
			"b": {NodeID: "b", Type: "noop"},
			"c": {NodeID: "c", Type: "noop"},
			"d": {NodeID: "d", Type: "noop"},
		},
		Edges: []Edge{
			{ID: "e1", Source: "a", Target: "b"},
			{ID: "e2", Source: "a", Target: "c"},
			{ID: "e3", Source: "b", Target: "d"},
			{ID: "e4", Source: "c", Target: "d"},
		},
	}
}

func TestBuildAdjacency_SourceNodes(t *testing.T) {
	adj := BuildAdjacency(diamondWorkflow())
	assert.Equal(t, []string{"a"}, adj.SourceNodes())
	assert.ElementsMatch(t, []string{"b", "c"}, adj.Predecessors["d"])
	assert.ElementsMatch(t, []string{"b", "c"}, adj.Successors["a"])
}

func TestAdjacency_TransitiveSuccessors(t *testing.T) {
	adj := BuildAdjacency(diamondWorkflow())
	assert.ElementsMatch(t, []string{"b", "c", "d"}, adj.TransitiveSuccessors("a"))
	assert.Empty(t, adj.TransitiveSuccessors("d"))
}

func TestValidateWorkflow_Diamond_OK(t *testing.T) {
	wf := diamondWorkflow()
	require.NoError(t, ValidateWorkflow(wf))
}

func TestValidateWorkflow_RejectsCycle(t *testing.T) {
	wf := &Workflow{
		ID: "wf-cycle",
		Nodes: map[string]NodeSpec{
			"a": {NodeID: "a", Type: "noop"},
			"b": {NodeID: "b", Type: "noop"},
		},
		Edges: []Edge{
			{ID: "e1", Source: "a", Target: "b"},
			{ID: "e2", Source: "b", Target: "a"},
		},
	}
	err := ValidateWorkflow(wf)
	require.Error(t, err)
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestValidateWorkflow_RejectsDanglingEdge(t *testing.T) {
	wf := &Workflow{
		ID:    "wf-dangling",
		Nodes: map[string]NodeSpec{"a": {NodeID: "a", Type: "noop"}},
		Edges: []Edge{{ID: "e1", Source: "a", Target: "ghost"}},
	}
	require.Error(t, ValidateWorkflow(wf))
}

func TestValidateWorkflow_RejectsMismatchedNodeKey(t *testing.T) {
	wf := &Workflow{
		ID:    "wf-mismatch",
		Nodes: map[string]NodeSpec{"a": {NodeID: "not-a", Type: "noop"}},
	}
	require.Error(t, ValidateWorkflow(wf))
}

func TestValidateWorkflow_RejectsEmptyNodes(t *testing.T) {
	wf := &Workflow{ID: "wf-empty"}
	require.Error(t, ValidateWorkflow(wf))
}

func TestValidateWorkflow_RejectsEmptyID(t *testing.T) {
	wf := &Workflow{Nodes: map[string]NodeSpec{"a": {NodeID: "a", Type: "noop"}}}
	require.Error(t, ValidateWorkflow(wf))
}

func TestValidateWorkflow_SingleNodeNoEdges(t *testing.T) {
	wf := &Workflow{ID: "wf-single", Nodes: map[string]NodeSpec{"a": {NodeID: "a", Type: "noop"}}}
	require.NoError(t, ValidateWorkflow(wf))
}

func TestValidateWorkflow_SelfLoopIsACycle(t *testing.T) {
	wf := &Workflow{
		ID:    "wf-self",
		Nodes: map[string]NodeSpec{"a": {NodeID: "a", Type: "noop"}},
		Edges: []Edge{{ID: "e1", Source: "a", Target: "a"}},
	}
	require.Error(t, ValidateWorkflow(wf))
}
