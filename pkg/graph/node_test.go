package graph

import (
	"testing"

	"github.com/celsiustx/metaflow/pkg/api"
	"github.com/stretchr/testify/require"
)

func TestNode_AssignTypeOnce(t *testing.T) {
	n := newNode("a", 1)

	require.NoError(t, n.AssignType(TypeJoin))
	require.NoError(t, n.AssignType(TypeJoin), "re-assigning the same type is allowed")

	err := n.AssignType(TypeLinear)
	require.ErrorIs(t, err, api.ErrStructuralConflict)
	require.Equal(t, TypeJoin, n.Type())
}

func TestNode_AdjacencySemantics(t *testing.T) {
	n := newNode("a", 1)

	n.AddSuccessor("c")
	n.AddSuccessor("b")
	n.AddSuccessor("c")
	require.Equal(t, []string{"c", "b"}, n.Out(), "successors keep insertion order without duplicates")

	n.AddPredecessor("y")
	n.AddPredecessor("x")
	n.AddPredecessor("y")
	require.Equal(t, []string{"x", "y"}, n.In())
	require.True(t, n.HasPredecessor("x"))
	require.False(t, n.HasPredecessor("z"))
}

func TestNode_OutReturnsCopy(t *testing.T) {
	n := newNode("a", 1)
	n.AddSuccessor("b")

	out := n.Out()
	out[0] = "mutated"
	require.Equal(t, []string{"b"}, n.Out())
}
