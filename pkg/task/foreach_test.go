package task

import (
	"iter"
	"testing"

	"github.com/celsiustx/metaflow/pkg/graph"
	"github.com/stretchr/testify/require"
)

type rangeSeq int

func (r rangeSeq) Len() int     { return int(r) }
func (r rangeSeq) At(i int) any { return i * i }

func TestForeach_IndexAndInput(t *testing.T) {
	g := foreachGraph(t)
	xs := []int{10, 20, 30}

	for i, want := range xs {
		c := mustContext(t, g, "b", newMem("xs", xs), Frame{Index: i, NumSplits: 3, Var: "xs"})
		require.Equal(t, i, c.Index())
		require.Equal(t, want, c.Input())
		require.Equal(t, []StackEntry{{Index: i, NumSplits: 3, Value: want}}, c.ForeachStack())
	}
}

func TestForeach_OutsideForeach(t *testing.T) {
	g := foreachGraph(t)
	c := mustContext(t, g, "a", newMem())

	require.Equal(t, -1, c.Index())
	require.Nil(t, c.Input())
	require.Empty(t, c.ForeachStack())
	require.Nil(t, c.ResolveInput(0))
}

func TestForeach_NestedRowMajor(t *testing.T) {
	g := mustGraph(t,
		graph.Step("a"),
		graph.Foreach("b", "letters", ""),
		graph.Step("mid"),
		graph.Foreach("leaf", "digits", ""),
		graph.Join("join_inner"),
		graph.Join("join_outer"),
	)
	letters := []string{"a", "b"}
	digits := []string{"x", "y", "z"}

	var got [][]StackEntry
	for i := range letters {
		outer := Push(nil, Frame{Index: i, NumSplits: 2, Var: "letters"})
		for j := range digits {
			stack := Push(outer, Frame{Index: j, NumSplits: 3, Var: "digits"})
			c := mustContext(t, g, "leaf", newMem("letters", letters, "digits", digits), stack...)
			got = append(got, c.ForeachStack())
		}
		require.Len(t, outer, 1, "pushing an inner frame leaves the outer stack untouched")
	}

	require.Len(t, got, 6)
	require.Equal(t, []StackEntry{{0, 2, "a"}, {0, 3, "x"}}, got[0])
	require.Equal(t, []StackEntry{{0, 2, "a"}, {2, 3, "z"}}, got[2])
	require.Equal(t, []StackEntry{{1, 2, "b"}, {0, 3, "x"}}, got[3])
	require.Equal(t, []StackEntry{{1, 2, "b"}, {2, 3, "z"}}, got[5])
}

func TestForeach_MissingVariableResolvesToNil(t *testing.T) {
	g := foreachGraph(t)
	// A join below an inner foreach does not see the outer variable.
	c := mustContext(t, g, "c", newMem(), Frame{Index: 1, NumSplits: 2, Var: "xs"})

	require.Nil(t, c.Input())
	require.Equal(t, 1, c.Index())
	require.Equal(t, []StackEntry{{Index: 1, NumSplits: 2, Value: nil}}, c.ForeachStack())
}

func TestForeach_LazySequenceIsWalkedOnce(t *testing.T) {
	g := foreachGraph(t)
	pulls := 0
	seq := iter.Seq[any](func(yield func(any) bool) {
		for _, v := range []any{"p", "q", "r"} {
			pulls++
			if !yield(v) {
				return
			}
		}
	})
	arts := newMem("xs", seq)
	c := mustContext(t, g, "b", arts, Frame{Index: 1, NumSplits: 3, Var: "xs"})

	require.Equal(t, "q", c.Input())
	require.Equal(t, 2, pulls, "iteration stops at the requested element")

	require.NoError(t, arts.Set("xs", []string{"changed", "changed"}))
	require.Equal(t, "q", c.Input(), "resolved inputs are cached per task")
	require.Equal(t, 2, pulls)
}

func TestForeach_ParallelInput(t *testing.T) {
	g := foreachGraph(t)
	c := mustContext(t, g, "b", newMem(ParallelField, ParallelInput{Width: 4}),
		Frame{Index: 2, NumSplits: 4, Var: ParallelField})

	require.Equal(t, 2, c.Input())
}

func TestForeach_SequenceAndString(t *testing.T) {
	g := foreachGraph(t)

	c := mustContext(t, g, "b", newMem("xs", rangeSeq(5)), Frame{Index: 3, NumSplits: 5, Var: "xs"})
	require.Equal(t, 9, c.Input())

	c = mustContext(t, g, "b", newMem("xs", "héllo"), Frame{Index: 1, NumSplits: 5, Var: "xs"})
	require.Equal(t, "é", c.Input())

	c = mustContext(t, g, "b", newMem("xs", []int{1}), Frame{Index: 7, NumSplits: 1, Var: "xs"})
	require.Nil(t, c.Input(), "an out-of-range index resolves to nil")
}

func TestPushPop(t *testing.T) {
	base := []Frame{{Index: 0, NumSplits: 2, Var: "a"}}
	pushed := Push(base, Frame{Index: 1, NumSplits: 3, Var: "b"})
	pushed[0].Index = 9

	require.Equal(t, 0, base[0].Index)
	require.Len(t, Pop(pushed), 1)
	require.Nil(t, Pop(nil))
}

func TestForeach_MapIteratesSortedKeys(t *testing.T) {
	g := foreachGraph(t)
	byName := map[string]int{"carol": 3, "alice": 1, "bob": 2}
	for i, want := range []string{"alice", "bob", "carol"} {
		c := mustContext(t, g, "b", newMem("xs", byName), Frame{Index: i, NumSplits: 3, Var: "xs"})
		require.Equal(t, want, c.Input())
	}

	byID := map[int]string{10: "x", 9: "y", 100: "z"}
	c := mustContext(t, g, "b", newMem("xs", byID), Frame{Index: 1, NumSplits: 3, Var: "xs"})
	require.Equal(t, 10, c.Input(), "integer keys sort numerically")
}
