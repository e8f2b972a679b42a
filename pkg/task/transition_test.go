package task

import (
	"iter"
	"testing"

	"github.com/celsiustx/metaflow/pkg/api"
	"github.com/celsiustx/metaflow/pkg/graph"
	"github.com/stretchr/testify/require"
)

func foreachGraph(t *testing.T) *graph.Graph {
	return mustGraph(t,
		graph.Step("a"),
		graph.Foreach("b", "xs", ""),
		graph.Join("c"),
	)
}

func requireInvalid(t *testing.T, err error, step string) {
	t.Helper()
	require.ErrorIs(t, err, api.ErrInvalidTransition)
	got, ok := api.IsInvalidTransition(err)
	require.True(t, ok)
	require.Equal(t, step, got)
}

func TestNext_DeclaredOnlyOnce(t *testing.T) {
	g := mustGraph(t, graph.Step("a"), graph.Step("b"))
	c := mustContext(t, g, "a", newMem())

	require.Nil(t, c.Transition())
	require.NoError(t, c.Next("b"))
	requireInvalid(t, c.Next("b"), "a")

	tr := c.Transition()
	require.NotNil(t, tr)
	require.Equal(t, []string{"b"}, tr.Steps)
	require.Empty(t, tr.Foreach)
}

func TestNext_RejectsUnknownAndEmptySteps(t *testing.T) {
	g := mustGraph(t, graph.Step("a"), graph.Step("b"))

	err := mustContext(t, g, "a", newMem()).Next("b", "zzz")
	requireInvalid(t, err, "a")
	require.Contains(t, err.Error(), "*zzz*")

	err = mustContext(t, g, "a", newMem()).Next("b", "")
	requireInvalid(t, err, "a")
	require.Contains(t, err.Error(), "argument 2")

	c := mustContext(t, g, "a", newMem())
	requireInvalid(t, c.Next(), "a")
	require.Nil(t, c.Transition(), "a rejected call leaves no transition behind")
}

func TestNextForeach_Bounded(t *testing.T) {
	g := foreachGraph(t)
	c := mustContext(t, g, "a", newMem("xs", []int{10, 20, 30}))

	require.NoError(t, c.NextForeach("xs", "b"))
	tr := c.Transition()
	require.Equal(t, Transition{Steps: []string{"b"}, Foreach: "xs", NumSplits: 3}, *tr)
}

func TestNextForeach_Rejections(t *testing.T) {
	g := foreachGraph(t)
	cases := []struct {
		name string
		arts *memArtifacts
		req  TransitionRequest
	}{
		{"empty list", newMem("xs", []int{}), TransitionRequest{Steps: []string{"b"}, Foreach: "xs"}},
		{"empty string", newMem("xs", ""), TransitionRequest{Steps: []string{"b"}, Foreach: "xs"}},
		{"missing variable", newMem(), TransitionRequest{Steps: []string{"b"}, Foreach: "xs"}},
		{"not iterable", newMem("xs", 42), TransitionRequest{Steps: []string{"b"}, Foreach: "xs"}},
		{"two targets", newMem("xs", []int{1}), TransitionRequest{Steps: []string{"b", "c"}, Foreach: "xs"}},
		{"no target", newMem("xs", []int{1}), TransitionRequest{Foreach: "xs"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := mustContext(t, g, "a", tc.arts)
			requireInvalid(t, c.Declare(tc.req), "a")
			require.Nil(t, c.Transition())
		})
	}
}

func TestNextForeach_AcceptsIterables(t *testing.T) {
	g := foreachGraph(t)
	seq := iter.Seq[any](func(yield func(any) bool) {
		for _, v := range []any{"x", "y"} {
			if !yield(v) {
				return
			}
		}
	})
	cases := []struct {
		name  string
		value any
		want  int
	}{
		{"slice", []string{"a", "b"}, 2},
		{"array", [3]int{1, 2, 3}, 3},
		{"string", "héllo", 5},
		{"sequence", rangeSeq(4), 4},
		{"iter.Seq", seq, 2},
		{"map", map[string]int{"a": 1, "b": 2, "c": 3}, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Validate(g, State{Step: "a", Artifacts: newMem("xs", tc.value)},
				TransitionRequest{Steps: []string{"b"}, Foreach: "xs"})
			require.NoError(t, err)
			require.Equal(t, tc.want, res.Transition.NumSplits)
			require.False(t, res.Transition.Unbounded)
		})
	}
}

type unbounded struct{}

func (unbounded) Splits() int  { return 2 }
func (unbounded) At(i int) any { return i * 10 }

func TestNextForeach_UnboundedNeedsSingleJoin(t *testing.T) {
	ok := foreachGraph(t)
	c := mustContext(t, ok, "a", newMem("xs", unbounded{}))
	require.NoError(t, c.NextForeach("xs", "b"))
	require.True(t, c.Transition().Unbounded)
	require.Zero(t, c.Transition().NumSplits)

	bad := mustGraph(t,
		graph.Step("a"),
		graph.Foreach("b", "xs", ""),
		graph.Step("inner"),
		graph.Join("c"),
	)
	c = mustContext(t, bad, "a", newMem("xs", unbounded{}))
	requireInvalid(t, c.NextForeach("xs", "b"), "a")
}

func TestNextParallel(t *testing.T) {
	g := foreachGraph(t)
	arts := newMem()
	c := mustContext(t, g, "a", arts)

	require.NoError(t, c.NextParallel(3, "b"))
	tr := c.Transition()
	require.Equal(t, ParallelField, tr.Foreach)
	require.True(t, tr.Unbounded)

	v, found, err := arts.Get(ParallelField)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, ParallelInput{Width: 3}, v)

	c = mustContext(t, g, "a", newMem())
	requireInvalid(t, c.Declare(TransitionRequest{Steps: []string{"b", "c"}, ParallelWidth: 2}), "a")
}

func TestValidate_IsPure(t *testing.T) {
	g := foreachGraph(t)
	arts := newMem()
	st := State{Step: "a", Artifacts: arts}

	res, err := Validate(g, st, TransitionRequest{Steps: []string{"b"}, ParallelWidth: 2})
	require.NoError(t, err)
	require.Equal(t, ParallelField, res.Artifact)
	require.False(t, arts.Has(ParallelField), "Validate leaves storing the parallel input to the caller")

	_, err = Validate(g, State{Step: "a", Declared: true}, TransitionRequest{Steps: []string{"b"}})
	requireInvalid(t, err, "a")
}
