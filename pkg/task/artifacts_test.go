package task

import (
	"fmt"
	"testing"

	"github.com/celsiustx/metaflow/pkg/graph"
	"github.com/stretchr/testify/require"
)

// memArtifacts is an in-memory Artifacts keyed by a printed fingerprint.
type memArtifacts struct {
	values map[string]any
	fps    map[string]string
}

func newMem(kv ...any) *memArtifacts {
	m := &memArtifacts{values: map[string]any{}, fps: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		_ = m.Set(kv[i].(string), kv[i+1])
	}
	return m
}

func (m *memArtifacts) Get(name string) (any, bool, error) {
	v, ok := m.values[name]
	return v, ok, nil
}

func (m *memArtifacts) Set(name string, value any) error {
	m.values[name] = value
	m.fps[name] = fmt.Sprintf("%T:%v", value, value)
	return nil
}

func (m *memArtifacts) Has(name string) bool {
	_, ok := m.values[name]
	return ok
}

func (m *memArtifacts) Fingerprints() map[string]string {
	out := make(map[string]string, len(m.fps))
	for k, v := range m.fps {
		out[k] = v
	}
	return out
}

func (m *memArtifacts) Passdown(src Artifacts, names ...string) error {
	s := src.(*memArtifacts)
	for _, n := range names {
		m.values[n] = s.values[n]
		m.fps[n] = s.fps[n]
	}
	return nil
}

func mustGraph(t *testing.T, decls ...graph.Declaration) *graph.Graph {
	t.Helper()
	g, err := graph.Build("TestFlow", decls)
	require.NoError(t, err)
	return g
}

func mustContext(t *testing.T, g *graph.Graph, step string, arts Artifacts, stack ...Frame) *Context {
	t.Helper()
	c, err := New(g, step, Options{TaskID: "1", Artifacts: arts, Stack: stack})
	require.NoError(t, err)
	return c
}

func TestNew_RejectsUnknownStep(t *testing.T) {
	g := mustGraph(t, graph.Step("a"))

	_, err := New(g, "nope", Options{Artifacts: newMem()})
	require.Error(t, err)

	_, err = New(g, "a", Options{})
	require.Error(t, err, "an artifact view is required")
}

func TestContext_GetAndValue(t *testing.T) {
	g := mustGraph(t, graph.Step("a"))
	c := mustContext(t, g, "a", newMem("x", 5))

	v, err := Value[int](c, "x")
	require.NoError(t, err)
	require.Equal(t, 5, v)

	_, err = Value[string](c, "x")
	require.Error(t, err)

	_, err = c.Get("missing")
	require.Error(t, err)

	require.NoError(t, c.Set("y", "hi"))
	require.True(t, c.Artifacts().Has("y"))
	require.Equal(t, "a/1", c.Pathspec())
}
