// Package graph builds and describes flow graphs.
//
// A flow is declared as an ordered list of steps. Each Declaration names a
// step and, optionally, how it attaches to what came before:
//
//   - Step(name) follows the preceding declaration.
//   - StepAfter(name, prev) follows prev; several steps after the same
//     predecessor turn it into a split.
//   - Foreach(name, field, from) runs name once per element of field on from.
//   - Join(name, steps...) closes the innermost split or foreach.
//
// Build synthesizes the start and end steps when they are not declared,
// assigns every node its type, and computes split parents. The resulting
// Graph is immutable.
//
//	g, err := graph.Build("branching", []graph.Declaration{
//	    graph.Step("one"),
//	    graph.StepAfter("aaa", "one"),
//	    graph.StepAfter("bbb", "one"),
//	    graph.Join("join", "aaa", "bbb"),
//	})
package graph
