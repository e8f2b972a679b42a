// Package task holds the per-task runtime state of a flow: the declared
// transition, the foreach stack and artifact merging at joins.
//
// A step function receives a *Context. It reads and writes artifacts,
// declares where the flow goes next, and at a join merges what its branches
// produced:
//
//	func join(ctx context.Context, t *task.Context) error {
//	    if _, err := t.MergeArtifacts(t.Inputs(), task.MergeOptions{}); err != nil {
//	        return err
//	    }
//	    return t.Next("end")
//	}
//
// Validate is the pure form of the transition check used by Context.Next.
package task
