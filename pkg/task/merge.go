package task

import (
	"fmt"
	"sort"

	"github.com/celsiustx/metaflow/pkg/api"
	"github.com/celsiustx/metaflow/pkg/graph"
)

// MergeOptions filters the artifacts considered by MergeArtifacts. At most
// one of the two lists may be set.
type MergeOptions struct {
	Exclude []string
	Include []string
}

type mergeCandidate struct {
	branch      int
	fingerprint string
}

// MergeArtifacts copies onto the join task every artifact the incoming
// branches agree on and the task has not set itself. It returns the merged
// names, sorted.
//
// If any artifact differs between branches, nothing is merged and a
// *api.MergeConflictError lists the offending names.
func (c *Context) MergeArtifacts(inputs []Branch, opts MergeOptions) ([]string, error) {
	step := c.node.Name()
	if c.node.Type() != graph.TypeJoin {
		return nil, fmt.Errorf("%w and step *%s* is not a join", api.ErrNotJoin, step)
	}
	if len(opts.Exclude) > 0 && len(opts.Include) > 0 {
		return nil, api.ErrMergeOptions
	}

	include := toSet(opts.Include)
	exclude := toSet(opts.Exclude)

	toMerge := make(map[string]mergeCandidate)
	var unresolved []string
	conflicted := make(map[string]bool)

	for bi, in := range inputs {
		fps := in.Artifacts.Fingerprints()
		names := make([]string, 0, len(fps))
		for name := range fps {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			if len(include) > 0 {
				if !include[name] {
					continue
				}
			} else if exclude[name] {
				continue
			}
			if c.artifacts.Has(name) {
				continue
			}
			sha := fps[name]
			prev, seen := toMerge[name]
			if !seen {
				toMerge[name] = mergeCandidate{branch: bi, fingerprint: sha}
				continue
			}
			if prev.fingerprint != sha && !conflicted[name] {
				conflicted[name] = true
				unresolved = append(unresolved, name)
			}
		}
	}

	var missing []string
	for _, name := range opts.Include {
		if _, ok := toMerge[name]; !ok && !c.artifacts.Has(name) {
			missing = append(missing, name)
		}
	}

	if len(unresolved) > 0 {
		sort.Strings(unresolved)
		return nil, &api.MergeConflictError{Step: step, Artifacts: unresolved}
	}
	if len(missing) > 0 {
		return nil, &api.MergeMissingError{Step: step, Include: opts.Include, Artifacts: missing}
	}

	applied := make([]string, 0, len(toMerge))
	for name := range toMerge {
		applied = append(applied, name)
	}
	sort.Strings(applied)

	for _, name := range applied {
		cand := toMerge[name]
		if err := c.artifacts.Passdown(inputs[cand.branch].Artifacts, name); err != nil {
			return nil, fmt.Errorf("merge %s into %s: %w", name, c.Pathspec(), err)
		}
	}
	return applied, nil
}

func toSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	s := make(map[string]bool, len(names))
	for _, n := range names {
		s[n] = true
	}
	return s
}
