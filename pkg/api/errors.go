package api

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStructuralConflict is returned when a set of step declarations cannot
	// be turned into a well-formed graph. It is fatal to flow loading.
	ErrStructuralConflict = errors.New("structural conflict")

	// ErrInvalidTransition is returned when a task declares an illegal
	// transition. It is fatal to that task.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrMergeConflict is returned when branches entering a join carry
	// different values for the same artifact.
	ErrMergeConflict = errors.New("merge conflict")

	// ErrMergeMissing is returned when an artifact explicitly requested for
	// merging is present on no branch.
	ErrMergeMissing = errors.New("merge missing")

	// ErrNotJoin is returned when artifacts are merged outside a join step.
	ErrNotJoin = errors.New("merge_artifacts can only be called in a join")

	// ErrMergeOptions is returned when both Exclude and Include are given.
	ErrMergeOptions = errors.New("exclude and include are mutually exclusive in merge_artifacts")
)

// StructuralConflictError describes a graph-build failure.
type StructuralConflictError struct {
	Step string
	Msg  string
}

func (e *StructuralConflictError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("%s: %s", ErrStructuralConflict, e.Msg)
	}
	return fmt.Sprintf("%s: step %q: %s", ErrStructuralConflict, e.Step, e.Msg)
}

func (e *StructuralConflictError) Unwrap() error { return ErrStructuralConflict }

// NewStructuralConflict formats a StructuralConflictError for step.
func NewStructuralConflict(step, format string, args ...any) error {
	return &StructuralConflictError{Step: step, Msg: fmt.Sprintf(format, args...)}
}

// InvalidTransitionError describes a rejected next-step declaration.
type InvalidTransitionError struct {
	Step string
	Msg  string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s in step *%s*: %s", ErrInvalidTransition, e.Step, e.Msg)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// NewInvalidTransition formats an InvalidTransitionError for step.
func NewInvalidTransition(step, format string, args ...any) error {
	return &InvalidTransitionError{Step: step, Msg: fmt.Sprintf(format, args...)}
}

// MergeConflictError lists artifacts that could not be merged because
// branches disagree on their value. No artifact is applied when it is returned.
type MergeConflictError struct {
	Step      string
	Artifacts []string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("step *%s* cannot merge the following artifacts due to them having conflicting values: [%s]; "+
		"set them explicitly before calling merge_artifacts",
		e.Step, strings.Join(e.Artifacts, ", "))
}

func (e *MergeConflictError) Unwrap() error { return ErrMergeConflict }

// MergeMissingError lists included artifacts that no branch provides.
type MergeMissingError struct {
	Step      string
	Include   []string
	Artifacts []string
}

func (e *MergeMissingError) Error() string {
	return fmt.Sprintf("step *%s* specifies that [%s] should be merged but [%s] are not present",
		e.Step, strings.Join(e.Include, ", "), strings.Join(e.Artifacts, ", "))
}

func (e *MergeMissingError) Unwrap() error { return ErrMergeMissing }

// IsMergeConflict returns the conflicting artifact names if err is a
// MergeConflictError.
func IsMergeConflict(err error) ([]string, bool) {
	var mc *MergeConflictError
	if errors.As(err, &mc) {
		return mc.Artifacts, true
	}
	return nil, false
}

// IsMergeMissing returns the missing artifact names if err is a
// MergeMissingError.
func IsMergeMissing(err error) ([]string, bool) {
	var mm *MergeMissingError
	if errors.As(err, &mm) {
		return mm.Artifacts, true
	}
	return nil, false
}

// IsInvalidTransition returns the offending step if err is an
// InvalidTransitionError.
func IsInvalidTransition(err error) (string, bool) {
	var it *InvalidTransitionError
	if errors.As(err, &it) {
		return it.Step, true
	}
	return "", false
}

// ErrUnknownArtifact is returned when a task reads an artifact that is not
// visible to it.
var ErrUnknownArtifact = errors.New("unknown artifact")
