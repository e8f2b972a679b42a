package task

// Artifacts is the artifact view of one task: the values it set itself plus
// the ones it inherited from its parent.
type Artifacts interface {
	// Get returns the value of name. ok is false when the artifact is not
	// visible to the task.
	Get(name string) (value any, ok bool, err error)
	Set(name string, value any) error
	Has(name string) bool
	// Fingerprints maps every visible artifact to the fingerprint of its
	// stored content.
	Fingerprints() map[string]string
	// Passdown makes the named artifacts of src visible on this view. The
	// stored content is shared, not copied.
	Passdown(src Artifacts, names ...string) error
}

// Branch is one incoming branch of a join task.
type Branch struct {
	Step      string
	TaskID    string
	Artifacts Artifacts
}
