package task

// Frame is one level of the foreach stack.
type Frame struct {
	// Index is the position of this task among its siblings.
	Index int
	// NumSplits is the number of siblings. It is 0 for unbounded sources
	// until the fan-out resolves it.
	NumSplits int
	// Var is the artifact the level iterates over.
	Var string
}

// StackEntry is a resolved Frame.
type StackEntry struct {
	Index     int
	NumSplits int
	Value     any
}

// Push returns a new stack with f on top. stack is left untouched.
func Push(stack []Frame, f Frame) []Frame {
	out := make([]Frame, len(stack), len(stack)+1)
	copy(out, stack)
	return append(out, f)
}

// Pop returns a new stack without its top frame.
func Pop(stack []Frame) []Frame {
	if len(stack) == 0 {
		return nil
	}
	out := make([]Frame, len(stack)-1)
	copy(out, stack)
	return out
}

// ResolveInput returns the element of frame i's variable that this task
// iterates over. A variable the task cannot see resolves to nil.
func (c *Context) ResolveInput(i int) any {
	if i < 0 || i >= len(c.stack) {
		return nil
	}
	if v, ok := c.cache[i]; ok {
		return v
	}
	frame := c.stack[i]
	var value any
	if v, ok, err := c.artifacts.Get(frame.Var); err == nil && ok {
		value, _ = elementAt(v, frame.Index)
	}
	c.cache[i] = value
	return value
}

// Index returns the task's position in the innermost foreach, or -1 when
// the task does not run inside one.
func (c *Context) Index() int {
	if len(c.stack) == 0 {
		return -1
	}
	return c.stack[len(c.stack)-1].Index
}

// Input returns the value of the innermost foreach for this task.
func (c *Context) Input() any {
	if len(c.stack) == 0 {
		return nil
	}
	return c.ResolveInput(len(c.stack) - 1)
}

// ForeachStack resolves every frame of the stack, outermost first.
func (c *Context) ForeachStack() []StackEntry {
	out := make([]StackEntry, len(c.stack))
	for i, f := range c.stack {
		out[i] = StackEntry{Index: f.Index, NumSplits: f.NumSplits, Value: c.ResolveInput(i)}
	}
	return out
}
