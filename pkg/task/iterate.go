package task

import (
	"cmp"
	"fmt"
	"iter"
	"reflect"
	"slices"
)

// ParallelField is the artifact that holds the ParallelInput of a parallel
// transition.
const ParallelField = "_parallel_ubf_iter"

// Sequence is a foreach source with positional access.
type Sequence interface {
	Len() int
	At(i int) any
}

// UnboundedInput is a foreach source whose number of splits is only known
// when the fan-out happens. Its target must be followed by a single join.
type UnboundedInput interface {
	Splits() int
	At(i int) any
}

// ParallelInput is the unbounded source behind NextParallel. Element i is i.
type ParallelInput struct {
	Width int
}

func (p ParallelInput) Splits() int  { return p.Width }
func (p ParallelInput) At(i int) any { return i }

// countSplits returns the number of elements of a bounded iterable value.
func countSplits(v any) (int, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case Sequence:
		return x.Len(), true
	case string:
		return len([]rune(x)), true
	case iter.Seq[any]:
		return countSeq(x), true
	case func(func(any) bool):
		return countSeq(x), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len(), true
	}
	return 0, false
}

func countSeq(seq iter.Seq[any]) int {
	n := 0
	for range seq {
		n++
	}
	return n
}

// elementAt returns element i of v. Values without positional access are
// walked once up to i.
func elementAt(v any, i int) (any, bool) {
	if i < 0 {
		return nil, false
	}
	switch x := v.(type) {
	case nil:
		return nil, false
	case Sequence:
		if i >= x.Len() {
			return nil, false
		}
		return x.At(i), true
	case UnboundedInput:
		return x.At(i), true
	case string:
		r := []rune(x)
		if i >= len(r) {
			return nil, false
		}
		return string(r[i]), true
	case iter.Seq[any]:
		return seqAt(x, i)
	case func(func(any) bool):
		return seqAt(x, i)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if i >= rv.Len() {
			return nil, false
		}
		return rv.Index(i).Interface(), true
	case reflect.Map:
		if i >= rv.Len() {
			return nil, false
		}
		return sortedKeys(rv)[i].Interface(), true
	}
	return nil, false
}

// sortedKeys returns the keys of a map in ascending order. A foreach over a
// map runs once per key.
func sortedKeys(m reflect.Value) []reflect.Value {
	keys := m.MapKeys()
	slices.SortFunc(keys, compareKeys)
	return keys
}

func compareKeys(a, b reflect.Value) int {
	switch a.Kind() {
	case reflect.String:
		return cmp.Compare(a.String(), b.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return cmp.Compare(a.Int(), b.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return cmp.Compare(a.Uint(), b.Uint())
	case reflect.Float32, reflect.Float64:
		return cmp.Compare(a.Float(), b.Float())
	}
	return cmp.Compare(fmt.Sprint(a.Interface()), fmt.Sprint(b.Interface()))
}

func seqAt(seq iter.Seq[any], i int) (any, bool) {
	n := 0
	for e := range seq {
		if n == i {
			return e, true
		}
		n++
	}
	return nil, false
}
