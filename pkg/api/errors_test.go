package api

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTypedErrorsUnwrapToSentinels(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
	}{
		{NewStructuralConflict("a", "type %q", "join"), ErrStructuralConflict},
		{NewInvalidTransition("a", "twice"), ErrInvalidTransition},
		{&MergeConflictError{Step: "d", Artifacts: []string{"x"}}, ErrMergeConflict},
		{&MergeMissingError{Step: "d", Include: []string{"y"}, Artifacts: []string{"y"}}, ErrMergeMissing},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("run: %w", tc.err)
		require.ErrorIs(t, wrapped, tc.sentinel)
	}
}

func TestIsMergeConflict(t *testing.T) {
	err := fmt.Errorf("join: %w", &MergeConflictError{Step: "d", Artifacts: []string{"x", "y"}})

	names, ok := IsMergeConflict(err)
	require.True(t, ok)
	require.Equal(t, []string{"x", "y"}, names)

	_, ok = IsMergeConflict(errors.New("other"))
	require.False(t, ok)
}

func TestIsInvalidTransition_ReportsStep(t *testing.T) {
	step, ok := IsInvalidTransition(NewInvalidTransition("fanout", "zero splits"))
	require.True(t, ok)
	require.Equal(t, "fanout", step)
	require.Contains(t, NewInvalidTransition("fanout", "zero splits").Error(), "*fanout*")
}
