package flow

import (
	"errors"
	"fmt"
	"strings"
)

// DependencyUnsatisfiedError marks a step whose required data types have no
// configured retrieval method. The runner aborts rather than skipping, so a
// half-configured execution never produces partial results.
type DependencyUnsatisfiedError struct {
	StepID  string
	Missing []string // "family/TypeName" pairs
}

func (e *DependencyUnsatisfiedError) Error() string {
	return fmt.Sprintf("DEPENDENCY_UNSATISFIED: step %s missing retrieval methods: %s",
		e.StepID, strings.Join(e.Missing, ", "))
}

// StepFailedError wraps the cause of a failed step computation. The step is
// marked FAILED in the store before this is returned.
type StepFailedError struct {
	StepID string
	Err    error
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("STEP_FAILED: %s: %v", e.StepID, e.Err)
}

func (e *StepFailedError) Unwrap() error { return e.Err }

func IsDependencyUnsatisfied(err error) bool {
	var e *DependencyUnsatisfiedError
	return errors.As(err, &e)
}

func IsStepFailed(err error) bool {
	var e *StepFailedError
	return errors.As(err, &e)
}
