package migration

import "fmt"

// StepError is returned by a run that failed. It carries the failing step and the unit or
// relationship that caused the failure.
type StepError struct {
	Key          uint
	Name         string
	Unit         string
	Relationship string
	Err          error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v", e.Key, e.Name, e.Err)
}

// Unwrap returns the cause.
func (e *StepError) Unwrap() error { return e.Err }
