package models

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrStatusConflict = errors.New("status changed concurrently")
	ErrDuplicate      = errors.New("already exists")
)

// PreconditionError rejects an operation because of the model's current
// status. The model is left untouched.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string { return e.Reason }

var (
	ErrTrainingInProgress = &PreconditionError{Reason: "model is already being trained"}
	ErrModelNotTrained    = &PreconditionError{Reason: "model must be trained before generating signals"}
	ErrIllegalTransition  = &PreconditionError{Reason: "illegal status transition"}
)

// IsPrecondition reports whether err is (or wraps) a PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}
