package models

import "fmt"

// Status is the lifecycle state of a Model.
type Status string

const (
	StatusNew      Status = "new"
	StatusTraining Status = "training"
	StatusTrained  Status = "trained"
	StatusError    Status = "error"
)

// transitions maps a target status to the statuses it may be entered from.
var transitions = map[Status][]Status{
	StatusTraining: {StatusNew, StatusTrained, StatusError},
	StatusTrained:  {StatusTraining},
	StatusError:    {StatusTraining},
}

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusTraining, StatusTrained, StatusError:
		return true
	}
	return false
}

// Terminal reports whether no work is in flight for a model in this status.
func (s Status) Terminal() bool {
	return s == StatusTrained || s == StatusError
}

// Sources returns the statuses from which to may be entered.
func Sources(to Status) []Status {
	src := transitions[to]
	out := make([]Status, len(src))
	copy(out, src)
	return out
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrIllegalTransition wrapped with both ends when
// from -> to is not in the table.
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
