package process

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies how a worker run failed.
type Kind string

const (
	KindSpawn   Kind = "spawn"
	KindTimeout Kind = "timeout"
	KindProcess Kind = "process"
	KindParse   Kind = "parse"
)

// Sentinels for errors.Is matching against *Error.
var (
	ErrSpawn   = errors.New("worker could not be started")
	ErrTimeout = errors.New("worker deadline exceeded")
	ErrProcess = errors.New("worker exited with failure")
	ErrParse   = errors.New("worker produced no output")
)

// Error is the failure outcome of a Run. Only the fields relevant to Kind are set.
type Error struct {
	Kind     Kind
	Path     string
	ExitCode int           // KindProcess
	Stderr   string        // KindProcess, tail of captured stderr
	Timeout  time.Duration // KindTimeout
	Err      error         // underlying cause, if any
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindSpawn:
		return fmt.Sprintf("spawn %s: %v", e.Path, e.Err)
	case KindTimeout:
		if e.Err != nil {
			return fmt.Sprintf("%s: timed out after %s: %v", e.Path, e.Timeout, e.Err)
		}
		return fmt.Sprintf("%s: timed out after %s", e.Path, e.Timeout)
	case KindProcess:
		if e.Stderr != "" {
			return fmt.Sprintf("%s: exit code %d: %s", e.Path, e.ExitCode, e.Stderr)
		}
		return fmt.Sprintf("%s: exit code %d", e.Path, e.ExitCode)
	case KindParse:
		return fmt.Sprintf("%s: %v", e.Path, ErrParse)
	default:
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrSpawn:
		return e.Kind == KindSpawn
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrProcess:
		return e.Kind == KindProcess
	case ErrParse:
		return e.Kind == KindParse
	}
	return false
}

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
