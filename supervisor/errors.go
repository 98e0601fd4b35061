package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrBinaryNotFound is returned when no codex executable is on PATH.
	ErrBinaryNotFound = errors.New("codex binary not found in PATH")

	// ErrAlreadyStarted is returned by Start while supervision is active.
	ErrAlreadyStarted = errors.New("supervisor already started")

	// ErrMaxRestarts wraps the last exit cause once the restart budget is spent.
	ErrMaxRestarts = errors.New("max restart attempts reached")
)

// ProcessError describes a failure of the app-server subprocess.
type ProcessError struct {
	Message  string
	ExitCode int
	Cause    error
}

func (e *ProcessError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("%s (exit code %d)", e.Message, e.ExitCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessError) Unwrap() error {
	return e.Cause
}
