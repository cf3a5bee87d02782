package engine

import (
	"errors"
	"fmt"
)

// ErrActorTerminated is the cause of a failed position when the actor stopped before replying.
var ErrActorTerminated = errors.New("engine actor terminated")

// errShutdown unwinds an in-flight position when the actor's context is done.
var errShutdown = errors.New("engine actor shutting down")

// ProtocolError is a well-formed engine line with a missing or malformed field.
type ProtocolError struct {
	Line   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s (line %q)", e.Reason, e.Line)
}

// ExitError reports that the engine process exited unsuccessfully.
type ExitError struct {
	PID  int
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("engine process %d exited with code %d", e.PID, e.Code)
}
