package processes

import (
	"errors"
	"fmt"
)

var (
	// ErrPrefixNotReady is returned by Launch when the target prefix has
	// not completed initialization. Nothing is spawned in that case.
	ErrPrefixNotReady = errors.New("prefix not ready")

	// ErrSpawn indicates the OS process could not be created. Spawn
	// failures are reported synchronously and never retried here; retrying
	// is the caller's decision.
	ErrSpawn = errors.New("spawn failed")

	// ErrProcessLost indicates the OS no longer knows about a process we
	// believed to be running.
	ErrProcessLost = errors.New("process lost")
)

// LaunchError wraps failures to start a process with the program that was
// being launched and the error kind the failure belongs to.
type LaunchError struct {
	Program string
	Kind    error
	Err     error // underlying cause, may be nil
}

func (e *LaunchError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("launch %s: %s", e.Program, e.Kind.Error())
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LaunchError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}
