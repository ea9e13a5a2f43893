package prefix

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPrefix indicates a path that exists but cannot be used as a
	// prefix: wrong architecture, not a directory, or a corrupted layout.
	ErrInvalidPrefix = errors.New("invalid prefix")

	// ErrInvalidDistribution indicates a Wine install root that does not
	// contain the expected tool binaries.
	ErrInvalidDistribution = errors.New("invalid wine distribution")

	// ErrIO wraps filesystem failures encountered while creating or
	// inspecting a prefix.
	ErrIO = errors.New("prefix io error")
)

// Error wraps prefix validation and setup failures with the path they
// occurred on and the error kind they belong to.
type Error struct {
	Path string
	Kind error
	Msg  string
	Err  error // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %s", e.Kind.Error(), e.Path)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func invalidf(path, format string, args ...any) error {
	return &Error{Path: path, Kind: ErrInvalidPrefix, Msg: fmt.Sprintf(format, args...)}
}

func ioError(path string, err error) error {
	return &Error{Path: path, Kind: ErrIO, Err: err}
}
