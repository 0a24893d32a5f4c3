package events

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedFrame marks an inbound frame that was dropped before dispatch.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrInvalidHandler is returned by Register for a handler without an entry point.
	ErrInvalidHandler = errors.New("invalid handler")
)

// UnknownTypeError is returned by Frame.Decode for a tag outside the known set.
type UnknownTypeError struct {
	Type Type
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown frame type %q", e.Type)
}

// HandlerError wraps a failure returned or panicked by one handler.
type HandlerError struct {
	Type    Type
	Handler string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s for %s: %v", e.Handler, e.Type, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
