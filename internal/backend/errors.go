package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/GriffinCanCode/ragstudio/internal/infrastructure/resilience"
)

// ErrNotFound matches a StatusError carrying 404.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Op     string
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s %s returned %d", e.Op, e.Method, e.Path, e.Status)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// IsServerFailure reports whether err should count against the backend:
// 5xx responses and transport errors do, client errors and caller
// cancellations do not.
func IsServerFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status >= http.StatusInternalServerError
	}
	return true
}
