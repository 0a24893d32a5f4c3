package generation

import (
	"errors"
	"fmt"
	"time"

	"github.com/GriffinCanCode/ragstudio/internal/domain/events"
)

// ErrInvalidSnapshot is returned when rendering a snapshot that failed
// validation.
var ErrInvalidSnapshot = errors.New("invalid progress snapshot")

// ProgressSnapshot is the display form of one progress event. A snapshot
// can only be marked rendered after it validated.
type ProgressSnapshot struct {
	State     State     `json:"state"`
	Progress  float64   `json:"progress"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	raw      string
	valid    bool
	rendered bool
	problem  string
}

// NewSnapshot builds and validates a snapshot from a progress payload.
func NewSnapshot(p events.Progress, at time.Time) ProgressSnapshot {
	snap := ProgressSnapshot{
		Progress:  p.Progress,
		Message:   p.Message,
		Timestamp: at,
		raw:       p.State,
	}

	state, ok := ParseState(p.State)
	switch {
	case !ok:
		snap.problem = fmt.Sprintf("unknown state %q", p.State)
	case p.Progress < 0 || p.Progress > 100:
		snap.State = state
		snap.problem = fmt.Sprintf("progress %v outside [0,100]", p.Progress)
	default:
		snap.State = state
		snap.valid = true
	}
	return snap
}

// Valid reports whether the snapshot passed validation.
func (s ProgressSnapshot) Valid() bool {
	return s.valid
}

// Rendered reports whether the snapshot reached the display.
func (s ProgressSnapshot) Rendered() bool {
	return s.rendered
}

// Validate returns the validation failure, if any.
func (s ProgressSnapshot) Validate() error {
	if s.valid {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidSnapshot, s.problem)
}

// MarkRendered flags the snapshot as displayed.
func (s *ProgressSnapshot) MarkRendered() error {
	if err := s.Validate(); err != nil {
		return err
	}
	s.rendered = true
	return nil
}
