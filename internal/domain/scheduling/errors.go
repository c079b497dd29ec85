package scheduling

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrSlotTaken         = errors.New("slot already booked")
	ErrSlotUnavailable   = errors.New("slot is not available")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConcurrentUpdate  = errors.New("appointment was modified concurrently")
	ErrUnauthenticated   = errors.New("authenticated patient required")
	ErrForbidden         = errors.New("not permitted for this appointment")
)

// ValidationError reports a problem with one input field. It is raised
// before any store call.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// TransitionError wraps ErrInvalidTransition with the offending state.
type TransitionError struct {
	From   Status
	Action Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s an appointment that is %s", e.Action, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
