package handoff

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/contextcore/contextcore/internal/model"
)

// ErrInputTimeout is returned by AwaitInput when a request expires
// unanswered and carries no default value.
var ErrInputTimeout = errors.New("input request timed out")

// ValidationError reports one malformed argument. It is never retried.
type ValidationError struct {
	FieldPath string
	Message   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.FieldPath, e.Message)
}

type ValidationErrors struct {
	Errors []ValidationError
}

func (ve *ValidationErrors) Add(fieldPath, message string) {
	ve.Errors = append(ve.Errors, ValidationError{FieldPath: fieldPath, Message: message})
}

func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

func (ve *ValidationErrors) Error() string {
	msgs := make([]string, 0, len(ve.Errors))
	for _, e := range ve.Errors {
		msgs = append(msgs, e.Error())
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// InvalidTransitionError is returned when the freshly read status does not
// permit the requested operation.
type InvalidTransitionError struct {
	HandoffID string
	From      model.HandoffStatus
	To        model.HandoffStatus
	Operation string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("handoff %s: cannot %s from status %s", e.HandoffID, e.Operation, e.From)
}

// NotFoundError is returned for unknown handoffs and unknown or already
// answered input requests.
type NotFoundError struct {
	Kind string // "handoff" or "input_request"
	ID   string
	// Reason distinguishes "already answered" from a plain unknown id.
	Reason string
}

func (e *NotFoundError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %s not found: %s", e.Kind, e.ID, e.Reason)
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == model.ErrNotFound
}

// HandoffTimeoutError means the caller's local wait budget ran out before
// the backend reported a terminal status. The handoff may still resolve
// later. Cause holds the last backend error seen while polling, if any.
type HandoffTimeoutError struct {
	HandoffID  string
	Waited     time.Duration
	LastStatus model.HandoffStatus
	Cause      error
}

func (e *HandoffTimeoutError) Error() string {
	msg := fmt.Sprintf("handoff %s: gave up waiting after %s", e.HandoffID, e.Waited)
	if e.LastStatus != "" {
		msg += fmt.Sprintf(" (last status %s)", e.LastStatus)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

func (e *HandoffTimeoutError) Unwrap() error {
	return e.Cause
}

func IsValidation(err error) bool {
	var single ValidationError
	var multi *ValidationErrors
	return errors.As(err, &single) || errors.As(err, &multi)
}

func IsInvalidTransition(err error) bool {
	var e *InvalidTransitionError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}

// IsTimeout reports a client-side wait timeout. A backend TIMED_OUT status
// is not an error and never matches.
func IsTimeout(err error) bool {
	var e *HandoffTimeoutError
	return errors.As(err, &e)
}
