// Package notice classifies booking failures into the user-facing taxonomy
// and decides how each one is displayed.
package notice

import (
	"errors"
	"fmt"
)

// Kind is a failure class surfaced to the booking UI.
type Kind string

const (
	SlotConflict        Kind = "slot_conflict"
	InvalidPhoneFormat  Kind = "invalid_phone_format"
	OtpDispatchFailed   Kind = "otp_dispatch_failed"
	InvalidCode         Kind = "invalid_code"
	PaymentFieldMissing Kind = "payment_field_missing"
	NetworkError        Kind = "network_error"
	CommitFailed        Kind = "commit_failed"
)

// Display says how the UI presents a notice.
type Display string

const (
	// Toast is transient and auto-dismissing.
	Toast Display = "toast"
	// Inline persists until a successful retry or a step change.
	Inline Display = "inline"
)

// Error is a classified, recoverable booking failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the classification of err. Unclassified errors are treated
// as transport failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ne *Error
	if errors.As(err, &ne) {
		return ne.Kind
	}
	return NetworkError
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var ne *Error
	return errors.As(err, &ne) && ne.Kind == kind
}

// DisplayFor maps a kind onto its presentation.
func DisplayFor(kind Kind) Display {
	switch kind {
	case SlotConflict, NetworkError:
		return Toast
	default:
		return Inline
	}
}

// Notice is the renderable form of a classified failure or confirmation.
type Notice struct {
	Kind    Kind    `json:"kind,omitempty"`
	Display Display `json:"display"`
	Message string  `json:"message"`
}

// From converts err into a Notice. It returns nil for a nil error.
func From(err error) *Notice {
	if err == nil {
		return nil
	}
	var ne *Error
	if errors.As(err, &ne) {
		return &Notice{Kind: ne.Kind, Display: DisplayFor(ne.Kind), Message: ne.Message}
	}
	return &Notice{Kind: NetworkError, Display: Toast, Message: "Something went wrong. Please try again."}
}

// Info builds a toast that carries no failure, such as a resend confirmation.
func Info(message string) *Notice {
	return &Notice{Display: Toast, Message: message}
}
