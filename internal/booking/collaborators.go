package booking

import (
	"context"
	"errors"

	"github.com/wolfman30/clinic-booking/internal/events"
	"github.com/wolfman30/clinic-booking/internal/payments"
)

// ErrAppointmentRejected is wrapped by appointment services when the server
// refuses the booking, for example because the time was taken meanwhile.
var ErrAppointmentRejected = errors.New("booking: appointment rejected")

// Payload is what gets submitted to the appointment service.
type Payload struct {
	IdempotencyKey string          `json:"idempotency_key"`
	BranchID       string          `json:"branch_id"`
	Date           string          `json:"date"`
	StartTime      string          `json:"start_time"`
	EndTime        string          `json:"end_time"`
	TreatmentID    string          `json:"treatment_id"`
	SubjectID      string          `json:"subject_id"`
	Payment        *payments.Block `json:"payment,omitempty"`
}

// Receipt is the appointment service response.
type Receipt struct {
	AppointmentID string `json:"appointment_id"`
}

// AppointmentService accepts finalized bookings.
type AppointmentService interface {
	SubmitAppointment(ctx context.Context, payload Payload) (Receipt, error)
}

// SessionStore persists the authenticated subject for a browser session.
type SessionStore interface {
	AuthenticatedSubject(ctx context.Context, sessionKey string) (string, bool, error)
	SetAuthenticatedSubject(ctx context.Context, sessionKey, subjectID string) error
}

// EventPublisher receives confirmed appointments.
type EventPublisher interface {
	PublishAppointmentConfirmed(ctx context.Context, evt events.AppointmentConfirmed) error
}
