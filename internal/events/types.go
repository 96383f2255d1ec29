package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TypeAppointmentConfirmed is emitted once per committed booking.
const TypeAppointmentConfirmed = "appointment.confirmed"

// AppointmentConfirmed describes a committed appointment.
type AppointmentConfirmed struct {
	AppointmentID string    `json:"appointment_id"`
	BookingID     string    `json:"booking_id"`
	BranchID      string    `json:"branch_id"`
	TreatmentID   string    `json:"treatment_id"`
	SubjectID     string    `json:"subject_id"`
	Date          string    `json:"date"`
	StartTime     string    `json:"start_time"`
	EndTime       string    `json:"end_time"`
	WithPayment   bool      `json:"with_payment"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
}

// Envelope wraps every published event.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

func newEnvelope(eventType string, occurredAt time.Time, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal %s: %w", eventType, err)
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	return Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: occurredAt.UTC(),
		Data:       raw,
	}, nil
}

// Decode unmarshals an envelope body.
func Decode(body string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return Envelope{}, fmt.Errorf("events: decode envelope: %w", err)
	}
	return env, nil
}
