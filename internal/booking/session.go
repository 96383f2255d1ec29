// Package booking coordinates a single appointment booking: step plan, slot
// selection, phone verification, payment capture and the final commit.
package booking

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking/internal/catalog"
	"github.com/wolfman30/clinic-booking/internal/identity"
	"github.com/wolfman30/clinic-booking/internal/payments"
	"github.com/wolfman30/clinic-booking/internal/slots"
	"github.com/wolfman30/clinic-booking/internal/steps"
)

// Identity is the phone verification part of a session.
type Identity struct {
	PhoneCountryCode string            `json:"phone_country_code"`
	PhoneNumber      string            `json:"phone_number"`
	OTP              identity.OTPState `json:"otp"`
}

// Confirmation is created once by a successful commit and never changes.
type Confirmation struct {
	AppointmentID string          `json:"appointment_id"`
	BranchID      string          `json:"branch_id"`
	BranchName    string          `json:"branch_name"`
	TreatmentID   string          `json:"treatment_id"`
	TreatmentName string          `json:"treatment_name"`
	Date          string          `json:"date"`
	StartTime     string          `json:"start_time"`
	EndTime       string          `json:"end_time"`
	SubjectID     string          `json:"subject_id"`
	Payment       *payments.Block `json:"payment,omitempty"`
	ConfirmedAt   time.Time       `json:"confirmed_at"`
}

// Session is the state of one booking attempt. Only the Orchestrator mutates it.
type Session struct {
	ID                string
	IdempotencyKey    string
	Treatment         catalog.Treatment
	Branch            catalog.Branch
	Date              string
	SelectedTime      string
	RequiredSlotCount int
	IsAuthenticated   bool
	SubjectID         string
	Identity          Identity
	Payment           *payments.Details
	CurrentStep       steps.Step
	Plan              steps.Plan
	Confirmation      *Confirmation
	Slots             []slots.TimeSlot

	// keyPayload is the booking last submitted under IdempotencyKey.
	keyPayload string
}

// PaymentRequired reports whether the treatment forces the payment step.
func (s *Session) PaymentRequired() bool {
	return s.Treatment.RequiresPayment()
}

// prepareCommit keeps IdempotencyKey while retries book the same time and
// issues a fresh key once the branch, treatment, subject or interval
// differs, so a replay can never confirm a booking other than the one stored.
func (s *Session) prepareCommit() {
	p, err := BuildPayload(s)
	if err != nil {
		return
	}
	p.IdempotencyKey, p.Payment = "", nil
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if s.keyPayload != "" && s.keyPayload != string(raw) {
		s.IdempotencyKey = uuid.NewString()
	}
	s.keyPayload = string(raw)
}

func (s *Session) clone() *Session {
	cp := *s
	cp.Plan = s.Plan.Clone()
	cp.Slots = append([]slots.TimeSlot(nil), s.Slots...)
	if s.Payment != nil {
		p := *s.Payment
		cp.Payment = &p
	}
	if s.Confirmation != nil {
		c := *s.Confirmation
		cp.Confirmation = &c
	}
	return &cp
}
