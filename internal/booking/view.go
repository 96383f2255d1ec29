package booking

import (
	"time"

	"github.com/wolfman30/clinic-booking/internal/identity"
	"github.com/wolfman30/clinic-booking/internal/notice"
	"github.com/wolfman30/clinic-booking/internal/payments"
	"github.com/wolfman30/clinic-booking/internal/slots"
	"github.com/wolfman30/clinic-booking/internal/steps"
)

// View is the read-only projection consumed by progress indicators and the
// HTTP API.
type View struct {
	BookingID         string                      `json:"booking_id"`
	TreatmentID       string                      `json:"treatment_id"`
	BranchID          string                      `json:"branch_id"`
	Plan              steps.Plan                  `json:"plan"`
	CurrentStep       steps.Step                  `json:"current_step"`
	CurrentIndex      int                         `json:"current_index"`
	ConfirmationIndex int                         `json:"confirmation_index"`
	Busy              bool                        `json:"busy"`
	IsAuthenticated   bool                        `json:"is_authenticated"`
	PaymentRequired   bool                        `json:"payment_required"`
	RequiredSlotCount int                         `json:"required_slot_count"`
	Date              string                      `json:"date,omitempty"`
	SelectedTime      string                      `json:"selected_time,omitempty"`
	SelectedRange     []int                       `json:"selected_range"`
	Slots             []slots.TimeSlot            `json:"slots"`
	PhoneCountryCode  string                      `json:"phone_country_code,omitempty"`
	PhoneNumber       string                      `json:"phone_number,omitempty"`
	OTP               identity.OTPState           `json:"otp"`
	CodeCells         [identity.CodeLength]string `json:"code_cells"`
	CodeFocus         int                         `json:"code_focus"`
	CanResend         bool                        `json:"can_resend"`
	ResendAvailableAt *time.Time                  `json:"resend_available_at,omitempty"`
	Payment           *payments.Block             `json:"payment,omitempty"`
	Message           *notice.Notice              `json:"message,omitempty"`
	Confirmation      *Confirmation               `json:"confirmation,omitempty"`
}

// Snapshot returns the current view. Before Activate only Busy is meaningful.
func (o *Orchestrator) Snapshot() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := View{Busy: o.busy, CurrentIndex: -1, ConfirmationIndex: -1}
	s := o.session
	if s == nil {
		return v
	}
	v.BookingID = s.ID
	v.TreatmentID = s.Treatment.ID
	v.BranchID = s.Branch.ID
	v.Plan = s.Plan.Clone()
	v.CurrentStep = s.CurrentStep
	v.CurrentIndex = s.Plan.IndexOf(s.CurrentStep)
	v.ConfirmationIndex = s.Plan.ConfirmationIndex()
	v.IsAuthenticated = s.IsAuthenticated
	v.PaymentRequired = s.PaymentRequired()
	v.RequiredSlotCount = s.RequiredSlotCount
	v.Date = s.Date
	v.SelectedTime = s.SelectedTime
	v.SelectedRange = slots.RangeOf(s.Slots, s.SelectedTime, s.RequiredSlotCount)
	v.Slots = append([]slots.TimeSlot(nil), s.Slots...)
	v.PhoneCountryCode = s.Identity.PhoneCountryCode
	v.PhoneNumber = s.Identity.PhoneNumber
	v.OTP = s.Identity.OTP
	v.CodeCells = o.code.Cells()
	v.CodeFocus = o.code.Focus()
	v.Payment = paymentBlockFor(s)
	if o.message != nil {
		msg := *o.message
		v.Message = &msg
	}
	if s.Confirmation != nil {
		c := *s.Confirmation
		v.Confirmation = &c
	}
	if o.verifier != nil && !s.IsAuthenticated {
		v.CanResend = !o.busy && o.verifier.CanResend(o.now())
		if until := o.verifier.CooldownUntil(); !until.IsZero() {
			v.ResendAvailableAt = &until
		}
	}
	return v
}
