package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking/internal/events"
	"github.com/wolfman30/clinic-booking/internal/notice"
	"github.com/wolfman30/clinic-booking/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking/internal/payments"
	"github.com/wolfman30/clinic-booking/internal/slots"
	"github.com/wolfman30/clinic-booking/internal/steps"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

var bookingTracer = otel.Tracer("clinic.internal.booking")

// Committer submits a finalized session to the appointment service. It does
// not guard against concurrent calls; the Orchestrator allows one at a time.
type Committer struct {
	appointments AppointmentService
	publisher    EventPublisher
	metrics      *metrics.BookingMetrics
	logger       *logging.Logger
	now          func() time.Time
}

// NewCommitter builds a committer. publisher and m may be nil.
func NewCommitter(appointments AppointmentService, publisher EventPublisher, m *metrics.BookingMetrics, logger *logging.Logger) *Committer {
	if appointments == nil {
		panic("booking: appointment service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Committer{
		appointments: appointments,
		publisher:    publisher,
		metrics:      m,
		logger:       logger,
		now:          time.Now,
	}
}

// BuildPayload derives the appointment payload from s. The end time is the
// start time plus the treatment duration.
func BuildPayload(s *Session) (Payload, error) {
	if s.Date == "" || s.SelectedTime == "" {
		return Payload{}, notice.New(notice.SlotConflict, "Choose a date and time first.")
	}
	if s.SubjectID == "" {
		return Payload{}, notice.New(notice.CommitFailed, "Verify your phone number before booking.")
	}
	end, err := slots.AddMinutes(s.SelectedTime, s.Treatment.DurationMinutes)
	if err != nil {
		return Payload{}, notice.Wrap(notice.SlotConflict, "The selected time is not valid.", err)
	}
	p := Payload{
		IdempotencyKey: s.IdempotencyKey,
		BranchID:       s.Branch.ID,
		Date:           s.Date,
		StartTime:      s.SelectedTime,
		EndTime:        end,
		TreatmentID:    s.Treatment.ID,
		SubjectID:      s.SubjectID,
	}
	if s.Plan.Contains(steps.Payment) {
		if s.Payment == nil {
			return Payload{}, notice.New(notice.PaymentFieldMissing, "Please enter your payment details.")
		}
		block := s.Payment.Mask(s.Treatment.PriceAmount, s.Treatment.Currency)
		p.Payment = &block
	}
	return p, nil
}

// Commit submits s once and returns its confirmation. Rejections by the
// service are CommitFailed; every other failure is a NetworkError.
func (c *Committer) Commit(ctx context.Context, s *Session) (*Confirmation, error) {
	ctx, span := bookingTracer.Start(ctx, "booking.commit")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.id", s.ID),
		attribute.String("booking.branch_id", s.Branch.ID),
		attribute.String("booking.treatment_id", s.Treatment.ID),
		attribute.String("booking.date", s.Date),
	)

	payload, err := BuildPayload(s)
	if err != nil {
		return nil, err
	}

	started := c.now()
	receipt, err := c.appointments.SubmitAppointment(ctx, payload)
	elapsed := c.now().Sub(started).Seconds()
	if err != nil {
		span.RecordError(err)
		c.metrics.ObserveCommit("failed", payload.Payment != nil, elapsed)
		c.logger.Warn("appointment commit failed", "booking_id", s.ID, "branch_id", payload.BranchID, "error", err)
		if errors.Is(err, ErrAppointmentRejected) {
			return nil, notice.Wrap(notice.CommitFailed, "That time is no longer available. Please choose another time.", err)
		}
		return nil, notice.Wrap(notice.NetworkError, "We could not reach the booking service. Please try again.", err)
	}
	if receipt.AppointmentID == "" {
		err := fmt.Errorf("booking: empty appointment id in receipt")
		span.RecordError(err)
		c.metrics.ObserveCommit("failed", payload.Payment != nil, elapsed)
		return nil, notice.Wrap(notice.CommitFailed, "The booking could not be confirmed.", err)
	}
	c.metrics.ObserveCommit("success", payload.Payment != nil, elapsed)

	conf := &Confirmation{
		AppointmentID: receipt.AppointmentID,
		BranchID:      s.Branch.ID,
		BranchName:    s.Branch.Name,
		TreatmentID:   s.Treatment.ID,
		TreatmentName: s.Treatment.Name,
		Date:          payload.Date,
		StartTime:     payload.StartTime,
		EndTime:       payload.EndTime,
		SubjectID:     payload.SubjectID,
		Payment:       payload.Payment,
		ConfirmedAt:   c.now().UTC(),
	}
	span.SetAttributes(attribute.String("booking.appointment_id", conf.AppointmentID))
	c.logger.Info("appointment committed", "booking_id", s.ID, "appointment_id", conf.AppointmentID, "branch_id", conf.BranchID)

	if c.publisher != nil {
		evt := events.AppointmentConfirmed{
			AppointmentID: conf.AppointmentID,
			BookingID:     s.ID,
			BranchID:      conf.BranchID,
			TreatmentID:   conf.TreatmentID,
			SubjectID:     conf.SubjectID,
			Date:          conf.Date,
			StartTime:     conf.StartTime,
			EndTime:       conf.EndTime,
			WithPayment:   conf.Payment != nil,
			ConfirmedAt:   conf.ConfirmedAt,
		}
		if err := c.publisher.PublishAppointmentConfirmed(ctx, evt); err != nil {
			c.logger.Warn("failed to publish appointment confirmation", "appointment_id", conf.AppointmentID, "error", err)
		}
	}
	return conf, nil
}

// paymentBlockFor is used by views to show what will be charged.
func paymentBlockFor(s *Session) *payments.Block {
	if s.Payment == nil {
		return nil
	}
	b := s.Payment.Mask(s.Treatment.PriceAmount, s.Treatment.Currency)
	return &b
}
