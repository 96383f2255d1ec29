// Package appointments stores committed bookings and answers which intervals
// are already taken at a branch.
package appointments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking/internal/availability"
	"github.com/wolfman30/clinic-booking/internal/booking"
	"github.com/wolfman30/clinic-booking/internal/slots"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

var appointmentsTracer = otel.Tracer("clinic.internal.appointments")

type store interface {
	Create(ctx context.Context, rec Record) (Record, bool, error)
	BookedIntervals(ctx context.Context, branchID, date string) ([]Interval, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

// Service accepts appointment submissions.
type Service struct {
	repo   store
	logger *logging.Logger
}

// NewService constructs an appointments service.
func NewService(repo *Repository, logger *logging.Logger) *Service {
	if repo == nil {
		panic("appointments: repository required")
	}
	return newService(repo, logger)
}

func newService(repo store, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// SubmitAppointment stores the appointment. A repeated idempotency key
// returns the appointment created the first time, provided the payload books
// the same time; otherwise it is rejected. Invalid payloads and
// overlaps are reported as booking.ErrAppointmentRejected.
func (s *Service) SubmitAppointment(ctx context.Context, p booking.Payload) (booking.Receipt, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.branch_id", p.BranchID),
		attribute.String("booking.treatment_id", p.TreatmentID),
		attribute.String("booking.date", p.Date),
		attribute.String("booking.start_time", p.StartTime),
	)

	rec, err := recordFromPayload(p)
	if err != nil {
		span.RecordError(err)
		return booking.Receipt{}, fmt.Errorf("%w: %v", booking.ErrAppointmentRejected, err)
	}

	stored, created, err := s.repo.Create(ctx, rec)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrKeyReused) {
			s.logger.Warn("appointment rejected: idempotency key reused", "idempotency_key", p.IdempotencyKey, "branch_id", p.BranchID, "date", p.Date, "start", p.StartTime)
			return booking.Receipt{}, fmt.Errorf("%w: %v", booking.ErrAppointmentRejected, err)
		}
		if errors.Is(err, ErrOverlap) {
			s.logger.Info("appointment rejected: overlap", "branch_id", p.BranchID, "date", p.Date, "start", p.StartTime)
			return booking.Receipt{}, fmt.Errorf("%w: %v", booking.ErrAppointmentRejected, err)
		}
		return booking.Receipt{}, err
	}
	if !created {
		s.logger.Info("duplicate appointment submission", "appointment_id", stored.ID, "idempotency_key", p.IdempotencyKey, "date", stored.Date)
	} else {
		s.logger.Info("appointment created", "appointment_id", stored.ID, "branch_id", stored.BranchID, "date", stored.Date)
	}
	span.SetAttributes(attribute.String("booking.appointment_id", stored.ID.String()))
	return booking.Receipt{AppointmentID: stored.ID.String()}, nil
}

func recordFromPayload(p booking.Payload) (Record, error) {
	if strings.TrimSpace(p.IdempotencyKey) == "" {
		return Record{}, fmt.Errorf("idempotency key required")
	}
	if strings.TrimSpace(p.BranchID) == "" || strings.TrimSpace(p.TreatmentID) == "" {
		return Record{}, fmt.Errorf("branch and treatment required")
	}
	if strings.TrimSpace(p.SubjectID) == "" {
		return Record{}, fmt.Errorf("subject required")
	}
	if _, err := time.Parse(availability.DateLayout, p.Date); err != nil {
		return Record{}, fmt.Errorf("invalid date %q", p.Date)
	}
	start, err := slots.ParseClock(p.StartTime)
	if err != nil {
		return Record{}, err
	}
	end, err := slots.ParseClock(p.EndTime)
	if err != nil {
		return Record{}, err
	}
	if end <= start {
		end += 24 * 60
	}
	return Record{
		IdempotencyKey: p.IdempotencyKey,
		BranchID:       p.BranchID,
		TreatmentID:    p.TreatmentID,
		SubjectID:      p.SubjectID,
		Date:           p.Date,
		StartMinute:    start,
		EndMinute:      end,
		Payment:        p.Payment,
		Status:         StatusConfirmed,
	}, nil
}

// BookedRanges implements availability.BookedSource.
func (s *Service) BookedRanges(ctx context.Context, branchID, date string) ([]availability.Range, error) {
	intervals, err := s.repo.BookedIntervals(ctx, branchID, date)
	if err != nil {
		return nil, err
	}
	out := make([]availability.Range, 0, len(intervals))
	for _, iv := range intervals {
		out = append(out, availability.Range{
			Start: slots.FormatClock(iv.StartMinute),
			End:   slots.FormatClock(iv.EndMinute),
		})
	}
	return out, nil
}

// Cancel frees an appointment's interval.
func (s *Service) Cancel(ctx context.Context, id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	if err := s.repo.Cancel(ctx, parsed); err != nil {
		return err
	}
	s.logger.Info("appointment cancelled", "appointment_id", id)
	return nil
}
