// Package availability produces per-date slot lists for a branch and keeps
// client lookups consistent when the selected date changes quickly.
package availability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-booking/internal/catalog"
	"github.com/wolfman30/clinic-booking/internal/slots"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// DateLayout is the wire format of booking dates.
const DateLayout = "2006-01-02"

// ErrUnavailable means the branch offers no slots on the date.
var ErrUnavailable = errors.New("availability: no slots on this date")

// Range is a booked interval in branch-local "HH:MM".
type Range struct {
	Start string
	End   string
}

// BranchSource resolves branches.
type BranchSource interface {
	Branch(ctx context.Context, id string) (catalog.Branch, error)
}

// BookedSource lists already booked intervals for a branch on a date.
type BookedSource interface {
	BookedRanges(ctx context.Context, branchID, date string) ([]Range, error)
}

// Service emits a slot for every granularity step inside opening hours,
// available or not, so clients can check contiguity.
type Service struct {
	branches    BranchSource
	booked      BookedSource
	granularity int
	now         func() time.Time
	logger      *logging.Logger
}

// NewService builds the availability service.
func NewService(branches BranchSource, booked BookedSource, granularityMinutes int, logger *logging.Logger) *Service {
	if branches == nil || booked == nil {
		panic("availability: branch and booking sources required")
	}
	if granularityMinutes <= 0 {
		granularityMinutes = slots.DefaultGranularityMinutes
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		branches:    branches,
		booked:      booked,
		granularity: granularityMinutes,
		now:         time.Now,
		logger:      logger,
	}
}

// LookupAvailableSlots implements Source.
func (s *Service) LookupAvailableSlots(ctx context.Context, treatmentID, date, branchID string) ([]slots.TimeSlot, error) {
	if strings.TrimSpace(treatmentID) == "" || strings.TrimSpace(branchID) == "" {
		return nil, fmt.Errorf("availability: treatment and branch required")
	}
	branch, err := s.branches.Branch(ctx, branchID)
	if err != nil {
		return nil, fmt.Errorf("availability: load branch: %w", err)
	}
	loc := branch.Location()
	day, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return nil, fmt.Errorf("availability: invalid date %q: %w", date, err)
	}
	hours, open := branch.HoursOn(day.Weekday())
	if !open {
		return nil, ErrUnavailable
	}
	openAt, err := slots.ParseClock(hours.Open)
	if err != nil {
		return nil, fmt.Errorf("availability: branch hours: %w", err)
	}
	closeAt, err := slots.ParseClock(hours.Close)
	if err != nil {
		return nil, fmt.Errorf("availability: branch hours: %w", err)
	}

	booked, err := s.booked.BookedRanges(ctx, branchID, date)
	if err != nil {
		return nil, fmt.Errorf("availability: load bookings: %w", err)
	}
	busy := make([][2]int, 0, len(booked))
	for _, r := range booked {
		start, err1 := slots.ParseClock(r.Start)
		end, err2 := slots.ParseClock(r.End)
		if err1 != nil || err2 != nil {
			s.logger.Warn("skipping malformed booked range", "branch_id", branchID, "date", date, "start", r.Start, "end", r.End)
			continue
		}
		if end <= start {
			end = 24 * 60
		}
		busy = append(busy, [2]int{start, end})
	}

	now := s.now().In(loc)
	cutoff := -1
	if sameDay(now, day) {
		cutoff = now.Hour()*60 + now.Minute()
	} else if day.Before(now) {
		cutoff = 24 * 60
	}

	out := make([]slots.TimeSlot, 0, (closeAt-openAt)/s.granularity)
	for m := openAt; m+s.granularity <= closeAt; m += s.granularity {
		available := m > cutoff
		for _, b := range busy {
			if m < b[1] && m+s.granularity > b[0] {
				available = false
				break
			}
		}
		out = append(out, slots.TimeSlot{Time: slots.FormatClock(m), Available: available})
	}
	if len(out) == 0 {
		return nil, ErrUnavailable
	}
	return out, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
