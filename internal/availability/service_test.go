package availability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking/internal/catalog"
)

type branchMap map[string]catalog.Branch

func (m branchMap) Branch(ctx context.Context, id string) (catalog.Branch, error) {
	b, ok := m[id]
	if !ok {
		return catalog.Branch{}, catalog.ErrNotFound
	}
	return b, nil
}

type bookedStub []Range

func (b bookedStub) BookedRanges(ctx context.Context, branchID, date string) ([]Range, error) {
	return b, nil
}

func newTestService(booked []Range) *Service {
	branches := branchMap{
		"downtown": {
			ID:    "downtown",
			Hours: map[string]catalog.DayHours{"monday": {Open: "09:00", Close: "10:00"}},
		},
	}
	svc := NewService(branches, bookedStub(booked), 5, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestLookupEmitsWholeWindow(t *testing.T) {
	svc := newTestService([]Range{{Start: "09:10", End: "09:25"}})
	// 2026-03-02 is a Monday.
	got, err := svc.LookupAvailableSlots(context.Background(), "botox", "2026-03-02", "downtown")
	require.NoError(t, err)
	require.Len(t, got, 12)
	assert.Equal(t, "09:00", got[0].Time)
	assert.Equal(t, "09:55", got[11].Time)

	for _, s := range got {
		busy := s.Time == "09:10" || s.Time == "09:15" || s.Time == "09:20"
		assert.Equal(t, !busy, s.Available, s.Time)
	}
}

func TestLookupClosedDay(t *testing.T) {
	svc := newTestService(nil)
	_, err := svc.LookupAvailableSlots(context.Background(), "botox", "2026-03-03", "downtown")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLookupPastSlotsUnavailable(t *testing.T) {
	svc := newTestService(nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC) }
	got, err := svc.LookupAvailableSlots(context.Background(), "botox", "2026-03-02", "downtown")
	require.NoError(t, err)
	assert.False(t, got[6].Available, "09:30 has started")
	assert.True(t, got[7].Available)

	svc.now = func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }
	got, err = svc.LookupAvailableSlots(context.Background(), "botox", "2026-03-02", "downtown")
	require.NoError(t, err)
	for _, s := range got {
		assert.False(t, s.Available)
	}
}

func TestLookupValidation(t *testing.T) {
	svc := newTestService(nil)
	ctx := context.Background()
	_, err := svc.LookupAvailableSlots(ctx, "", "2026-03-02", "downtown")
	assert.Error(t, err)
	_, err = svc.LookupAvailableSlots(ctx, "botox", "03/02/2026", "downtown")
	assert.Error(t, err)
	_, err = svc.LookupAvailableSlots(ctx, "botox", "2026-03-02", "uptown")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}
