package availability

import (
	"context"
	"errors"
	"sync"

	"github.com/wolfman30/clinic-booking/internal/slots"
)

// ErrStale is returned to a lookup that was superseded by a newer one.
var ErrStale = errors.New("availability: lookup superseded by a newer date")

// Source is the slot lookup collaborator.
type Source interface {
	LookupAvailableSlots(ctx context.Context, treatmentID, date, branchID string) ([]slots.TimeSlot, error)
}

// Query identifies one lookup.
type Query struct {
	TreatmentID string
	Date        string
	BranchID    string
}

// Tracker keeps only the newest lookup alive. Starting a lookup cancels the
// previous one, and a response that arrives after a newer lookup started is
// discarded with ErrStale.
type Tracker struct {
	source Source

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// NewTracker wraps source.
func NewTracker(source Source) *Tracker {
	if source == nil {
		panic("availability: source required")
	}
	return &Tracker{source: source}
}

// Fetch runs the lookup for q unless a newer Fetch supersedes it.
func (t *Tracker) Fetch(ctx context.Context, q Query) ([]slots.TimeSlot, error) {
	lookupCtx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	t.gen++
	gen := t.gen
	if t.cancel != nil {
		t.cancel()
	}
	t.cancel = cancel
	t.mu.Unlock()

	result, err := t.source.LookupAvailableSlots(lookupCtx, q.TreatmentID, q.Date, q.BranchID)

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen {
		cancel()
		return nil, ErrStale
	}
	t.cancel = nil
	cancel()
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Abandon cancels any outstanding lookup; its result will be discarded.
func (t *Tracker) Abandon() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}
