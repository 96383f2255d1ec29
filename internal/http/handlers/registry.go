package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/clinic-booking/internal/booking"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

var errBookingNotFound = errors.New("handlers: booking not found")

// Registry keeps the live orchestrators, one per booking, each owned by the
// browser session that started it. Idle bookings are evicted.
type Registry struct {
	idleTTL time.Duration
	now     func() time.Time
	logger  *logging.Logger

	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	owner    string
	orch     *booking.Orchestrator
	lastSeen time.Time
}

// NewRegistry returns a registry evicting bookings untouched for idleTTL.
func NewRegistry(idleTTL time.Duration, logger *logging.Logger) *Registry {
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Registry{
		idleTTL: idleTTL,
		now:     time.Now,
		logger:  logger,
		entries: make(map[string]*registryEntry),
	}
}

// Put registers orch under id for owner.
func (r *Registry) Put(id, owner string, orch *booking.Orchestrator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = &registryEntry{owner: owner, orch: orch, lastSeen: r.now()}
}

// Get returns the booking when owner started it and it has not expired.
// Like Sweep, it never evicts a booking with an outstanding call.
func (r *Registry) Get(id, owner string) (*booking.Orchestrator, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || e.owner != owner {
		r.mu.Unlock()
		return nil, errBookingNotFound
	}
	now := r.now()
	if r.idle(e, now) {
		delete(r.entries, id)
		r.mu.Unlock()
		e.orch.Close()
		return nil, errBookingNotFound
	}
	e.lastSeen = now
	r.mu.Unlock()
	return e.orch, nil
}

func (r *Registry) idle(e *registryEntry, now time.Time) bool {
	return now.Sub(e.lastSeen) > r.idleTTL && !e.orch.Busy()
}

// Remove discards the booking.
func (r *Registry) Remove(id, owner string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || e.owner != owner {
		r.mu.Unlock()
		return errBookingNotFound
	}
	delete(r.entries, id)
	r.mu.Unlock()
	e.orch.Close()
	return nil
}

// Len reports the number of tracked bookings.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep evicts idle bookings and returns how many were removed. Bookings with
// an outstanding call are left alone.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	now := r.now()
	var expired []*booking.Orchestrator
	for id, e := range r.entries {
		if r.idle(e, now) {
			expired = append(expired, e.orch)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()
	for _, orch := range expired {
		orch.Close()
	}
	return len(expired)
}

// Run sweeps on interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Info("evicted idle bookings", "count", n)
			}
		}
	}
}
