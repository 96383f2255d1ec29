package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/clinic-booking/internal/catalog"
	"github.com/wolfman30/clinic-booking/internal/events"
	"github.com/wolfman30/clinic-booking/internal/identity"
	"github.com/wolfman30/clinic-booking/internal/slots"
)

type fakeAvailability struct {
	mu     sync.Mutex
	slots  []slots.TimeSlot
	byDate map[string][]slots.TimeSlot
	hold   map[string]chan struct{}
	begun  chan string
	err    error
	calls  int
}

// LookupAvailableSlots answers from byDate, falling back to slots. A date
// listed in hold blocks until its channel closes, then answers even if ctx
// was cancelled meanwhile, like a response already on the wire.
func (f *fakeAvailability) LookupAvailableSlots(ctx context.Context, treatmentID, date, branchID string) ([]slots.TimeSlot, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	result, ok := f.byDate[date]
	if !ok {
		result = f.slots
	}
	result = append([]slots.TimeSlot(nil), result...)
	hold, begun := f.hold[date], f.begun
	f.mu.Unlock()

	if hold != nil {
		if begun != nil {
			begun <- date
		}
		<-hold
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

type fakeGateway struct {
	mu         sync.Mutex
	requests   int
	verifies   int
	validCode  string
	requestErr error
	verifyErr  error
}

func (g *fakeGateway) RequestOTP(ctx context.Context, phone string) (identity.OTPRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests++
	if g.requestErr != nil {
		return identity.OTPRequest{}, g.requestErr
	}
	return identity.OTPRequest{SubjectID: "subject-" + phone}, nil
}

func (g *fakeGateway) VerifyOTP(ctx context.Context, phone, code string) (identity.OTPVerification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifies++
	if g.verifyErr != nil {
		return identity.OTPVerification{}, g.verifyErr
	}
	if code != g.validCode {
		return identity.OTPVerification{}, fmt.Errorf("fake: %w", identity.ErrCodeRejected)
	}
	return identity.OTPVerification{SubjectID: "subject-" + phone, Verified: true}, nil
}

type fakeAppointments struct {
	mu       sync.Mutex
	payloads []Payload
	err      error
	entered  chan struct{}
	release  chan struct{}
}

// storedAppointment is what a keyed appointment store persisted.
type storedAppointment struct {
	id      string
	payload Payload
}

// keyedAppointments dedups on the idempotency key like the real store and
// loses the response to the first submission after storing it.
type keyedAppointments struct {
	mu        sync.Mutex
	stored    map[string]storedAppointment
	loseFirst bool
	submits   int
}

func (k *keyedAppointments) SubmitAppointment(ctx context.Context, p Payload) (Receipt, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.submits++
	if existing, ok := k.stored[p.IdempotencyKey]; ok {
		if e := existing.payload; e.BranchID != p.BranchID || e.Date != p.Date ||
			e.StartTime != p.StartTime || e.EndTime != p.EndTime || e.SubjectID != p.SubjectID {
			return Receipt{}, fmt.Errorf("key reused: %w", ErrAppointmentRejected)
		}
		return Receipt{AppointmentID: existing.id}, nil
	}
	rec := storedAppointment{id: fmt.Sprintf("apt-%d", len(k.stored)+1), payload: p}
	k.stored[p.IdempotencyKey] = rec
	if k.loseFirst && k.submits == 1 {
		return Receipt{}, errors.New("read: connection reset by peer")
	}
	return Receipt{AppointmentID: rec.id}, nil
}

func (k *keyedAppointments) byID(id string) (Payload, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, rec := range k.stored {
		if rec.id == id {
			return rec.payload, true
		}
	}
	return Payload{}, false
}

func (f *fakeAppointments) SubmitAppointment(ctx context.Context, p Payload) (Receipt, error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, p)
	n := len(f.payloads)
	err := f.err
	entered, release := f.entered, f.release
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{AppointmentID: fmt.Sprintf("apt-%d", n)}, nil
}

func (f *fakeAppointments) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeAppointments) last() Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads[len(f.payloads)-1]
}

type fakeSessions struct {
	mu       sync.Mutex
	subjects map[string]string
	readErr  error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{subjects: map[string]string{}}
}

func (f *fakeSessions) AuthenticatedSubject(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return "", false, f.readErr
	}
	s, ok := f.subjects[key]
	return s, ok, nil
}

func (f *fakeSessions) SetAuthenticatedSubject(ctx context.Context, key, subject string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects[key] = subject
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.AppointmentConfirmed
}

func (p *fakePublisher) PublishAppointmentConfirmed(ctx context.Context, evt events.AppointmentConfirmed) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	orch         *Orchestrator
	availability *fakeAvailability
	gateway      *fakeGateway
	appointments *fakeAppointments
	sessions     *fakeSessions
	publisher    *fakePublisher
	clock        *testClock
}

const testSessionKey = "browser-session-1"

func newHarness() *harness {
	h := &harness{
		availability: &fakeAvailability{slots: []slots.TimeSlot{
			{Time: "09:00", Available: true},
			{Time: "09:05", Available: true},
			{Time: "09:10", Available: true},
			{Time: "09:15", Available: false},
		}},
		gateway:      &fakeGateway{validCode: "123456"},
		appointments: &fakeAppointments{},
		sessions:     newFakeSessions(),
		publisher:    &fakePublisher{},
		clock:        &testClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)},
	}
	h.orch = New(testSessionKey, Deps{
		Availability:       h.availability,
		Gateway:            h.gateway,
		Appointments:       h.appointments,
		Sessions:           h.sessions,
		Publisher:          h.publisher,
		GranularityMinutes: 5,
		ResendCooldown:     30 * time.Second,
		Now:                h.clock.Now,
	})
	return h
}

func treatment(paymentRequired bool) catalog.Treatment {
	return catalog.Treatment{
		ID:              "hydrafacial",
		Name:            "HydraFacial",
		DurationMinutes: 15,
		PriceAmount:     12000,
		Currency:        "usd",
		PaymentRequired: paymentRequired,
	}
}

func branch() catalog.Branch {
	return catalog.Branch{ID: "downtown", Name: "Downtown"}
}

func catalogBranch(id string) catalog.Branch {
	return catalog.Branch{ID: id}
}
