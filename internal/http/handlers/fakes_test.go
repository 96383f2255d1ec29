package handlers

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-booking/internal/booking"
	"github.com/wolfman30/clinic-booking/internal/catalog"
	"github.com/wolfman30/clinic-booking/internal/http/middleware"
	"github.com/wolfman30/clinic-booking/internal/identity"
	"github.com/wolfman30/clinic-booking/internal/sessionstore"
	"github.com/wolfman30/clinic-booking/internal/slots"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

type stubSource struct {
	mu    sync.Mutex
	slots []slots.TimeSlot
	err   error
}

func (s *stubSource) LookupAvailableSlots(ctx context.Context, treatmentID, date, branchID string) ([]slots.TimeSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]slots.TimeSlot(nil), s.slots...), nil
}

type stubGateway struct {
	mu         sync.Mutex
	requests   int
	requestErr error
}

func (g *stubGateway) RequestOTP(ctx context.Context, phone string) (identity.OTPRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests++
	if g.requestErr != nil {
		return identity.OTPRequest{}, g.requestErr
	}
	return identity.OTPRequest{SubjectID: "subject-" + phone}, nil
}

func (g *stubGateway) VerifyOTP(ctx context.Context, phone, code string) (identity.OTPVerification, error) {
	if code != "123456" {
		return identity.OTPVerification{}, identity.ErrCodeRejected
	}
	return identity.OTPVerification{SubjectID: "subject-" + phone, Verified: true}, nil
}

type stubAppointments struct {
	mu       sync.Mutex
	payloads []booking.Payload
	err      error
}

func (a *stubAppointments) SubmitAppointment(ctx context.Context, p booking.Payload) (booking.Receipt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.payloads = append(a.payloads, p)
	if a.err != nil {
		return booking.Receipt{}, a.err
	}
	return booking.Receipt{AppointmentID: "appt-1"}, nil
}

type stubCatalog struct {
	treatments map[string]catalog.Treatment
	branches   map[string]catalog.Branch
	err        error
}

func newStubCatalog() *stubCatalog {
	return &stubCatalog{
		treatments: map[string]catalog.Treatment{
			"facial": {ID: "facial", Name: "Facial", DurationMinutes: 15, PriceAmount: 8000, Currency: "USD"},
			"peel":   {ID: "peel", Name: "Peel", DurationMinutes: 10, PriceAmount: 12000, Currency: "USD", PaymentRequired: true},
		},
		branches: map[string]catalog.Branch{
			"downtown": {ID: "downtown", Name: "Downtown", Hours: catalog.DefaultHours()},
		},
	}
}

func (c *stubCatalog) Treatment(ctx context.Context, id string) (catalog.Treatment, error) {
	if c.err != nil {
		return catalog.Treatment{}, c.err
	}
	t, ok := c.treatments[id]
	if !ok {
		return catalog.Treatment{}, catalog.ErrNotFound
	}
	return t, nil
}

func (c *stubCatalog) Branch(ctx context.Context, id string) (catalog.Branch, error) {
	if c.err != nil {
		return catalog.Branch{}, c.err
	}
	b, ok := c.branches[id]
	if !ok {
		return catalog.Branch{}, catalog.ErrNotFound
	}
	return b, nil
}

func (c *stubCatalog) SaveTreatment(ctx context.Context, t catalog.Treatment) error {
	if t.ID == "" || t.DurationMinutes <= 0 {
		return catalog.ErrInvalid
	}
	c.treatments[t.ID] = t
	return nil
}

func (c *stubCatalog) SaveBranch(ctx context.Context, b catalog.Branch) error {
	if b.ID == "" {
		return catalog.ErrInvalid
	}
	c.branches[b.ID] = b
	return nil
}

var errLookupDown = errors.New("lookup down")

type bookingServer struct {
	server       *httptest.Server
	tokens       *sessionstore.TokenIssuer
	sessions     *sessionstore.MemoryStore
	source       *stubSource
	gateway      *stubGateway
	appointments *stubAppointments
	catalog      *stubCatalog
	registry     *Registry
}

func newBookingServer(t *testing.T) *bookingServer {
	t.Helper()
	tokens, err := sessionstore.NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	bs := &bookingServer{
		tokens:   tokens,
		sessions: sessionstore.NewMemoryStore(time.Hour),
		source: &stubSource{slots: []slots.TimeSlot{
			{Time: "09:00", Available: true},
			{Time: "09:05", Available: true},
			{Time: "09:10", Available: true},
			{Time: "09:15", Available: false},
		}},
		gateway:      &stubGateway{},
		appointments: &stubAppointments{},
		catalog:      newStubCatalog(),
	}
	logger := logging.NewWithWriter("error", io.Discard)
	bs.registry = NewRegistry(time.Hour, logger)
	factory := func(sessionKey string) *booking.Orchestrator {
		return booking.New(sessionKey, booking.Deps{
			Availability:       bs.source,
			Gateway:            bs.gateway,
			Appointments:       bs.appointments,
			Sessions:           bs.sessions,
			Logger:             logger,
			GranularityMinutes: 5,
		})
	}
	bookings := NewBookingHandler(BookingHandlerConfig{
		Catalog:  bs.catalog,
		Registry: bs.registry,
		Factory:  factory,
		Logger:   logger,
	})
	sessionHandler := NewSessionHandler(tokens, bs.sessions, time.Hour, logger)

	r := chi.NewRouter()
	r.Post("/api/sessions", sessionHandler.Create)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Session(tokens))
		r.Delete("/api/sessions/current", sessionHandler.SignOut)
		r.Mount("/api/bookings", bookings.Routes(nil))
	})
	bs.server = httptest.NewServer(r)
	t.Cleanup(bs.server.Close)
	return bs
}
