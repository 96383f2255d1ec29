package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinic-booking/internal/booking"
	"github.com/wolfman30/clinic-booking/internal/catalog"
	"github.com/wolfman30/clinic-booking/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinic-booking/internal/http/middleware"
	"github.com/wolfman30/clinic-booking/internal/identity"
	"github.com/wolfman30/clinic-booking/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking/internal/sessionstore"
	"github.com/wolfman30/clinic-booking/internal/slots"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

const adminSecret = "admin-secret"

type memoryCatalog struct {
	treatments map[string]catalog.Treatment
	branches   map[string]catalog.Branch
}

func (c *memoryCatalog) Treatment(ctx context.Context, id string) (catalog.Treatment, error) {
	t, ok := c.treatments[id]
	if !ok {
		return catalog.Treatment{}, catalog.ErrNotFound
	}
	return t, nil
}

func (c *memoryCatalog) Branch(ctx context.Context, id string) (catalog.Branch, error) {
	b, ok := c.branches[id]
	if !ok {
		return catalog.Branch{}, catalog.ErrNotFound
	}
	return b, nil
}

func (c *memoryCatalog) SaveTreatment(ctx context.Context, t catalog.Treatment) error {
	c.treatments[t.ID] = t
	return nil
}

func (c *memoryCatalog) SaveBranch(ctx context.Context, b catalog.Branch) error {
	c.branches[b.ID] = b
	return nil
}

type openSource struct{}

func (openSource) LookupAvailableSlots(ctx context.Context, treatmentID, date, branchID string) ([]slots.TimeSlot, error) {
	return []slots.TimeSlot{{Time: "09:00", Available: true}, {Time: "09:05", Available: true}}, nil
}

type noGateway struct{}

func (noGateway) RequestOTP(ctx context.Context, phone string) (identity.OTPRequest, error) {
	return identity.OTPRequest{SubjectID: "s"}, nil
}

func (noGateway) VerifyOTP(ctx context.Context, phone, code string) (identity.OTPVerification, error) {
	return identity.OTPVerification{}, identity.ErrCodeRejected
}

type noAppointments struct{}

func (noAppointments) SubmitAppointment(ctx context.Context, p booking.Payload) (booking.Receipt, error) {
	return booking.Receipt{AppointmentID: "a1"}, nil
}

func newTestRouter(t *testing.T) (http.Handler, *sessionstore.TokenIssuer) {
	t.Helper()

	logger := logging.NewWithWriter("error", io.Discard)
	tokens, err := sessionstore.NewTokenIssuer("session-secret", time.Hour)
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	store := sessionstore.NewMemoryStore(time.Hour)
	cat := &memoryCatalog{
		treatments: map[string]catalog.Treatment{"facial": {ID: "facial", Name: "Facial", DurationMinutes: 10}},
		branches:   map[string]catalog.Branch{"downtown": {ID: "downtown", Name: "Downtown", Hours: catalog.DefaultHours()}},
	}
	reg := prometheus.NewRegistry()
	bookingMetrics := metrics.NewBookingMetrics(reg)

	bookings := handlers.NewBookingHandler(handlers.BookingHandlerConfig{
		Catalog:  cat,
		Registry: handlers.NewRegistry(time.Hour, logger),
		Factory: func(sessionKey string) *booking.Orchestrator {
			return booking.New(sessionKey, booking.Deps{
				Availability: openSource{},
				Gateway:      noGateway{},
				Appointments: noAppointments{},
				Sessions:     store,
				Metrics:      bookingMetrics,
				Logger:       logger,
			})
		},
		Logger: logger,
	})

	cfg := &Config{
		Logger:             logger,
		Health:             handlers.NewHealthHandler(nil),
		Sessions:           handlers.NewSessionHandler(tokens, store, time.Hour, logger),
		Bookings:           bookings,
		Catalog:            handlers.NewCatalogHandler(cat, nil, logger),
		Availability:       handlers.NewAvailabilityHandler(openSource{}, logger),
		SessionParser:      tokens,
		AdminAuthSecret:    adminSecret,
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: []string{"https://book.example.com"},
		OTPRateLimit:       1,
		OTPRateBurst:       5,
	}
	return New(cfg), tokens
}

func TestRouterHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Errorf("expected a request id header")
	}
}

func TestRouterBookingsRequireSession(t *testing.T) {
	router, tokens := newTestRouter(t)

	body := `{"treatment_id":"facial","branch_id":"downtown"}`
	req := httptest.NewRequest(http.MethodPost, "/api/bookings", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a session, got %d", rr.Code)
	}

	token, _, err := tokens.Issue()
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/api/bookings", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var view booking.View
	if err := json.NewDecoder(rr.Body).Decode(&view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/api/bookings/"+view.BookingID+"/date", strings.NewReader(`{"date":"2026-03-02"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from date selection, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRouterAdminRequiresJWT(t *testing.T) {
	router, _ := newTestRouter(t)
	body := `{"name":"Laser","duration_minutes":30}`

	req := httptest.NewRequest(http.MethodPut, "/admin/treatments/laser", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	claims := jwt.RegisteredClaims{
		Subject:   "ops",
		Audience:  jwt.ClaimStrings{httpmiddleware.AdminAudience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(adminSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req = httptest.NewRequest(http.MethodPut, "/admin/treatments/laser", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+signed)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/treatments/laser", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected stored treatment, got %d", rr.Code)
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/bookings", nil)
	req.Header.Set("Origin", "https://book.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://book.example.com" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
