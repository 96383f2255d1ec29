package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-booking/internal/booking"
	"github.com/wolfman30/clinic-booking/internal/catalog"
	"github.com/wolfman30/clinic-booking/internal/http/middleware"
	"github.com/wolfman30/clinic-booking/internal/payments"
	"github.com/wolfman30/clinic-booking/internal/slots"
	"github.com/wolfman30/clinic-booking/internal/steps"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// CatalogReader resolves the treatment and branch a booking is made against.
type CatalogReader interface {
	Treatment(ctx context.Context, id string) (catalog.Treatment, error)
	Branch(ctx context.Context, id string) (catalog.Branch, error)
}

// OrchestratorFactory builds an orchestrator bound to a browser session.
type OrchestratorFactory func(sessionKey string) *booking.Orchestrator

type BookingHandlerConfig struct {
	Catalog  CatalogReader
	Registry *Registry
	Factory  OrchestratorFactory
	Logger   *logging.Logger
}

// BookingHandler exposes the booking flow over HTTP. Every route requires a
// browser session.
type BookingHandler struct {
	catalog  CatalogReader
	registry *Registry
	factory  OrchestratorFactory
	logger   *logging.Logger
}

func NewBookingHandler(cfg BookingHandlerConfig) *BookingHandler {
	if cfg.Catalog == nil {
		panic("handlers: catalog reader required")
	}
	if cfg.Registry == nil {
		panic("handlers: booking registry required")
	}
	if cfg.Factory == nil {
		panic("handlers: orchestrator factory required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &BookingHandler{
		catalog:  cfg.Catalog,
		registry: cfg.Registry,
		factory:  cfg.Factory,
		logger:   cfg.Logger,
	}
}

// Routes mounts the booking endpoints; rateLimited wraps the routes that
// dispatch passcodes.
func (h *BookingHandler) Routes(rateLimited func(http.Handler) http.Handler) http.Handler {
	if rateLimited == nil {
		rateLimited = func(next http.Handler) http.Handler { return next }
	}
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Route("/{bookingID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Delete)
		r.Post("/date", h.SelectDate)
		r.Post("/slot", h.ChooseSlot)
		r.Put("/phone", h.SetPhone)
		r.Post("/otp/cells", h.EnterCodeCell)
		r.Post("/otp/backspace", h.BackspaceCodeCell)
		r.Post("/otp/paste", h.PasteCode)
		r.Put("/payment", h.SetPayment)
		r.With(rateLimited).Post("/advance", h.Advance)
		r.Post("/retreat", h.Retreat)
		r.With(rateLimited).Post("/resend", h.Resend)
	})
	return r
}

type createBookingRequest struct {
	TreatmentID string `json:"treatment_id" validate:"notblank"`
	BranchID    string `json:"branch_id" validate:"notblank"`
}

// Create starts a booking for the caller's session.
// Route: POST /api/bookings
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	sessionKey, ok := requireSession(w, r)
	if !ok {
		return
	}
	var req createBookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	treatment, err := h.catalog.Treatment(r.Context(), strings.TrimSpace(req.TreatmentID))
	if err != nil {
		h.catalogError(w, "treatment", err)
		return
	}
	branch, err := h.catalog.Branch(r.Context(), strings.TrimSpace(req.BranchID))
	if err != nil {
		h.catalogError(w, "branch", err)
		return
	}

	orch := h.factory(sessionKey)
	if err := orch.Activate(r.Context(), treatment, branch); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Code: "invalid_catalog_entry"})
		return
	}
	view := orch.Snapshot()
	h.registry.Put(view.BookingID, sessionKey, orch)
	h.logger.Info("booking created", "booking_id", view.BookingID, "treatment_id", treatment.ID, "branch_id", branch.ID)
	writeJSON(w, http.StatusCreated, view)
}

func (h *BookingHandler) catalogError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: what + " not found", Code: "not_found"})
		return
	}
	h.logger.Error("catalog lookup failed", "entity", what, "error", err)
	writeJSON(w, http.StatusBadGateway, errorResponse{Error: "catalog unavailable", Code: "catalog_unavailable"})
}

// Get returns the booking view.
// Route: GET /api/bookings/{bookingID}
func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	orch, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, orch.Snapshot())
}

// Delete abandons the booking.
// Route: DELETE /api/bookings/{bookingID}
func (h *BookingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sessionKey, ok := requireSession(w, r)
	if !ok {
		return
	}
	if err := h.registry.Remove(chi.URLParam(r, "bookingID"), sessionKey); err != nil {
		writeBookingError(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type selectDateRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
}

type slotsResponse struct {
	Slots   []slots.TimeSlot `json:"slots"`
	Booking booking.View     `json:"booking"`
}

// SelectDate loads the slots for a date.
// Route: POST /api/bookings/{bookingID}/date
func (h *BookingHandler) SelectDate(w http.ResponseWriter, r *http.Request) {
	orch, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req selectDateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := orch.SelectDate(r.Context(), req.Date)
	if err != nil {
		h.fail(w, orch, err)
		return
	}
	if result == nil {
		result = []slots.TimeSlot{}
	}
	writeJSON(w, http.StatusOK, slotsResponse{Slots: result, Booking: orch.Snapshot()})
}

type chooseSlotRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
	Time string `json:"time" validate:"required,datetime=15:04"`
}

type slotResponse struct {
	SelectedRange []int        `json:"selected_range"`
	Booking       booking.View `json:"booking"`
}

// ChooseSlot selects a start time.
// Route: POST /api/bookings/{bookingID}/slot
func (h *BookingHandler) ChooseSlot(w http.ResponseWriter, r *http.Request) {
	orch, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req chooseSlotRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	indices, err := orch.ChooseSlot(req.Date, req.Time)
	if err != nil {
		h.fail(w, orch, err)
		return
	}
	writeJSON(w, http.StatusOK, slotResponse{SelectedRange: indices, Booking: orch.Snapshot()})
}

type phoneRequest struct {
	CountryCode string `json:"country_code"`
	Number      string `json:"number"`
}

// SetPhone records the phone number. Format checks happen on advance.
// Route: PUT /api/bookings/{bookingID}/phone
func (h *BookingHandler) SetPhone(w http.ResponseWriter, r *http.Request) {
	orch, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req phoneRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.apply(w, orch, orch.SetPhone(req.CountryCode, req.Number))
}

type codeCellRequest struct {
	Index *int   `json:"index" validate:"required,min=0,max=5"`
	Value string `json:"value"`
}

// EnterCodeCell types into one passcode cell.
// Route: POST /api/bookings/{bookingID}/otp/cells
func (h *BookingHandler) EnterCodeCell(w http.ResponseWriter, r *http.Request) {
	orch, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req codeCellRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.apply(w, orch, orch.EnterCodeCell(*req.Index, req.Value))
}

type backspaceRequest struct {
	Index *int `json:"index" validate:"required,min=0,max=5"`
}

// BackspaceCodeCell clears a passcode cell.
// Route: POST /api/bookings/{bookingID}/otp/backspace
func (h *BookingHandler) BackspaceCodeCell(w http.ResponseWriter, r *http.Request) {
	orch, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req backspaceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.apply(w, orch, orch.BackspaceCodeCell(*req.Index))
}

type pasteRequest struct {
	Code string `json:"code" validate:"required"`
}

// PasteCode fills every passcode cell.
// Route: POST /api/bookings/{bookingID}/otp/paste
func (h *BookingHandler) PasteCode(w http.ResponseWriter, r *http.Request) {
	orch, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req pasteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.apply(w, orch, orch.PasteCode(req.Code))
}

// paymentRequest carries no validation tags; missing fields are reported
// when the booking advances.
type paymentRequest struct {
	CardholderName string `json:"cardholder_name"`
	CardNumber     string `json:"card_number"`
	ExpiryMonth    string `json:"expiry_month"`
	ExpiryYear     string `json:"expiry_year"`
	CVC            string `json:"cvc"`
	PIN            string `json:"pin,omitempty"`
}

// SetPayment records card details.
// Route: PUT /api/bookings/{bookingID}/payment
func (h *BookingHandler) SetPayment(w http.ResponseWriter, r *http.Request) {
	orch, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.apply(w, orch, orch.SetPaymentDetails(payments.Details(req)))
}

type stepResponse struct {
	Step    steps.Step   `json:"step"`
	Booking booking.View `json:"booking"`
}

// Advance moves the booking forward, committing it before the confirmation.
// Route: POST /api/bookings/{bookingID}/advance
func (h *BookingHandler) Advance(w http.ResponseWriter, r *http.Request) {
	orch, ok := h.lookup(w, r)
	if !ok {
		return
	}
	step, err := orch.Advance(r.Context())
	if err != nil {
		h.fail(w, orch, err)
		return
	}
	writeJSON(w, http.StatusOK, stepResponse{Step: step, Booking: orch.Snapshot()})
}

// Retreat moves the booking back one step.
// Route: POST /api/bookings/{bookingID}/retreat
func (h *BookingHandler) Retreat(w http.ResponseWriter, r *http.Request) {
	orch, ok := h.lookup(w, r)
	if !ok {
		return
	}
	step, err := orch.Retreat()
	if err != nil {
		h.fail(w, orch, err)
		return
	}
	writeJSON(w, http.StatusOK, stepResponse{Step: step, Booking: orch.Snapshot()})
}

// Resend requests a fresh passcode.
// Route: POST /api/bookings/{bookingID}/resend
func (h *BookingHandler) Resend(w http.ResponseWriter, r *http.Request) {
	orch, ok := h.lookup(w, r)
	if !ok {
		return
	}
	info, err := orch.Resend(r.Context())
	if err != nil {
		h.fail(w, orch, err)
		return
	}
	view := orch.Snapshot()
	view.Message = info
	writeJSON(w, http.StatusOK, view)
}

func (h *BookingHandler) lookup(w http.ResponseWriter, r *http.Request) (*booking.Orchestrator, bool) {
	sessionKey, ok := requireSession(w, r)
	if !ok {
		return nil, false
	}
	orch, err := h.registry.Get(chi.URLParam(r, "bookingID"), sessionKey)
	if err != nil {
		writeBookingError(w, err, nil)
		return nil, false
	}
	return orch, true
}

func (h *BookingHandler) apply(w http.ResponseWriter, orch *booking.Orchestrator, err error) {
	if err != nil {
		h.fail(w, orch, err)
		return
	}
	writeJSON(w, http.StatusOK, orch.Snapshot())
}

func (h *BookingHandler) fail(w http.ResponseWriter, orch *booking.Orchestrator, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		h.logger.Error("booking request failed", "code", code, "error", err)
	}
	view := orch.Snapshot()
	writeBookingError(w, err, &view)
}

func requireSession(w http.ResponseWriter, r *http.Request) (string, bool) {
	key, ok := middleware.SessionKeyFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "session required", Code: "unauthorized"})
		return "", false
	}
	return key, true
}
