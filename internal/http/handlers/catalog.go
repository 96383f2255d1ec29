package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-booking/internal/appointments"
	"github.com/wolfman30/clinic-booking/internal/catalog"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// CatalogStore reads and writes treatments and branches.
type CatalogStore interface {
	CatalogReader
	SaveTreatment(ctx context.Context, t catalog.Treatment) error
	SaveBranch(ctx context.Context, b catalog.Branch) error
}

// AppointmentCanceller cancels committed appointments.
type AppointmentCanceller interface {
	Cancel(ctx context.Context, id string) error
}

// CatalogHandler serves the treatment and branch catalog, and the admin
// endpoints that maintain it.
type CatalogHandler struct {
	store        CatalogStore
	appointments AppointmentCanceller
	logger       *logging.Logger
}

func NewCatalogHandler(store CatalogStore, appointments AppointmentCanceller, logger *logging.Logger) *CatalogHandler {
	if store == nil {
		panic("handlers: catalog store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CatalogHandler{store: store, appointments: appointments, logger: logger}
}

// GetTreatment returns one treatment.
// Route: GET /api/treatments/{treatmentID}
func (h *CatalogHandler) GetTreatment(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.Treatment(r.Context(), chi.URLParam(r, "treatmentID"))
	if err != nil {
		h.readError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// GetBranch returns one branch.
// Route: GET /api/branches/{branchID}
func (h *CatalogHandler) GetBranch(w http.ResponseWriter, r *http.Request) {
	b, err := h.store.Branch(r.Context(), chi.URLParam(r, "branchID"))
	if err != nil {
		h.readError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type treatmentRequest struct {
	Name                  string `json:"name" validate:"notblank"`
	DurationMinutes       int    `json:"duration_minutes" validate:"min=1,max=1440"`
	PriceAmount           int64  `json:"price_amount" validate:"min=0"`
	Currency              string `json:"currency" validate:"omitempty,len=3"`
	PaymentRequired       bool   `json:"payment_required"`
	MinForcePaymentAmount *int64 `json:"min_force_payment_amount" validate:"omitempty,min=0"`
	CancellationFee       int64  `json:"cancellation_fee" validate:"min=0"`
}

// PutTreatment creates or replaces a treatment.
// Route: PUT /admin/treatments/{treatmentID}
func (h *CatalogHandler) PutTreatment(w http.ResponseWriter, r *http.Request) {
	var req treatmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t := catalog.Treatment{
		ID:                    strings.TrimSpace(chi.URLParam(r, "treatmentID")),
		Name:                  strings.TrimSpace(req.Name),
		DurationMinutes:       req.DurationMinutes,
		PriceAmount:           req.PriceAmount,
		Currency:              strings.ToUpper(req.Currency),
		PaymentRequired:       req.PaymentRequired,
		MinForcePaymentAmount: req.MinForcePaymentAmount,
		CancellationFee:       req.CancellationFee,
	}
	if err := h.store.SaveTreatment(r.Context(), t); err != nil {
		h.writeError(w, "treatment", err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type branchRequest struct {
	Name     string                      `json:"name" validate:"notblank"`
	Timezone string                      `json:"timezone" validate:"omitempty,timezone"`
	Hours    map[string]catalog.DayHours `json:"hours" validate:"omitempty,dive,keys,oneof=monday tuesday wednesday thursday friday saturday sunday,endkeys,required"`
}

// PutBranch creates or replaces a branch. Omitted hours default to weekdays.
// Route: PUT /admin/branches/{branchID}
func (h *CatalogHandler) PutBranch(w http.ResponseWriter, r *http.Request) {
	var req branchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	b := catalog.Branch{
		ID:       strings.TrimSpace(chi.URLParam(r, "branchID")),
		Name:     strings.TrimSpace(req.Name),
		Timezone: req.Timezone,
		Hours:    req.Hours,
	}
	if err := h.store.SaveBranch(r.Context(), b); err != nil {
		h.writeError(w, "branch", err)
		return
	}
	if b.Hours == nil {
		b.Hours = catalog.DefaultHours()
	}
	writeJSON(w, http.StatusOK, b)
}

// CancelAppointment releases a committed appointment's time.
// Route: DELETE /admin/appointments/{appointmentID}
func (h *CatalogHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	if h.appointments == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "appointments not configured", Code: "unavailable"})
		return
	}
	id := chi.URLParam(r, "appointmentID")
	if err := h.appointments.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, appointments.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "appointment not found", Code: "not_found"})
			return
		}
		h.logger.Error("failed to cancel appointment", "appointment_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal"})
		return
	}
	h.logger.Info("appointment cancelled", "appointment_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *CatalogHandler) readError(w http.ResponseWriter, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found", Code: "not_found"})
		return
	}
	h.logger.Error("catalog read failed", "error", err)
	writeJSON(w, http.StatusBadGateway, errorResponse{Error: "catalog unavailable", Code: "catalog_unavailable"})
}

func (h *CatalogHandler) writeError(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, catalog.ErrInvalid) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "validation_failed"})
		return
	}
	h.logger.Error("catalog write failed", "entity", what, "error", err)
	writeJSON(w, http.StatusBadGateway, errorResponse{Error: "catalog unavailable", Code: "catalog_unavailable"})
}
