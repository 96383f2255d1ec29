package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-booking/internal/availability"
	"github.com/wolfman30/clinic-booking/internal/catalog"
	"github.com/wolfman30/clinic-booking/internal/slots"
	"github.com/wolfman30/clinic-booking/internal/validation"
	"github.com/wolfman30/clinic-booking/pkg/logging"
)

// AvailabilityHandler answers slot lookups outside of a booking, for
// calendars that preview open times.
type AvailabilityHandler struct {
	source availability.Source
	logger *logging.Logger
}

func NewAvailabilityHandler(source availability.Source, logger *logging.Logger) *AvailabilityHandler {
	if source == nil {
		panic("handlers: availability source required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AvailabilityHandler{source: source, logger: logger}
}

type availabilityQuery struct {
	TreatmentID string `json:"treatment_id" validate:"notblank"`
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
}

type availabilityResponse struct {
	BranchID    string           `json:"branch_id"`
	TreatmentID string           `json:"treatment_id"`
	Date        string           `json:"date"`
	Slots       []slots.TimeSlot `json:"slots"`
}

// Lookup returns the slot grid for a branch and date. A closed day yields an
// empty list.
// Route: GET /api/branches/{branchID}/availability?treatment_id=&date=
func (h *AvailabilityHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	q := availabilityQuery{
		TreatmentID: strings.TrimSpace(r.URL.Query().Get("treatment_id")),
		Date:        strings.TrimSpace(r.URL.Query().Get("date")),
	}
	if err := validation.Struct(q); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  validation.Message(err),
			Code:   "validation_failed",
			Fields: validation.FailedFields(err),
		})
		return
	}
	branchID := chi.URLParam(r, "branchID")
	result, err := h.source.LookupAvailableSlots(r.Context(), q.TreatmentID, q.Date, branchID)
	switch {
	case errors.Is(err, availability.ErrUnavailable):
		result = []slots.TimeSlot{}
	case errors.Is(err, catalog.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "branch not found", Code: "not_found"})
		return
	case err != nil:
		h.logger.Error("availability lookup failed", "branch_id", branchID, "date", q.Date, "error", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "availability unavailable", Code: "network_error"})
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{
		BranchID:    branchID,
		TreatmentID: q.TreatmentID,
		Date:        q.Date,
		Slots:       result,
	})
}
