package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wolfman30/clinic-booking/internal/availability"
	"github.com/wolfman30/clinic-booking/internal/booking"
	"github.com/wolfman30/clinic-booking/internal/catalog"
	"github.com/wolfman30/clinic-booking/internal/identity"
	"github.com/wolfman30/clinic-booking/internal/notice"
	"github.com/wolfman30/clinic-booking/internal/validation"
)

// maxBodyBytes bounds request bodies; booking payloads are small.
const maxBodyBytes = 64 << 10

type errorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Notice  *notice.Notice `json:"notice,omitempty"`
	Fields  []string       `json:"fields,omitempty"`
	Booking *booking.View  `json:"booking,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeJSON reads a JSON body into dst and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Code: "bad_request"})
		return false
	}
	if err := validation.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  validation.Message(err),
			Code:   "validation_failed",
			Fields: validation.FailedFields(err),
		})
		return false
	}
	return true
}

// statusFor maps booking errors onto HTTP statuses.
func statusFor(err error) (int, string) {
	var ne *notice.Error
	switch {
	case errors.As(err, &ne):
		switch ne.Kind {
		case notice.OtpDispatchFailed, notice.NetworkError:
			return http.StatusBadGateway, string(ne.Kind)
		case notice.CommitFailed:
			return http.StatusConflict, string(ne.Kind)
		default:
			return http.StatusUnprocessableEntity, string(ne.Kind)
		}
	case errors.Is(err, booking.ErrBusy):
		return http.StatusConflict, "busy"
	case errors.Is(err, availability.ErrStale):
		return http.StatusConflict, "stale"
	case errors.Is(err, booking.ErrCompleted):
		return http.StatusConflict, "completed"
	case errors.Is(err, booking.ErrWrongStep):
		return http.StatusConflict, "wrong_step"
	case errors.Is(err, booking.ErrNotActive), errors.Is(err, errBookingNotFound), errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, identity.ErrRejectedInput):
		return http.StatusUnprocessableEntity, "rejected_input"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeBookingError reports err along with the current booking view so the
// client can render the persistent message, if any.
func writeBookingError(w http.ResponseWriter, err error, view *booking.View) {
	status, code := statusFor(err)
	resp := errorResponse{Error: err.Error(), Code: code, Booking: view}
	var ne *notice.Error
	if errors.As(err, &ne) {
		resp.Error = ne.Message
		resp.Notice = notice.From(err)
	} else if status == http.StatusInternalServerError {
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}
