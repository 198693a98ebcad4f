// Package transport contains the HTTP router, middleware chain, and all
// request handlers for the onboarding BFF API.
package transport

import (
	"encoding/json"
	"net/http"

	"github.com/mosaicfin/onboard/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:         http.StatusBadRequest,
	model.ErrUnauthorized:       http.StatusUnauthorized,
	model.ErrSessionExpired:     http.StatusUnauthorized,
	model.ErrNotFound:           http.StatusNotFound,
	model.ErrWizardNotFound:     http.StatusNotFound,
	model.ErrValidationError:    http.StatusUnprocessableEntity,
	model.ErrStepPrecondition:   http.StatusConflict,
	model.ErrStepOutOfRange:     http.StatusConflict,
	model.ErrRemoteRejected:     http.StatusUnprocessableEntity,
	model.ErrInternalError:      http.StatusInternalServerError,
	model.ErrBackendUnavailable: http.StatusBadGateway,
	model.ErrBackendTimeout:     http.StatusGatewayTimeout,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code. If err is not an *ErrorEnvelope, a generic 500 is
// returned. The envelope's TraceID is filled from the request correlation
// ID when the caller has not set it.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ee, ok := err.(*model.ErrorEnvelope)
	if !ok {
		ee = model.NewInternalError()
	}
	if ee.TraceID == "" && r != nil {
		ee.TraceID = CorrelationIDFrom(r.Context())
	}

	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	type errorResponse struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}

// WriteValidationError writes a 422 error response with field-level details.
func WriteValidationError(w http.ResponseWriter, r *http.Request, details []model.FieldError) {
	WriteError(w, r, model.NewValidationError(details))
}
