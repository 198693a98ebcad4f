package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mosaicfin/onboard/model"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, map[string]string{"hello": "world"})

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if xct := w.Header().Get("X-Content-Type-Options"); xct != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", xct)
	}

	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["hello"] != "world" {
		t.Errorf("body = %v", body)
	}
}

func TestWriteJSON_nilBody(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusNoContent, nil)

	if w.Code != 204 {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", w.Body.String())
	}
}

func TestWriteError_statusMapping(t *testing.T) {
	tests := []struct {
		err    *model.ErrorEnvelope
		status int
	}{
		{model.NewBadRequestError("bad"), 400},
		{model.NewUnauthorizedError("no"), 401},
		{model.NewSessionExpiredError(), 401},
		{model.NewNotFoundError("gone"), 404},
		{model.NewWizardNotFoundError("kyc_x"), 404},
		{model.NewStepPreconditionError(1, "kyc_request_id"), 409},
		{model.NewStepOutOfRangeError(1), 409},
		{model.NewValidationError(nil), 422},
		{model.NewRemoteRejectedError("PAN mismatch"), 422},
		{model.NewInternalError(), 500},
		{model.NewBackendUnavailableError(), 502},
		{model.NewBackendTimeoutError(), 504},
	}

	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, httptest.NewRequest("GET", "/", nil), tt.err)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			var body struct {
				Error *model.ErrorEnvelope `json:"error"`
			}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if body.Error.Code != tt.err.Code {
				t.Errorf("code = %q, want %q", body.Error.Code, tt.err.Code)
			}
		})
	}
}

func TestWriteError_unknownErrorBecomes500(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, httptest.NewRequest("GET", "/", nil), errors.New("boom"))

	if w.Code != 500 {
		t.Errorf("status = %d, want 500", w.Code)
	}
	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if body.Error.Code != model.ErrInternalError {
		t.Errorf("code = %q, want INTERNAL_ERROR", body.Error.Code)
	}
	// The raw error message must not leak to the client.
	if body.Error.Message == "boom" {
		t.Error("internal error message leaked to response")
	}
}

func TestWriteError_redirectStepSurvives(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, httptest.NewRequest("GET", "/", nil), model.NewStepPreconditionError(2, "kyc_request_id"))

	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if body.Error.RedirectStep != 2 {
		t.Errorf("redirect_step = %d, want 2", body.Error.RedirectStep)
	}
}

func TestWriteError_fillsTraceIDFromCorrelationID(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	ctx := context.WithValue(req.Context(), correlationIDKey{}, "corr-42")
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	WriteError(w, req, model.NewBadRequestError("bad"))

	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if body.Error.TraceID != "corr-42" {
		t.Errorf("trace_id = %q, want corr-42", body.Error.TraceID)
	}
}

func TestWriteValidationError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteValidationError(w, httptest.NewRequest("POST", "/", nil), []model.FieldError{
		{Field: "pan", Code: "PATTERN", Message: "does not match the expected format"},
	})

	if w.Code != 422 {
		t.Errorf("status = %d, want 422", w.Code)
	}
	var body struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if len(body.Error.Details) != 1 || body.Error.Details[0].Field != "pan" {
		t.Errorf("details = %+v", body.Error.Details)
	}
}
