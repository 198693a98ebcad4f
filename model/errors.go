package model

import "fmt"

// Standard error codes.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrNotFound           = "NOT_FOUND"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
)

// Wizard-specific error codes.
const (
	ErrSessionExpired   = "SESSION_EXPIRED"
	ErrStepPrecondition = "STEP_PRECONDITION"
	ErrStepOutOfRange   = "STEP_OUT_OF_RANGE"
	ErrRemoteRejected   = "REMOTE_REJECTED"
	ErrWizardNotFound   = "WIZARD_NOT_FOUND"
)

// ErrorEnvelope is the standard error response envelope returned by the BFF.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	// RedirectStep instructs the client to move to this step before
	// retrying. Set on STEP_PRECONDITION and STEP_OUT_OF_RANGE.
	RedirectStep int    `json:"redirect_step,omitempty"`
	TraceID      string `json:"trace_id"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "The onboarding service is temporarily unavailable",
	}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendTimeout,
		Message: "The onboarding service did not respond in time",
	}
}

// NewSessionExpiredError returns a SESSION_EXPIRED error. The client
// responds by redirecting to login.
func NewSessionExpiredError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrSessionExpired,
		Message: "Your session has expired. Please sign in again.",
	}
}

// NewStepPreconditionError returns a STEP_PRECONDITION error carrying the
// step the client must complete first.
func NewStepPreconditionError(redirectStep int, missing string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:         ErrStepPrecondition,
		Message:      fmt.Sprintf("Step requires %q which has not been produced yet", missing),
		RedirectStep: redirectStep,
	}
}

// NewStepOutOfRangeError returns a STEP_OUT_OF_RANGE error carrying the
// corrected step.
func NewStepOutOfRangeError(redirectStep int) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:         ErrStepOutOfRange,
		Message:      "Requested step does not exist",
		RedirectStep: redirectStep,
	}
}

// NewWizardCompletedError rejects submissions against a wizard that has
// already reached its terminal state.
func NewWizardCompletedError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrStepOutOfRange,
		Message: "The wizard has already been completed",
	}
}

// NewRemoteRejectedError returns a REMOTE_REJECTED error with the messages
// the onboarding service reported.
func NewRemoteRejectedError(msg string) *ErrorEnvelope {
	if msg == "" {
		msg = "The onboarding service rejected the submission"
	}
	return &ErrorEnvelope{Code: ErrRemoteRejected, Message: msg}
}

// NewWizardNotFoundError returns a WIZARD_NOT_FOUND error.
func NewWizardNotFoundError(id string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrWizardNotFound,
		Message: fmt.Sprintf("Wizard variant %q is not registered", id),
	}
}
