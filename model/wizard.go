package model

import "time"

// Per-step status values as seen by the client.
const (
	StepStatusCompleted  = "completed"
	StepStatusInProgress = "in_progress"
	StepStatusFuture     = "future"
)

// Submission audit events.
const (
	EventStepSubmitted   = "step_submitted"
	EventStepCompleted   = "step_completed"
	EventStepFailed      = "step_failed"
	EventWizardCompleted = "wizard_completed"
)

// StepSummary is the lightweight per-step entry in the wizard descriptor,
// used by the client to render the progress rail.
type StepSummary struct {
	ID     int    `json:"id"`
	Slug   string `json:"slug"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// StepDescriptor is the render payload for the resolved step.
type StepDescriptor struct {
	ID       int               `json:"id"`
	Slug     string            `json:"slug"`
	Title    string            `json:"title"`
	Section  string            `json:"section,omitempty"`
	Terminal bool              `json:"terminal"`
	Fields   []FieldDefinition `json:"fields,omitempty"`
	// ESignURL carries the redirect target produced by a mount-triggered
	// e-sign step. Empty for all other steps.
	ESignURL string `json:"esign_url,omitempty"`
}

// WizardDescriptor is the full response for GET /ui/wizard. When Redirect
// is set the client must rewrite its URL to RedirectStep before rendering.
type WizardDescriptor struct {
	WizardID     string         `json:"wizard_id"`
	Name         string         `json:"name"`
	MinStep      int            `json:"min_step"`
	MaxStep      int            `json:"max_step"`
	Completed    bool           `json:"completed"`
	Redirect     bool           `json:"redirect,omitempty"`
	RedirectStep int            `json:"redirect_step,omitempty"`
	Step         StepDescriptor `json:"step"`
	Steps        []StepSummary  `json:"steps"`
}

// SubmissionResult reports the outcome of a successful step submission.
// Failures are reported as *ErrorEnvelope instead.
type SubmissionResult struct {
	OK         bool   `json:"ok"`
	ServerID   string `json:"server_id,omitempty"`
	NextStepID int    `json:"next_step_id,omitempty"`
	Completed  bool   `json:"completed,omitempty"`
	ESignURL   string `json:"esign_url,omitempty"`
}

// SubmissionEvent records one entry in a session's audit trail.
type SubmissionEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Tenant    string    `json:"tenant"`
	StepID    int       `json:"step_id"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
