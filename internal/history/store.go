// Package history records the submission audit trail for onboarding
// sessions. Appends are best-effort: a failed append is logged by the
// caller and never fails a submission.
package history

import (
	"context"

	"github.com/mosaicfin/onboard/model"
)

// Store persists submission events.
type Store interface {
	// Append adds an event to the trail.
	Append(ctx context.Context, event model.SubmissionEvent) error

	// List returns a session's events in append order, scoped to tenant.
	List(ctx context.Context, tenant, sessionID string) ([]model.SubmissionEvent, error)
}
