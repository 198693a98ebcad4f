// Package session stores server-side onboarding session records. Expiry is
// lazy: expired records read as absent and no background sweep runs.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/mosaicfin/onboard/model"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session: not found")

// Store persists session records keyed by session ID.
type Store interface {
	// Get returns the session with the given ID. Expired sessions read as
	// absent and return ErrNotFound.
	Get(ctx context.Context, id string) (*model.Session, error)

	// Put creates or replaces the session record.
	Put(ctx context.Context, s *model.Session) error

	// Delete removes the session record. Deleting a missing session is not
	// an error.
	Delete(ctx context.Context, id string) error
}

// Key builds the storage key for a session ID.
func Key(id string) string {
	return fmt.Sprintf("sess:%s", id)
}
