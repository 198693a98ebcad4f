package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mosaicfin/onboard/internal/gateway"
	"github.com/mosaicfin/onboard/model"
)

// Authenticator exchanges client credentials for a tenant-scoped access
// token. *gateway.Client satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, tenant string) (gateway.Token, error)
}

// sessionResponse is the body returned when a session is created.
type sessionResponse struct {
	SessionID     string    `json:"session_id"`
	WizardID      string    `json:"wizard_id"`
	CurrentStepID int       `json:"current_step_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// handleSessionCreate starts an onboarding session: it authenticates the
// tenant against the remote API, persists a fresh session record, and sets
// the signed session cookie. The wizard variant defaults from configuration
// when the request does not name one.
func handleSessionCreate(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Tenant string `json:"tenant"`
			Wizard string `json:"wizard"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, r, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if body.Tenant == "" {
			WriteError(w, r, model.NewBadRequestError("tenant is required"))
			return
		}
		wizardID := body.Wizard
		if wizardID == "" {
			wizardID = deps.Config.Wizard.DefaultVariant
		}
		if _, ok := deps.Registry.GetWizard(wizardID); !ok {
			WriteError(w, r, model.NewWizardNotFoundError(wizardID))
			return
		}

		tok, err := deps.Auth.Authenticate(r.Context(), body.Tenant)
		if err != nil {
			deps.Log.Warn("tenant authentication failed",
				zap.String("tenant", body.Tenant),
				zap.Error(err),
			)
			WriteError(w, r, err)
			return
		}

		// CurrentStepID stays zero until step 1 produces the KYC request;
		// the sequencer treats zero as the first step.
		now := time.Now()
		sess := &model.Session{
			ID:          uuid.New().String(),
			Tenant:      body.Tenant,
			WizardID:    wizardID,
			AccessToken: tok.AccessToken,
			TokenExpiry: tok.ExpiresAt,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(deps.Config.Session.TTL),
		}
		if err := deps.Sessions.Put(r.Context(), sess); err != nil {
			deps.Log.Error("session persist failed", zap.Error(err), zap.String("session_id", sess.ID))
			WriteError(w, r, model.NewInternalError())
			return
		}

		cookie, err := IssueSessionCookie(deps.Config.Session, sess.ID, sess.ExpiresAt)
		if err != nil {
			deps.Log.Error("session cookie signing failed", zap.Error(err))
			WriteError(w, r, model.NewInternalError())
			return
		}
		http.SetCookie(w, cookie)

		if deps.Metrics != nil {
			deps.Metrics.RecordSessionStart(sess.Tenant)
		}
		deps.Log.Info("session started",
			zap.String("session_id", sess.ID),
			zap.String("tenant", sess.Tenant),
			zap.String("wizard_id", sess.WizardID),
		)

		WriteJSON(w, http.StatusCreated, sessionResponse{
			SessionID:     sess.ID,
			WizardID:      sess.WizardID,
			CurrentStepID: model.MinStep,
			ExpiresAt:     sess.ExpiresAt,
		})
	}
}

// handleSessionEnd deletes the session record and clears the cookie.
func handleSessionEnd(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.MustRequestContext(r.Context())

		if err := deps.Sessions.Delete(r.Context(), rctx.SessionID); err != nil {
			deps.Log.Error("session delete failed", zap.Error(err), zap.String("session_id", rctx.SessionID))
			WriteError(w, r, model.NewInternalError())
			return
		}
		http.SetCookie(w, ClearSessionCookie(deps.Config.Session))

		if deps.Metrics != nil {
			deps.Metrics.RecordSessionEnd()
		}
		deps.Log.Info("session ended", zap.String("session_id", rctx.SessionID))

		w.WriteHeader(http.StatusNoContent)
	}
}
