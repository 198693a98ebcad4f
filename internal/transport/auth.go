package transport

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/mosaicfin/onboard/internal/config"
	"github.com/mosaicfin/onboard/internal/observability"
	"github.com/mosaicfin/onboard/internal/session"
	"github.com/mosaicfin/onboard/model"
)

// The browser never sees the access token or any session state. It holds
// one HttpOnly cookie whose value is an HS256-signed JWT carrying only the
// session ID; everything else is resolved server-side on each request.

// sessionClaims is the payload of the signed session cookie.
type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// IssueSessionCookie signs a session ID into a cookie. The cookie expires
// together with the session record.
func IssueSessionCookie(cfg config.SessionConfig, sessionID string, expiresAt time.Time) (*http.Cookie, error) {
	now := time.Now()
	claims := sessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.SigningKey())
	if err != nil {
		return nil, fmt.Errorf("transport: sign session cookie: %w", err)
	}

	return &http.Cookie{
		Name:     cfg.CookieName,
		Value:    signed,
		Path:     "/",
		Domain:   cfg.CookieDomain,
		Expires:  expiresAt,
		Secure:   cfg.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// ClearSessionCookie returns an expired cookie that removes the session
// cookie from the browser.
func ClearSessionCookie(cfg config.SessionConfig) *http.Cookie {
	return &http.Cookie{
		Name:     cfg.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   cfg.CookieDomain,
		MaxAge:   -1,
		Secure:   cfg.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// SessionAuthenticator returns middleware that verifies the signed session
// cookie, loads the session record, and stores both the session and a
// populated RequestContext in the request context. A missing cookie is
// UNAUTHORIZED; a bad signature, an expired cookie, or a session the store
// no longer holds is SESSION_EXPIRED, which the client answers by
// restarting the wizard.
func SessionAuthenticator(cfg config.SessionConfig, store session.Store, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(cfg.CookieName)
			if err != nil {
				WriteError(w, r, model.NewUnauthorizedError("Missing session cookie"))
				return
			}

			sessionID, err := verifySessionCookie(cfg, cookie.Value)
			if err != nil {
				WriteError(w, r, model.NewSessionExpiredError())
				return
			}

			sess, err := store.Get(r.Context(), sessionID)
			if err != nil {
				if errors.Is(err, session.ErrNotFound) {
					WriteError(w, r, model.NewSessionExpiredError())
					return
				}
				log.Error("session lookup failed", zap.Error(err), zap.String("session_id", sessionID))
				WriteError(w, r, model.NewInternalError())
				return
			}

			ctx := r.Context()
			rctx := &model.RequestContext{
				SessionID:     sess.ID,
				Tenant:        sess.Tenant,
				AccessToken:   sess.AccessToken,
				WizardID:      sess.WizardID,
				CorrelationID: CorrelationIDFrom(ctx),
				TraceID:       observability.TraceIDFromContext(ctx),
				SpanID:        observability.SpanIDFromContext(ctx),
				Locale:        r.Header.Get("Accept-Language"),
			}
			ctx = model.WithRequestContext(ctx, rctx)
			ctx = WithSession(ctx, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// verifySessionCookie checks the cookie signature and expiry and returns
// the embedded session ID.
func verifySessionCookie(cfg config.SessionConfig, value string) (string, error) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(value, &claims,
		func(token *jwt.Token) (any, error) {
			return cfg.SigningKey(), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("transport: parse session cookie: %w", err)
	}
	if !token.Valid || claims.SessionID == "" {
		return "", errors.New("transport: session cookie carries no session id")
	}
	return claims.SessionID, nil
}
