package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mosaicfin/onboard/internal/config"
	"github.com/mosaicfin/onboard/internal/definition"
	"github.com/mosaicfin/onboard/internal/observability"
	"github.com/mosaicfin/onboard/internal/session"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
// Metrics may be nil when metrics are disabled.
type Dependencies struct {
	Config   *config.Config
	Log      *zap.Logger
	Registry *definition.Registry
	Sessions session.Store
	Engine   WizardEngine
	Auth     Authenticator
	Metrics  *observability.Metrics
	Ready    observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// session middleware, as does session creation itself.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	r.Use(Recovery(deps.Log))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if deps.Config.Observability.Tracing.Enabled {
		r.Use(observability.TracingMiddleware)
	}
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	r.Get("/ui/health", observability.HandleHealth())
	r.Get("/ui/ready", observability.HandleReady(deps.Ready))
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(deps.Log))

		// Session creation is the one API call made without a session.
		r.Post("/ui/session", handleSessionCreate(deps))

		r.Group(func(r chi.Router) {
			r.Use(SessionAuthenticator(deps.Config.Session, deps.Sessions, deps.Log))

			r.Delete("/ui/session", handleSessionEnd(deps))
			r.Get("/ui/wizard", handleWizardGet(deps))
			r.Post("/ui/wizard/steps/{stepId}", handleStepSubmit(deps))
			r.Get("/ui/wizard/history", handleWizardHistory(deps))
		})
	})

	return r
}
