package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/calltrackerpro/calltracker/pkg/apperr"
	"github.com/calltrackerpro/calltracker/pkg/audit"
	"github.com/calltrackerpro/calltracker/pkg/auth"
	"github.com/calltrackerpro/calltracker/pkg/httputil"
	"github.com/calltrackerpro/calltracker/pkg/invitations"
	"github.com/calltrackerpro/calltracker/pkg/middleware"
	"github.com/calltrackerpro/calltracker/pkg/observability"
	"github.com/calltrackerpro/calltracker/pkg/orgs"
	"github.com/calltrackerpro/calltracker/pkg/records"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// PrincipalStore reads and writes principals without a cache in between
type PrincipalStore interface {
	GetPrincipal(ctx context.Context, id string) (*auth.Principal, error)
	UpdatePrincipal(ctx context.Context, p *auth.Principal) error
}

// PrincipalInvalidator drops cached copies of a principal
type PrincipalInvalidator interface {
	InvalidatePrincipal(ctx context.Context, id string)
}

// TeamStore persists teams
type TeamStore interface {
	CreateTeam(ctx context.Context, team *orgs.Team) error
	GetTeam(ctx context.Context, id string) (*orgs.Team, error)
}

// Dependencies are the collaborators of a Server. Everything except the
// optional fields at the bottom is required.
type Dependencies struct {
	Invitations *invitations.Service
	Records     *records.Service
	Guard       *orgs.LimitGuard
	Principals  PrincipalStore
	Teams       TeamStore
	Tenant      *middleware.TenantMiddleware

	// PublicLimiter throttles the unauthenticated invitation endpoints
	PublicLimiter middleware.Limiter

	// Optional
	PrincipalCache PrincipalInvalidator
	Auditor        audit.Logger
	Metrics        *observability.Metrics
	Registry       *prometheus.Registry
	Health         *observability.HealthChecker
	Logger         *observability.Logger
	MaxBodyBytes   int64
	Debug          bool
}

// Server is the HTTP API
type Server struct {
	deps  Dependencies
	gates *middleware.Gates
	team  *middleware.TeamMiddleware
}

// NewServer validates deps and creates a Server
func NewServer(deps Dependencies) (*Server, error) {
	switch {
	case deps.Invitations == nil:
		return nil, errors.New("api: invitation service is required")
	case deps.Records == nil:
		return nil, errors.New("api: record service is required")
	case deps.Guard == nil:
		return nil, errors.New("api: limit guard is required")
	case deps.Principals == nil:
		return nil, errors.New("api: principal store is required")
	case deps.Teams == nil:
		return nil, errors.New("api: team store is required")
	case deps.Tenant == nil:
		return nil, errors.New("api: tenant middleware is required")
	case deps.PublicLimiter == nil:
		return nil, errors.New("api: public rate limiter is required")
	}
	if deps.Auditor == nil {
		deps.Auditor = audit.NoopLogger{}
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewNopLogger()
	}
	if deps.Health == nil {
		deps.Health = observability.NewHealthChecker("")
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 1 << 20
	}

	return &Server{
		deps:  deps,
		gates: middleware.NewGates(deps.Auditor, deps.Metrics, deps.Debug),
		team:  middleware.NewTeamMiddleware(deps.Teams, deps.Metrics, deps.Debug),
	}, nil
}

// Router builds the instrumented route tree
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()
	router.Use(
		httputil.RecoveryMiddleware,
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.deps.Logger),
		observability.HTTPMetricsMiddleware(s.deps.Metrics),
		httputil.MaxBytesMiddleware(s.deps.MaxBodyBytes),
	)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "not_found", "route not found")
	})

	router.HandleFunc("/healthz", s.deps.Health.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/readyz", s.deps.Health.Readiness).Methods(http.MethodGet)
	if s.deps.Registry != nil {
		router.Handle("/metrics", observability.MetricsHandler(s.deps.Registry)).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api").Subrouter()
	s.registerPublicInvitationRoutes(api)

	org := api.PathPrefix("/organizations/{" + middleware.OrganizationParam + "}").Subrouter()
	org.Use(s.deps.Tenant.Handler, s.team.Handler)
	s.registerInvitationRoutes(org)
	s.registerRecordRoutes(org, "/contacts", records.KindContact)
	s.registerRecordRoutes(org, "/call-logs", records.KindCallLog)
	s.registerOrganizationRoutes(org)

	return otelhttp.NewHandler(router, "calltracker",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/healthz" && r.URL.Path != "/readyz" && r.URL.Path != "/metrics"
		}),
	)
}

// guarded wraps h with gates, outermost first
func guarded(h http.HandlerFunc, gates ...func(http.Handler) http.Handler) http.Handler {
	return httputil.Chain(gates...)(h)
}

// tenant returns the bound tenant. Routes under the organization subrouter
// always have one.
func tenant(r *http.Request) *middleware.Tenant {
	t, _ := middleware.TenantFromContext(r.Context())
	return t
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).Error("Request failed")
	}
	httputil.WriteAppError(w, err, s.deps.Debug)
}
