package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/calltrackerpro/calltracker/pkg/apperr"
	"github.com/calltrackerpro/calltracker/pkg/audit"
	"github.com/calltrackerpro/calltracker/pkg/auth"
	"github.com/calltrackerpro/calltracker/pkg/contextkeys"
	"github.com/calltrackerpro/calltracker/pkg/httputil"
	"github.com/calltrackerpro/calltracker/pkg/observability"
	"github.com/calltrackerpro/calltracker/pkg/orgs"
	"github.com/calltrackerpro/calltracker/pkg/storage"
	"github.com/gorilla/mux"
)

const (
	// OrganizationParam names the target organization in paths, bodies and queries
	OrganizationParam = "organizationId"

	// PlanHeader reports the target organization's plan on every tenant response
	PlanHeader = "X-RateLimit-Plan"
)

// PrincipalLoader fetches the principal named by a verified credential
type PrincipalLoader interface {
	GetPrincipal(ctx context.Context, id string) (*auth.Principal, error)
}

// OrganizationLoader fetches an organization by ID
type OrganizationLoader interface {
	GetOrganization(ctx context.Context, id string) (*orgs.Organization, error)
}

// Tenant is the authenticated request context bound by TenantMiddleware
type Tenant struct {
	Principal *auth.Principal
	// Organization is the principal's own organization. It is nil for a
	// super-admin without one.
	Organization *orgs.Organization
	// TargetOrganizationID is the organization the request acts on
	TargetOrganizationID string
	// Target is the organization the request acts on. It is the same value as
	// Organization unless a super-admin reaches into another tenant.
	Target *orgs.Organization
}

// TenantFromContext returns the tenant bound to ctx
func TenantFromContext(ctx context.Context) (*Tenant, bool) {
	t, ok := ctx.Value(contextkeys.TenantKey).(*Tenant)
	return t, ok && t != nil
}

// PrincipalFromContext returns the authenticated principal bound to ctx
func PrincipalFromContext(ctx context.Context) (*auth.Principal, bool) {
	p, ok := ctx.Value(contextkeys.PrincipalKey).(*auth.Principal)
	return p, ok && p != nil
}

// TenantConfig holds the collaborators of a TenantMiddleware. Verifier,
// Principals and Organizations are required.
type TenantConfig struct {
	Verifier      auth.Verifier
	Principals    PrincipalLoader
	Organizations OrganizationLoader
	Auditor       audit.Logger
	Metrics       *observability.Metrics
	// Debug exposes internal error text in responses
	Debug bool
}

// TenantMiddleware authenticates the bearer credential, loads the principal
// and its organization, and resolves the organization the request targets.
type TenantMiddleware struct {
	verifier      auth.Verifier
	principals    PrincipalLoader
	organizations OrganizationLoader
	auditor       audit.Logger
	metrics       *observability.Metrics
	debug         bool
}

// NewTenantMiddleware creates the tenant middleware
func NewTenantMiddleware(cfg TenantConfig) (*TenantMiddleware, error) {
	if cfg.Verifier == nil || cfg.Principals == nil || cfg.Organizations == nil {
		return nil, errors.New("middleware: verifier, principals and organizations are required")
	}
	m := &TenantMiddleware{
		verifier:      cfg.Verifier,
		principals:    cfg.Principals,
		organizations: cfg.Organizations,
		auditor:       cfg.Auditor,
		metrics:       cfg.Metrics,
		debug:         cfg.Debug,
	}
	if m.auditor == nil {
		m.auditor = audit.NoopLogger{}
	}
	return m, nil
}

// Handler wraps an HTTP handler with tenant resolution
func (m *TenantMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := m.authenticate(r)
		if err != nil {
			m.fail(w, r, err)
			return
		}

		// Everything below is attributed to the principal
		ctx := contextkeys.WithUserID(r.Context(), principal.ID)
		ctx = contextkeys.WithPrincipal(ctx, principal)
		r = r.WithContext(ctx)

		tenant, err := m.resolve(r, principal)
		if err != nil {
			m.fail(w, r, err)
			return
		}

		ctx = contextkeys.WithTenant(ctx, tenant)
		ctx = contextkeys.WithOrgID(ctx, tenant.TargetOrganizationID)
		if tenant.Target != nil {
			w.Header().Set(PlanHeader, string(tenant.Target.Plan))
		}
		m.metrics.AuthorizationDecision("tenant", true)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticate verifies the bearer credential and loads an active principal
func (m *TenantMiddleware) authenticate(r *http.Request) (*auth.Principal, error) {
	token, reason := bearerToken(r)
	if reason != "" {
		return nil, &apperr.AuthenticationError{Reason: reason}
	}

	claims, err := m.verifier.Verify(token)
	if err != nil {
		reason := "invalid_token"
		if errors.Is(err, auth.ErrTokenExpired) {
			reason = "expired_token"
		}
		return nil, &apperr.AuthenticationError{Reason: reason}
	}

	principal, err := m.principals.GetPrincipal(r.Context(), claims.Subject)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &apperr.AuthenticationError{Reason: "principal_not_found"}
	} else if err != nil {
		return nil, err
	}
	if !principal.IsActive {
		return nil, &apperr.AuthenticationError{Reason: "principal_inactive"}
	}
	return principal, nil
}

// resolve loads the principal's organization and the request's target
func (m *TenantMiddleware) resolve(r *http.Request, principal *auth.Principal) (*Tenant, error) {
	ctx := r.Context()
	tenant := &Tenant{Principal: principal}

	if principal.OrganizationID != "" || !principal.IsSuperAdmin() {
		org, err := m.organizations.GetOrganization(ctx, principal.OrganizationID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &apperr.AuthorizationError{Message: "organization is not active"}
		} else if err != nil {
			return nil, err
		}
		if !org.IsActive {
			return nil, &apperr.AuthorizationError{Message: "organization is not active"}
		}
		if org.IsSuspended() {
			return nil, &apperr.AuthorizationError{Message: "organization subscription is suspended"}
		}
		tenant.Organization = org
	}

	requested, err := targetOrganization(r)
	if err != nil {
		return nil, err
	}

	switch {
	case requested == "" || requested == principal.OrganizationID:
		tenant.TargetOrganizationID = principal.OrganizationID
		tenant.Target = tenant.Organization
	case !principal.IsSuperAdmin():
		m.crossTenantDenied(r, principal, requested)
		return nil, apperr.CrossTenant()
	default:
		target, err := m.organizations.GetOrganization(ctx, requested)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFound("organization")
		} else if err != nil {
			return nil, err
		}
		tenant.TargetOrganizationID = target.ID
		tenant.Target = target
	}
	return tenant, nil
}

func (m *TenantMiddleware) crossTenantDenied(r *http.Request, principal *auth.Principal, requested string) {
	ctx := r.Context()
	m.metrics.AuthorizationDecision("tenant", false)

	event := audit.NewEvent(ctx, audit.EventTypeAuthzCrossTenantDenied, audit.EventStatusDenied).
		WithRequest(r).
		WithResource(audit.ResourceTypeOrganization, requested).
		WithMessage("cross-tenant access denied").
		WithMetadata("own_organization_id", principal.OrganizationID)
	event.ActorRole = string(principal.Role)
	event.OrganizationID = principal.OrganizationID
	if err := m.auditor.Log(ctx, event); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("Failed to write audit event")
	}

	observability.FromContext(ctx).
		WithField("requested_organization_id", requested).
		Warn("Cross-tenant access denied")
}

// fail writes err, recording authentication failures on the way
func (m *TenantMiddleware) fail(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)

	var authnErr *apperr.AuthenticationError
	switch {
	case errors.As(err, &authnErr):
		m.metrics.AuthenticationFailed(authnErr.Reason)
		event := audit.NewEvent(ctx, audit.EventTypeAuthFailed, audit.EventStatusFailure).
			WithRequest(r).
			WithMetadata("reason", authnErr.Reason)
		if auditErr := m.auditor.Log(ctx, event); auditErr != nil {
			logger.WithError(auditErr).Warn("Failed to write audit event")
		}
		logger.WithField("reason", authnErr.Reason).Info("Authentication failed")
	case apperr.IsAuthorization(err):
		m.metrics.AuthorizationDecision("tenant", false)
	case apperr.HTTPStatus(err) == http.StatusInternalServerError:
		logger.WithError(err).Error("Tenant resolution failed")
	}

	httputil.WriteAppError(w, err, m.debug)
}

// bearerToken extracts the credential from "Authorization: Bearer <token>". A
// non-empty reason explains why none was found.
func bearerToken(r *http.Request) (token, reason string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "missing_token"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "malformed_header"
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "malformed_header"
	}
	return token, ""
}

// targetOrganization collects the requested organization from the path, the
// JSON body and the query string, in that order. Sources that disagree are
// rejected. The body is restored for the handler.
func targetOrganization(r *http.Request) (string, error) {
	var found []string

	if v := mux.Vars(r)[OrganizationParam]; v != "" {
		found = append(found, v)
	}

	if v, err := bodyOrganization(r); err != nil {
		return "", err
	} else if v != "" {
		found = append(found, v)
	}

	if v := r.URL.Query().Get(OrganizationParam); v != "" {
		found = append(found, v)
	}

	if len(found) == 0 {
		return "", nil
	}
	for _, v := range found[1:] {
		if v != found[0] {
			return "", apperr.Invalid(OrganizationParam, "conflicting organization identifiers in request")
		}
	}
	return found[0], nil
}

// bodyOrganization peeks at a JSON object body for organizationId. Bodies that
// are not JSON objects are left for the handler to reject.
func bodyOrganization(r *http.Request) (string, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return "", nil
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			return "", nil
		}
	}

	raw, err := io.ReadAll(r.Body)
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", apperr.Invalid("body", "request body too large")
		}
		return "", err
	}

	var peek struct {
		OrganizationID json.RawMessage `json:"organizationId"`
	}
	if json.Unmarshal(raw, &peek) != nil || len(peek.OrganizationID) == 0 {
		return "", nil
	}
	var id string
	if err := json.Unmarshal(peek.OrganizationID, &id); err != nil {
		return "", apperr.Invalid(OrganizationParam, "must be a string")
	}
	return id, nil
}
