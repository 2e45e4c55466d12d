// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here so that
// every producer and consumer agrees on one typed key.
//
// USAGE PATTERN:
//
//	import "github.com/calltrackerpro/calltracker/pkg/contextkeys"
//	ctx = contextkeys.WithPrincipal(ctx, principal)
//	p, _ := ctx.Value(contextkeys.PrincipalKey).(*auth.Principal)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *auth.Principal
	// Set by: middleware.TenantMiddleware (pkg/middleware/tenant.go)
	// Required by: permission, team and limit middleware, all org-scoped handlers
	// Type: *auth.Principal
	PrincipalKey Key = "principal"

	// TenantKey contains *middleware.Tenant
	// Set by: middleware.TenantMiddleware (pkg/middleware/tenant.go)
	// Required by: route gates and every handler under /api/organizations/{organizationId}
	// Type: *middleware.Tenant
	TenantKey Key = "tenant"

	// TeamKey contains *orgs.Team
	// Set by: middleware.TeamMiddleware (pkg/middleware/team.go)
	// Type: *orgs.Team
	TeamKey Key = "team"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit trail, error responses
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated principal ID
	// Set by: middleware.TenantMiddleware
	// Used by: Logger, audit trail
	// Type: string
	UserIDKey Key = "user_id"

	// OrgIDKey contains the resolved target organization ID
	// Set by: middleware.TenantMiddleware
	// Used by: Logger, audit trail
	// Type: string
	OrgIDKey Key = "organization_id"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.LoggingMiddleware
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithPrincipal adds the authenticated principal to the context
func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// WithTenant adds the tenant context to the context
func WithTenant(ctx context.Context, tenant interface{}) context.Context {
	return context.WithValue(ctx, TenantKey, tenant)
}

// WithTeam adds the selected team to the context
func WithTeam(ctx context.Context, team interface{}) context.Context {
	return context.WithValue(ctx, TeamKey, team)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithOrgID adds the target organization ID to the context
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, OrgIDKey, orgID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// GetOrgID retrieves the target organization ID from context
func GetOrgID(ctx context.Context) string {
	if orgID, ok := ctx.Value(OrgIDKey).(string); ok {
		return orgID
	}
	return ""
}
