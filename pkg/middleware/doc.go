// Package middleware resolves the tenant of every authenticated request and
// guards routes by permission, role and team.
//
// # Tenant resolution
//
// TenantMiddleware verifies the bearer credential, loads the principal and its
// organization, and resolves the organization the request targets from the
// organizationId path variable, JSON body field or query parameter:
//
//	tenant, err := middleware.NewTenantMiddleware(middleware.TenantConfig{
//		Verifier:      credentials,
//		Principals:    directory,
//		Organizations: directory,
//		Auditor:       auditor,
//		Metrics:       metrics,
//	})
//	orgRouter.Use(tenant.Handler)
//
// Only super admins may target an organization other than their own. Handlers
// read the result with TenantFromContext.
//
// # Gates
//
//	gates := middleware.NewGates(auditor, metrics, debug)
//	r.Handle("/invitations", gates.RequirePermission(auth.PermInviteUsers)(h))
//	r.Handle("/contacts", gates.RequireAnyPermission(records.ViewPermissions(records.KindContact)...)(h))
//
// A gate without a tenant in context answers 401. A denied gate answers 403
// naming what was required.
//
// # Teams
//
// TeamMiddleware checks the teamId path variable: the team must belong to the
// target organization and the principal must be an admin, its manager or an
// active member.
//
// # Rate limiting
//
// RateLimitByIP throttles the public invitation endpoints. LocalRateLimiter
// keeps token buckets in memory; RedisRateLimiter shares fixed windows across
// instances.
//
// # Related Packages
//
//   - pkg/auth: credentials and the permission evaluator
//   - pkg/httputil: error envelope
package middleware
