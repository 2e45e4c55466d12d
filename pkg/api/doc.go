// Package api is the HTTP surface of the CRM.
//
// Routes live under /api. The invitation token routes are public and rate
// limited per client IP:
//
//	GET  /api/invitations/{token}
//	POST /api/invitations/{token}/accept
//	POST /api/invitations/{token}/decline
//
// Everything else sits under /api/organizations/{organizationId} and passes
// the tenant middleware first, which authenticates the bearer token and binds
// the target organization. Permission gates then run per route:
//
//	POST   /invitations                        invite_users
//	POST   /invitations/bulk                   invite_users
//	GET    /invitations                        invite_users OR view_all_users
//	DELETE /invitations/{invitationId}         invite_users
//	POST   /invitations/{invitationId}/resend  invite_users
//	POST   /invitations/{invitationId}/extend  invite_users
//	*      /contacts, /call-logs               any view or manage permission of the kind
//	GET    /usage                              view_analytics OR manage_subscription
//	POST   /teams                              manage_teams
//	GET    /teams/{teamId}                     team membership
//	PUT    /users/{userId}/role                manage_user_roles
//
// All responses use the httputil envelope. Liveness, readiness and Prometheus
// metrics are served at /healthz, /readyz and /metrics.
package api
