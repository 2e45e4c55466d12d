// Package auth holds the role and permission model, the permission evaluator,
// and the credential primitives used by the tenant middleware.
//
// # Roles and Permissions
//
// Roles form a closed set ordered by privilege:
//
//	super_admin > org_admin > manager > agent > viewer
//
// Authorization decisions are permission based. DefaultPermissions maps each role
// to its canonical set; a principal's stored set may diverge from it when an
// administrator applies overrides:
//
//	p := auth.NewPrincipal(uuid.NewString(), orgID, "alice@example.com", auth.RoleAgent)
//	p.SetPermissions(append(p.Permissions, auth.PermExportTeamData))
//
// # Evaluation
//
// HasPermission, HasAny and HasAll test the stored set. Super admins pass every
// check unconditionally. HasAny and HasAll are both true for an empty list:
//
//	if !auth.HasAny(p, auth.PermViewAllContacts, auth.PermViewTeamContacts, auth.PermViewOwnContacts) {
//		return apperr.Forbidden("view_contacts")
//	}
//
// # Credentials
//
// Session tokens are HS256 JWTs whose subject is the principal ID:
//
//	creds, err := auth.NewHMACCredentials(secret, "calltracker", 24*time.Hour)
//	token, err := creds.Issue(p)
//	claims, err := creds.Verify(token)
//
// Invitation tokens are 32 random bytes, hex encoded, produced by RandomTokens.
// Passwords are hashed with bcrypt through BcryptHasher.
package auth
