// Package invitations implements the invitation lifecycle: create, accept,
// decline, revoke, resend, extend, bulk invite, and the scheduled expiry and
// reminder sweeps.
//
// An invitation is addressed by a 64 character hex token. Unknown, expired,
// revoked and consumed tokens are reported identically. Terminal states never
// change again because every store transition is conditional on the row still
// being pending.
//
// # Usage
//
//	svc, err := invitations.NewService(invitations.Dependencies{
//	    Store:  store,
//	    Guard:  guard,
//	    Hasher: auth.NewBcryptHasher(0),
//	    Issuer: credentials,
//	}, invitations.DefaultConfig())
//
//	inv, err := svc.Create(ctx, actor, orgID, invitations.CreateRequest{
//	    Email: "new.agent@example.com",
//	    Role:  "agent",
//	})
package invitations
