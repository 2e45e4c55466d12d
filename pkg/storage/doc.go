// Package storage holds the shared persistence vocabulary for CallTracker.
//
// # Overview
//
// Consumers declare the storage interfaces they need next to their own code
// (middleware.PrincipalLoader, invitations.Store, orgs.UsageCounter,
// scope.TeamLister, records.Store). Two backends implement all of them:
//
//   - memory: a single mutex-guarded registry, used for tests and development
//   - postgres: lib/pq backed store with a transactional invitation accept
//
// The cache subpackage wraps principal and organization lookups with an
// in-process LRU and an optional Redis tier.
//
// # Errors
//
// Backends report misses with ErrNotFound and uniqueness violations with
// ErrConflict. Services translate them into apperr types at their boundary:
//
//	inv, err := store.GetInvitation(ctx, id)
//	if errors.Is(err, storage.ErrNotFound) {
//		return apperr.InvitationState(apperr.InvitationNotFound)
//	}
//
// # Configuration
//
//	cfg := storage.DefaultConfig()
//	cfg.Type = storage.TypePostgres
//	cfg.PostgresURL = "postgres://localhost/calltracker?sslmode=disable"
//	cfg.RedisURL = "redis://localhost:6379/0"
//
// # Testing
//
// Unit tests use the memory backend or go-sqlmock. The postgres integration
// test runs against a testcontainers database and is gated by the integration
// build tag:
//
//	go test -tags integration ./pkg/storage/postgres/...
package storage
