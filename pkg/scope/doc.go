// Package scope turns a principal's role and team memberships into a record
// filter that keeps every query inside the caller's tenant and visibility.
//
// Resolve produces an AccessScope; BuildScopedQuery merges it with a caller
// supplied base filter:
//
//	s := scope.Resolve(principal, tenant.TargetOrganizationID)
//	f := s.BuildScopedQuery(scope.Eq{Field: "kind", Value: "contact"})
//
// The organization condition is always present. Org admins and super admins see
// the whole organization, managers see their teams plus their own records, and
// everyone else sees records assigned to, created by, or owned by them.
//
// The same Filter can be compiled to SQL with ToSQL or evaluated in memory with
// Matches. Storage backends must route list, read, update and delete through the
// scoped filter; fetching a record by ID without it leaks across tenants.
package scope
