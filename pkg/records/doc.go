// Package records provides tenant-scoped CRUD for contacts and call logs.
//
// Every read and write runs through the caller's access scope, so a record
// outside the scope is indistinguishable from a missing one. Creation checks
// the plan limit for contacts or monthly calls first.
package records
