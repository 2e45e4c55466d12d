// Package orgs models organizations, their subscription plans, and teams, and
// enforces plan limits on resource creation.
//
// # Plans and Limits
//
// Each organization carries per-resource limits (users, calls, contacts, teams).
// Zero-valued limits fall back to the plan catalog; Unlimited (-1) always
// passes. The catalog can be overridden from YAML with LoadPlanCatalog, and
// WatchPlanCatalog swaps a running guard's catalog when that file changes.
//
// # Limit Guard
//
//	guard := orgs.NewLimitGuard(store, catalog, logger, metrics)
//	if err := guard.CheckLimit(ctx, actor, org, orgs.ResourceUsers); err != nil {
//		return err // *apperr.LimitExceededError
//	}
//
// Calls are counted from the start of the current UTC month. A failure to
// count usage lets the request through and is logged at error level.
//
// # Teams
//
// Team membership is soft-removed so history is kept.
package orgs
