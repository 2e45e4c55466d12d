// Package audit records security-relevant events: authentication failures,
// authorization and cross-tenant denials, limit rejections, role changes and
// every invitation transition.
//
// # Usage
//
//	auditor := audit.NewLogrusLogger(os.Stdout)
//	event := audit.NewEvent(ctx, audit.EventTypeInvitationRevoked, audit.EventStatusSuccess).
//		WithResource(audit.ResourceTypeInvitation, inv.ID)
//	_ = auditor.Log(ctx, event)
//
// NewEvent picks up the request, actor and organization IDs bound by the HTTP
// middleware.
//
// # Sinks
//
//   - LogrusLogger: JSON lines through logrus
//   - MemoryLogger: keeps events for assertions in tests
//   - MultiLogger: fans out to several sinks
//   - NoopLogger: discards everything
package audit
