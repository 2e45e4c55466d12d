// Package async provides safe execution of background tasks.
//
// SafeGo runs a function in its own goroutine with panic recovery, a timeout,
// and structured error logging. The returned channel is closed when the task
// finishes, which tests use to wait without sleeping:
//
//	done := async.SafeGo(ctx, 10*time.Second, "invitation email", func(ctx context.Context) error {
//		return notifier.InvitationCreated(ctx, msg)
//	})
//	<-done
//
// Used by pkg/invitations for notification delivery.
package async
