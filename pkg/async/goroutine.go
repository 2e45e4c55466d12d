package async

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/calltrackerpro/calltracker/pkg/observability"
)

// SafeGo executes a function in a goroutine with:
// - Panic recovery
// - Timeout enforcement
// - Error logging through the context logger
//
// The task keeps the values of parentCtx (request ID, logger, trace) but not
// its cancellation, so work started from an HTTP handler outlives the request.
// Use this instead of bare `go func()` to prevent goroutine leaks and crashes.
//
// Example:
//
//	SafeGo(r.Context(), 10*time.Second, "invitation email", func(ctx context.Context) error {
//	    return notifier.InvitationCreated(ctx, msg)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()

		logger := observability.FromContext(ctx).WithField("task", taskName)

		defer func() {
			if r := recover(); r != nil {
				logger.WithField("panic", r).
					WithField("stack", string(debug.Stack())).
					Error("PANIC in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).Error("Background task failed")
		}
	}()

	return done
}

// SafeGoNoError is like SafeGo but for functions that don't return errors.
func SafeGoNoError(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context)) <-chan struct{} {
	return SafeGo(parentCtx, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}
