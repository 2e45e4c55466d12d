// Package httputil provides the JSON envelope, request parsing and HTTP
// middleware shared by every handler.
//
// # Responses
//
// Successful responses are wrapped as {"success":true,"data":...}. Errors go
// through WriteAppError, which maps the apperr kinds onto status codes and a
// stable error_code:
//
//	if err != nil {
//		httputil.WriteAppError(w, err, debug)
//		return
//	}
//	httputil.WriteSuccess(w, invitation)
//
// # Requests
//
//	var req invitations.CreateRequest
//	if err := httputil.DecodeJSON(r, &req); err != nil {
//		httputil.WriteAppError(w, err, debug)
//		return
//	}
//	page, limit, err := httputil.ParsePage(r)
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)
//
// # Related Packages
//
//   - pkg/middleware: tenant resolution and permission gates
//   - pkg/apperr: the error kinds WriteAppError understands
package httputil
