// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, and request parsing.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/calltrackerpro/calltracker/pkg/apperr"
)

// RequestIDHeader carries the request ID in both directions
const RequestIDHeader = "X-Request-ID"

// Response is the envelope of every successful response
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse is the envelope of every failed response
type ErrorResponse struct {
	Success   bool                       `json:"success"`
	Message   string                     `json:"message"`
	ErrorCode string                     `json:"error_code"`
	Field     string                     `json:"field,omitempty"`
	Required  string                     `json:"required,omitempty"`
	LimitInfo *apperr.LimitExceededError `json:"limitInfo,omitempty"`
	RequestID string                     `json:"request_id,omitempty"`
	Detail    string                     `json:"detail,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful response (200 OK) wrapping data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

// WriteCreated writes a successful creation response (201 Created) wrapping data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, Response{Success: true, Data: data})
}

// WriteSuccessMessage writes a success response with a message
func WriteSuccessMessage(w http.ResponseWriter, message string, data interface{}) error {
	return WriteJSON(w, http.StatusOK, Response{Success: true, Message: message, Data: data})
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteAppError maps err onto its status code and writes the error envelope.
// Internal errors only expose their text when debug is set.
func WriteAppError(w http.ResponseWriter, err error, debug bool) {
	status := apperr.HTTPStatus(err)
	resp := ErrorResponse{
		Message:   err.Error(),
		RequestID: w.Header().Get(RequestIDHeader),
	}

	var (
		authzErr *apperr.AuthorizationError
		limitErr *apperr.LimitExceededError
		invErr   *apperr.InvitationStateError
		valErr   *apperr.ValidationError
		nfErr    *apperr.NotFoundError
	)

	switch {
	case apperr.IsAuthentication(err):
		// The reason stays in the logs
		resp.ErrorCode = "authentication_required"
		resp.Message = "authentication required"
	case errors.As(err, &authzErr):
		resp.ErrorCode = "access_denied"
		resp.Required = authzErr.Required
	case errors.As(err, &limitErr):
		resp.ErrorCode = "limit_exceeded"
		resp.Message = limitErr.Error() + ". Please upgrade your subscription."
		resp.LimitInfo = limitErr
	case errors.As(err, &invErr):
		resp.ErrorCode = "invitation_" + string(invErr.Code)
	case errors.As(err, &valErr):
		resp.ErrorCode = "validation_error"
		resp.Field = valErr.Field
	case errors.As(err, &nfErr):
		resp.ErrorCode = "not_found"
	default:
		resp.ErrorCode = "internal_error"
		resp.Message = "internal server error"
		if debug {
			resp.Detail = err.Error()
		}
	}

	WriteJSON(w, status, resp)
}

// WriteErrorMessage writes an error envelope with a fixed code and message
func WriteErrorMessage(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorResponse{
		Message:   message,
		ErrorCode: code,
		RequestID: w.Header().Get(RequestIDHeader),
	})
}

// WriteInternalError writes a generic internal server error (500)
func WriteInternalError(w http.ResponseWriter) {
	WriteErrorMessage(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

// WriteTooManyRequests writes a rate limit error (429)
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusTooManyRequests, "rate_limited", message)
}

// WriteServiceUnavailable writes a service unavailable error (503)
func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusServiceUnavailable, "unavailable", message)
}
