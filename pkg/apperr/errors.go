// Package apperr defines the error kinds surfaced by the authorization engine and
// their mapping onto HTTP status codes.
//
// Every failure is resolved into one of these kinds at the point of detection.
// Anything that is not one of them is treated as an internal error.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthenticationError reports a missing, malformed, or expired credential, or a
// principal that no longer exists or is inactive. Reason is for logs only and is
// never returned to the client.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	if e.Reason == "" {
		return "authentication required"
	}
	return "authentication required: " + e.Reason
}

// AuthorizationError reports a valid principal lacking the required permission or
// role, or attempting to reach another tenant.
type AuthorizationError struct {
	// Required names the permission or role that was needed. Safe to disclose.
	Required string
	Message  string
}

func (e *AuthorizationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Required != "" {
		return fmt.Sprintf("insufficient permissions: %s required", e.Required)
	}
	return "access denied"
}

// LimitExceededError is returned when a subscription limit is reached
type LimitExceededError struct {
	Resource string `json:"resource"`
	Current  int64  `json:"current"`
	Limit    int64  `json:"limit"`
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s limit reached (%d/%d)", e.Resource, e.Current, e.Limit)
}

// InvitationCode classifies an InvitationStateError
type InvitationCode string

const (
	// InvitationNotFound covers unknown, expired, revoked and consumed tokens alike
	InvitationNotFound         InvitationCode = "not_found"
	InvitationNotPending       InvitationCode = "not_pending"
	InvitationConflict         InvitationCode = "conflict"
	InvitationRemindersSpent   InvitationCode = "reminders_exhausted"
	InvitationAlreadyProcessed InvitationCode = "already_processed"
)

// InvitationStateError reports an operation attempted on an invitation in the wrong
// state, a duplicate invitation, or an exhausted reminder budget.
type InvitationStateError struct {
	Code    InvitationCode
	Message string
}

func (e *InvitationStateError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	switch e.Code {
	case InvitationNotFound:
		return "invitation not found or no longer valid"
	case InvitationConflict:
		return "a pending invitation already exists for this email"
	case InvitationRemindersSpent:
		return "maximum number of reminders already sent"
	default:
		return "invitation cannot be modified in its current state"
	}
}

// ValidationError reports malformed input on a specific field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// NotFoundError reports a missing resource, including records outside the
// caller's scope.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return e.Resource + " not found"
}

// Authentication builds an AuthenticationError
func Authentication(reason string) error {
	return &AuthenticationError{Reason: reason}
}

// Forbidden builds an AuthorizationError naming the required permission or role
func Forbidden(required string) error {
	return &AuthorizationError{Required: required}
}

// CrossTenant builds the AuthorizationError for cross-tenant access
func CrossTenant() error {
	return &AuthorizationError{Message: "cross-tenant access denied"}
}

// Invalid builds a ValidationError
func Invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a NotFoundError
func NotFound(resource string) error {
	return &NotFoundError{Resource: resource}
}

// InvitationState builds an InvitationStateError with the default message for code
func InvitationState(code InvitationCode) error {
	return &InvitationStateError{Code: code}
}

// HTTPStatus maps an error onto the status code the client receives
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var (
		authnErr *AuthenticationError
		authzErr *AuthorizationError
		limitErr *LimitExceededError
		invErr   *InvitationStateError
		valErr   *ValidationError
		nfErr    *NotFoundError
	)

	switch {
	case errors.As(err, &authnErr):
		return http.StatusUnauthorized
	case errors.As(err, &authzErr), errors.As(err, &limitErr):
		return http.StatusForbidden
	case errors.As(err, &invErr):
		switch invErr.Code {
		case InvitationNotFound:
			return http.StatusNotFound
		case InvitationConflict:
			return http.StatusConflict
		default:
			return http.StatusBadRequest
		}
	case errors.As(err, &valErr):
		return http.StatusBadRequest
	case errors.As(err, &nfErr):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// IsLimitExceeded reports whether err is a LimitExceededError
func IsLimitExceeded(err error) bool {
	var limitErr *LimitExceededError
	return errors.As(err, &limitErr)
}

// IsInvitationState reports whether err is an InvitationStateError with the given code
func IsInvitationState(err error, code InvitationCode) bool {
	var invErr *InvitationStateError
	return errors.As(err, &invErr) && invErr.Code == code
}

// IsAuthorization reports whether err is an AuthorizationError
func IsAuthorization(err error) bool {
	var authzErr *AuthorizationError
	return errors.As(err, &authzErr)
}

// IsAuthentication reports whether err is an AuthenticationError
func IsAuthentication(err error) bool {
	var authnErr *AuthenticationError
	return errors.As(err, &authnErr)
}
