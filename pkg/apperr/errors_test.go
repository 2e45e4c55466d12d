package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"authentication", Authentication("expired"), http.StatusUnauthorized},
		{"authorization", Forbidden("invite_users"), http.StatusForbidden},
		{"cross tenant", CrossTenant(), http.StatusForbidden},
		{"limit", &LimitExceededError{Resource: "users", Current: 5, Limit: 5}, http.StatusForbidden},
		{"invitation not found", InvitationState(InvitationNotFound), http.StatusNotFound},
		{"invitation conflict", InvitationState(InvitationConflict), http.StatusConflict},
		{"reminders", InvitationState(InvitationRemindersSpent), http.StatusBadRequest},
		{"validation", Invalid("role", "unknown role %q", "owner"), http.StatusBadRequest},
		{"not found", NotFound("contact"), http.StatusNotFound},
		{"wrapped", fmt.Errorf("failed to create: %w", Forbidden("x")), http.StatusForbidden},
		{"internal", errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestAuthenticationError_DoesNotLeakReasonInGenericForm(t *testing.T) {
	err := &AuthenticationError{}
	assert.Equal(t, "authentication required", err.Error())
}

func TestAuthorizationError_Messages(t *testing.T) {
	assert.Equal(t, "insufficient permissions: manage_teams required", Forbidden("manage_teams").Error())
	assert.Equal(t, "cross-tenant access denied", CrossTenant().Error())
	assert.Equal(t, "access denied", (&AuthorizationError{}).Error())
}

func TestPredicates(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", InvitationState(InvitationConflict))

	assert.True(t, IsInvitationState(wrapped, InvitationConflict))
	assert.False(t, IsInvitationState(wrapped, InvitationNotFound))
	assert.True(t, IsLimitExceeded(&LimitExceededError{}))
	assert.True(t, IsAuthorization(CrossTenant()))
	assert.True(t, IsAuthentication(Authentication("")))
	assert.False(t, IsAuthentication(errors.New("plain")))
}
