package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/calltrackerpro/calltracker/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteSuccess(w, map[string]string{"id": "inv-1"}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":true,"data":{"id":"inv-1"}}`, w.Body.String())
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteCreated(w, map[string]int{"count": 1}))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"success":true,"data":{"count":1}}`, w.Body.String())
}

func TestWriteAppError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		code     string
		message  string
		required string
		field    string
	}{
		{
			name:    "authentication hides reason",
			err:     apperr.Authentication("token expired"),
			status:  http.StatusUnauthorized,
			code:    "authentication_required",
			message: "authentication required",
		},
		{
			name:     "authorization names requirement",
			err:      apperr.Forbidden("invite_users"),
			status:   http.StatusForbidden,
			code:     "access_denied",
			message:  "insufficient permissions: invite_users required",
			required: "invite_users",
		},
		{
			name:    "cross tenant",
			err:     apperr.CrossTenant(),
			status:  http.StatusForbidden,
			code:    "access_denied",
			message: "cross-tenant access denied",
		},
		{
			name:    "invitation not found",
			err:     apperr.InvitationState(apperr.InvitationNotFound),
			status:  http.StatusNotFound,
			code:    "invitation_not_found",
			message: "invitation not found or no longer valid",
		},
		{
			name:   "invitation conflict",
			err:    apperr.InvitationState(apperr.InvitationConflict),
			status: http.StatusConflict,
			code:   "invitation_conflict",
		},
		{
			name:   "reminders exhausted",
			err:    apperr.InvitationState(apperr.InvitationRemindersSpent),
			status: http.StatusBadRequest,
			code:   "invitation_reminders_exhausted",
		},
		{
			name:    "validation",
			err:     apperr.Invalid("email", "is required"),
			status:  http.StatusBadRequest,
			code:    "validation_error",
			message: "email: is required",
			field:   "email",
		},
		{
			name:    "not found",
			err:     apperr.NotFound("team"),
			status:  http.StatusNotFound,
			code:    "not_found",
			message: "team not found",
		},
		{
			name:    "wrapped kinds still map",
			err:     fmt.Errorf("failed to create record: %w", apperr.NotFound("contact")),
			status:  http.StatusNotFound,
			code:    "not_found",
			message: "failed to create record: contact not found",
		},
		{
			name:    "internal",
			err:     errors.New("pq: connection refused"),
			status:  http.StatusInternalServerError,
			code:    "internal_error",
			message: "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteAppError(w, tt.err, false)

			assert.Equal(t, tt.status, w.Code)
			resp := decodeError(t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.code, resp.ErrorCode)
			if tt.message != "" {
				assert.Equal(t, tt.message, resp.Message)
			}
			assert.Equal(t, tt.required, resp.Required)
			assert.Equal(t, tt.field, resp.Field)
			assert.Empty(t, resp.Detail)
		})
	}
}

func TestWriteAppError_LimitPayload(t *testing.T) {
	w := httptest.NewRecorder()
	WriteAppError(w, &apperr.LimitExceededError{Resource: "users", Current: 3, Limit: 3}, false)

	assert.Equal(t, http.StatusForbidden, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "limit_exceeded", resp.ErrorCode)
	require.NotNil(t, resp.LimitInfo)
	assert.Equal(t, "users", resp.LimitInfo.Resource)
	assert.Equal(t, int64(3), resp.LimitInfo.Current)
	assert.Equal(t, int64(3), resp.LimitInfo.Limit)
	assert.Contains(t, resp.Message, "upgrade")
}

func TestWriteAppError_DebugDetail(t *testing.T) {
	w := httptest.NewRecorder()
	WriteAppError(w, errors.New("pq: connection refused"), true)

	resp := decodeError(t, w)
	assert.Equal(t, "internal server error", resp.Message)
	assert.Equal(t, "pq: connection refused", resp.Detail)
}

func TestWriteAppError_EchoesRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set(RequestIDHeader, "req-123")
	WriteAppError(w, apperr.NotFound("team"), false)

	assert.Equal(t, "req-123", decodeError(t, w).RequestID)
}

func TestWriteTooManyRequests(t *testing.T) {
	w := httptest.NewRecorder()
	WriteTooManyRequests(w, "slow down")

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "rate_limited", resp.ErrorCode)
	assert.Equal(t, "slow down", resp.Message)
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}
