package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
		code string
	}{
		{fmt.Errorf("user: %w", ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{fmt.Errorf("email: %w", ErrConflict), http.StatusConflict, "CONFLICT"},
		{ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{ErrExpired, http.StatusUnauthorized, "TOKEN_EXPIRED"},
		{ErrInvalidSignature, http.StatusUnauthorized, "INVALID_SIGNATURE"},
		{ErrMalformed, http.StatusUnauthorized, "MALFORMED_TOKEN"},
		{ErrRevoked, http.StatusUnauthorized, "TOKEN_REVOKED"},
		{ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{ErrInvalidState, http.StatusConflict, "INVALID_STATE"},
		{ErrValidation, http.StatusUnprocessableEntity, "VALIDATION"},
		{ErrAuditWriteFailure, http.StatusInternalServerError, "AUDIT_WRITE_FAILURE"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		if got := Status(tt.err); got != tt.want {
			t.Errorf("Status(%v) = %d, want %d", tt.err, got, tt.want)
		}
		if got := Code(tt.err); got != tt.code {
			t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.code)
		}
	}
}

func TestMessage_HidesInternalCause(t *testing.T) {
	if got := Message(errors.New("pq: connection refused")); got != "internal error" {
		t.Errorf("Message = %q, want internal error", got)
	}
	if got := Message(fmt.Errorf("audit: %w", ErrAuditWriteFailure)); got != "internal error" {
		t.Errorf("Message = %q, want internal error", got)
	}
	if got := Message(ErrInvalidCredentials); got != "invalid email or password" {
		t.Errorf("Message = %q", got)
	}
}
