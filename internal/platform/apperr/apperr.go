// Package apperr defines the error kinds shared by every identity component and their
// mapping to transport status codes. Components wrap these with fmt.Errorf("...: %w", ...).
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrExpired            = errors.New("token expired")
	ErrInvalidSignature   = errors.New("invalid token signature")
	ErrMalformed          = errors.New("malformed token")
	ErrRevoked            = errors.New("token revoked")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidState       = errors.New("invalid state transition")
	ErrAuditWriteFailure  = errors.New("audit write failure")
	ErrValidation         = errors.New("validation failed")
)

// Code returns the stable machine-readable code for err.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrInvalidCredentials):
		return "INVALID_CREDENTIALS"
	case errors.Is(err, ErrExpired):
		return "TOKEN_EXPIRED"
	case errors.Is(err, ErrInvalidSignature):
		return "INVALID_SIGNATURE"
	case errors.Is(err, ErrMalformed):
		return "MALFORMED_TOKEN"
	case errors.Is(err, ErrRevoked):
		return "TOKEN_REVOKED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrInvalidState):
		return "INVALID_STATE"
	case errors.Is(err, ErrValidation):
		return "VALIDATION"
	case errors.Is(err, ErrAuditWriteFailure):
		return "AUDIT_WRITE_FAILURE"
	default:
		return "INTERNAL"
	}
}

// Status maps err to an HTTP status code. Unknown errors map to 500.
func Status(err error) int {
	switch Code(err) {
	case "":
		return http.StatusOK
	case "NOT_FOUND":
		return http.StatusNotFound
	case "CONFLICT", "INVALID_STATE":
		return http.StatusConflict
	case "INVALID_CREDENTIALS", "TOKEN_EXPIRED", "INVALID_SIGNATURE", "MALFORMED_TOKEN", "TOKEN_REVOKED":
		return http.StatusUnauthorized
	case "FORBIDDEN":
		return http.StatusForbidden
	case "VALIDATION":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing message for err. Internal failures never leak their cause.
func Message(err error) string {
	if Status(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}
