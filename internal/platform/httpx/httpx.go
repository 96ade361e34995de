// Package httpx holds the JSON request and response helpers shared by every HTTP handler.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"

	"identity-service/backend/internal/platform/apperr"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("httpx: encode response: %v", err)
	}
}

// Error maps err through apperr and writes {"error":{"code","message"}}. Internal failures are
// logged with the request path and answered with a generic message.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.Status(err)
	if status == http.StatusInternalServerError {
		log.Printf("httpx: %s %s: %v", r.Method, r.URL.Path, err)
	}
	JSON(w, status, errorBody{Error: errorDetail{Code: apperr.Code(err), Message: apperr.Message(err)}})
}

// Decode reads a single JSON object into dst. Unknown fields and trailing data are rejected as
// validation errors.
func Decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return fmt.Errorf("request body is empty: %w", apperr.ErrValidation)
		case errors.As(err, &maxErr):
			return fmt.Errorf("request body too large: %w", apperr.ErrValidation)
		default:
			return fmt.Errorf("invalid request body: %v: %w", err, apperr.ErrValidation)
		}
	}
	if dec.More() {
		return fmt.Errorf("request body must hold a single object: %w", apperr.ErrValidation)
	}
	return nil
}

// ClientIP returns the first X-Forwarded-For address, or the remote host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// BearerToken returns the token of an "Authorization: Bearer" header, or "".
func BearerToken(r *http.Request) string {
	const prefix = "bearer "
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) <= len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(v[len(prefix):])
}
