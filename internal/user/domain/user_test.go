package domain

import (
	"errors"
	"strings"
	"testing"

	"identity-service/backend/internal/platform/apperr"
)

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusVerified, true},
		{StatusPending, StatusBlocked, true},
		{StatusVerified, StatusBlocked, true},
		{StatusVerified, StatusPending, false},
		{StatusBlocked, StatusVerified, false},
		{StatusBlocked, StatusPending, false},
		{StatusPending, StatusPending, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestRegistration_Validate(t *testing.T) {
	valid := Registration{
		FullName: "Ivan Petrov",
		INN:      "500100732259",
		Email:    "ivan@example.com",
		Phone:    "+79001234567",
		Password: "S3cure-pass",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid registration: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(r *Registration)
	}{
		{"short name", func(r *Registration) { r.FullName = "I" }},
		{"long name", func(r *Registration) { r.FullName = strings.Repeat("a", 256) }},
		{"inn 11 digits", func(r *Registration) { r.INN = "12345678901" }},
		{"inn letters", func(r *Registration) { r.INN = "12345abcde" }},
		{"bad email", func(r *Registration) { r.Email = "not-an-email" }},
		{"display name email", func(r *Registration) { r.Email = "Ivan <ivan@example.com>" }},
		{"bad phone", func(r *Registration) { r.Phone = "89001234567" }},
		{"short password", func(r *Registration) { r.Password = "short" }},
		{"long password", func(r *Registration) { r.Password = strings.Repeat("p", 129) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := valid
			tc.mutate(&r)
			if err := r.Validate(); !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("want ErrValidation, got %v", err)
			}
		})
	}
}

func TestRegistration_Normalize(t *testing.T) {
	r := Registration{FullName: "  Anna  ", Email: " Anna@Example.COM "}
	r.Normalize()
	if r.FullName != "Anna" || r.Email != "anna@example.com" {
		t.Errorf("Normalize = %+v", r)
	}
}

func TestVerification_ScanValue(t *testing.T) {
	var v Verification
	if err := v.Scan([]byte(`{"code_hash":"abc","attempts":2}`)); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if v.CodeHash != "abc" || v.Attempts != 2 {
		t.Errorf("Scan = %+v", v)
	}
	if err := v.Scan(nil); err != nil || v.CodeHash != "" {
		t.Errorf("Scan(nil) = %+v, %v", v, err)
	}
	if err := v.Scan(42); err == nil {
		t.Error("Scan(int): want error")
	}
}
