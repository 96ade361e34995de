package domain

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"identity-service/backend/internal/platform/apperr"
)

var (
	innPattern   = regexp.MustCompile(`^(\d{10}|\d{12})$`)
	phonePattern = regexp.MustCompile(`^\+7\d{10}$`)
)

// Registration is the input of the register operation.
type Registration struct {
	FullName string `json:"full_name"`
	INN      string `json:"inn"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Password string `json:"password"`
}

// Normalize trims fields and lower-cases the email.
func (r *Registration) Normalize() {
	r.FullName = strings.TrimSpace(r.FullName)
	r.INN = strings.TrimSpace(r.INN)
	r.Email = NormalizeEmail(r.Email)
	r.Phone = strings.TrimSpace(r.Phone)
}

// Validate returns the first invalid field wrapped in apperr.ErrValidation.
func (r *Registration) Validate() error {
	if n := utf8.RuneCountInString(r.FullName); n < 2 || n > 255 {
		return invalid("full_name", "must be 2 to 255 characters")
	}
	if err := ValidateINN(r.INN); err != nil {
		return err
	}
	if err := ValidateEmail(r.Email); err != nil {
		return err
	}
	if err := ValidatePhone(r.Phone); err != nil {
		return err
	}
	return ValidatePassword(r.Password)
}

// NormalizeEmail trims and lower-cases an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateINN accepts 10 (organization) or 12 (individual) digit tax ids.
func ValidateINN(inn string) error {
	if !innPattern.MatchString(inn) {
		return invalid("inn", "must be 10 or 12 digits")
	}
	return nil
}

// ValidateEmail checks a bare address (no display name).
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || len(email) > 320 {
		return invalid("email", "is not a valid address")
	}
	return nil
}

// ValidatePhone accepts an empty phone or +7 followed by 10 digits.
func ValidatePhone(phone string) error {
	if phone != "" && !phonePattern.MatchString(phone) {
		return invalid("phone", "must be +7 followed by 10 digits")
	}
	return nil
}

// ValidatePassword enforces 8..128 characters.
func ValidatePassword(pw string) error {
	if n := utf8.RuneCountInString(pw); n < 8 || n > 128 {
		return invalid("password", "must be 8 to 128 characters")
	}
	return nil
}

func invalid(field, msg string) error {
	return fmt.Errorf("%s %s: %w", field, msg, apperr.ErrValidation)
}
