package domain

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"identity-service/backend/internal/platform/apperr"
	userdomain "identity-service/backend/internal/user/domain"
)

var ogrnPattern = regexp.MustCompile(`^(\d{13}|\d{15})$`)

// Org represents an organization/tenant. Tax ids are not unique: branches share them.
type Org struct {
	ID        string         `db:"id"`
	Name      string         `db:"name"`
	INN       string         `db:"inn"`
	OGRN      sql.NullString `db:"ogrn"`
	Email     string         `db:"email"`
	Phone     string         `db:"phone"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

// Validate validates the organization for persistence. Returns the first validation failure.
func (o *Org) Validate() error {
	o.Name = strings.TrimSpace(o.Name)
	if n := utf8.RuneCountInString(o.Name); n < 1 || n > 500 {
		return invalid("name", "must be 1 to 500 characters")
	}
	if err := userdomain.ValidateINN(o.INN); err != nil {
		return err
	}
	if o.OGRN.Valid && !ogrnPattern.MatchString(o.OGRN.String) {
		return invalid("ogrn", "must be 13 or 15 digits")
	}
	if o.Email != "" {
		o.Email = userdomain.NormalizeEmail(o.Email)
		if err := userdomain.ValidateEmail(o.Email); err != nil {
			return err
		}
	}
	return userdomain.ValidatePhone(o.Phone)
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	Name  *string `json:"name,omitempty"`
	OGRN  *string `json:"ogrn,omitempty"`
	Email *string `json:"email,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

// Apply copies the set fields onto o and returns the names of the fields whose value changed.
func (p Patch) Apply(o *Org) []string {
	var changed []string
	if p.Name != nil && *p.Name != o.Name {
		o.Name = *p.Name
		changed = append(changed, "name")
	}
	if p.OGRN != nil && (*p.OGRN != o.OGRN.String || !o.OGRN.Valid) {
		o.OGRN = sql.NullString{String: *p.OGRN, Valid: *p.OGRN != ""}
		changed = append(changed, "ogrn")
	}
	if p.Email != nil && *p.Email != o.Email {
		o.Email = *p.Email
		changed = append(changed, "email")
	}
	if p.Phone != nil && *p.Phone != o.Phone {
		o.Phone = *p.Phone
		changed = append(changed, "phone")
	}
	return changed
}

func invalid(field, msg string) error {
	return fmt.Errorf("%s %s: %w", field, msg, apperr.ErrValidation)
}
