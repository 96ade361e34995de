package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"identity-service/backend/internal/audit"
	"identity-service/backend/internal/db"
	"identity-service/backend/internal/events"
	"identity-service/backend/internal/platform/apperr"
	"identity-service/backend/internal/platform/ids"
	"identity-service/backend/internal/platform/rbac"
	"identity-service/backend/internal/security"
	"identity-service/backend/internal/token"
	userdomain "identity-service/backend/internal/user/domain"
)

const (
	codeDigits      = 6
	maxCodeAttempts = 5
	defaultCodeTTL  = 24 * time.Hour
)

// UserRepo is the user persistence needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
	UpdateStatus(ctx context.Context, id string, from, to userdomain.Status) (bool, error)
	UpdateVerification(ctx context.Context, id string, v userdomain.Verification) error
	IncrementAttempts(ctx context.Context, id string, from int) (bool, error)
}

// Options tune registration. LogCodes prints confirmation codes to the log and must stay
// off in production.
type Options struct {
	CodeTTL  time.Duration
	LogCodes bool
}

// AuthService implements register, email confirmation, login, refresh and logout.
type AuthService struct {
	tx     db.Transactor
	users  UserRepo
	tokens *token.Service
	hasher *security.Hasher
	audit  audit.Appender
	events events.Publisher
	opts   Options
	now    func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies. A nil publisher drops events.
func NewAuthService(
	tx db.Transactor,
	users UserRepo,
	tokens *token.Service,
	hasher *security.Hasher,
	appender audit.Appender,
	publisher events.Publisher,
	opts Options,
) *AuthService {
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = defaultCodeTTL
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &AuthService{
		tx:     tx,
		users:  users,
		tokens: tokens,
		hasher: hasher,
		audit:  appender,
		events: publisher,
		opts:   opts,
		now:    time.Now,
	}
}

// Register creates a pending user with a hashed password and a hashed email confirmation code.
// A duplicate email or tax id fails with ErrConflict and leaves no audit entry and no event.
func (s *AuthService) Register(ctx context.Context, reg userdomain.Registration) (*userdomain.User, error) {
	reg.Normalize()
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	existing, err := s.users.GetByEmail(ctx, reg.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("user with this email already exists: %w", apperr.ErrConflict)
	}
	hashed, err := s.hasher.Hash([]byte(reg.Password))
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	code, err := security.NumericCode(codeDigits)
	if err != nil {
		return nil, fmt.Errorf("confirmation code: %w", err)
	}
	now := s.now().UTC()
	expires := now.Add(s.opts.CodeTTL)
	user := &userdomain.User{
		ID:           ids.NewID(),
		FullName:     reg.FullName,
		INN:          reg.INN,
		Email:        reg.Email,
		Phone:        reg.Phone,
		PasswordHash: hashed,
		Status:       userdomain.StatusPending,
		Role:         rbac.GlobalViewer,
		Verification: userdomain.Verification{CodeHash: security.HashSecret(code), ExpiresAt: &expires},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, user); err != nil {
			return err
		}
		if err := s.audit.Append(ctx, audit.Entry{
			Action:   audit.ActionUserRegister,
			EntityID: user.ID,
			ActorID:  user.ID,
			Details:  map[string]any{"email": user.Email},
		}); err != nil {
			return err
		}
		events.PublishAfterCommit(ctx, s.events, events.UserRegistered(user.ID, user.Email, now))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.opts.LogCodes {
		log.Printf("identity: confirmation code for %s: %s", user.Email, code)
	}
	return user, nil
}

// ConfirmEmail moves a pending user to verified when code matches the stored hash and has not expired.
func (s *AuthService) ConfirmEmail(ctx context.Context, email, code string) error {
	email = userdomain.NormalizeEmail(email)
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user %s: %w", email, apperr.ErrNotFound)
	}
	if user.Status != userdomain.StatusPending {
		return fmt.Errorf("user is %s: %w", user.Status, apperr.ErrInvalidState)
	}
	v := user.Verification
	now := s.now().UTC()
	switch {
	case v.CodeHash == "":
		return fmt.Errorf("no confirmation code issued: %w", apperr.ErrInvalidState)
	case v.Attempts >= maxCodeAttempts:
		return fmt.Errorf("too many confirmation attempts: %w", apperr.ErrForbidden)
	case v.ExpiresAt != nil && now.After(*v.ExpiresAt):
		return fmt.Errorf("confirmation code expired: %w", apperr.ErrValidation)
	}
	// Every guess spends an attempt before the code is compared, so concurrent guesses
	// cannot share one read of the counter.
	matched := false
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.users.IncrementAttempts(ctx, user.ID, v.Attempts)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("concurrent confirmation attempt: %w", apperr.ErrConflict)
		}
		if !security.SecretHashEqual(code, v.CodeHash) {
			return s.audit.Append(ctx, audit.Entry{
				Action:   audit.ActionUserBadCode,
				EntityID: user.ID,
				ActorID:  user.ID,
				Details:  map[string]any{"attempts": v.Attempts + 1},
			})
		}
		matched = true
		ok, err = s.users.UpdateStatus(ctx, user.ID, userdomain.StatusPending, userdomain.StatusVerified)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("user is no longer pending: %w", apperr.ErrInvalidState)
		}
		if err := s.users.UpdateVerification(ctx, user.ID, userdomain.Verification{ConfirmedAt: &now}); err != nil {
			return err
		}
		return s.audit.Append(ctx, audit.Entry{
			Action:   audit.ActionUserVerify,
			EntityID: user.ID,
			ActorID:  user.ID,
		})
	})
	if err != nil {
		return err
	}
	if !matched {
		return fmt.Errorf("confirmation code does not match: %w", apperr.ErrValidation)
	}
	return nil
}

// Login checks the password and issues a token pair, optionally scoped to orgID.
// Unknown email and wrong password return the same ErrInvalidCredentials after the same bcrypt work.
func (s *AuthService) Login(ctx context.Context, email, password, orgID string) (*token.Pair, error) {
	email = userdomain.NormalizeEmail(email)
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		s.hasher.CompareDummy([]byte(password))
		return nil, apperr.ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, []byte(password)); err != nil {
		return nil, apperr.ErrInvalidCredentials
	}
	var pair *token.Pair
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		pair, err = s.tokens.Issue(ctx, user.ID, orgID)
		if err != nil {
			return err
		}
		details := map[string]any{"family_id": pair.FamilyID}
		if orgID != "" {
			details["org_id"] = orgID
		}
		return s.audit.Append(ctx, audit.Entry{
			Action:   audit.ActionUserLogin,
			EntityID: user.ID,
			ActorID:  user.ID,
			OrgID:    orgID,
			Details:  details,
		})
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// Refresh rotates refreshToken.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*token.Pair, error) {
	return s.tokens.Refresh(ctx, refreshToken)
}

// Logout revokes the family of refreshToken and records the logout.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.tokens.Tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return err
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.tokens.RevokeToken(ctx, refreshToken); err != nil {
			return err
		}
		return s.audit.Append(ctx, audit.Entry{
			Action:   audit.ActionUserLogout,
			EntityID: claims.Subject,
			ActorID:  claims.Subject,
			OrgID:    claims.OrgID,
			Details:  map[string]any{"family_id": claims.FamilyID},
		})
	})
}

// Me returns the user behind an authenticated request.
func (s *AuthService) Me(ctx context.Context, userID string) (*userdomain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s: %w", userID, apperr.ErrNotFound)
	}
	return user, nil
}
