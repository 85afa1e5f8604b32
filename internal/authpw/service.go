// Package authpw provides allow-list gated email/password authentication.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"taskhub/api/internal/rbac"
	"taskhub/api/internal/store"
	"taskhub/api/internal/util"
)

var (
	// ErrAccessRestricted means the email is definitively not on the
	// allow-list. A failed allow-list lookup denies access too, but as a
	// retryable backend error, not this sentinel.
	ErrAccessRestricted   = errors.New("access restricted")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
)

// InvalidInputError carries a field-level validation failure.
type InvalidInputError struct {
	Field   string
	Message string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// UserStore is the storage surface authentication needs.
type UserStore interface {
	IsEmailAllowed(ctx context.Context, email string) (bool, error)
	GetProfileByEmail(ctx context.Context, email string) (store.Profile, error)
	CreateProfile(ctx context.Context, profile store.Profile) error
	AssignRole(ctx context.Context, userID, role string) error
}

type Service struct {
	store UserStore
}

func NewService(userStore UserStore) *Service {
	return &Service{store: userStore}
}

type SignUpRequest struct {
	Name     string
	Email    string
	Password string
}

type SignInRequest struct {
	Email    string
	Password string
}

// SignUp registers a new account. The email must already be on the
// allow-list; new accounts start with the member role.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.Profile, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if err := validateName(req.Name); err != nil {
		return store.Profile{}, err
	}
	if err := ValidateEmail(req.Email); err != nil {
		return store.Profile{}, err
	}
	if err := validatePassword(req.Password); err != nil {
		return store.Profile{}, err
	}

	allowed, err := s.store.IsEmailAllowed(ctx, req.Email)
	if err != nil {
		// Fail closed, but surface the backend failure as retryable.
		return store.Profile{}, fmt.Errorf("check allow-list: %w", err)
	}
	if !allowed {
		return store.Profile{}, ErrAccessRestricted
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.Profile{}, fmt.Errorf("hash password: %w", err)
	}

	profile := store.Profile{
		ID:           util.NewID("usr"),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         string(rbac.RoleMember),
	}
	if err := s.store.CreateProfile(ctx, profile); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.Profile{}, ErrEmailTaken
		}
		return store.Profile{}, fmt.Errorf("create profile: %w", err)
	}
	if err := s.store.AssignRole(ctx, profile.ID, string(rbac.RoleMember)); err != nil {
		return store.Profile{}, fmt.Errorf("assign default role: %w", err)
	}
	return profile, nil
}

// SignIn authenticates an existing account. The allow-list is re-checked on
// every sign-in so removing an email takes effect the next time its owner
// authenticates.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.Profile, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		return store.Profile{}, ErrInvalidCredentials
	}

	allowed, err := s.store.IsEmailAllowed(ctx, req.Email)
	if err != nil {
		return store.Profile{}, fmt.Errorf("check allow-list: %w", err)
	}
	if !allowed {
		return store.Profile{}, ErrAccessRestricted
	}

	profile, err := s.store.GetProfileByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Profile{}, ErrInvalidCredentials
		}
		return store.Profile{}, fmt.Errorf("look up profile: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(req.Password)); err != nil {
		return store.Profile{}, ErrInvalidCredentials
	}
	return profile, nil
}

func validateName(name string) error {
	if len(name) < 2 {
		return &InvalidInputError{Field: "name", Message: "must be at least 2 characters"}
	}
	if len(name) > 100 {
		return &InvalidInputError{Field: "name", Message: "must be at most 100 characters"}
	}
	return nil
}

// ValidateEmail enforces the shared email shape used by sign-up and the
// allow-list editor.
func ValidateEmail(email string) error {
	if email == "" {
		return &InvalidInputError{Field: "email", Message: "is required"}
	}
	if len(email) > 255 {
		return &InvalidInputError{Field: "email", Message: "must be at most 255 characters"}
	}
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 || !strings.Contains(email[at+1:], ".") {
		return &InvalidInputError{Field: "email", Message: "is not a valid address"}
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 6 {
		return &InvalidInputError{Field: "password", Message: "must be at least 6 characters"}
	}
	if len(password) > 128 {
		return &InvalidInputError{Field: "password", Message: "must be at most 128 characters"}
	}
	return nil
}
