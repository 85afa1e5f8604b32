package authpw

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"taskhub/api/internal/store"
)

// mockUserStore is an in-memory UserStore for testing
type mockUserStore struct {
	allowed  map[string]bool
	checkErr error
	profiles map[string]store.Profile // keyed by lowercase email
	roles    map[string]string
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		allowed:  make(map[string]bool),
		profiles: make(map[string]store.Profile),
		roles:    make(map[string]string),
	}
}

func (m *mockUserStore) IsEmailAllowed(ctx context.Context, email string) (bool, error) {
	if m.checkErr != nil {
		return false, m.checkErr
	}
	return m.allowed[strings.ToLower(email)], nil
}

func (m *mockUserStore) GetProfileByEmail(ctx context.Context, email string) (store.Profile, error) {
	if profile, ok := m.profiles[strings.ToLower(email)]; ok {
		return profile, nil
	}
	return store.Profile{}, sql.ErrNoRows
}

func (m *mockUserStore) CreateProfile(ctx context.Context, profile store.Profile) error {
	if _, ok := m.profiles[profile.Email]; ok {
		return store.ErrDuplicate
	}
	m.profiles[profile.Email] = profile
	return nil
}

func (m *mockUserStore) AssignRole(ctx context.Context, userID, role string) error {
	m.roles[userID] = role
	return nil
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	mockStore.allowed["test@example.com"] = true
	svc := NewService(mockStore)

	t.Run("successful sign up", func(t *testing.T) {
		profile, err := svc.SignUp(ctx, SignUpRequest{
			Name:     "Test User",
			Email:    "Test@Example.com",
			Password: "password123",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if profile.ID == "" {
			t.Error("expected profile ID to be set")
		}
		if profile.Email != "test@example.com" {
			t.Errorf("expected lowercased email, got %s", profile.Email)
		}
		if mockStore.roles[profile.ID] != "member" {
			t.Errorf("expected default member role, got %q", mockStore.roles[profile.ID])
		}
	})

	t.Run("email not on allow-list", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{
			Name:     "Outsider",
			Email:    "outsider@example.com",
			Password: "password123",
		})
		if !errors.Is(err, ErrAccessRestricted) {
			t.Errorf("expected ErrAccessRestricted, got %v", err)
		}
	})

	t.Run("allow-list check failure surfaces as a backend error", func(t *testing.T) {
		lookupErr := errors.New("connection refused")
		broken := newMockUserStore()
		broken.checkErr = lookupErr
		brokenSvc := NewService(broken)

		_, err := brokenSvc.SignUp(ctx, SignUpRequest{
			Name:     "Test User",
			Email:    "test@example.com",
			Password: "password123",
		})
		if !errors.Is(err, lookupErr) {
			t.Errorf("expected wrapped lookup error, got %v", err)
		}
		if errors.Is(err, ErrAccessRestricted) {
			t.Error("a failed lookup must not read as an allow-list verdict")
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{
			Name:     "Test User 2",
			Email:    "test@example.com",
			Password: "password123",
		})
		if !errors.Is(err, ErrEmailTaken) {
			t.Errorf("expected ErrEmailTaken, got %v", err)
		}
	})

	t.Run("short password", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{
			Name:     "Test User",
			Email:    "test@example.com",
			Password: "pw",
		})
		var invalid *InvalidInputError
		if !errors.As(err, &invalid) || invalid.Field != "password" {
			t.Errorf("expected password validation error, got %v", err)
		}
	})

	t.Run("short name", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{
			Name:     "T",
			Email:    "test@example.com",
			Password: "password123",
		})
		var invalid *InvalidInputError
		if !errors.As(err, &invalid) || invalid.Field != "name" {
			t.Errorf("expected name validation error, got %v", err)
		}
	})

	t.Run("malformed email", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{
			Name:     "Test User",
			Email:    "not-an-email",
			Password: "password123",
		})
		var invalid *InvalidInputError
		if !errors.As(err, &invalid) || invalid.Field != "email" {
			t.Errorf("expected email validation error, got %v", err)
		}
	})
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	mockStore.allowed["test@example.com"] = true
	svc := NewService(mockStore)

	if _, err := svc.SignUp(ctx, SignUpRequest{
		Name:     "Test User",
		Email:    "test@example.com",
		Password: "password123",
	}); err != nil {
		t.Fatalf("seed sign up: %v", err)
	}

	t.Run("successful sign in", func(t *testing.T) {
		profile, err := svc.SignIn(ctx, SignInRequest{
			Email:    "test@example.com",
			Password: "password123",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if profile.Email != "test@example.com" {
			t.Errorf("expected email test@example.com, got %s", profile.Email)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{
			Email:    "test@example.com",
			Password: "wrongpassword",
		})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("non-existent user on allow-list", func(t *testing.T) {
		mockStore.allowed["ghost@example.com"] = true
		_, err := svc.SignIn(ctx, SignInRequest{
			Email:    "ghost@example.com",
			Password: "password123",
		})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("removed from allow-list blocks existing account", func(t *testing.T) {
		mockStore.allowed["test@example.com"] = false
		defer func() { mockStore.allowed["test@example.com"] = true }()

		_, err := svc.SignIn(ctx, SignInRequest{
			Email:    "test@example.com",
			Password: "password123",
		})
		if !errors.Is(err, ErrAccessRestricted) {
			t.Errorf("expected ErrAccessRestricted, got %v", err)
		}
	})

	t.Run("allow-list check failure surfaces as a backend error", func(t *testing.T) {
		lookupErr := errors.New("connection refused")
		mockStore.checkErr = lookupErr
		defer func() { mockStore.checkErr = nil }()

		_, err := svc.SignIn(ctx, SignInRequest{
			Email:    "test@example.com",
			Password: "password123",
		})
		if !errors.Is(err, lookupErr) {
			t.Errorf("expected wrapped lookup error, got %v", err)
		}
		if errors.Is(err, ErrAccessRestricted) {
			t.Error("a failed lookup must not read as an allow-list verdict")
		}
	})
}
