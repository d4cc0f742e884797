package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/askdanta/internal/domain"
	"github.com/ashureev/askdanta/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid username or password")

// Verifier checks a username and password and returns the matching user.
type Verifier interface {
	Verify(ctx context.Context, username, password string) (*domain.User, error)
}

// dummyHash keeps the timing of unknown-user lookups close to real ones.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("askdanta-dummy-password"), bcrypt.DefaultCost)

// StoreVerifier verifies passwords against bcrypt hashes in the user table.
type StoreVerifier struct {
	repo store.Repository
}

// NewStoreVerifier creates a verifier backed by repo.
func NewStoreVerifier(repo store.Repository) *StoreVerifier {
	return &StoreVerifier{repo: repo}
}

// Verify implements Verifier.
func (v *StoreVerifier) Verify(ctx context.Context, username, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := v.repo.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// HashPassword returns the bcrypt hash stored for a password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
