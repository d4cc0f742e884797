package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/askdanta/internal/config"
	"github.com/ashureev/askdanta/internal/domain"
	"github.com/ashureev/askdanta/internal/store"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// SeedUsers creates the configured local users. Existing users keep their
// id and their own access token; their password hash changes only when the
// configured password does. Seeded users get no access token of their own,
// so the deployment default is resolved when a chat starts.
func SeedUsers(ctx context.Context, repo store.Repository, seeds []config.SeedUser) error {
	for _, seed := range seeds {
		if err := seedUser(ctx, repo, seed); err != nil {
			return fmt.Errorf("seed user %s: %w", seed.Username, err)
		}
	}
	if len(seeds) > 0 {
		slog.Info("Seeded local users", "count", len(seeds))
	}
	return nil
}

func seedUser(ctx context.Context, repo store.Repository, seed config.SeedUser) error {
	existing, err := repo.GetUserByUsername(ctx, seed.Username)
	if err != nil {
		return err
	}

	now := time.Now()
	user := &domain.User{
		UserID:      uuid.NewString(),
		Username:    seed.Username,
		DisplayName: seed.DisplayName,
		Role:        domain.RoleUser,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if seed.Username == "admin" {
		user.Role = domain.RoleAdmin
	}

	if existing != nil {
		user.UserID = existing.UserID
		user.CreatedAt = existing.CreatedAt
		user.AccessToken = existing.AccessToken
		if bcrypt.CompareHashAndPassword([]byte(existing.PasswordHash), []byte(seed.Password)) == nil {
			user.PasswordHash = existing.PasswordHash
		}
	}
	if user.PasswordHash == "" {
		hash, err := HashPassword(seed.Password)
		if err != nil {
			return err
		}
		user.PasswordHash = hash
	}

	return repo.UpsertUser(ctx, user)
}
