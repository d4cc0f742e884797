package identity

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/askdanta/internal/store"
)

const sweepInterval = 5 * time.Minute

// RunSweeper periodically deletes expired logins until ctx is done.
func RunSweeper(ctx context.Context, repo store.Repository, interval time.Duration) error {
	if interval <= 0 {
		interval = sweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("Login sweeper started", "interval", interval)

	for {
		select {
		case <-ticker.C:
			sweepExpiredLogins(ctx, repo, time.Now())
		case <-ctx.Done():
			slog.Info("Login sweeper shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

func sweepExpiredLogins(ctx context.Context, repo store.Repository, now time.Time) {
	deleted, err := repo.CleanupExpiredLoginSessions(ctx, now)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Login sweeper failed to delete expired logins", "error", err)
		}
		return
	}
	if deleted > 0 {
		slog.Info("Login sweeper deleted expired logins", "count", deleted)
	}
}
