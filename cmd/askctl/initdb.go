package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/askdanta/internal/config"
	"github.com/ashureev/askdanta/internal/identity"
	"github.com/ashureev/askdanta/internal/store"
	"github.com/spf13/cobra"
)

var (
	initdbConfirm bool
	initdbPath    string
	initdbSeed    bool
)

var initdbCmd = &cobra.Command{
	Use:   "initdb",
	Short: "Drop and recreate the local database tables",
	Long: `Drop every table of the local SQLite database and create them again.
All users, logins, threads and messages are lost. Configured SEED_USERS are
created again unless --seed=false is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !initdbConfirm {
			return errors.New("initdb deletes all data; re-run with --yes to confirm")
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		path := initdbPath
		if path == "" {
			path = cfg.DBPath
		}
		seeds := cfg.SeedUsers
		if !initdbSeed {
			seeds = nil
		}
		if err := resetDatabase(cmd.Context(), path, seeds); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Database %s recreated (%d users seeded)\n", path, len(seeds))
		return nil
	},
}

func init() {
	initdbCmd.Flags().BoolVar(&initdbConfirm, "yes", false, "Confirm that all data may be deleted")
	initdbCmd.Flags().StringVar(&initdbPath, "db", "", "Database path (defaults to DB_PATH)")
	initdbCmd.Flags().BoolVar(&initdbSeed, "seed", true, "Create SEED_USERS after the reset")
	rootCmd.AddCommand(initdbCmd)
}

func resetDatabase(ctx context.Context, path string, seeds []config.SeedUser) error {
	if ctx == nil {
		ctx = context.Background()
	}
	repo, err := store.NewSQLite(path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = repo.Close() }()

	if err := repo.Reset(ctx); err != nil {
		return fmt.Errorf("reset database: %w", err)
	}
	return identity.SeedUsers(ctx, repo, seeds)
}
