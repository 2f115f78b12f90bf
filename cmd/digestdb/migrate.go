package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"digestdb/internal/config"
	"digestdb/internal/engine"
	"digestdb/internal/errs"
	"digestdb/internal/store"

	_ "modernc.org/sqlite"
)

func newMigrateCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var dryRun bool
	var inspect bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run or inspect index schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine(cfg, nil)
			if err != nil {
				return err
			}

			if inspect || dryRun {
				plan, err := inspectMigrations(eng.IndexPath())
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeStructured(plan)
				}
				return writeMigrationPlan(plan)
			}

			// Opening the engine applies pending migrations under the lock.
			return withEngine(cmd, cfg, func(ctx context.Context, eng *engine.Engine) error {
				if !*jsonOutput {
					return writePlain("Migrations applied successfully.\n")
				}
				plan, err := inspectMigrations(eng.IndexPath())
				if err != nil {
					return err
				}
				return writeStructured(plan)
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show pending migrations without applying")
	cmd.Flags().BoolVar(&inspect, "inspect", false, "show migration status")

	return cmd
}

func inspectMigrations(indexPath string) (*store.MigrationStatus, error) {
	if _, err := os.Stat(indexPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: index %s does not exist; run digestdb init", errs.ErrNotFound, indexPath)
		}
		return nil, err
	}
	db, err := openRawDB(indexPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	plan, err := store.MigrationPlan(db)
	if err != nil {
		return nil, fmt.Errorf("inspect migrations: %w", err)
	}
	return plan, nil
}

func writeMigrationPlan(plan *store.MigrationStatus) error {
	_ = writePlain("Current version: %d\n", plan.CurrentVersion)
	_ = writePlain("Available version: %d\n", plan.AvailableVersion)
	if len(plan.Pending) == 0 {
		return writePlain("No pending migrations.\n")
	}
	_ = writePlain("Pending migrations: %d\n", len(plan.Pending))
	for _, m := range plan.Pending {
		_ = writePlain("  %d: %s\n", m.Version, m.Description)
	}
	return nil
}

func openRawDB(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("db path is required")
	}
	u := url.URL{Scheme: "file", Path: path}
	return sql.Open("sqlite", u.String())
}
