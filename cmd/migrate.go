package cmd

import (
	"context"
	"fmt"

	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/pix-payments/db"
	"github.com/frahmantamala/pix-payments/pkg/logger"
)

var (
	migrateCmd = &cobra.Command{
		RunE:  runMigration,
		Use:   "migrate",
		Short: "run the embedded payments table migrations against store.database.source",
	}
	migrateRollback bool
)

func init() {
	migrateCmd.Flags().BoolVarP(&migrateRollback, "rollback", "r", false, "to rollback the latest version of sql migration")
}

func runMigration(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Store.Database.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}

	sqlDB, err := goose.OpenDBWithDriver("pgx", cfg.Store.Database.GetDSN())
	if err != nil {
		return fmt.Errorf("goose: failed to open DB: %w", err)
	}
	defer sqlDB.Close()

	goose.SetBaseFS(db.Migrations)
	goose.SetTableName("schema_migrations")

	command := "up"
	if migrateRollback {
		command = "down"
	}
	if err := goose.RunContext(ctx, command, sqlDB, db.MigrationsDir); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}

	logger.LoggerWrapper().Info("migrations applied", "command", command)
	return nil
}
