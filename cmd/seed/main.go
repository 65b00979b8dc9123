package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mike-walpole/d2g/config"
	"github.com/mike-walpole/d2g/internal/repositories/schema"
	"github.com/mike-walpole/d2g/internal/seed"
	"github.com/mike-walpole/d2g/internal/services/registry"
	"github.com/mike-walpole/d2g/pkg/database"
	"github.com/mike-walpole/d2g/pkg/logging"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		file     string
		migrate  bool
		validate bool
	)

	cmd := &cobra.Command{
		Use:           "d2g-seed",
		Short:         "Load the initial form schemas and config documents",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			seedFile, err := seed.Load(file)
			if err != nil {
				return err
			}
			if validate {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d documents\n", file, len(seedFile.Documents))
				return nil
			}
			return run(cmd.Context(), cmd, seedFile, migrate)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "seed/seed.yaml", "seed file to load")
	cmd.Flags().BoolVar(&migrate, "migrate", true, "run database migrations before seeding")
	cmd.Flags().BoolVar(&validate, "validate", false, "only parse the seed file")

	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, seedFile *seed.File, migrate bool) error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}

	zapLogger, err := logging.NewZapLogger(logging.Config{
		Service: cfg.AppName + "-seed",
		Version: cfg.Version,
		Level:   cfg.LogLevel,
		Pretty:  cfg.PrettyLogs,
	})
	if err != nil {
		return err
	}
	defer func() { _ = zapLogger.Sync() }()
	logger := logging.NewLogger(zapLogger)

	db, err := database.Connect(ctx, database.ConnectionConfig{
		Driver:          cfg.DatabaseDriver,
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if migrate {
		migrations := database.NewMigrationService(logger, &database.MigrationConfig{
			MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
			Version:             uint(cfg.DatabaseMigrationVersion),
			Force:               cfg.DatabaseMigrationForce,
			AutoRollback:        cfg.DatabaseMigrationAutoRollback,
		})
		if err := migrations.MigratePostgres(db.DB, cfg.DatabaseName); err != nil {
			return err
		}
	}

	// single writer, so no schema lock and no events
	schemas := registry.NewService(logger, schema.NewRepository(database.NewDatabaseInstance(db, logger), logger), nil, nil)

	result, err := seed.Apply(ctx, logger, schemas, seedFile)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, key := range result.Created {
		fmt.Fprintf(out, "created %s\n", key)
	}
	for _, key := range result.Skipped {
		fmt.Fprintf(out, "exists  %s\n", key)
	}
	return nil
}
