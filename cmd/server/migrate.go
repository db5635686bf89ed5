package main

import (
	"newsletter/internal/repository"
	"newsletter/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbCfg := opts.cfg.Database
			dbCfg.AutoMigrate = false
			db, err := initDB(dbCfg)
			if err != nil {
				return err
			}
			if err := repository.Migrate(db); err != nil {
				return err
			}
			logger.Info("database migrated", zap.String("driver", dbCfg.Driver))
			return nil
		},
	}
}
