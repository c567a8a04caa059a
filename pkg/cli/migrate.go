package cli

import (
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/ekaya-inc/golden-engine/migrations"
	"github.com/ekaya-inc/golden-engine/pkg/database"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "migrate",
		Short:   "Apply pending store migrations",
		GroupID: "management",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadBase(opts)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := connectStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			sqlDB := stdlib.OpenDBFromPool(db.Pool)
			defer sqlDB.Close()

			return database.RunMigrations(sqlDB, migrations.FS, logger)
		},
	}
}
