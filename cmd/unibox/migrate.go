package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memohai/unibox/db"
	idb "github.com/memohai/unibox/internal/db"
	"github.com/memohai/unibox/internal/logger"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <up|down|version|force N|steps N>",
		Short: "Apply or roll back the postgres schema",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logger.Init(cfg.Log.Level, cfg.Log.Format)
			migrations, err := db.Migrations()
			if err != nil {
				return fmt.Errorf("load migrations: %w", err)
			}
			return idb.RunMigrate(log, cfg.Postgres, migrations, args[0], args[1:])
		},
	}
}
