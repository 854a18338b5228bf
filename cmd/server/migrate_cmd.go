package main

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/suPer8Hu/commerce-chat/internal/config"
	"github.com/suPer8Hu/commerce-chat/internal/db"
	"github.com/suPer8Hu/commerce-chat/internal/logging"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logging.Setup(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})

			gdb, err := db.Open(cfg.DBDSN)
			if err != nil {
				return errors.Wrap(err, "db connect")
			}
			if err := db.Migrate(gdb); err != nil {
				return errors.Wrap(err, "migrate")
			}
			log.Info("migration complete")
			return nil
		},
	}
}
