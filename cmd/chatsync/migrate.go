package main

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/propwise/chatsync/pkg/flags"
)

type MigrateFlags struct {
	DBFlags *flags.PostgresFlags
}

func NewMigrateFlags() *MigrateFlags {
	return &MigrateFlags{
		DBFlags: flags.NewPostgresFlags(),
	}
}

func (f *MigrateFlags) BindFlags(fs *pflag.FlagSet) {
	f.DBFlags.BindFlags(fs)
}

func NewMigrateCommand() *cobra.Command {
	f := NewMigrateFlags()

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbc, err := f.DBFlags.GetDBClient()
			if err != nil {
				return errors.WithMessage(err, "could not get db client")
			}

			if err := dbc.UpdateSchema(); err != nil {
				return errors.WithMessage(err, "could not migrate db")
			}

			log.Info("database schema migrated")
			return nil
		},
	}

	f.BindFlags(cmd.Flags())

	return cmd
}
