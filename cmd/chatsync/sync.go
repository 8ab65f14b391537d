package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/push"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/propwise/chatsync/pkg/dataloader"
	"github.com/propwise/chatsync/pkg/dataloader/loaderwithmetrics"
	"github.com/propwise/chatsync/pkg/dataloader/transcriptloader"
	"github.com/propwise/chatsync/pkg/flags"
	"github.com/propwise/chatsync/pkg/flags/configflags"
)

type SyncFlags struct {
	Force        bool
	InitDatabase bool

	ConfigFlags    *configflags.ConfigFlags
	DBFlags        *flags.PostgresFlags
	VoiceflowFlags *flags.VoiceflowFlags
}

func NewSyncFlags() *SyncFlags {
	return &SyncFlags{
		ConfigFlags:    configflags.NewConfigFlags(),
		DBFlags:        flags.NewPostgresFlags(),
		VoiceflowFlags: flags.NewVoiceflowFlags(),
	}
}

func (f *SyncFlags) BindFlags(fs *pflag.FlagSet) {
	f.ConfigFlags.BindFlags(fs)
	f.DBFlags.BindFlags(fs)
	f.VoiceflowFlags.BindFlags(fs)

	fs.BoolVar(&f.Force, "force", false, "Ignore the stored watermark and run a full sync")
	fs.BoolVar(&f.InitDatabase, "init-database", false, "Migrate the DB before syncing")
}

func NewSyncCommand() *cobra.Command {
	f := NewSyncFlags()

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one transcript sync pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Cancel syncing after 2 hours
			ctx, cancel := context.WithTimeout(context.Background(), time.Hour*2)
			defer cancel()

			start := time.Now()

			dbc, err := f.DBFlags.GetDBClient()
			if err != nil {
				return errors.WithMessage(err, "could not get db client")
			}
			if f.InitDatabase {
				if err := dbc.UpdateSchema(); err != nil {
					return errors.WithMessage(err, "could not migrate db")
				}
			}

			config, err := f.ConfigFlags.GetConfig()
			if err != nil {
				return err
			}
			f.VoiceflowFlags.ApplyConfig(config.Voiceflow)

			client, err := f.VoiceflowFlags.GetClient()
			if err != nil {
				return errors.WithMessage(err, "could not get transcript API client")
			}

			var promPusher *push.Pusher
			if pushgateway := os.Getenv("CHATSYNC_PROMETHEUS_PUSHGATEWAY"); pushgateway != "" {
				promPusher = push.New(pushgateway, "chatsync-transcript-loader")
			}

			loader := transcriptloader.New(ctx, dbc, client, config.LocationAliases, transcriptloader.Options{
				Force:             f.Force,
				Tag:               f.VoiceflowFlags.Tag,
				PageSize:          f.VoiceflowFlags.PageSize,
				MaxPages:          f.VoiceflowFlags.MaxPages,
				FetchConcurrency:  f.VoiceflowFlags.FetchConcurrency,
				IngestConcurrency: f.VoiceflowFlags.IngestConcurrency,
			}, promPusher)

			l := loaderwithmetrics.New([]dataloader.DataLoader{loader})
			l.Load()

			log.WithField("elapsed", time.Since(start)).Info("sync complete")

			if promPusher != nil {
				log.Info("pushing metrics to prometheus gateway")
				if err := promPusher.Add(); err != nil {
					log.WithError(err).Error("could not push to prometheus pushgateway")
				}
			}

			if allErrs := l.Errors(); len(allErrs) > 0 {
				log.Warningf("%d errors were encountered while syncing transcripts:", len(allErrs))
				for _, err := range allErrs {
					log.Error(err.Error())
				}
				return fmt.Errorf("errors were encountered while syncing transcripts, see logs for details")
			}
			log.Info("no errors encountered during sync")
			return nil
		},
	}

	f.BindFlags(cmd.Flags())

	return cmd
}
