package runcmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"ingestrunner/internal/config"
	"ingestrunner/internal/scheduler"
)

var scheduledCmd = &cobra.Command{
	Use:   "scheduled",
	Short: "Runs supervised ingestions on the configured cron schedule",
	Run: func(cmd *cobra.Command, args []string) {
		log.Info().Msg("Running ingestion scheduler")
		conf := config.FromCobraCmd(cmd)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c := newComponents(ctx, conf)
		defer c.Close()

		sch, err := scheduler.New(conf.Schedule.Cron, c.supervisor)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create scheduler")
		}
		if err := sch.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Scheduler stopped with error")
		}
		log.Info().Msg("Scheduler shut down")
	},
}
