package runcmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"ingestrunner/internal/config"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Runs one supervised ingestion",
	Long: `Runs one supervised ingestion: clears any previous job, checks the embedding service,
then runs the ingestion job with a store reset before every attempt.

Exits 0 on success or when interrupted, 1 when the health check fails or all attempts fail.`,
	Run: func(cmd *cobra.Command, args []string) {
		conf := config.FromCobraCmd(cmd)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c := newComponents(ctx, conf)
		run, err := c.supervisor.Execute(ctx)
		c.Close()

		if ctx.Err() != nil {
			log.Info().Str("run_id", run.ID).Msg("Shutdown requested, run aborted")
		}
		stop()
		os.Exit(exitCode(err))
	},
}
