package cli

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"ingestrunner/internal/config"
	"ingestrunner/internal/guard"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Terminates a running ingestion job and clears its process record",
	Long: `Terminates the recorded ingestion job. The job is sent SIGTERM and, if it is still
running after the grace period, SIGKILL. A pid that now belongs to another process is never signalled.

The supervisor that launched the job sees the stop request and aborts its run: no further attempt is
made and the vector store is not reset again.`,
	Run: func(cmd *cobra.Command, args []string) {
		conf := config.FromCobraCmd(cmd)

		g := guard.New(conf.Supervisor.PIDFile, conf.KillGrace())
		if err := g.EnsureExclusive(cmd.Context()); err != nil {
			log.Fatal().Err(err).Str("path", g.Path()).Msg("Could not stop ingestion job")
		}
		log.Info().Msg("No ingestion job running")
	},
}
