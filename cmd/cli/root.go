package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"ingestrunner/cmd/cli/runcmd"
	"ingestrunner/internal/config"
	"ingestrunner/internal/logging"
)

var RootCmd = &cobra.Command{
	Use:   "ingestctl",
	Short: "IngestRunner - supervisor for the document ingestion job",
	Long: `IngestRunner runs the document ingestion job exactly once at a time. It checks the
embedding service, resets the vector store collection and retries failed attempts.

Use "run once" for a single run, "run scheduled" for daily runs.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		conf := config.FromCobraCmd(cmd)
		logging.Init(conf.LogLevel, conf.LogFormat)
	},
}

func init() {
	RootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	RootCmd.AddCommand(runcmd.Command)
	RootCmd.AddCommand(statusCmd)
	RootCmd.AddCommand(stopCmd)
	RootCmd.AddCommand(eventsCmd)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v", err)
		os.Exit(1)
	}
}
