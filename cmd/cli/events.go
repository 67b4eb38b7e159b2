package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"ingestrunner/internal/audit"
	"ingestrunner/internal/config"
	"ingestrunner/internal/queue"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Consumes run events from the redis queue and prints them as JSON lines",
	Run: func(cmd *cobra.Command, args []string) {
		conf := config.FromCobraCmd(cmd)
		if !conf.Queue.Enabled {
			log.Fatal().Msg("Event queue is disabled, set queue.enabled")
		}

		client, err := queue.NewRedisClient(conf.Queue.Host, conf.Queue.Password, conf.Queue.DB, conf.Queue.MaxEvents)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not connect to redis queue")
		}
		defer func() {
			if err := client.Close(); err != nil {
				log.Error().Err(err).Msg("Could not close redis queue cleanly on shutdown")
			}
		}()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		err = client.Subscribe(ctx, func(e audit.Event) {
			b, err := json.Marshal(e)
			if err != nil {
				log.Error().Err(err).Str("run_id", e.RunID).Msg("Could not encode event")
				return
			}
			_, _ = fmt.Fprintln(out, string(b))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Stopped consuming events")
		}
	},
}
