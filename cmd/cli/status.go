package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"ingestrunner/internal/audit"
	"ingestrunner/internal/config"
	"ingestrunner/internal/database"
	"ingestrunner/internal/guard"
	"ingestrunner/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Shows the recorded ingestion process and the latest audit events",
	Long: `Shows the recorded ingestion process and the latest events of the audit file.
When the audit database is enabled, the latest run and its attempts are read from it as well.`,
	Run: func(cmd *cobra.Command, args []string) {
		conf := config.FromCobraCmd(cmd)
		limit, _ := cmd.Flags().GetInt("events")

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		out := cmd.OutOrStdout()
		g := guard.New(conf.Supervisor.PIDFile, conf.KillGrace())
		st, err := g.Inspect(ctx)
		switch {
		case errors.Is(err, guard.ErrNoRecord):
			_, _ = fmt.Fprintln(out, "No ingestion process recorded")
		case err != nil:
			log.Fatal().Err(err).Str("path", g.Path()).Msg("Could not read process record")
		default:
			printProcess(out, st)
		}

		events, err := audit.ReadRecent(conf.Audit.File, limit)
		if err != nil {
			log.Fatal().Err(err).Str("path", conf.Audit.File).Msg("Could not read audit trail")
		}
		printEvents(out, events)

		if conf.Database.Enabled {
			printLatestRun(ctx, out, conf)
		}
	},
}

func printLatestRun(ctx context.Context, out io.Writer, conf *config.IRConfig) {
	db, err := database.New(ctx, conf)
	if err != nil {
		log.Warn().Err(err).Msg("Could not open audit database")
		return
	}
	defer db.Close()

	rec := audit.NewPostgresRecorder(db)
	run, err := rec.LatestRun(ctx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, _ = fmt.Fprintln(out, "No runs in the audit database")
		return
	case err != nil:
		log.Warn().Err(err).Msg("Could not read latest run")
		return
	}
	attempts, err := rec.Attempts(ctx, run.ID)
	if err != nil {
		log.Warn().Err(err).Str("run_id", run.ID).Msg("Could not read attempts")
	}
	printRun(out, run, attempts)
}

func printRun(out io.Writer, run *models.Run, attempts []models.Attempt) {
	_, _ = fmt.Fprintf(out, "Latest run %s: %s (started %s)\n",
		run.ID, run.Status, run.StartedAt.Local().Format(time.DateTime))
	if run.Error.Valid {
		_, _ = fmt.Fprintf(out, "  error: %s\n", run.Error.String)
	}
	if len(attempts) == 0 {
		return
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "  ATTEMPT\tSTATUS\tEXIT\tDETAIL\tLOG")
	for _, a := range attempts {
		exit := "-"
		if a.ExitCode.Valid {
			exit = fmt.Sprint(a.ExitCode.Int64)
		}
		_, _ = fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%s\n", a.Number, a.Status, exit, a.Detail.String, a.LogPath)
	}
	_ = w.Flush()
}

func init() {
	statusCmd.Flags().IntP("events", "n", 10, "number of audit events to show")
}

func printProcess(out io.Writer, st guard.Status) {
	state := "stale (not running)"
	switch {
	case st.Reused:
		state = "stale (pid reused by another process)"
	case st.Alive:
		state = "running"
	}
	_, _ = fmt.Fprintf(out, "Ingestion process %d: %s\n", st.PID, state)
	if st.Fingerprint != nil && st.Fingerprint.Cmdline != "" {
		_, _ = fmt.Fprintf(out, "  command: %s\n", st.Fingerprint.Cmdline)
	}
}

func printEvents(out io.Writer, events []audit.Event) {
	if len(events) == 0 {
		_, _ = fmt.Fprintln(out, "No audit events")
		return
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tEVENT\tRUN\tATTEMPT\tSTATUS\tDETAIL")
	for _, e := range events {
		attempt, status, detail := "-", "-", ""
		switch {
		case e.Attempt != nil:
			attempt = fmt.Sprint(e.Attempt.Number)
			status = string(e.Attempt.Status)
			detail = e.Attempt.Detail.String
		case e.Run != nil:
			status = string(e.Run.Status)
			detail = e.Run.Error.String
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Time.Local().Format(time.DateTime), e.Kind, e.RunID, attempt, status, detail)
	}
	_ = w.Flush()
}
