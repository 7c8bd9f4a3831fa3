package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/lightseeker/internal/storage"
)

func Run(ctx context.Context, config *Config, out io.Writer, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing storage failed", slog.String("error", err.Error()))
		}
	}()

	if config.SessionID == 0 {
		return listSessions(ctx, store, out)
	}
	return reportSession(ctx, store, config, out)
}

func listSessions(ctx context.Context, store storage.Store, out io.Writer) error {
	sessions, err := store.Sessions(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tLINK\tOUTCOME")
	for _, s := range sessions {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", s.ID, humanize.Time(s.StartTime), duration(s), s.Link, outcome(s))
	}

	return w.Flush()
}

func reportSession(ctx context.Context, store storage.Store, config *Config, out io.Writer) error {
	session, err := store.Session(ctx, config.SessionID)
	if err != nil {
		return err
	}

	sites, err := store.SiteEvaluations(ctx, session.ID)
	if err != nil {
		return err
	}

	events, err := store.Events(ctx, session.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Session %d (%s)\n", session.ID, session.UUID)
	fmt.Fprintf(out, "Started:  %s (%s)\n", session.StartTime.Local().Format(time.DateTime), humanize.Time(session.StartTime))
	fmt.Fprintf(out, "Duration: %s\n", duration(session))
	fmt.Fprintf(out, "Link:     %s\n", session.Link)
	fmt.Fprintf(out, "Outcome:  %s\n", outcome(session))
	if config.Verbose && session.Config != nil {
		fmt.Fprintf(out, "Config:   %s\n", *session.Config)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "\nSites (%s)\n", humanize.Comma(int64(len(sites))))
	fmt.Fprintln(w, "ATTEMPT\tTIME\tSAMPLES\tMEAN (m)\tFLATNESS (m)\tACCEPTED")
	for _, s := range sites {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%t\n",
			s.Attempt,
			s.Timestamp.Local().Format(time.TimeOnly),
			humanize.Comma(int64(s.Samples)),
			optionalFloat(s.Mean),
			optionalFloat(s.Flatness),
			s.Accepted,
		)
	}

	fmt.Fprintf(w, "\nEvents (%s)\n", humanize.Comma(int64(len(events))))
	fmt.Fprintln(w, "TIME\tKIND\tDETAIL")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Timestamp.Local().Format(time.TimeOnly), e.Kind, e.Detail)
	}

	return w.Flush()
}

func duration(s *storage.Session) string {
	if s.EndTime == nil {
		return "-"
	}
	return s.EndTime.Sub(s.StartTime).Round(time.Second).String()
}

func outcome(s *storage.Session) string {
	if s.Outcome == nil {
		return "in progress"
	}
	return *s.Outcome
}

func optionalFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}
