package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/skobkin/carlinkgo/internal/app"
	"github.com/skobkin/carlinkgo/internal/persistence"
	"github.com/skobkin/carlinkgo/internal/platform"
)

func journalCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect or clean up the session journal",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "Show recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJournal(cmd.Context(), g, func(ctx context.Context, db *sql.DB) error {
				return listSessions(ctx, cmd.OutOrStdout(), db, limit)
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum number of sessions to show")

	info := &cobra.Command{
		Use:   "info",
		Short: "Show the last known adapter metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJournal(cmd.Context(), g, func(ctx context.Context, db *sql.DB) error {
				return listInfo(ctx, cmd.OutOrStdout(), db)
			})
		},
	}

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished sessions older than the given age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			return withJournal(cmd.Context(), g, func(ctx context.Context, db *sql.DB) error {
				n, err := persistence.PruneSessions(ctx, db, time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d sessions\n", n)
				return err
			})
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age of the oldest session to keep")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all journal data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJournal(cmd.Context(), g, func(ctx context.Context, db *sql.DB) error {
				return persistence.ClearDatabase(ctx, db)
			})
		},
	}

	cmd.AddCommand(list, info, prune, clearCmd)

	return cmd
}

// withJournal opens the journal database while holding the data dir lock, so
// it never races a running session.
func withJournal(ctx context.Context, g *globalOptions, fn func(context.Context, *sql.DB) error) error {
	paths, err := app.ResolvePaths(g.dataDir)
	if err != nil {
		return err
	}
	lock, err := platform.LockDir(paths.RootDir)
	switch {
	case err == nil:
		defer func() { _ = lock.Release() }()
	case errors.Is(err, platform.ErrLockUnsupported):
	default:
		return fmt.Errorf("data dir %s: %w", paths.RootDir, err)
	}

	db, err := persistence.Open(ctx, paths.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return fn(ctx, db)
}

func listSessions(ctx context.Context, out io.Writer, db *sql.DB, limit int) error {
	sessions, err := persistence.NewSessionRepo(db).ListRecent(ctx, limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(out, "no sessions recorded")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tDURATION\tTRANSPORT\tTARGET\tPHONE\tSTATE\tEND")
	for _, s := range sessions {
		duration := "open"
		if !s.EndedAt.IsZero() {
			duration = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
		}
		phone := "-"
		if s.Phone != nil {
			phone = s.Phone.String()
		}
		end := s.EndReason
		if s.EndError != "" {
			end += ": " + s.EndError
		}
		if end == "" {
			end = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.StartedAt.Local().Format(time.DateTime), duration, s.Transport, orDash(s.Target), phone, s.LastState, end)
	}

	return w.Flush()
}

func listInfo(ctx context.Context, out io.Writer, db *sql.DB) error {
	entries, err := persistence.NewInfoRepo(db).List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Key, e.Value, e.UpdatedAt.Local().Format(time.DateTime))
	}

	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
