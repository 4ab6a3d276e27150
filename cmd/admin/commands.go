package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"intake-bot/internal/config"
	"intake-bot/internal/logging"
	"intake-bot/internal/notify"
	"intake-bot/internal/repo"
	"intake-bot/internal/review"
	"intake-bot/internal/sheet"
	"intake-bot/migrations"
)

type app struct {
	repo   repo.Repository
	logger *slog.Logger
}

// openApp loads configuration and opens a migrated repository.
var openApp = func(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	r, err := repo.Open(ctx, repo.Config{
		DatabaseURL: cfg.DatabaseURL,
		Schema:      cfg.DatabaseSchema,
		SQLitePath:  cfg.SQLitePath,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	if err := r.RunMigrations(ctx, migrations.Files); err != nil {
		r.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &app{repo: r, logger: logger}, nil
}

func withApp(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.repo.Close()
		return fn(cmd, args, a)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "intake-admin",
		Short:         "Administer intake submissions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newStatsCmd(), newListCmd(), newReviewCmd(), newExportCmd(), newCleanupCmd())
	return root
}

func newStatsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show submission counts by status",
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			stats, err := a.repo.SubmissionStats(cmd.Context())
			if err != nil {
				return fmt.Errorf("submission stats: %w", err)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return json.NewEncoder(out).Encode(stats)
			}
			fmt.Fprintf(out, "Total:    %d\nPending:  %d\nApproved: %d\nRejected: %d\n", stats.Total, stats.Pending, stats.Approved, stats.Rejected)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List submissions, newest first",
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			filter, err := repo.ParseStatusFilter(status)
			if err != nil {
				return err
			}
			subs, err := a.repo.ListSubmissions(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("list submissions: %w", err)
			}
			return printTable(cmd.OutOrStdout(), subs)
		}),
	}
	cmd.Flags().StringVar(&status, "status", "all", "pending, approved, rejected or all")
	return cmd
}

func newReviewCmd() *cobra.Command {
	var comments string
	cmd := &cobra.Command{
		Use:   "review <id> <approved|rejected|pending>",
		Short: "Record a review decision (logged only, no chat message)",
		Long: `Record a review decision for a submission.

The CLI has no WhatsApp session, so the decision is only written to the log.
Use POST /admin/submissions/{id}/review on the running service to also
message the applicant and the reviewers.`,
		Args: cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid submission id %q", args[0])
			}
			decision, err := repo.ParseStatus(args[1])
			if err != nil {
				return err
			}
			w := review.New(a.repo, notify.NewLog(a.logger), nil, a.logger)
			sub, err := w.Review(cmd.Context(), id, decision, comments)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submission #%d is now %s\n", sub.ID, sub.Status)
			return nil
		}),
	}
	cmd.Flags().StringVar(&comments, "comments", "", "reviewer comments")
	return cmd
}

func newExportCmd() *cobra.Command {
	var status, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export submissions as CSV",
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			filter, err := repo.ParseStatusFilter(status)
			if err != nil {
				return err
			}
			subs, err := a.repo.ListSubmissions(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("list submissions: %w", err)
			}
			if output == "" || output == "-" {
				return sheet.WriteCSV(cmd.OutOrStdout(), subs)
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}
			if err := sheet.WriteCSV(f, subs); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d submissions to %s\n", len(subs), output)
			return nil
		}),
	}
	cmd.Flags().StringVar(&status, "status", "all", "pending, approved, rejected or all")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func newCleanupCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete submissions older than --days",
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}
			cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
			n, err := a.repo.DeleteSubmissionsBefore(cmd.Context(), cutoff)
			if err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d submissions older than %d days\n", n, days)
			return nil
		}),
	}
	cmd.Flags().IntVar(&days, "days", 90, "retention in days")
	return cmd
}

func printTable(w io.Writer, subs []repo.Submission) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSUBMITTED\tSTATUS\tNAME\tPHONE\tHANDLE")
	for _, s := range subs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.SubmittedAt.Format("2006-01-02 15:04"), s.Status, s.Name, s.Phone, s.Handle)
	}
	return tw.Flush()
}
