package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/rampcheck/internal/history"
)

const defaultHistoryDB = "rampcheck.db"

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List, show and prune runs saved with run --history",
	}
	cmd.PersistentFlags().String("db", defaultHistoryDB, "History database file")

	cmd.AddCommand(newHistoryListCmd())
	cmd.AddCommand(newHistoryShowCmd())
	cmd.AddCommand(newHistoryPruneCmd())
	return cmd
}

// openHistory opens the database named by --db (or RAMPCHECK_DB).
func openHistory(cmd *cobra.Command) (*history.Store, error) {
	v, err := newViper(cmd)
	if err != nil {
		return nil, runtimeError("%w", err)
	}
	store, err := history.Open(v.GetString("db"))
	if err != nil {
		return nil, runtimeError("%w", err)
	}
	return store, nil
}

func newHistoryListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := cmd.Flags().GetInt("limit")
			if err != nil {
				return configError("%w", err)
			}

			store, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(limit)
			if err != nil {
				return runtimeError("%w", err)
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tNAME\tREQUESTS\tERRORS\tP95\tRESULT")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.2f%%\t%s\t%s\n",
					shortID(r.ID),
					r.StartTime.Local().Format("2006-01-02 15:04:05"),
					r.Name,
					r.TotalRequests,
					r.ErrorRate*100,
					r.P95.Round(time.Microsecond),
					outcome(r))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list (0 for all)")
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one saved run; an unambiguous ID prefix is enough",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			r, err := store.Get(args[0])
			if errors.Is(err, history.ErrNotFound) {
				return configError("%w: %s", err, args[0])
			}
			if err != nil {
				return runtimeError("%w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run ID:    %s\n", r.ID)
			fmt.Fprintf(out, "Name:      %s\n", r.Name)
			fmt.Fprintf(out, "URL:       %s\n", r.URL)
			fmt.Fprintf(out, "Started:   %s\n", r.StartTime.Local().Format(time.RFC1123))
			fmt.Fprintf(out, "Duration:  %s\n", r.Duration.Round(time.Millisecond))
			fmt.Fprintf(out, "Requests:  %d (%d failed, %.2f%%)\n", r.TotalRequests, r.FailedRequests, r.ErrorRate*100)
			fmt.Fprintf(out, "Rate:      %.1f req/s\n", r.RPS)
			fmt.Fprintf(out, "p95:       %s\n", r.P95.Round(time.Microsecond))
			fmt.Fprintf(out, "Max VUs:   %d\n", r.MaxVUs)
			fmt.Fprintf(out, "Result:    %s\n", outcome(*r))
			if len(r.FailedThresholds) > 0 {
				fmt.Fprintf(out, "Failed:    %s\n", strings.Join(r.FailedThresholds, ", "))
			}
			return nil
		},
	}
}

func newHistoryPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keep, err := cmd.Flags().GetInt("keep")
			if err != nil {
				return configError("%w", err)
			}
			if keep < 0 {
				return configError("--keep cannot be negative")
			}

			store, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Prune(keep)
			if err != nil {
				return runtimeError("%w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d run(s), kept the newest %d.\n", removed, keep)
			return nil
		},
	}
	cmd.Flags().Int("keep", 50, "Number of newest runs to keep")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func outcome(r history.Record) string {
	switch {
	case r.Aborted:
		return "aborted"
	case r.Passed:
		return "passed"
	default:
		return "failed"
	}
}
