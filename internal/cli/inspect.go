package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/rampcheck/internal/performance/output"
	"github.com/wesleyorama2/rampcheck/internal/performance/report"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <report.json>",
		Short: "Show a saved JSON report and re-check its verdict",
		Long: `Inspect prints the summary and threshold results of a report written
with "run --out". It exits with the code the run ended with, so a saved
report can gate a later CI step.

--query prints a single value instead, using a gjson path or a simple
JSONPath:
  rampcheck inspect report.json --query metrics.latency.p95
  rampcheck inspect report.json --query '$.verdict.results[0].passed'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return runtimeError("%w", err)
			}

			if q := v.GetString("query"); q != "" {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return runtimeError("failed to read report: %w", err)
				}
				value, err := report.Query(data, q)
				if err != nil {
					return runtimeError("%w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			}

			summary, err := report.Inspect(args[0])
			if err != nil {
				return runtimeError("%w", err)
			}

			palette := output.DefaultPalette()
			if v.GetBool("no-color") {
				palette = output.NoColorPalette()
			}
			printSummary(cmd, summary, palette)

			if code := summary.ExitCode(); code != ExitOK {
				return &ExitError{Code: code}
			}
			return nil
		},
	}

	cmd.Flags().String("query", "", "Print the value at this path instead of the summary")
	return cmd
}

func printSummary(cmd *cobra.Command, s *report.Summary, palette *output.Palette) {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, palette.Title.Sprint(s.Name))
	fmt.Fprintf(out, "Run ID:    %s\n", s.ID)
	fmt.Fprintf(out, "URL:       %s\n", s.URL)
	fmt.Fprintf(out, "Started:   %s\n", s.StartTime.Local().Format(time.RFC1123))
	fmt.Fprintf(out, "Duration:  %s\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(out, "Requests:  %d (%d failed, %.2f%%)\n", s.TotalRequests, s.FailedRequests, s.ErrorRate*100)
	fmt.Fprintf(out, "Rate:      %.1f req/s\n", s.RPS)
	fmt.Fprintf(out, "p95:       %s\n", s.P95.Round(time.Microsecond))
	fmt.Fprintf(out, "Max VUs:   %d\n", s.MaxVUs)

	if lines := output.ThresholdLines(&s.Verdict, palette); len(lines) > 0 {
		fmt.Fprintln(out, "\nThresholds:")
		for _, line := range lines {
			fmt.Fprintln(out, line)
		}
	}

	fmt.Fprintln(out)
	switch {
	case s.Verdict.Aborted:
		fmt.Fprintln(out, palette.Bad.Sprintf("ABORTED by %s", s.Verdict.AbortedBy))
	case s.Verdict.Passed:
		fmt.Fprintln(out, palette.Good.Sprint("PASSED"))
	default:
		fmt.Fprintln(out, palette.Bad.Sprint("FAILED"))
	}
}
