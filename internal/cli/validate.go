package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/rampcheck/internal/performance/config"
	"github.com/wesleyorama2/rampcheck/internal/performance/threshold"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Check a config file without sending any requests",
		Long: `Validate checks a config file against the schema, parses its stages and
threshold expressions and prints the plan. It exits 0 when the file is
valid and 2 otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(args[0])
			if err != nil {
				return configError("%w", err)
			}
			config.ApplyDefaults(cfg)

			if err := cfg.Validate(); err != nil {
				return configError("invalid configuration: %w", err)
			}
			set, err := threshold.NewSet(cfg.Thresholds.Definitions())
			if err != nil {
				return configError("invalid thresholds: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s is valid\n\n", args[0])
			fmt.Fprintf(out, "Name:     %s\n", cfg.Name)
			fmt.Fprintf(out, "URL:      %s\n", cfg.URL)
			fmt.Fprintf(out, "Duration: %s\n", cfg.TotalDuration())
			fmt.Fprintf(out, "Max VUs:  %d\n", cfg.MaxTarget())
			fmt.Fprintf(out, "Sleep:    %s\n", cfg.Sleep)

			fmt.Fprintln(out, "\nStages:")
			for _, stage := range cfg.Stages {
				fmt.Fprintf(out, "  %-10s %6s -> %d VUs\n", stage.Name, stage.Duration, stage.Target)
			}

			if set.Len() > 0 {
				fmt.Fprintln(out, "\nThresholds:")
				for _, t := range set.Thresholds() {
					suffix := ""
					if t.AbortOnFail {
						suffix = " (abortOnFail)"
					}
					fmt.Fprintf(out, "  %s: %s%s\n", t.Metric, t.String(), suffix)
				}
			}
			return nil
		},
	}
}
