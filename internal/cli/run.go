package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wesleyorama2/rampcheck/internal/history"
	"github.com/wesleyorama2/rampcheck/internal/performance/config"
	"github.com/wesleyorama2/rampcheck/internal/performance/engine"
	"github.com/wesleyorama2/rampcheck/internal/performance/exporter"
	"github.com/wesleyorama2/rampcheck/internal/performance/output"
	"github.com/wesleyorama2/rampcheck/internal/performance/report"
)

const progressInterval = time.Second

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [config-file]",
		Short: "Run a ramping load test",
		Long: `Run a ramping load test from a YAML or JSON config file, from flags, or
both (flags override the file).

Without a config file or flags the stock profile runs: 100 VUs after 30s,
200 VUs for 2m, down to 0 over 1m against
http://127.0.0.1:64240/api/health_check, failing when more than 1% of
requests fail or p95 latency reaches 500ms.

Examples:
  rampcheck run test.yaml
  rampcheck run --url http://localhost:8080/api/health_check \
    --stages 5s:10,5s:0 \
    --threshold "http_req_failed=rate<0.01" \
    --threshold "http_req_duration=p(95)<500"
  rampcheck run test.yaml --out report.json --history runs.db

A threshold ending in "!" aborts the run as soon as it fails:
  --threshold "http_req_failed=rate<0.05!"

Exit codes: 0 thresholds passed, 1 thresholds failed, 2 configuration
error, 3 runtime error.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runTest,
	}

	f := cmd.Flags()
	f.StringP("config", "c", "", "Config file (same as the positional argument)")
	f.String("name", "", "Test name")
	f.String("url", "", "URL every virtual user requests")
	f.String("stages", "", "Stages as 'duration:target,...', e.g. 30s:100,2m:200,1m:0")
	f.String("sleep", "", "Pause between a VU's requests (default 500ms)")
	f.String("timeout", "", "Per-request timeout (default 30s)")
	f.String("graceful-stop", "", "How long to let in-flight requests finish when the run ends (default 30s)")
	f.StringArray("threshold", nil, "Threshold as 'metric=expression'; replaces the file's thresholds for that metric")
	f.StringArrayP("header", "H", nil, "Request header as 'Key: Value'")
	f.String("user-agent", "", "User-Agent header")
	f.Bool("insecure-skip-verify", false, "Skip TLS certificate verification")
	f.StringP("out", "o", "", "Write the full JSON report to this file")
	f.String("history", "", "Append the run to this history database")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address during the run, e.g. :9090")
	f.Bool("check", false, "Send one request before starting and fail fast if the target is down")
	f.BoolP("quiet", "q", false, "Only print PASSED or FAILED")

	return cmd
}

func runTest(cmd *cobra.Command, args []string) error {
	v, err := newViper(cmd)
	if err != nil {
		return runtimeError("%w", err)
	}

	cfg, err := buildRunConfig(cmd, v, args)
	if err != nil {
		return &ExitError{Code: ExitConfig, Err: err}
	}

	logger, err := newLogger(cmd, v)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	console := output.NewConsoleOutput(output.ConsoleOutputConfig{
		TestName: cfg.Name,
		URL:      cfg.URL,
		Writer:   cmd.OutOrStdout(),
		Quiet:    v.GetBool("quiet"),
		NoColor:  v.GetBool("no-color"),
	})

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithProgress(progressInterval, func(p engine.Progress) {
			console.Update(output.StatsFromProgress(p))
		}),
	}

	if addr := v.GetString("metrics-addr"); addr != "" {
		x, err := exporter.New(exporter.Config{Addr: addr, TestName: cfg.Name, Logger: logger})
		if err != nil {
			return configError("%w", err)
		}
		opts = append(opts, engine.WithExporter(x))
	}

	eng, err := engine.NewEngine(cfg, opts...)
	if err != nil {
		return configError("%w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if v.GetBool("check") {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := eng.CheckTarget(checkCtx)
		cancel()
		if err != nil {
			return runtimeError("pre-flight check failed: %w", err)
		}
	}

	console.PrintHeader(len(cfg.Stages), cfg.MaxTarget(), cfg.TotalDuration())

	result, runErr := eng.Run(ctx)
	if result == nil {
		return runtimeError("%w", runErr)
	}

	console.PrintSummary(result)

	if err := saveResult(cmd, v, result, logger); err != nil {
		return err
	}

	if runErr != nil {
		return runtimeError("%w", runErr)
	}
	if code := result.ExitCode(); code != ExitOK {
		return &ExitError{Code: code}
	}
	return nil
}

// saveResult writes the report and history entry requested by flags.
func saveResult(cmd *cobra.Command, v *viper.Viper, result *engine.TestResult, logger *zap.Logger) error {
	if path := v.GetString("out"); path != "" {
		if err := report.WriteJSON(result, path); err != nil {
			return runtimeError("%w", err)
		}
		logger.Info("report written", zap.String("path", path))
		if !v.GetBool("quiet") {
			fmt.Fprintf(cmd.OutOrStdout(), "Report: %s\n", path)
		}
	}

	if path := v.GetString("history"); path != "" {
		store, err := history.Open(path)
		if err != nil {
			return runtimeError("%w", err)
		}
		defer store.Close()

		if err := store.Save(history.RecordFromResult(result)); err != nil {
			return runtimeError("failed to save run to history: %w", err)
		}
		logger.Info("run saved to history", zap.String("path", path), zap.String("run_id", result.ID))
	}

	return nil
}

// buildRunConfig loads the config file, or the stock profile when there is
// none, and applies flag and environment overrides.
func buildRunConfig(cmd *cobra.Command, v *viper.Viper, args []string) (*config.TestConfig, error) {
	path := v.GetString("config")
	if len(args) == 1 {
		if path != "" && path != args[0] {
			return nil, fmt.Errorf("config given twice: %s and %s", path, args[0])
		}
		path = args[0]
	}

	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if s := v.GetString("name"); s != "" {
		cfg.Name = s
	}
	if s := v.GetString("url"); s != "" {
		cfg.URL = s
	}
	if s := v.GetString("stages"); s != "" {
		stages, err := config.ParseStages(s)
		if err != nil {
			return nil, fmt.Errorf("invalid --stages: %w", err)
		}
		cfg.Stages = stages
	}
	if s := v.GetString("sleep"); s != "" {
		cfg.Sleep = s
	}
	if s := v.GetString("timeout"); s != "" {
		cfg.Timeout = s
	}
	if s := v.GetString("graceful-stop"); s != "" {
		cfg.GracefulStop = s
	}
	if s := v.GetString("user-agent"); s != "" {
		cfg.Settings.UserAgent = s
	}
	if v.GetBool("insecure-skip-verify") {
		cfg.Settings.InsecureSkipVerify = true
	}

	thresholds, err := cmd.Flags().GetStringArray("threshold")
	if err != nil {
		return nil, err
	}
	if err := applyThresholdFlags(cfg, thresholds); err != nil {
		return nil, err
	}

	headers, err := cmd.Flags().GetStringArray("header")
	if err != nil {
		return nil, err
	}
	if err := applyHeaderFlags(cfg, headers); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyThresholdFlags replaces, per metric, the configured thresholds with
// the ones given on the command line.
func applyThresholdFlags(cfg *config.TestConfig, flags []string) error {
	if len(flags) == 0 {
		return nil
	}
	if cfg.Thresholds == nil {
		cfg.Thresholds = config.ThresholdsConfig{}
	}

	replaced := map[string]bool{}
	for _, f := range flags {
		metric, tc, err := config.ParseThresholdFlag(f)
		if err != nil {
			return fmt.Errorf("invalid --threshold: %w", err)
		}
		if !replaced[metric] {
			cfg.Thresholds[metric] = nil
			replaced[metric] = true
		}
		cfg.Thresholds[metric] = append(cfg.Thresholds[metric], tc)
	}
	return nil
}

func applyHeaderFlags(cfg *config.TestConfig, flags []string) error {
	for _, h := range flags {
		key, value, ok := strings.Cut(h, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return fmt.Errorf("invalid --header %q: expected 'Key: Value'", h)
		}
		if cfg.Settings.Headers == nil {
			cfg.Settings.Headers = map[string]string{}
		}
		cfg.Settings.Headers[key] = strings.TrimSpace(value)
	}
	return nil
}
