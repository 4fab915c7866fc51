// Package cli implements the rampcheck command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wesleyorama2/rampcheck/internal/logging"
)

var version = "0.3.0"

// Process exit codes.
const (
	ExitOK               = 0
	ExitThresholdsFailed = 1
	ExitConfig           = 2
	ExitRuntime          = 3
)

// envPrefix is the prefix of environment variables that override flags,
// e.g. RAMPCHECK_URL or RAMPCHECK_METRICS_ADDR.
const envPrefix = "RAMPCHECK"

// ExitError carries the exit code a command wants. Err may be nil when the
// code alone says enough, as for failed thresholds.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func configError(format string, args ...interface{}) error {
	return &ExitError{Code: ExitConfig, Err: fmt.Errorf(format, args...)}
}

func runtimeError(format string, args ...interface{}) error {
	return &ExitError{Code: ExitRuntime, Err: fmt.Errorf(format, args...)}
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "rampcheck",
		Short:   "Ramp virtual users against an HTTP endpoint and judge the run by thresholds",
		Version: version,
		Long: `rampcheck drives a number of virtual users through a sequence of
stages, each user repeatedly sending a GET to one URL and pausing between
requests. When the ramp ends the collected metrics are checked against
thresholds such as "http_req_failed: rate<0.01" and the process exits 0 when
all pass, 1 otherwise.

Flags can also be set through RAMPCHECK_* environment variables, for example
RAMPCHECK_URL or RAMPCHECK_LOG_LEVEL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("log-level", "warn", "Log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", logging.FormatConsole, "Log format: console or json")
	root.PersistentFlags().Bool("no-color", false, "Disable colored output")

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newInspectCmd())
	root.AddCommand(newHistoryCmd())

	return root
}

// Execute runs the command line with args and returns the process exit
// code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(stderr, "Error:", exitErr.Err)
		}
		return exitErr.Code
	}

	// Anything cobra rejects before RunE (unknown flags, wrong arg count)
	fmt.Fprintln(stderr, "Error:", err)
	return ExitConfig
}

// newViper binds the command's flags and RAMPCHECK_* environment
// variables. A set flag wins over the environment, which wins over the
// flag default.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}

// newLogger builds the logger selected by the persistent log flags. Logs
// go to the command's stderr.
func newLogger(cmd *cobra.Command, v *viper.Viper) (*zap.Logger, error) {
	logger, err := logging.New(logging.Config{
		Level:  v.GetString("log-level"),
		Format: v.GetString("log-format"),
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, configError("%w", err)
	}
	return logger, nil
}
